// Package board implements the move semantics of the task board: column
// changes, reorders and the handoff that starts automatic processing when a
// task enters an AI-enabled column.
package board

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

// Store is the storage surface the controller needs. *storage.Storage
// satisfies it.
type Store interface {
	GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error)
	GetColumn(ctx context.Context, boardID, columnID string) (domain.Column, error)
	ListIterations(ctx context.Context, taskID string) ([]domain.AiIteration, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	PublishBoardEvent(ctx context.Context, ev storage.BoardEvent)
}

// Dispatcher hands an AI-run job to background processing.
type Dispatcher interface {
	Submit(ctx context.Context, env domain.AiRunEnvelope) error
}

// Controller applies task moves. Moving a task into an AI-enabled column
// from a different column arms a run: the task goes to the running state, its
// generation counter increments so earlier in-flight runs become stale, and a
// job is dispatched. Every other move is a plain column/order update.
type Controller struct {
	store      Store
	dispatcher Dispatcher
	logger     *log.Logger
	now        func() time.Time
}

func NewController(store Store, dispatcher Dispatcher, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{store: store, dispatcher: dispatcher, logger: logger, now: time.Now}
}

// Move places the task into the target column at the given order. Feedback is
// only meaningful when the move arms a run; it is carried to the job so the
// runner can attach it to the previous iteration.
func (c *Controller) Move(ctx context.Context, userID, boardID, taskID, columnID string, order int, feedback string) (domain.Task, error) {
	task, err := c.store.GetTask(ctx, boardID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	target, err := c.store.GetColumn(ctx, boardID, columnID)
	if err != nil {
		return domain.Task{}, err
	}

	// Reordering inside an AI column must not restart processing, so arming
	// requires the task to actually change columns.
	arming := target.AiEnabled && task.ColumnID != target.ID

	task.ColumnID = target.ID
	task.Order = order

	if arming {
		task.AiState = domain.AiStateRunning
		task.AiGeneration++
	} else if task.AiState == domain.AiStateFailed && !target.AiEnabled {
		// A failed task pulled back to a manual column is workable again.
		task.AiState = domain.AiStateIdle
	}

	if err := c.store.UpdateTask(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("update task %s: %w", taskID, err)
	}

	if arming {
		env := domain.AiRunEnvelope{
			UserID: userID,
			Job: domain.AiRunJob{
				TaskID:      task.ID,
				BoardID:     task.BoardID,
				Title:       task.Title,
				Description: task.Description,
				Feedback:    feedback,
				Generation:  task.AiGeneration,
				EnqueuedAt:  c.now().UTC().UnixNano(),
			},
		}
		if err := c.dispatcher.Submit(ctx, env); err != nil {
			// The run never started; record the failure instead of leaving the
			// task stuck in running forever.
			task.AiState = domain.AiStateFailed
			if uerr := c.store.UpdateTask(ctx, task); uerr != nil {
				c.logger.Errorf("mark task %s failed after dispatch error: %v", taskID, uerr)
			}
			return domain.Task{}, fmt.Errorf("dispatch ai run for task %s: %w", taskID, err)
		}
		c.logger.WithFields(log.Fields{
			"task_id":    task.ID,
			"generation": task.AiGeneration,
		}).Info("ai run armed")
	}

	c.store.PublishBoardEvent(ctx, storage.BoardEvent{
		Type:    storage.EventTaskMoved,
		BoardID: task.BoardID,
		TaskID:  task.ID,
		Time:    c.now().UnixNano(),
	})

	iterations, err := c.store.ListIterations(ctx, task.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("list iterations for task %s: %w", taskID, err)
	}
	task.Iterations = iterations
	return task, nil
}
