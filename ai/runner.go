package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

// Store is the storage surface the runner needs. *storage.Storage satisfies
// it; tests plug in fakes.
type Store interface {
	FindTask(ctx context.Context, taskID string) (domain.Task, error)
	ListColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	ListIterations(ctx context.Context, taskID string) ([]domain.AiIteration, error)
	AppendIteration(ctx context.Context, taskID, result, runLog string, state domain.IterationState) (domain.AiIteration, error)
	AttachFeedback(ctx context.Context, taskID string, number int, feedback string) error
	UpdateTask(ctx context.Context, t domain.Task) error
	RefreshAiStatus(ctx context.Context, t domain.Task, count int, latest *domain.AiIteration)
	PublishBoardEvent(ctx context.Context, ev storage.BoardEvent)
}

// Runner executes one AI run per job: it builds the conversation from the
// task's iteration history, calls the completion provider and records the
// outcome. Provider failures never surface as errors; they become failed
// iterations so the task always reaches a terminal state. Only storage
// failures return an error, which leaves the queue message for redelivery.
type Runner struct {
	store     Store
	completer Completer
	logger    *log.Logger
	now       func() time.Time
}

func NewRunner(store Store, completer Completer, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Runner{store: store, completer: completer, logger: logger, now: time.Now}
}

// Run processes a single AI-run job.
func (r *Runner) Run(ctx context.Context, env domain.AiRunEnvelope) error {
	job := env.Job
	rl := newRunLog(r.now)
	rl.add("AI started processing")
	rl.addf("Task: %s", job.Title)

	iterations, err := r.store.ListIterations(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("load iterations for task %s: %w", job.TaskID, err)
	}

	// Feedback carried by the job belongs to the previous result. Attach it
	// before building the transcript so history and prompt agree.
	if job.Feedback != "" && len(iterations) > 0 {
		last := len(iterations) - 1
		if iterations[last].Feedback == "" {
			err := r.store.AttachFeedback(ctx, job.TaskID, iterations[last].Number, job.Feedback)
			switch {
			case err == nil:
				iterations[last].Feedback = job.Feedback
			case errors.Is(err, storage.ErrFeedbackTaken):
				// A concurrent writer got there first; keep the stored value.
			default:
				return fmt.Errorf("attach feedback to task %s: %w", job.TaskID, err)
			}
		}
		rl.addf("Feedback received: %s", job.Feedback)
	}

	transcript := domain.BuildTranscript(domain.Task{Title: job.Title, Description: job.Description}, iterations, job.Feedback)

	rl.add("Sending request to AI provider")
	text, err := r.completer.Complete(ctx, transcript)
	if err != nil {
		rl.addf("AI error: %s", err.Error())
		r.logger.WithFields(log.Fields{"task_id": job.TaskID, "error": err}).Warn("ai run failed")
		return r.finish(ctx, env, rl, domain.IterationFailed, "AI error: "+err.Error())
	}
	rl.add("Response received successfully")
	return r.finish(ctx, env, rl, domain.IterationSucceeded, text)
}

func (r *Runner) finish(ctx context.Context, env domain.AiRunEnvelope, rl *runLog, state domain.IterationState, result string) error {
	job := env.Job

	iteration, err := r.store.AppendIteration(ctx, job.TaskID, result, rl.String(), state)
	if err != nil {
		return fmt.Errorf("append iteration for task %s: %w", job.TaskID, err)
	}

	task, err := r.store.FindTask(ctx, job.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.WithField("task_id", job.TaskID).Info("task deleted during ai run, dropping outcome")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", job.TaskID, err)
	}

	// A newer run superseded this one while it was in flight. The iteration
	// stays in history but the task's state belongs to the newer run.
	if task.AiGeneration != job.Generation {
		r.logger.WithFields(log.Fields{
			"task_id":    job.TaskID,
			"generation": job.Generation,
			"current":    task.AiGeneration,
		}).Info("stale ai run completed, task state untouched")
		return nil
	}

	task.AiLog = rl.String()
	task.AiResult = result
	if state == domain.IterationSucceeded {
		task.AiState = domain.AiStateSucceeded
	} else {
		task.AiState = domain.AiStateFailed
	}

	if err := r.route(ctx, &task, state); err != nil {
		r.logger.WithFields(log.Fields{"task_id": job.TaskID, "error": err}).Warn("routing skipped")
	}

	if err := r.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("update task %s: %w", job.TaskID, err)
	}
	r.store.RefreshAiStatus(ctx, task, iteration.Number, &iteration)
	r.store.PublishBoardEvent(ctx, storage.BoardEvent{
		Type:    storage.EventAiFinished,
		BoardID: task.BoardID,
		TaskID:  task.ID,
		Time:    r.now().UnixNano(),
	})
	r.logger.WithFields(log.Fields{
		"task_id":   task.ID,
		"iteration": iteration.Number,
		"state":     string(state),
	}).Info("ai run finished")
	return nil
}

// route moves the task to the column its outcome calls for. Boards without a
// manual column leave the task in place.
func (r *Runner) route(ctx context.Context, task *domain.Task, state domain.IterationState) error {
	columns, err := r.store.ListColumns(ctx, task.BoardID)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}

	var next domain.Column
	var ok bool
	if state == domain.IterationSucceeded {
		var current domain.Column
		for _, c := range columns {
			if c.ID == task.ColumnID {
				current = c
				ok = true
				break
			}
		}
		if !ok {
			return errors.New("current column no longer exists")
		}
		next, ok = domain.NextColumnOnSuccess(columns, current)
	} else {
		next, ok = domain.NextColumnOnFailure(columns)
	}
	if !ok {
		return errors.New("board has no manual column")
	}
	task.ColumnID = next.ID
	return nil
}
