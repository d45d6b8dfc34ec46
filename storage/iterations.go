package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"flowboard-api/domain"
)

const appendMaxAttempts = 5

// ListIterations returns the task's full attempt history ascending by
// iteration number.
func (s *Storage) ListIterations(ctx context.Context, taskID string) ([]domain.AiIteration, error) {
	rows, err := listEntities(ctx, s.iterationTable, partitionFilter(taskID))
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	iters := make([]domain.AiIteration, 0, len(rows))
	for _, raw := range rows {
		var ent iterationEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, fmt.Errorf("decode iteration: %w", err)
		}
		iters = append(iters, ent.toDomain())
	}
	sort.Slice(iters, func(i, j int) bool { return iters[i].Number < iters[j].Number })
	return iters, nil
}

// AppendIteration writes the next iteration for a task, assigning
// number = count+1. Two layers keep numbers gapless and unique under
// concurrent appends: the per-task Redis lock serializes the common path,
// and the row-key conditional insert rejects a duplicate number outright, in
// which case the count is re-read and the insert retried.
func (s *Storage) AppendIteration(ctx context.Context, taskID, result, runLog string, state domain.IterationState) (domain.AiIteration, error) {
	unlock, err := s.lockTask(ctx, taskID)
	if err == nil {
		defer unlock()
	}

	for attempt := 0; attempt < appendMaxAttempts; attempt++ {
		existing, err := s.ListIterations(ctx, taskID)
		if err != nil {
			return domain.AiIteration{}, err
		}
		it := domain.AiIteration{
			TaskID:    taskID,
			Number:    len(existing) + 1,
			Result:    result,
			Log:       runLog,
			State:     state,
			CreatedAt: s.now(),
		}
		ent := iterationEntity{
			Entity:    aztables.Entity{PartitionKey: taskID, RowKey: iterationRowKey(it.Number)},
			Number:    it.Number,
			Result:    it.Result,
			Log:       it.Log,
			State:     string(it.State),
			CreatedAt: it.CreatedAt.Format(time.RFC3339Nano),
		}
		payload, err := marshalEntity(ent)
		if err != nil {
			return domain.AiIteration{}, err
		}
		_, err = s.iterationTable.AddEntity(ctx, payload, nil)
		if err == nil {
			return it, nil
		}
		if !isConflict(err) {
			return domain.AiIteration{}, fmt.Errorf("append iteration: %w", err)
		}
		// lost the insert race; re-read the count and try the next number
	}
	return domain.AiIteration{}, ErrConflict
}

// AttachFeedback records user feedback on a completed iteration. Re-sending
// the same feedback is idempotent; replacing different existing feedback is
// rejected.
func (s *Storage) AttachFeedback(ctx context.Context, taskID string, number int, feedback string) error {
	resp, err := s.iterationTable.GetEntity(ctx, taskID, iterationRowKey(number), nil)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get iteration: %w", err)
	}
	var ent iterationEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return fmt.Errorf("decode iteration: %w", err)
	}
	if ent.Feedback == feedback {
		return nil
	}
	if ent.Feedback != "" {
		return ErrFeedbackTaken
	}

	patch := struct {
		aztables.Entity
		Feedback string `json:"Feedback"`
	}{
		Entity:   aztables.Entity{PartitionKey: taskID, RowKey: iterationRowKey(number)},
		Feedback: feedback,
	}
	payload, err := marshalEntity(patch)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	if _, err := s.iterationTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("attach feedback: %w", err)
	}
	return nil
}

// LatestIteration returns the newest iteration, or false when there is none.
func (s *Storage) LatestIteration(ctx context.Context, taskID string) (domain.AiIteration, bool, error) {
	iters, err := s.ListIterations(ctx, taskID)
	if err != nil {
		return domain.AiIteration{}, false, err
	}
	if len(iters) == 0 {
		return domain.AiIteration{}, false, nil
	}
	return iters[len(iters)-1], true, nil
}
