package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"flowboard-api/domain"
)

// CreateTask persists a new task. Order is always assigned as max(order
// within the target column)+1; new tasks go to the bottom of their column.
func (s *Storage) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = s.newID()
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.AiState == "" {
		t.AiState = domain.AiStateIdle
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	siblings, err := s.ListTasks(ctx, t.BoardID)
	if err != nil {
		return domain.Task{}, err
	}
	maxOrder := -1
	for _, sib := range siblings {
		if sib.ColumnID == t.ColumnID && sib.Order > maxOrder {
			maxOrder = sib.Order
		}
	}
	t.Order = maxOrder + 1

	payload, err := marshalEntity(taskToEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// GetTask fetches a task when its board is known.
func (s *Storage) GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, boardID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return ent.toDomain(), nil
}

// FindTask locates a task by ID alone. Tasks are partitioned by board, so
// this is a cross-partition row-key scan; acceptable at board scale.
func (s *Storage) FindTask(ctx context.Context, taskID string) (domain.Task, error) {
	filter := fmt.Sprintf("RowKey eq '%s'", escapeFilterValue(taskID))
	rows, err := listEntities(ctx, s.taskTable, filter)
	if err != nil {
		return domain.Task{}, fmt.Errorf("find task: %w", err)
	}
	if len(rows) == 0 {
		return domain.Task{}, ErrNotFound
	}
	var ent taskEntity
	if err := json.Unmarshal(rows[0], &ent); err != nil {
		return domain.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return ent.toDomain(), nil
}

// ListTasks returns every task on a board, ascending by display order.
func (s *Storage) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	rows, err := listEntities(ctx, s.taskTable, partitionFilter(boardID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, raw := range rows {
		var ent taskEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, ent.toDomain())
	}
	sortTasks(tasks)
	return tasks, nil
}

// UpdateTask replaces the task row with the given state.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := marshalEntity(taskToEntity(t))
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.taskTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	s.refreshAiStatus(ctx, t, nil)
	return nil
}

// DeleteTask removes the task with its iterations and comments.
func (s *Storage) DeleteTask(ctx context.Context, t domain.Task) error {
	iterRows, err := listEntities(ctx, s.iterationTable, partitionFilter(t.ID))
	if err != nil {
		return fmt.Errorf("list iterations: %w", err)
	}
	for _, raw := range iterRows {
		var ent iterationEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return fmt.Errorf("decode iteration: %w", err)
		}
		if _, err := s.iterationTable.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete iteration: %w", err)
		}
	}
	commentRows, err := listEntities(ctx, s.commentTable, partitionFilter(t.ID))
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	for _, raw := range commentRows {
		var ent commentEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return fmt.Errorf("decode comment: %w", err)
		}
		if _, err := s.commentTable.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete comment: %w", err)
		}
	}
	if _, err := s.taskTable.DeleteEntity(ctx, t.BoardID, t.ID, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete task: %w", err)
	}
	s.dropAiStatus(ctx, t.ID)
	return nil
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
