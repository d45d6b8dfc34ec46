package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"flowboard-api/domain"
)

// CreateColumn appends a column to a board. When no color is set the default
// is applied; when no order is set callers are expected to have assigned
// max+1 already.
func (s *Storage) CreateColumn(ctx context.Context, c domain.Column) (domain.Column, error) {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Color == "" {
		c.Color = domain.DefaultColumnColor
	}
	payload, err := marshalEntity(columnToEntity(c))
	if err != nil {
		return domain.Column{}, err
	}
	if _, err := s.columnTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Column{}, fmt.Errorf("create column: %w", err)
	}
	return c, nil
}

// GetColumn fetches one column of a board.
func (s *Storage) GetColumn(ctx context.Context, boardID, columnID string) (domain.Column, error) {
	resp, err := s.columnTable.GetEntity(ctx, boardID, columnID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Column{}, ErrNotFound
		}
		return domain.Column{}, fmt.Errorf("get column: %w", err)
	}
	var ent columnEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Column{}, fmt.Errorf("decode column: %w", err)
	}
	return ent.toDomain(), nil
}

// ListColumns returns the board's columns ascending by order rank.
func (s *Storage) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	rows, err := listEntities(ctx, s.columnTable, partitionFilter(boardID))
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	cols := make([]domain.Column, 0, len(rows))
	for _, raw := range rows {
		var ent columnEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, fmt.Errorf("decode column: %w", err)
		}
		cols = append(cols, ent.toDomain())
	}
	domain.SortColumns(cols)
	return cols, nil
}

// UpdateColumn replaces a column's mutable fields.
func (s *Storage) UpdateColumn(ctx context.Context, c domain.Column) error {
	payload, err := marshalEntity(columnToEntity(c))
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.columnTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("update column: %w", err)
	}
	return nil
}

// DeleteColumn removes a column. Deletion is refused while tasks still
// reference it.
func (s *Storage) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	tasks, err := s.ListTasks(ctx, boardID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.ColumnID == columnID {
			return ErrColumnNotEmpty
		}
	}
	if _, err := s.columnTable.DeleteEntity(ctx, boardID, columnID, nil); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete column: %w", err)
	}
	return nil
}

// ReorderColumns rewrites the order rank of every listed column in a single
// table transaction, so a concurrent reader never observes a half-applied
// reorder. All columns of a board share a partition, which is what makes the
// transaction possible.
func (s *Storage) ReorderColumns(ctx context.Context, boardID string, columnIDs []string) error {
	actions := make([]aztables.TransactionAction, 0, len(columnIDs))
	for i, id := range columnIDs {
		ent := struct {
			aztables.Entity
			Order int `json:"Order"`
		}{
			Entity: aztables.Entity{PartitionKey: boardID, RowKey: id},
			Order:  i,
		}
		payload, err := marshalEntity(ent)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
		})
	}
	if len(actions) == 0 {
		return nil
	}
	if _, err := s.columnTable.SubmitTransaction(ctx, actions, nil); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("reorder columns: %w", err)
	}
	return nil
}
