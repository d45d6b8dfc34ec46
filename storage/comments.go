package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"flowboard-api/domain"
)

// AddComment appends a comment to a task. Row keys are zero-padded
// creation timestamps so lexical row order is chronological.
func (s *Storage) AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("%020d", c.CreatedAt.UnixNano())
	}
	ent := commentEntity{
		Entity:    aztables.Entity{PartitionKey: c.TaskID, RowKey: c.ID},
		AuthorID:  c.AuthorID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt.Format(time.RFC3339Nano),
	}
	payload, err := marshalEntity(ent)
	if err != nil {
		return domain.Comment{}, err
	}
	if _, err := s.commentTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return c, nil
}

// ListComments returns a task's comments ascending by creation time.
func (s *Storage) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := listEntities(ctx, s.commentTable, partitionFilter(taskID))
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	comments := make([]domain.Comment, 0, len(rows))
	for _, raw := range rows {
		var ent commentEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, fmt.Errorf("decode comment: %w", err)
		}
		comments = append(comments, ent.toDomain())
	}
	return comments, nil
}
