package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"flowboard-api/domain"
)

func newEntityID() string { return uuid.NewString() }

// escapeFilterValue doubles single quotes so user-supplied IDs cannot break
// out of an OData filter literal.
func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func partitionFilter(pk string) string {
	return fmt.Sprintf("PartitionKey eq '%s'", escapeFilterValue(pk))
}

func listEntities(ctx context.Context, t table, filter string) ([][]byte, error) {
	pager := t.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

// boards table: PartitionKey = board ID, RowKey = "board" for the metadata
// row and "member:<userID>" for membership rows.
const (
	boardMetaRowKey = "board"
	memberRowPrefix = "member:"
)

type boardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	OwnerID     string `json:"OwnerID"`
	CreatedAt   string `json:"CreatedAt"`
}

func (e boardEntity) toDomain() domain.Board {
	created, _ := time.Parse(time.RFC3339Nano, e.CreatedAt)
	return domain.Board{
		ID:          e.PartitionKey,
		Title:       e.Title,
		Description: e.Description,
		OwnerID:     e.OwnerID,
		CreatedAt:   created,
	}
}

type memberEntity struct {
	aztables.Entity
	Role string `json:"Role"`
}

type userBoardEntity struct {
	aztables.Entity
	Role string `json:"Role"`
}

type columnEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Color     string `json:"Color"`
	Order     int    `json:"Order"`
	AiEnabled bool   `json:"AiEnabled"`
}

func (e columnEntity) toDomain() domain.Column {
	return domain.Column{
		ID:        e.RowKey,
		BoardID:   e.PartitionKey,
		Title:     e.Title,
		Color:     e.Color,
		Order:     e.Order,
		AiEnabled: e.AiEnabled,
	}
}

func columnToEntity(c domain.Column) columnEntity {
	return columnEntity{
		Entity:    aztables.Entity{PartitionKey: c.BoardID, RowKey: c.ID},
		Title:     c.Title,
		Color:     c.Color,
		Order:     c.Order,
		AiEnabled: c.AiEnabled,
	}
}

type taskEntity struct {
	aztables.Entity
	ColumnID     string `json:"ColumnID"`
	Title        string `json:"Title"`
	Description  string `json:"Description"`
	Priority     string `json:"Priority"`
	AssigneeID   string `json:"AssigneeID"`
	Order        int    `json:"Order"`
	AiState      string `json:"AiState"`
	AiGeneration int    `json:"AiGeneration"`
	AiResult     string `json:"AiResult"`
	AiLog        string `json:"AiLog"`
	CreatedAt    string `json:"CreatedAt"`
}

func (e taskEntity) toDomain() domain.Task {
	created, _ := time.Parse(time.RFC3339Nano, e.CreatedAt)
	return domain.Task{
		ID:           e.RowKey,
		BoardID:      e.PartitionKey,
		ColumnID:     e.ColumnID,
		Title:        e.Title,
		Description:  e.Description,
		Priority:     domain.Priority(e.Priority),
		AssigneeID:   e.AssigneeID,
		Order:        e.Order,
		AiState:      domain.AiState(e.AiState),
		AiGeneration: e.AiGeneration,
		AiResult:     e.AiResult,
		AiLog:        e.AiLog,
		CreatedAt:    created,
	}
}

func taskToEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:       aztables.Entity{PartitionKey: t.BoardID, RowKey: t.ID},
		ColumnID:     t.ColumnID,
		Title:        t.Title,
		Description:  t.Description,
		Priority:     string(t.Priority),
		AssigneeID:   t.AssigneeID,
		Order:        t.Order,
		AiState:      string(t.AiState),
		AiGeneration: t.AiGeneration,
		AiResult:     t.AiResult,
		AiLog:        t.AiLog,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339Nano),
	}
}

// iterations table: PartitionKey = task ID, RowKey = zero-padded iteration
// number so lexical row order matches numeric order and a concurrent append
// of the same number collides on insert.
func iterationRowKey(number int) string { return fmt.Sprintf("%08d", number) }

type iterationEntity struct {
	aztables.Entity
	Number    int    `json:"Number"`
	Result    string `json:"Result"`
	Log       string `json:"Log"`
	Feedback  string `json:"Feedback"`
	State     string `json:"State"`
	CreatedAt string `json:"CreatedAt"`
}

func (e iterationEntity) toDomain() domain.AiIteration {
	created, _ := time.Parse(time.RFC3339Nano, e.CreatedAt)
	return domain.AiIteration{
		TaskID:    e.PartitionKey,
		Number:    e.Number,
		Result:    e.Result,
		Log:       e.Log,
		Feedback:  e.Feedback,
		State:     domain.IterationState(e.State),
		CreatedAt: created,
	}
}

type commentEntity struct {
	aztables.Entity
	AuthorID  string `json:"AuthorID"`
	Text      string `json:"Text"`
	CreatedAt string `json:"CreatedAt"`
}

func (e commentEntity) toDomain() domain.Comment {
	created, _ := time.Parse(time.RFC3339Nano, e.CreatedAt)
	return domain.Comment{
		ID:        e.RowKey,
		TaskID:    e.PartitionKey,
		AuthorID:  e.AuthorID,
		Text:      e.Text,
		CreatedAt: created,
	}
}

func marshalEntity(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal entity: %w", err)
	}
	return data, nil
}
