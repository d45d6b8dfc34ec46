package api

import (
	"context"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

// Store abstracts persistence for handlers.
type Store interface {
	CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	UpdateBoard(ctx context.Context, b domain.Board) error
	DeleteBoard(ctx context.Context, boardID string) error
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	IsBoardVisible(ctx context.Context, boardID, userID string) (bool, error)
	AddMember(ctx context.Context, boardID, userID string, role domain.BoardRole) error
	RemoveMember(ctx context.Context, boardID, userID string) error
	ListMembers(ctx context.Context, boardID string) ([]domain.Member, error)

	CreateColumn(ctx context.Context, c domain.Column) (domain.Column, error)
	GetColumn(ctx context.Context, boardID, columnID string) (domain.Column, error)
	ListColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	UpdateColumn(ctx context.Context, c domain.Column) error
	DeleteColumn(ctx context.Context, boardID, columnID string) error
	ReorderColumns(ctx context.Context, boardID string, columnIDs []string) error

	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, boardID, taskID string) (domain.Task, error)
	FindTask(ctx context.Context, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, t domain.Task) error

	ListIterations(ctx context.Context, taskID string) ([]domain.AiIteration, error)
	GetAiStatus(ctx context.Context, taskID string) (storage.AiStatus, bool)

	AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	ListComments(ctx context.Context, taskID string) ([]domain.Comment, error)

	PublishBoardEvent(ctx context.Context, ev storage.BoardEvent)
	SubscribeBoardEvents(ctx context.Context) (<-chan storage.BoardEvent, func(), error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Mover applies task column transitions, including the handoff that arms an
// AI run when a task enters an AI-enabled column.
type Mover interface {
	Move(ctx context.Context, userID, boardID, taskID, columnID string, order int, feedback string) (domain.Task, error)
}

// Deduper suppresses duplicate move requests carrying the same idempotency
// key, so a retried move cannot arm a second AI run.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the move fails so the
	// client may retry.
	Remove(ctx context.Context, userID, key string) error
}
