package domain

import "time"

// AiState tracks automatic processing for a single task.
type AiState string

const (
	AiStateIdle      AiState = "idle"
	AiStateRunning   AiState = "running"
	AiStateSucceeded AiState = "succeeded"
	AiStateFailed    AiState = "failed"
)

// Valid reports whether s is one of the known AI states.
func (s AiState) Valid() bool {
	switch s {
	case AiStateIdle, AiStateRunning, AiStateSucceeded, AiStateFailed:
		return true
	}
	return false
}

// Priority is the user-assigned urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID          string   `json:"id"`
	BoardID     string   `json:"boardId"`
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	AssigneeID  string   `json:"assigneeId,omitempty"`
	Order       int      `json:"order"`
	AiState     AiState  `json:"aiState"`
	// AiGeneration increments every time automatic processing is armed, so a
	// completion that lands after a later move can be recognized as stale.
	AiGeneration int `json:"aiGeneration,omitempty"`
	// AiResult and AiLog mirror the latest iteration for tasks created
	// before iteration tracking existed.
	AiResult   string        `json:"aiResult,omitempty"`
	AiLog      string        `json:"aiLog,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	Iterations []AiIteration `json:"aiIterations,omitempty"`
}

// IterationState is the outcome of one completed AI attempt.
type IterationState string

const (
	IterationSucceeded IterationState = "succeeded"
	IterationFailed    IterationState = "failed"
)

// AiIteration is one complete attempt by the AI runner to process a task.
// Iterations are numbered 1..N per task with no gaps and are immutable once
// written, except for the single feedback attachment.
type AiIteration struct {
	TaskID    string         `json:"taskId"`
	Number    int            `json:"number"`
	Result    string         `json:"result"`
	Log       string         `json:"log,omitempty"`
	Feedback  string         `json:"feedback,omitempty"`
	State     IterationState `json:"state"`
	CreatedAt time.Time      `json:"createdAt"`
}
