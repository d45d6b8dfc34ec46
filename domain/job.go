package domain

// AiRunJob is the work item enqueued when a move arms automatic processing.
// It carries everything the runner needs so the worker does not depend on
// request state.
type AiRunJob struct {
	TaskID      string `json:"taskId"`
	BoardID     string `json:"boardId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// Feedback is user text submitted with the move that should steer this
	// attempt and be attached to the previous iteration.
	Feedback string `json:"feedback,omitempty"`
	// Generation is the task's AiGeneration at arm time. A completion whose
	// generation no longer matches the task is recorded but does not touch
	// task state.
	Generation int   `json:"generation"`
	EnqueuedAt int64 `json:"enqueuedAt"`
}

// AiRunEnvelope wraps a job with the user whose move armed it.
type AiRunEnvelope struct {
	UserID string   `json:"userId"`
	Job    AiRunJob `json:"job"`
}
