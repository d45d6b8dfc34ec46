package api

import (
	"time"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

type errorResponse struct {
	Error string `json:"error"`
}

type createBoardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type updateBoardRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type memberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

type createColumnRequest struct {
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	AiEnabled bool   `json:"aiEnabled,omitempty"`
}

type updateColumnRequest struct {
	Title     *string `json:"title,omitempty"`
	Color     *string `json:"color,omitempty"`
	AiEnabled *bool   `json:"aiEnabled,omitempty"`
}

type reorderColumnsRequest struct {
	ColumnIDs []string `json:"columnIds"`
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	ColumnID    string `json:"columnId"`
	AssigneeID  string `json:"assigneeId,omitempty"`
}

type updateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	AssigneeID  *string `json:"assigneeId,omitempty"`
}

// PUT /api/tasks/:taskId/status request body. Order is optional; when
// omitted the task keeps its current order. Feedback is only meaningful when
// the target column is AI-enabled; it is carried to the new run.
type moveTaskRequest struct {
	ColumnID string `json:"columnId"`
	Order    *int   `json:"order"`
	Feedback string `json:"feedback,omitempty"`
}

type commentRequest struct {
	Text string `json:"text"`
}

// GET /api/boards/:boardId response body.
type boardDetailResponse struct {
	Board   domain.Board    `json:"board"`
	Columns []domain.Column `json:"columns"`
	Tasks   []domain.Task   `json:"tasks"`
	Members []domain.Member `json:"members"`
}

// GET /api/tasks/:taskId/ai-status response body. Served from the Redis
// status cache when warm, otherwise assembled from table storage.
type aiStatusResponse struct {
	TaskID          string                `json:"taskId"`
	AiState         domain.AiState        `json:"aiState"`
	IterationCount  int                   `json:"iterationCount"`
	LatestNumber    int                   `json:"latestNumber,omitempty"`
	LatestState     domain.IterationState `json:"latestState,omitempty"`
	LatestResult    string                `json:"latestResult,omitempty"`
	LatestCreatedAt time.Time             `json:"latestCreatedAt,omitzero"`
	Cached          bool                  `json:"cached"`
}

func aiStatusFromCache(st storage.AiStatus) aiStatusResponse {
	return aiStatusResponse{
		TaskID:          st.TaskID,
		AiState:         st.AiState,
		IterationCount:  st.IterationCount,
		LatestNumber:    st.LatestNumber,
		LatestState:     st.LatestState,
		LatestResult:    st.LatestResult,
		LatestCreatedAt: st.LatestCreatedAt,
		Cached:          true,
	}
}
