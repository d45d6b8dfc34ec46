package storage

import (
	"context"
	"encoding/json"
	"time"

	"flowboard-api/domain"
)

const statusKeyPrefix = "flowboard:aistatus:"

// AiStatus is the cheap poll answer for "is it done yet": the task's AI
// state plus a summary of the newest iteration, held in Redis so frequent
// polling never touches table storage.
type AiStatus struct {
	TaskID          string                `json:"taskId"`
	AiState         domain.AiState        `json:"aiState"`
	IterationCount  int                   `json:"iterationCount"`
	LatestNumber    int                   `json:"latestNumber,omitempty"`
	LatestState     domain.IterationState `json:"latestState,omitempty"`
	LatestResult    string                `json:"latestResult,omitempty"`
	LatestCreatedAt time.Time             `json:"latestCreatedAt,omitempty"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// GetAiStatus returns the cached status, or ok=false on a miss (or when no
// cache is configured).
func (s *Storage) GetAiStatus(ctx context.Context, taskID string) (AiStatus, bool) {
	if s.redis == nil {
		return AiStatus{}, false
	}
	raw, err := s.redis.Get(ctx, statusKeyPrefix+taskID).Bytes()
	if err != nil {
		return AiStatus{}, false
	}
	var st AiStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return AiStatus{}, false
	}
	return st, true
}

// RefreshAiStatus rewrites the cached status from the task and its latest
// iteration. Cache writes are best effort; a failure only costs a slower
// poll.
func (s *Storage) RefreshAiStatus(ctx context.Context, t domain.Task, count int, latest *domain.AiIteration) {
	if s.redis == nil {
		return
	}
	st := AiStatus{
		TaskID:         t.ID,
		AiState:        t.AiState,
		IterationCount: count,
		UpdatedAt:      s.now(),
	}
	if latest != nil {
		st.LatestNumber = latest.Number
		st.LatestState = latest.State
		st.LatestResult = latest.Result
		st.LatestCreatedAt = latest.CreatedAt
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	_ = s.redis.Set(ctx, statusKeyPrefix+t.ID, payload, s.statusTTL).Err()
}

// refreshAiStatus updates only the state portion of a cached entry after a
// task write, leaving iteration fields if present.
func (s *Storage) refreshAiStatus(ctx context.Context, t domain.Task, latest *domain.AiIteration) {
	if s.redis == nil {
		return
	}
	if prev, ok := s.GetAiStatus(ctx, t.ID); ok && latest == nil {
		prev.AiState = t.AiState
		prev.UpdatedAt = s.now()
		payload, err := json.Marshal(prev)
		if err != nil {
			return
		}
		_ = s.redis.Set(ctx, statusKeyPrefix+t.ID, payload, s.statusTTL).Err()
		return
	}
	count := 0
	if latest != nil {
		count = latest.Number
	}
	s.RefreshAiStatus(ctx, t, count, latest)
}

func (s *Storage) dropAiStatus(ctx context.Context, taskID string) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx, statusKeyPrefix+taskID).Err()
}
