package storage

import (
	"context"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"
)

// BoardEvent notifies subscribers (live board views) that something on a
// board changed. Delivery is fire-and-forget over Redis pub/sub.
type BoardEvent struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId,omitempty"`
	Time    int64  `json:"time"`
}

const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskMoved   = "task-moved"
	EventTaskDeleted = "task-deleted"
	EventAiFinished  = "ai-finished"
)

// PublishBoardEvent publishes ev on the configured channel. Failures are
// logged and swallowed: pub/sub is an optimization for live views, never a
// correctness dependency.
func (s *Storage) PublishBoardEvent(ctx context.Context, ev BoardEvent) {
	if s.redis == nil || s.eventChannel == "" {
		return
	}
	if ev.Time == 0 {
		ev.Time = s.now().UnixNano()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, s.eventChannel, payload).Err(); err != nil {
		log.Errorf("unable to publish %s for board %s: %v", ev.Type, ev.BoardID, err)
	}
}

// SubscribeBoardEvents returns a channel of board events and a function that
// tears the subscription down. Slow consumers lose events rather than block
// the pump; live views re-fetch on reconnect anyway.
func (s *Storage) SubscribeBoardEvents(ctx context.Context) (<-chan BoardEvent, func(), error) {
	if s.redis == nil || s.eventChannel == "" {
		return nil, nil, errors.New("board events not configured")
	}
	sub := s.redis.Subscribe(ctx, s.eventChannel)
	out := make(chan BoardEvent, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev BoardEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Debugf("skipping malformed board event: %v", err)
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
