package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"flowboard-api/domain"
)

// EnqueueAiRun sends an AI-run job to the work queue.
func (s *Storage) EnqueueAiRun(ctx context.Context, env domain.AiRunEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal ai run: %w", err)
	}
	if _, err := s.aiRunQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue ai run: %w", err)
	}
	return nil
}

// AiRunReceipt identifies a dequeued message for later deletion.
type AiRunReceipt struct {
	MessageID  string
	PopReceipt string
}

// NextAiRun pulls one AI-run job off the queue. ok is false when the queue
// is empty. Messages that fail to decode are deleted and skipped so a
// poison message cannot wedge the worker.
func (s *Storage) NextAiRun(ctx context.Context) (domain.AiRunEnvelope, AiRunReceipt, bool, error) {
	resp, err := s.aiRunQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return domain.AiRunEnvelope{}, AiRunReceipt{}, false, fmt.Errorf("dequeue ai run: %w", err)
	}
	if len(resp.Messages) == 0 {
		return domain.AiRunEnvelope{}, AiRunReceipt{}, false, nil
	}
	msg := resp.Messages[0]
	receipt := AiRunReceipt{}
	if msg.MessageID != nil {
		receipt.MessageID = *msg.MessageID
	}
	if msg.PopReceipt != nil {
		receipt.PopReceipt = *msg.PopReceipt
	}
	var env domain.AiRunEnvelope
	if msg.MessageText == nil || json.Unmarshal([]byte(*msg.MessageText), &env) != nil {
		_ = s.DeleteAiRun(ctx, receipt)
		return domain.AiRunEnvelope{}, AiRunReceipt{}, false, nil
	}
	return env, receipt, true, nil
}

// DeleteAiRun acknowledges a processed job.
func (s *Storage) DeleteAiRun(ctx context.Context, receipt AiRunReceipt) error {
	if _, err := s.aiRunQueue.DeleteMessage(ctx, receipt.MessageID, receipt.PopReceipt, nil); err != nil {
		return fmt.Errorf("delete ai run: %w", err)
	}
	return nil
}
