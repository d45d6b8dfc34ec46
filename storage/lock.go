package storage

import (
	"context"
	"errors"
	"time"
)

const (
	lockKeyPrefix   = "flowboard:appendlock:"
	lockTTL         = 30 * time.Second
	lockRetryDelay  = 50 * time.Millisecond
	lockMaxAttempts = 100
)

var errLockUnavailable = errors.New("append lock unavailable")

// lockTask takes the per-task append lock. The returned func releases it.
// Without a Redis client the lock degrades to a no-op; the conditional
// insert in AppendIteration still upholds the numbering invariant on its
// own, the lock just avoids wasted completion-provider work.
func (s *Storage) lockTask(ctx context.Context, taskID string) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	key := lockKeyPrefix + taskID
	token := s.newID()
	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		ok, err := s.redis.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = s.redis.Del(context.Background(), key).Err()
			}, nil
		}
		select {
		case <-time.After(lockRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errLockUnavailable
}
