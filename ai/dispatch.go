package ai

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

// Queue accepts AI-run jobs for background processing.
type Queue interface {
	EnqueueAiRun(ctx context.Context, env domain.AiRunEnvelope) error
}

// Dispatcher hands AI-run jobs from request handlers to the queue without
// blocking the request path. Jobs go through a buffered channel drained by a
// small worker pool; a full buffer falls back to a short handoff wait and
// finally to an inline enqueue. A buffered job whose enqueue fails marks the
// task failed, so a task never sits in running with no run behind it.
type Dispatcher struct {
	queue  Queue
	store  Store
	logger *log.Logger

	workers        int
	enqueueTimeout time.Duration
	handoffTimeout time.Duration

	jobs   chan domain.AiRunEnvelope
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewDispatcher(queue Queue, store Store, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	d := &Dispatcher{
		queue:          queue,
		store:          store,
		logger:         logger,
		workers:        envInt("AI_DISPATCH_WORKERS", 8),
		enqueueTimeout: envDur("AI_DISPATCH_TIMEOUT", 30*time.Second),
		handoffTimeout: envDur("AI_DISPATCH_HANDOFF_TIMEOUT", 15*time.Millisecond),
		jobs:           make(chan domain.AiRunEnvelope, envInt("AI_DISPATCH_BUFFER", 1024)),
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("ai dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		d.workers, cap(d.jobs), d.enqueueTimeout, d.handoffTimeout)
	return d
}

// Shutdown stops the workers after draining buffered jobs.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Submit hands the job off to a worker. When the buffer is full past the
// handoff window, or the dispatcher is shut down, the job is enqueued inline
// on the caller's goroutine instead.
func (d *Dispatcher) Submit(ctx context.Context, env domain.AiRunEnvelope) error {
	if d.tryHandoff(env) {
		return nil
	}
	return d.queue.EnqueueAiRun(ctx, env)
}

func (d *Dispatcher) tryHandoff(env domain.AiRunEnvelope) bool {
	if ok, closed := d.trySendNonBlocking(env); closed {
		return false
	} else if ok {
		return true
	}

	if d.handoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.handoffTimeout)
	defer timer.Stop()

	ok, closed := d.sendWithTimer(env, timer.C)
	if closed {
		return false
	}
	return ok
}

// Sending on a channel closed by Shutdown panics; recover turns that race
// into a plain "use the inline path" answer.
func (d *Dispatcher) trySendNonBlocking(env domain.AiRunEnvelope) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case d.jobs <- env:
		return true, false
	default:
		return false, false
	}
}

func (d *Dispatcher) sendWithTimer(env domain.AiRunEnvelope, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case d.jobs <- env:
		return true, false
	case <-timer:
		return false, false
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for env := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.enqueueTimeout)
		if err := d.queue.EnqueueAiRun(ctx, env); err != nil {
			d.logger.Errorf("ai enqueue failed, err: %v, task: %s, worker: %d", err, env.Job.TaskID, id)
			d.markRunFailed(ctx, env, err)
		}
		cancel()
	}
}

// markRunFailed records a run that never reached the queue. The task would
// otherwise stay running forever with no worker coming for it. A task whose
// generation moved on belongs to a newer run and is left alone.
func (d *Dispatcher) markRunFailed(ctx context.Context, env domain.AiRunEnvelope, cause error) {
	if d.store == nil {
		return
	}
	task, err := d.store.FindTask(ctx, env.Job.TaskID)
	if err != nil {
		d.logger.Errorf("load task %s after enqueue failure: %v", env.Job.TaskID, err)
		return
	}
	if task.AiGeneration != env.Job.Generation || task.AiState != domain.AiStateRunning {
		return
	}

	task.AiState = domain.AiStateFailed
	task.AiResult = "AI error: " + cause.Error()
	if err := d.store.UpdateTask(ctx, task); err != nil {
		d.logger.Errorf("mark task %s failed after enqueue failure: %v", env.Job.TaskID, err)
		return
	}

	iterations, err := d.store.ListIterations(ctx, task.ID)
	if err == nil {
		var latest *domain.AiIteration
		if n := len(iterations); n > 0 {
			latest = &iterations[n-1]
		}
		d.store.RefreshAiStatus(ctx, task, len(iterations), latest)
	}
	d.store.PublishBoardEvent(ctx, storage.BoardEvent{
		Type:    storage.EventAiFinished,
		BoardID: task.BoardID,
		TaskID:  task.ID,
		Time:    time.Now().UnixNano(),
	})
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
