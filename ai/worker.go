package ai

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

// JobSource delivers queued AI-run jobs. *storage.Storage satisfies it.
type JobSource interface {
	NextAiRun(ctx context.Context) (domain.AiRunEnvelope, storage.AiRunReceipt, bool, error)
	DeleteAiRun(ctx context.Context, receipt storage.AiRunReceipt) error
}

// Worker drains the AI-run queue and feeds each job to the runner. A job is
// deleted from the queue only after the runner recorded an outcome for it; a
// storage failure leaves the message to reappear after its visibility
// timeout.
type Worker struct {
	source       JobSource
	runner       *Runner
	logger       *log.Logger
	pollInterval time.Duration
	runTimeout   time.Duration
}

func NewWorker(source JobSource, runner *Runner, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Worker{
		source:       source,
		runner:       runner,
		logger:       logger,
		pollInterval: envDur("AI_WORKER_POLL_INTERVAL", time.Second),
		runTimeout:   envDur("AI_RUN_TIMEOUT", 3*time.Minute),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("ai worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ai worker stopped")
			return
		default:
		}

		env, receipt, ok, err := w.source.NextAiRun(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Errorf("receive ai job: %v", err)
			w.sleep(ctx)
			continue
		}
		if !ok {
			w.sleep(ctx)
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, w.runTimeout)
		err = w.runner.Run(runCtx, env)
		cancel()
		if err != nil {
			w.logger.Errorf("ai run for task %s: %v", env.Job.TaskID, err)
			w.sleep(ctx)
			continue
		}
		if err := w.source.DeleteAiRun(ctx, receipt); err != nil {
			w.logger.Errorf("delete ai job for task %s: %v", env.Job.TaskID, err)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
