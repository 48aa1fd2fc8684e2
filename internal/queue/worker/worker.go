package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/storefronthq/storefront/internal/domain/job"
	"github.com/storefronthq/storefront/internal/notifications"
	"github.com/storefronthq/storefront/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
}

type Config struct {
	PollInterval time.Duration
	WorkerID     string
	Concurrency  int
}

type Worker struct {
	cfg      Config
	repo     JobsRepository
	notifier notifications.Notifier
	log      *slog.Logger
	prom     *observability.Prom

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, notifier notifications.Notifier, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		log:      log,
		prom:     prom,
	}
}

// Run starts Concurrency executor loops and blocks until ctx is cancelled.
// Row-level claim locking keeps executors from stepping on each other.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	w.log.Info("worker started",
		"worker_id", w.cfg.WorkerID,
		"poll_interval", w.cfg.PollInterval.String(),
		"concurrency", w.cfg.Concurrency,
	)

	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)

		executorID := fmt.Sprintf("%s-%d", w.cfg.WorkerID, i)

		go func() {
			defer wg.Done()
			w.runExecutor(ctx, executorID)
		}()
	}

	wg.Wait()
	w.log.Info("worker received shutdown signal")
	return nil
}

// runExecutor polls until ctx is cancelled. After each claimed job it
// immediately tries for another, so a backlog drains without waiting on
// the ticker.
func (w *Worker) runExecutor(ctx context.Context, executorID string) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			for {
				processed, err := w.ProcessOne(ctx, executorID)
				if err != nil {
					w.log.Error("job processing error", "executor_id", executorID, "error", err)
					break
				}
				if !processed {
					break
				}
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}
