// Package worker drains the task queue: it resumes sync runs handed off by
// the API and expands scheduled sync_accepted tasks into per-consent runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driving"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/metrics"
)

// errPermanent marks task failures a retry cannot fix.
var errPermanent = errors.New("permanent task failure")

// Worker processes tasks from the task queue.
type Worker struct {
	taskQueue    driven.TaskQueue
	orchestrator driving.SyncOrchestrator
	scheduler    driving.Scheduler
	metrics      *metrics.Metrics
	logger       *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Orchestrator   driving.SyncOrchestrator
	Scheduler      driving.Scheduler // Optional: started and stopped with the worker
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		orchestrator:   cfg.Orchestrator,
		scheduler:      cfg.Scheduler,
		metrics:        cfg.Metrics,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start launches the processing goroutines and returns.
// They run until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask runs one task and settles it. Permanent failures are acked so
// they do not cycle through the retry schedule.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "tenant_id", task.TenantID)
	logger.Info("processing task", "attempt", task.Attempts)

	start := time.Now()
	var err error
	switch task.Type {
	case domain.TaskTypeSyncConsent:
		err = w.handleSyncConsent(ctx, task)
	case domain.TaskTypeSyncAccepted:
		err = w.handleSyncAccepted(ctx)
	default:
		err = fmt.Errorf("%w: unknown task type %q", errPermanent, task.Type)
	}
	duration := time.Since(start)

	switch {
	case err == nil:
		logger.Info("task completed", "duration", duration)
		w.metrics.IncrementTask(string(task.Type), "completed")
		if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
			logger.Error("failed to ack task", "ack_error", ackErr)
		}
	case errors.Is(err, errPermanent):
		logger.Warn("dropping task", "duration", duration, "error", err)
		w.metrics.IncrementTask(string(task.Type), "dropped")
		if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
			logger.Error("failed to ack task", "ack_error", ackErr)
		}
	default:
		logger.Error("task failed", "duration", duration, "error", err)
		w.metrics.IncrementTask(string(task.Type), "retried")
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
	}
}

// handleSyncConsent re-enters the run recorded in the task. Completed steps
// are memoized under the run id, so a retry only repeats what failed.
func (w *Worker) handleSyncConsent(ctx context.Context, task *domain.Task) error {
	consentID, runID := task.ConsentID(), task.RunID()
	if consentID == "" || runID == "" {
		return fmt.Errorf("%w: task payload lacks consent_id or run_id", errPermanent)
	}

	result, err := w.orchestrator.ResumeRun(ctx, driving.SyncRequest{
		ConsentID:     consentID,
		TenantID:      task.TenantID,
		ResourceTypes: task.ResourceTypes(),
	}, runID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
			return fmt.Errorf("%w: %v", errPermanent, err)
		case errors.Is(err, domain.ErrConflict):
			// another run owns the leases and will sync these types
			return fmt.Errorf("%w: %v", errPermanent, err)
		}
		return err
	}

	switch result.Status {
	case domain.SyncStatusCompleted:
		return nil
	case domain.SyncStatusPartial, domain.SyncStatusFailed:
		return fmt.Errorf("sync run %s %s: %s", runID, result.Status, failedTypes(result))
	}
	return nil
}

func (w *Worker) handleSyncAccepted(ctx context.Context) error {
	n, err := w.orchestrator.SyncAllAccepted(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("enqueued sync runs for accepted consents", "count", n)
	return nil
}

func failedTypes(r *domain.SyncResult) string {
	var failed []string
	for _, res := range r.Resources {
		if res.Status == domain.SyncStatusFailed {
			failed = append(failed, fmt.Sprintf("%s (%s)", res.Type, res.Error))
		}
	}
	if len(failed) == 0 {
		return "no failed steps"
	}
	return fmt.Sprint(failed)
}

// Health returns health status of the worker.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}
	if err := w.taskQueue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
