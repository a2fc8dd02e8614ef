// Package worker polls the job queue and drives claimed jobs through
// the transcription pipeline with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"woa/internal/models"
	"woa/internal/pipeline"
	"woa/internal/storage"
)

// Runner processes one claimed job. The production implementation is
// pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, job *models.Job) error
}

// Config tunes the worker loop.
type Config struct {
	// MaxConcurrent bounds jobs processed at once.
	MaxConcurrent int

	// PollInterval is how often the queue is checked for pending jobs.
	PollInterval time.Duration

	// CleanupAfterDays ages out terminal jobs and their artifacts; zero
	// disables cleanup.
	CleanupAfterDays int

	// ResultRoot is where per-job artifact directories live, removed
	// when their job is cleaned up.
	ResultRoot string

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker claims pending jobs and hands them to the runner. Claiming is
// a compare-and-set, so multiple workers over one database never run
// the same job twice.
type Worker struct {
	cfg    Config
	runner Runner
	jobs   *storage.JobRepository

	sem  *semaphore.Weighted
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, runner Runner, jobs *storage.JobRepository) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:    cfg,
		runner: runner,
		jobs:   jobs,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		stop:   make(chan struct{}),
	}
}

// Start requeues jobs a dead process left behind, then launches the
// polling loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	if n, err := w.jobs.RequeueProcessing(ctx); err != nil {
		w.cfg.Logger.Error("failed to requeue interrupted jobs", "error", err)
	} else if n > 0 {
		w.cfg.Logger.Info("interrupted jobs requeued", "count", n)
	}

	w.wg.Add(1)
	go w.run(ctx)
	if w.cfg.CleanupAfterDays > 0 {
		w.wg.Add(1)
		go w.runCleanup(ctx)
	}
	w.cfg.Logger.Info("worker started",
		"max_concurrent", w.cfg.MaxConcurrent,
		"poll_interval", w.cfg.PollInterval.String(),
	)
}

// Stop ends polling and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	w.cfg.Logger.Info("worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.dispatchPending(ctx)
		}
	}
}

// dispatchPending claims queue heads until the queue is empty or every
// worker slot is busy.
func (w *Worker) dispatchPending(ctx context.Context) {
	for {
		if !w.sem.TryAcquire(1) {
			return
		}

		job, err := w.claimNext(ctx)
		if err != nil {
			w.sem.Release(1)
			w.cfg.Logger.Error("failed to claim next job", "error", err)
			return
		}
		if job == nil {
			w.sem.Release(1)
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.process(ctx, job)
		}()
	}
}

// claimNext pops the oldest pending job. A nil job means the queue is
// empty or another worker won the claim race.
func (w *Worker) claimNext(ctx context.Context) (*models.Job, error) {
	job, err := w.jobs.NextPending(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	claimed, err := w.jobs.Claim(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	job.Status = models.JobStatusProcessing
	return job, nil
}

// process runs one job and applies its terminal transition.
func (w *Worker) process(ctx context.Context, job *models.Job) {
	log := w.cfg.Logger.With("job_id", job.ID, "model_type", job.ModelType)
	log.Info("job started", "files", job.TotalFiles)

	err := w.runner.Run(ctx, job)

	// The terminal write must land even when ctx died mid-job (shutdown
	// signal), or the row would be stranded in processing.
	db := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if err := w.jobs.Complete(db, job.ID); err != nil {
			log.Error("failed to mark job completed", "error", err)
			return
		}
		log.Info("job completed")
	case errors.Is(err, pipeline.ErrCancelled):
		if err := w.jobs.MarkCancelled(db, job.ID); err != nil {
			log.Error("failed to mark job cancelled", "error", err)
			return
		}
		log.Info("job cancelled")
	default:
		if ferr := w.jobs.Fail(db, job.ID, err.Error()); ferr != nil {
			log.Error("failed to mark job failed", "error", ferr)
			return
		}
		log.Error("job failed", "error", err)
	}
}

// runCleanup deletes terminal jobs past the retention window, once at
// startup and then daily, removing their artifact directories too.
func (w *Worker) runCleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	w.cleanupOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.cleanupOnce(ctx)
		}
	}
}

func (w *Worker) cleanupOnce(ctx context.Context) {
	ids, err := w.jobs.CleanupTerminal(ctx, w.cfg.CleanupAfterDays)
	if err != nil {
		w.cfg.Logger.Error("job cleanup failed", "error", err)
		return
	}
	for _, id := range ids {
		if w.cfg.ResultRoot == "" {
			continue
		}
		dir := filepath.Join(w.cfg.ResultRoot, id)
		if err := os.RemoveAll(dir); err != nil {
			w.cfg.Logger.Warn("failed to remove result directory", "job_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		w.cfg.Logger.Info("old jobs cleaned up", "count", len(ids))
	}
}
