package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// Handle tracks one asynchronously launched run.
type Handle struct {
	TenantID string
	JobID    string

	done chan struct{}
	job  *model.ImportJob
	err  error
}

// Done is closed when the run returns.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run returns or ctx ends, and returns the run's result.
func (h *Handle) Wait(ctx context.Context) (*model.ImportJob, error) {
	select {
	case <-h.done:
		return h.job, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Launcher runs jobs in the background with at most MaxConcurrentJobs running at once.
// Runs outlive the caller's context; Shutdown pauses them at their next batch boundary.
type Launcher struct {
	executor *Executor
	sem      *semaphore.Weighted
	base     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// NewLauncher creates a Launcher for executor.
func NewLauncher(executor *Executor, cfg *config.EngineConfig) *Launcher {
	limit := int64(positive(cfg.MaxConcurrentJobs, 1))
	base, stop := context.WithCancel(context.Background())
	return &Launcher{
		executor: executor,
		sem:      semaphore.NewWeighted(limit),
		base:     base,
		stop:     stop,
	}
}

// Launch runs a pending job in the background.
func (l *Launcher) Launch(ctx context.Context, tenantID, jobID string, source port.RowSource) *Handle {
	return l.start(ctx, tenantID, jobID, func(runCtx context.Context) (*model.ImportJob, error) {
		return l.executor.Run(runCtx, tenantID, jobID, source)
	})
}

// LaunchResume resumes a paused job in the background.
func (l *Launcher) LaunchResume(ctx context.Context, tenantID, jobID string, source port.RowSource) *Handle {
	return l.start(ctx, tenantID, jobID, func(runCtx context.Context) (*model.ImportJob, error) {
		return l.executor.Resume(runCtx, tenantID, jobID, source)
	})
}

func (l *Launcher) start(ctx context.Context, tenantID, jobID string, run func(context.Context) (*model.ImportJob, error)) *Handle {
	h := &Handle{TenantID: tenantID, JobID: jobID, done: make(chan struct{})}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unlink := context.AfterFunc(l.base, cancel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(h.done)
		defer cancel()
		defer unlink()

		if err := l.sem.Acquire(runCtx, 1); err != nil {
			h.err = err
			logger.Warnf("Import job '%s' was not started: %v", jobID, err)
			return
		}
		defer l.sem.Release(1)
		h.job, h.err = run(runCtx)
		if h.err != nil {
			logger.Errorf("Import job '%s' run returned an error: %v", jobID, h.err)
		}
	}()
	logger.Debugf("Import job '%s' (tenant %s) launched.", jobID, tenantID)
	return h
}

// Wait blocks until every launched run has returned.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Shutdown cancels the launcher context, so running jobs pause at their next batch
// boundary and queued ones never start, then waits for them until ctx ends.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.stop()
	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
