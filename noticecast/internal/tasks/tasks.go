// Package tasks runs background work under a tracked job record so the
// control surface can report "started" at once and be polled later.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/agrivoice/idgen"
	"github.com/hazyhaar/agrivoice/noticecast/internal/metrics"
	"github.com/hazyhaar/agrivoice/noticecast/internal/store"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("tasks: runner closed")

// Func is a unit of background work. The returned string is stored as the
// job result.
type Func func(ctx context.Context) (string, error)

// Runner executes Funcs on their own goroutines, recording each one as a
// job row that moves pending -> running -> succeeded|failed.
type Runner struct {
	store  *store.Store
	logger *slog.Logger
	newID  idgen.Generator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Runner. Jobs left pending or running by a previous process
// are marked failed.
func New(ctx context.Context, st *store.Store, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if n, err := st.FailStaleJobs(ctx); err != nil {
		return nil, fmt.Errorf("tasks: recover stale jobs: %w", err)
	} else if n > 0 {
		logger.Warn("tasks: marked interrupted jobs failed", "count", n)
	}
	lctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:  st,
		logger: logger,
		newID:  idgen.Prefixed("job_", idgen.Default),
		ctx:    lctx,
		cancel: cancel,
	}, nil
}

// Submit records a pending job and starts fn. It returns as soon as the
// job row exists.
func (r *Runner) Submit(kind string, fn Func) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	id := r.newID()
	if err := r.store.InsertJob(r.ctx, &store.Job{ID: id, Kind: kind}); err != nil {
		return "", fmt.Errorf("tasks: record job: %w", err)
	}

	r.wg.Add(1)
	go r.run(id, kind, fn)
	return id, nil
}

func (r *Runner) run(id, kind string, fn Func) {
	defer r.wg.Done()
	ctx := context.WithoutCancel(r.ctx)

	if err := r.store.StartJob(ctx, id); err != nil {
		r.logger.Error("tasks: start job", "job", id, "error", err)
	}
	metrics.Jobs.WithLabelValues(kind).Inc()
	defer metrics.Jobs.WithLabelValues(kind).Dec()

	result, err := r.safeCall(fn)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		r.logger.Error("tasks: job failed", "job", id, "kind", kind, "error", err)
	} else {
		r.logger.Info("tasks: job done", "job", id, "kind", kind)
	}
	if err := r.store.CompleteJob(ctx, id, result, errMsg); err != nil {
		r.logger.Error("tasks: complete job", "job", id, "error", err)
	}
}

func (r *Runner) safeCall(fn Func) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tasks: panic: %v", p)
		}
	}()
	return fn(r.ctx)
}

// Get returns a job by id, or nil if unknown.
func (r *Runner) Get(ctx context.Context, id string) (*store.Job, error) {
	return r.store.GetJob(ctx, id)
}

// Recent returns the n most recent jobs.
func (r *Runner) Recent(ctx context.Context, n int) ([]*store.Job, error) {
	return r.store.RecentJobs(ctx, n)
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Close cancels in-flight work and waits for it. Sends already issued are
// not retried.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
