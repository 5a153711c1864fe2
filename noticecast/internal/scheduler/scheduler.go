// Package scheduler runs periodic and daily wall-clock jobs. It is a plain
// in-process poller: ticks missed while the process was down are not
// replayed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a scheduled unit of work. Exactly one of Every or At must be set.
type Job struct {
	Name string
	// Every runs the job at a fixed period, measured from the last dispatch.
	Every time.Duration
	// At runs the job daily at "HH:MM" in the scheduler's location.
	At string
	// RunImmediately dispatches the job once when Run starts.
	RunImmediately bool
	Run            func(ctx context.Context)
}

// Config configures the scheduler.
type Config struct {
	// CheckInterval is how often to poll for due jobs. Default: 1 minute.
	CheckInterval time.Duration
	// Location for At jobs. Default: time.Local.
	Location *time.Location
}

func (c *Config) defaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Minute
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

type entry struct {
	job          Job
	hour, minute int
	next         time.Time
	running      atomic.Bool
}

// Status describes one registered job.
type Status struct {
	Name    string    `json:"name"`
	Next    time.Time `json:"next"`
	Running bool      `json:"running"`
}

// Scheduler dispatches due jobs, each on its own goroutine, so a slow job
// never blocks the poll loop. A job still running when it comes due again
// is skipped for that tick.
type Scheduler struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []*entry
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{config: cfg, logger: logger, now: time.Now}
}

// Add registers a job. Jobs added after Run starts are picked up on the
// next tick.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a Run func")
	}
	e := &entry{job: j}
	switch {
	case j.Every > 0 && j.At == "":
	case j.Every <= 0 && j.At != "":
		h, m, err := ParseClock(j.At)
		if err != nil {
			return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
		}
		e.hour, e.minute = h, m
	default:
		return fmt.Errorf("scheduler: job %s: set exactly one of Every or At", j.Name)
	}
	e.next = s.nextRun(e, s.now())

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

// Run polls on a ticker until ctx is cancelled. In-flight jobs receive the
// cancelled ctx; use Wait to block until they return.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.mu.Lock()
	for _, e := range s.entries {
		if e.job.RunImmediately {
			s.dispatch(ctx, e)
		}
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// Wait blocks until every dispatched job has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Jobs reports registered jobs and their next run.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Status{Name: e.job.Name, Next: e.next, Running: e.running.Load()})
	}
	return out
}

// tick dispatches every job due at now and reschedules it from now.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		e.next = s.nextRun(e, now)
		s.dispatch(ctx, e)
	}
}

// dispatch starts e on its own goroutine unless it is already running.
// Caller holds s.mu.
func (s *Scheduler) dispatch(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Warn("scheduler: job still running, tick skipped", "job", e.job.Name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler: job panicked", "job", e.job.Name, "panic", r)
			}
		}()
		start := time.Now()
		s.logger.Debug("scheduler: job started", "job", e.job.Name)
		e.job.Run(ctx)
		s.logger.Debug("scheduler: job finished", "job", e.job.Name, "duration", time.Since(start))
	}()
}

func (s *Scheduler) nextRun(e *entry, now time.Time) time.Time {
	if e.job.Every > 0 {
		return now.Add(e.job.Every)
	}
	return NextDaily(now, e.hour, e.minute, s.config.Location)
}

// NextDaily returns the first hour:minute strictly after now in loc.
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
