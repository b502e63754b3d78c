// Package scheduler runs a single job on an interval or a cron schedule. A
// tick that arrives while the previous run is still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const maxErrorChars = 2000

type Config struct {
	// Interval between runs. Ignored when Schedule is set.
	Interval time.Duration
	// Schedule is an optional five-field cron expression.
	Schedule string
	// RunTimeout bounds each run. Zero means no limit beyond the parent context.
	RunTimeout time.Duration
	// RunImmediately starts the first run as soon as the scheduler starts.
	RunImmediately bool
}

type Job func(ctx context.Context) error

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running    bool      `json:"running"`
	Runs       int       `json:"runs"`
	Skipped    int       `json:"skipped"`
	LastStart  time.Time `json:"last_start,omitempty"`
	LastFinish time.Time `json:"last_finish,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
}

type Scheduler struct {
	log      *slog.Logger
	cfg      Config
	job      Job
	schedule *Schedule
	now      func() time.Time

	mu     sync.Mutex
	status Status

	wg     sync.WaitGroup
	wakeCh chan struct{}
}

func New(job Job, cfg Config, log *slog.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("nil job")
	}
	var sched *Schedule
	if strings.TrimSpace(cfg.Schedule) != "" {
		s, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		sched = s
	} else if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:      log,
		cfg:      cfg,
		job:      job,
		schedule: sched,
		now:      time.Now,
		wakeCh:   make(chan struct{}, 1),
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	first, err := s.nextRun(s.now())
	if err != nil {
		return err
	}
	s.log.Info("scheduler_start",
		"interval", s.cfg.Interval.String(),
		"schedule", s.cfg.Schedule,
		"run_immediately", s.cfg.RunImmediately,
	)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.scheduleLoop(ctx, first)
	}()
	go func() {
		defer s.wg.Done()
		s.workerLoop(ctx)
	}()

	if s.cfg.RunImmediately {
		s.Trigger()
	}
	return nil
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Trigger asks for a run now. It reports false when a run is already in flight
// or queued.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	running := s.status.Running
	s.mu.Unlock()
	if running {
		s.skip("running")
		return false
	}
	select {
	case s.wakeCh <- struct{}{}:
		return true
	default:
		s.skip("queued")
		return false
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) skip(reason string) {
	s.mu.Lock()
	s.status.Skipped++
	s.mu.Unlock()
	s.log.Info("scheduler_run_skipped", "reason", reason)
}

func (s *Scheduler) nextRun(after time.Time) (time.Time, error) {
	if s.schedule != nil {
		return s.schedule.Next(after)
	}
	return after.Add(s.cfg.Interval), nil
}

func (s *Scheduler) scheduleLoop(ctx context.Context, next time.Time) {
	for {
		s.mu.Lock()
		s.status.NextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler_stop", "reason", ctx.Err().Error())
			return
		case <-timer.C:
			s.Trigger()
		}

		n, err := s.nextRun(s.now())
		if err != nil {
			s.log.Warn("scheduler_schedule_error", "error", err.Error())
			return
		}
		next = n
	}
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wakeCh:
		}
		s.execute(ctx)
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	start := s.now()
	s.mu.Lock()
	s.status.Running = true
	s.status.LastStart = start
	s.mu.Unlock()

	runCtx := ctx
	cancel := func() {}
	if s.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	}
	s.log.Debug("scheduler_run_start")
	err := s.job(runCtx)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	var errStr string
	switch {
	case err == nil:
	case timedOut:
		errStr = fmt.Sprintf("timeout: run exceeded %s deadline", s.cfg.RunTimeout)
	default:
		errStr = truncateString(err.Error(), maxErrorChars)
	}

	finish := s.now()
	s.mu.Lock()
	s.status.Running = false
	s.status.Runs++
	s.status.LastFinish = finish
	s.status.LastError = errStr
	s.mu.Unlock()

	if errStr != "" {
		s.log.Warn("scheduler_run_error", "duration", finish.Sub(start).String(), "error", errStr)
		return
	}
	s.log.Debug("scheduler_run_done", "duration", finish.Sub(start).String())
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
