// Package scheduler runs periodic tasks under supervision: failures back off
// exponentially, panics are recovered and the task restarted per its policy.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/metrics"
)

// RunFunc is one iteration of a task.
type RunFunc func(ctx context.Context) error

// RestartPolicy decides what happens after a task panics.
type RestartPolicy int

const (
	RestartAlways RestartPolicy = iota
	RestartNever
)

// Backoff is the delay schedule applied after consecutive failures.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultBackoff starts at 5s and caps at 5m.
var DefaultBackoff = Backoff{Initial: 5 * time.Second, Max: 5 * time.Minute, Factor: 2}

// Delay returns the wait after the given number of consecutive failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Factor < 1 {
		b.Factor = DefaultBackoff.Factor
	}
	d := float64(b.Initial)
	for i := 1; i < failures; i++ {
		d *= b.Factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Task is a periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      RunFunc

	// Delay before the first run.
	StartupDelay time.Duration
	Backoff      Backoff
	Restart      RestartPolicy
	// MaxRestarts bounds panic restarts; zero means unlimited.
	MaxRestarts int
}

// Supervisor owns a set of running tasks.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor whose tasks stop when parent is cancelled.
func New(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Go starts t in its own goroutine.
func (s *Supervisor) Go(t Task) {
	if t.Interval <= 0 {
		panic(fmt.Sprintf("scheduler: task %q interval must be positive", t.Name))
	}
	if t.Backoff == (Backoff{}) {
		t.Backoff = DefaultBackoff
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(t)
	}()
	log.Info().Str("task", t.Name).Dur("interval", t.Interval).Msg("▶️ Task started")
}

// Stop cancels every task and waits for them to return.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) supervise(t Task) {
	if !sleep(s.ctx, t.StartupDelay) {
		return
	}

	restarts := 0
	for {
		panicked := s.loop(t)
		if !panicked || s.ctx.Err() != nil {
			return
		}
		if t.Restart == RestartNever {
			log.Error().Str("task", t.Name).Msg("Task panicked, not restarting")
			return
		}
		restarts++
		if t.MaxRestarts > 0 && restarts > t.MaxRestarts {
			log.Error().Str("task", t.Name).Int("restarts", restarts-1).Msg("Task exceeded restart budget")
			return
		}
		delay := t.Backoff.Delay(restarts)
		log.Warn().Str("task", t.Name).Int("restart", restarts).Dur("delay", delay).Msg("🔁 Restarting task")
		if !sleep(s.ctx, delay) {
			return
		}
	}
}

// loop runs t until the context ends. It reports whether it stopped on a panic.
func (s *Supervisor) loop(t Task) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TaskFailures.WithLabelValues(t.Name, "panic").Inc()
			log.Error().Str("task", t.Name).Interface("panic", r).Msg("💥 Task panicked")
			panicked = true
		}
	}()

	failures := 0
	for {
		if err := t.Run(s.ctx); err != nil && s.ctx.Err() == nil {
			failures++
			metrics.TaskFailures.WithLabelValues(t.Name, "error").Inc()
			delay := t.Backoff.Delay(failures)
			if delay < t.Interval {
				delay = t.Interval
			}
			log.Warn().Err(err).Str("task", t.Name).Int("failures", failures).Dur("retry_in", delay).Msg("Task iteration failed")
			if !sleep(s.ctx, delay) {
				return false
			}
			continue
		}
		if failures > 0 {
			log.Info().Str("task", t.Name).Int("after_failures", failures).Msg("Task recovered")
		}
		failures = 0
		if !sleep(s.ctx, t.Interval) {
			return false
		}
	}
}

// sleep waits d or until ctx ends; it reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
