package removal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meerkat-chat/meerkat/internal/message"
)

// Scheduler owns the shared countdown of a session and writes recomputed
// states into the store.
type Scheduler struct {
	store  *message.Store
	policy Policy
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	countdown int
}

// NewScheduler creates a scheduler with the initial countdown.
func NewScheduler(log *slog.Logger, store *message.Store, policy Policy, countdown int) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:     store,
		policy:    policy,
		logger:    log.With(slog.String("component", "removal")),
		now:       time.Now,
		countdown: countdown,
	}
}

// Countdown returns the current countdown in seconds.
func (s *Scheduler) Countdown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countdown
}

// SetCountdown changes the countdown and recomputes immediately. It returns
// the number of messages whose state changed.
func (s *Scheduler) SetCountdown(countdown int) int {
	if countdown < 0 {
		countdown = Disabled
	}
	s.mu.Lock()
	s.countdown = countdown
	s.mu.Unlock()
	s.logger.Info("countdown set", slog.Int("seconds", countdown))
	return s.Recompute()
}

// Recompute runs one tick against the store.
func (s *Scheduler) Recompute() int {
	countdown := s.Countdown()
	current := s.store.All()
	next := s.policy.Tick(countdown, current, s.now())
	states := map[string]message.RemovalState{}
	for i := range next {
		if next[i].RemovalState != current[i].RemovalState {
			states[next[i].ID] = next[i].RemovalState
		}
	}
	changed := s.store.SetRemovalStates(states)
	if changed > 0 {
		s.logger.Debug("removal states updated", slog.Int("changed", changed), slog.Int("countdown", countdown))
	}
	return changed
}

// Timer invokes a job on a fixed interval. Intervals below one second are
// rounded up by the cron scheduler.
type Timer struct {
	cron *cron.Cron
}

// NewTimer schedules job every interval. The timer does not run until Start.
func NewTimer(log *slog.Logger, interval time.Duration, job func()) (*Timer, error) {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid tick interval %s", interval)
	}
	cl := cronLogger{logger: log.With(slog.String("component", "removal_timer"))}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc("@every "+interval.String(), job); err != nil {
		return nil, fmt.Errorf("schedule tick: %w", err)
	}
	return &Timer{cron: c}, nil
}

// Start begins ticking in the background.
func (t *Timer) Start() {
	t.cron.Start()
}

// Stop halts future ticks. The returned context is done once a running job
// has finished.
func (t *Timer) Stop() context.Context {
	return t.cron.Stop()
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
