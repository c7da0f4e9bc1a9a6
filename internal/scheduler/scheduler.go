// Package scheduler decides when ingestion runs happen and guarantees that at
// most one is in flight.
//
// Runs are started by the poll timer, by a preference change, or on demand
// through Trigger. A start request that arrives while a run is in progress is
// dropped, never queued.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/seismic-feed-service/internal/config"
	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/observability"
)

// ErrRunInProgress is returned by Trigger when another run holds the slot.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// State is the scheduler's run slot.
type State int32

const (
	// Idle means auto-update is on and no run is in flight.
	Idle State = iota
	// Running means a run holds the slot.
	Running
	// Disabled means auto-update is off. On-demand runs are still accepted.
	Disabled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Runner executes one ingestion run.
type Runner interface {
	RunOnce(ctx context.Context, prefs config.Preferences) (domain.IngestionResult, error)
}

// Scheduler owns the poll timer and the single-flight run slot.
type Scheduler struct {
	runner  Runner
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	state atomic.Int32

	mu    sync.Mutex
	prefs config.Preferences

	reconfigured chan struct{}
	wg           sync.WaitGroup
}

// New creates a Scheduler. A nil clock selects the real clock.
func New(runner Runner, prefs config.Preferences, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		runner:       runner,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		prefs:        prefs,
		reconfigured: make(chan struct{}, 1),
	}
	s.state.Store(int32(restingState(prefs)))
	return s
}

// State reports the current slot state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Preferences returns the preferences the next run will use.
func (s *Scheduler) Preferences() config.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Run starts an immediate run, then one per poll interval while auto-update
// is on. It returns when ctx is cancelled, after in-flight runs finish.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	// A Reconfigure before Run is already reflected in Preferences.
	select {
	case <-s.reconfigured:
	default:
	}

	s.logger.Info("scheduler started")
	for {
		prefs := s.Preferences()
		s.fire(ctx, prefs)
		if !s.wait(ctx, prefs) {
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// wait serves ticks until the preferences change (true) or ctx ends (false).
func (s *Scheduler) wait(ctx context.Context, prefs config.Preferences) bool {
	var tick <-chan time.Time
	if prefs.AutoUpdate {
		ticker := s.clock.NewTicker(prefs.PollInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.reconfigured:
			return true
		case <-tick:
			s.fire(ctx, s.Preferences())
		}
	}
}

// Reconfigure applies new preferences. The pending timer is replaced and an
// immediate run is started by Run. An in-flight run keeps its old preferences.
func (s *Scheduler) Reconfigure(prefs config.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.prefs = prefs
	// Only a resting slot changes here; a running slot settles when the run ends.
	next := restingState(prefs)
	s.state.CompareAndSwap(int32(otherResting(next)), int32(next))
	s.mu.Unlock()

	select {
	case s.reconfigured <- struct{}{}:
	default:
	}

	s.logger.Info("preferences updated",
		"auto_update", prefs.AutoUpdate,
		"poll_interval", prefs.PollInterval,
		"minimum_magnitude", prefs.MinimumMagnitude,
	)
	return nil
}

// Trigger runs the pipeline synchronously with the current preferences.
// It fails with ErrRunInProgress instead of waiting for another run.
func (s *Scheduler) Trigger(ctx context.Context) (domain.IngestionResult, error) {
	if !s.acquire() {
		s.metrics.Runs.WithLabelValues("skipped").Inc()
		return domain.IngestionResult{}, ErrRunInProgress
	}
	defer s.release()
	return s.runner.RunOnce(ctx, s.Preferences())
}

// fire starts a background run unless one is already in flight.
func (s *Scheduler) fire(ctx context.Context, prefs config.Preferences) {
	if !s.acquire() {
		s.metrics.Runs.WithLabelValues("skipped").Inc()
		s.logger.Debug("run skipped, previous run still in progress")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		if _, err := s.runner.RunOnce(ctx, prefs); err != nil {
			s.logger.Error("ingestion run failed", "error", err)
		}
	}()
}

func (s *Scheduler) acquire() bool {
	return s.state.CompareAndSwap(int32(Idle), int32(Running)) ||
		s.state.CompareAndSwap(int32(Disabled), int32(Running))
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Store(int32(restingState(s.prefs)))
}

func restingState(prefs config.Preferences) State {
	if prefs.AutoUpdate {
		return Idle
	}
	return Disabled
}

func otherResting(st State) State {
	if st == Idle {
		return Disabled
	}
	return Idle
}
