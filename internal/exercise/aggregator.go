package exercise

import (
	"context"
	"sync"
	"time"

	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/stream"
	"github.com/motion-rep-tracker/pkg/logger"
)

// Aggregator owns the one live session. Each sample is applied atomically:
// the next State is computed in full before it replaces the current one.
type Aggregator struct {
	params Params
	now    func() time.Time
	logger *logger.Logger

	emitMu sync.Mutex

	mu    sync.Mutex
	state State

	stats *stream.Hub[models.SessionStats]
}

// New creates an idle aggregator using the wall clock
func New(params Params, log *logger.Logger) *Aggregator {
	return NewWithClock(params, log, time.Now)
}

// NewWithClock creates an idle aggregator reading time from now
func NewWithClock(params Params, log *logger.Logger, now func() time.Time) *Aggregator {
	return &Aggregator{
		params: params.withDefaults(),
		now:    now,
		logger: log,
		stats:  stream.NewHub[models.SessionStats](),
	}
}

// Params returns the effective detector parameters
func (a *Aggregator) Params() Params {
	return a.params
}

// SubscribeStats registers fn for every snapshot change and timer tick
func (a *Aggregator) SubscribeStats(fn func(models.SessionStats)) (unsubscribe func()) {
	return a.stats.Subscribe(fn)
}

// Start begins a new session from zero with a fresh start timestamp
func (a *Aggregator) Start() {
	a.apply(func(_ State, now time.Time) State {
		return State{Active: true, StartedAt: now}
	})
	a.logger.Info("Session started")
}

// Stop freezes the duration. Later samples are ignored. The final state is
// returned; ok is false when no session was active.
func (a *Aggregator) Stop() (final State, ok bool) {
	a.apply(func(s State, now time.Time) State {
		if !s.Active {
			return s
		}
		ok = true
		s.Active = false
		s.StoppedAt = now
		final = s
		return s
	})
	if ok {
		a.logger.Info("Session stopped",
			logger.Int("reps", final.RepCount),
			logger.F("duration", FormatDuration(final.Elapsed(final.StoppedAt))))
	}
	return final, ok
}

// Reset zeroes all statistics. An active session keeps running from a new
// start timestamp.
func (a *Aggregator) Reset() {
	a.apply(func(s State, now time.Time) State {
		if s.Active {
			return State{Active: true, StartedAt: now}
		}
		return State{}
	})
	a.logger.Info("Session data reset")
}

// Ingest applies one sample. The sample's own timestamp is not used; the
// history entry is stamped relative to the session start.
func (a *Aggregator) Ingest(sample models.Sample) {
	a.apply(func(s State, now time.Time) State {
		return s.Ingest(sample.X, sample.Y, sample.Z, now, a.params)
	})
}

// State returns the current state value. Its slices must not be modified.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot returns the presentation view
func (a *Aggregator) Snapshot() models.SessionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Stats(a.now())
}

// RunTimer publishes a snapshot every interval while a session is active, so
// the duration advances without samples. It returns when ctx is done.
func (a *Aggregator) RunTimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emitMu.Lock()
			a.mu.Lock()
			active := a.state.Active
			stats := a.state.Stats(a.now())
			a.mu.Unlock()
			if active {
				a.stats.Publish(stats)
			}
			a.emitMu.Unlock()
		}
	}
}

func (a *Aggregator) apply(fn func(State, time.Time) State) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	prev := a.state
	now := a.now()
	a.state = fn(prev, now)
	changed := !sameState(prev, a.state)
	stats := a.state.Stats(now)
	a.mu.Unlock()

	if changed {
		a.stats.Publish(stats)
	}
}

// sameState reports whether fn returned its input untouched. States are
// never mutated in place, so comparing the history backing array is enough
// to tell an ingested sample apart.
func sameState(a, b State) bool {
	if a.Active != b.Active || !a.StartedAt.Equal(b.StartedAt) || !a.StoppedAt.Equal(b.StoppedAt) ||
		a.RepCount != b.RepCount || len(a.History) != len(b.History) {
		return false
	}
	if len(a.History) == 0 {
		return true
	}
	return &a.History[0] == &b.History[0]
}
