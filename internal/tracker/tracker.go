// Package tracker wires the connection manager to the session aggregator and
// exposes the user commands of the tracker page.
package tracker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/motion-rep-tracker/internal/connection"
	"github.com/motion-rep-tracker/internal/exercise"
	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/service"
	"github.com/motion-rep-tracker/pkg/logger"
)

// Tracker is the composition root of the live pipeline
type Tracker struct {
	manager    *connection.Manager
	aggregator *exercise.Aggregator
	sessions   *service.SessionService // nil disables autosave
	logger     *logger.Logger
	now        func() time.Time

	saveTimeout time.Duration
	unsubscribe []func()
}

// Options configures a Tracker
type Options struct {
	// Sessions receives a summary of every stopped session when set
	Sessions    *service.SessionService
	SaveTimeout time.Duration
	Now         func() time.Time
}

// New subscribes aggregator to manager's sample stream. A lost link stops
// the running session.
func New(manager *connection.Manager, aggregator *exercise.Aggregator, log *logger.Logger, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}

	t := &Tracker{
		manager:     manager,
		aggregator:  aggregator,
		sessions:    opts.Sessions,
		logger:      log,
		now:         opts.Now,
		saveTimeout: opts.SaveTimeout,
	}

	t.unsubscribe = append(t.unsubscribe,
		manager.SubscribeSamples(aggregator.Ingest),
		manager.SubscribeStates(t.onState),
	)
	return t
}

// Manager returns the connection manager
func (t *Tracker) Manager() *connection.Manager {
	return t.manager
}

// Aggregator returns the session aggregator
func (t *Tracker) Aggregator() *exercise.Aggregator {
	return t.aggregator
}

// StartSession starts tracking on the sensor and begins a fresh session.
// Without a connection it fails with connection.ErrNotConnected and the
// session state is left alone.
func (t *Tracker) StartSession(ctx context.Context) error {
	if err := t.manager.StartSession(ctx); err != nil {
		return err
	}
	t.aggregator.Start()
	return nil
}

// StopSession stops tracking. The local session is stopped even when the
// stop command cannot be written.
func (t *Tracker) StopSession(ctx context.Context) error {
	err := t.manager.StopSession(ctx)
	t.finish()
	return err
}

// Reset clears the session statistics
func (t *Tracker) Reset() {
	t.aggregator.Reset()
}

// Stats returns the live session view
func (t *Tracker) Stats() models.SessionStats {
	return t.aggregator.Snapshot()
}

// DeviceStatus returns the connection view
func (t *Tracker) DeviceStatus() models.DeviceStatus {
	return DeviceStatus(t.manager.Status())
}

// ExportCSV writes the rolling history
func (t *Tracker) ExportCSV(w io.Writer) error {
	return exercise.WriteCSV(w, t.aggregator.State().History)
}

// Close stops the session and releases the link
func (t *Tracker) Close() error {
	for _, unsubscribe := range t.unsubscribe {
		unsubscribe()
	}
	t.finish()
	if err := t.manager.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func (t *Tracker) onState(st connection.Status) {
	if st.State != connection.Disconnected {
		return
	}
	if t.aggregator.State().Active {
		t.logger.Warn("Link lost during session, stopping", logger.F("lost", fmt.Sprint(st.Lost)))
		// Runs inside the manager's publish; saving does I/O.
		go t.finish()
	}
}

func (t *Tracker) finish() {
	final, ok := t.aggregator.Stop()
	if !ok || t.sessions == nil {
		return
	}

	session := exercise.Summary(final, t.now())
	ctx, cancel := context.WithTimeout(context.Background(), t.saveTimeout)
	defer cancel()
	if err := t.sessions.Save(ctx, &session); err != nil {
		t.logger.Error("Failed to save session", logger.Err(err))
	}
}

// DeviceStatus renders a connection status for presentation
func DeviceStatus(st connection.Status) models.DeviceStatus {
	out := models.DeviceStatus{
		State:   st.State.String(),
		Devices: st.Devices,
	}
	if out.Devices == nil {
		out.Devices = []models.Device{}
	}
	if st.State == connection.Connected {
		out.Connected = st.Device
	}
	return out
}
