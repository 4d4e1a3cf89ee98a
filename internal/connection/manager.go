// Package connection owns the lifecycle of the link to the motion sensor.
//
// The Manager drives a four-state machine (Disconnected, Scanning, Connecting,
// Connected) on top of a ble.Adapter, decodes inbound notification frames and
// republishes them as samples. Connection-lifecycle failures go to a single
// error path; decode failures never leave this package.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/motion-rep-tracker/internal/ble"
	"github.com/motion-rep-tracker/internal/frame"
	"github.com/motion-rep-tracker/internal/models"
	"github.com/motion-rep-tracker/internal/stream"
	"github.com/motion-rep-tracker/pkg/logger"
)

// State is the connection state
type State int

const (
	Disconnected State = iota
	Scanning
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is published on every state change
type Status struct {
	State   State
	Device  *models.Device  // set while Connecting or Connected
	Devices []models.Device // discovery list
	Lost    bool            // the transition was caused by the remote side
}

// Options configures a Manager
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string

	// OnError receives every user-facing error. Cancelled scans and malformed
	// frames are never delivered.
	OnError func(error)

	// Now stamps the link start; defaults to time.Now.
	Now func() time.Time
}

// Manager is safe for concurrent use. Subscribers are called synchronously
// and may read state through the accessors, but must not call operations
// that change it.
type Manager struct {
	adapter ble.Adapter
	opts    Options
	logger  *logger.Logger

	// emitMu keeps state events in transition order
	emitMu sync.Mutex

	mu        sync.Mutex
	enabled   bool
	state     State
	devices   []models.Device
	scanID    uint64
	attempt   uint64 // bumped whenever a link attempt ends; callbacks carry the value they were created with
	abandoned uint64 // attempt given up by a user Disconnect while Connecting
	target    *models.Device
	pending   ble.Link // link of the attempt in progress, once the platform returned it
	link      ble.Link
	char      ble.Characteristic
	connected *models.Device

	dropped atomic.Uint64

	samples *stream.Hub[models.Sample]
	states  *stream.Hub[Status]
	errs    *stream.Hub[error]
}

// NewManager creates a manager in the Disconnected state. The adapter is
// enabled lazily on the first scan or connect.
func NewManager(adapter ble.Adapter, log *logger.Logger, opts Options) *Manager {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = ble.DefaultServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = ble.DefaultCharacteristicUUID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		adapter: adapter,
		opts:    opts,
		logger:  log,
		samples: stream.NewHub[models.Sample](),
		states:  stream.NewHub[Status](),
		errs:    stream.NewHub[error](),
	}
	if opts.OnError != nil {
		m.errs.Subscribe(opts.OnError)
	}
	return m
}

// SubscribeSamples registers fn for every decoded sample
func (m *Manager) SubscribeSamples(fn func(models.Sample)) (unsubscribe func()) {
	return m.samples.Subscribe(fn)
}

// SubscribeStates registers fn for every state change
func (m *Manager) SubscribeStates(fn func(Status)) (unsubscribe func()) {
	return m.states.Subscribe(fn)
}

// SubscribeErrors registers fn on the user-facing error path
func (m *Manager) SubscribeErrors(fn func(error)) (unsubscribe func()) {
	return m.errs.Subscribe(fn)
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Devices returns a copy of the discovery list
func (m *Manager) Devices() []models.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Device(nil), m.devices...)
}

// ConnectedDevice returns the linked device, or nil
func (m *Manager) ConnectedDevice() *models.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected == nil {
		return nil
	}
	d := *m.connected
	return &d
}

// Status returns the current state as an event value
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Dropped returns the number of malformed frames discarded so far
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// StartScan clears the discovery list and scans until CancelScan, Connect,
// ctx being done, or a platform failure. Every ending other than a platform
// failure returns an error matching ErrScanCancelled that is not reported.
func (m *Manager) StartScan(ctx context.Context) error {
	if err := m.ensureEnabled(); err != nil {
		return err
	}

	var scanID uint64
	var stateErr error
	m.update(func(*Status) bool {
		if m.state != Disconnected {
			stateErr = &StateError{Op: "start scan", State: m.state}
			return false
		}
		m.scanID++
		scanID = m.scanID
		m.state = Scanning
		m.devices = nil
		return true
	})
	if stateErr != nil {
		return stateErr
	}
	m.logger.Info("Scan started", logger.F("service", m.opts.ServiceUUID))

	err := m.adapter.Scan(ctx, m.opts.ServiceUUID, func(d models.Device) {
		m.update(func(*Status) bool {
			if m.state != Scanning || m.scanID != scanID {
				return false
			}
			for _, known := range m.devices {
				if known.ID == d.ID {
					return false
				}
			}
			m.devices = append(m.devices, d)
			return true
		})
		m.logger.Info("Device found", logger.F("device_id", d.ID), logger.F("name", d.Name))
	})

	m.update(func(*Status) bool {
		if m.state != Scanning || m.scanID != scanID {
			return false
		}
		m.state = Disconnected
		return true
	})

	if err == nil || errors.Is(err, ble.ErrScanStopped) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		m.logger.Info("Scan ended", logger.Int("devices", len(m.Devices())))
		return &Error{Kind: KindScanCancelled, Op: "scan", Err: err}
	}

	scanErr := &Error{Kind: KindDiscoveryFailure, Op: "scan", Err: err}
	m.report(scanErr)
	return scanErr
}

// CancelScan stops a running scan. It is a no-op when not scanning.
func (m *Manager) CancelScan() {
	if m.State() != Scanning {
		return
	}
	if err := m.adapter.StopScan(); err != nil {
		m.logger.Warn("Failed to stop scan", logger.Err(err))
	}
}

// Connect links to deviceID, discovers the characteristic and subscribes to
// notifications. Any failing step releases what was set up, leaves the
// manager Disconnected and is reported.
func (m *Manager) Connect(ctx context.Context, deviceID string) error {
	if err := m.ensureEnabled(); err != nil {
		return err
	}

	var (
		attempt     uint64
		wasScanning bool
		stateErr    error
	)
	m.update(func(*Status) bool {
		if m.state != Disconnected && m.state != Scanning {
			stateErr = &StateError{Op: "connect", State: m.state}
			return false
		}
		wasScanning = m.state == Scanning
		target := models.Device{ID: deviceID, Name: deviceID}
		for _, d := range m.devices {
			if d.ID == deviceID {
				target = d
				break
			}
		}
		m.attempt++
		attempt = m.attempt
		m.target = &target
		m.state = Connecting
		return true
	})
	if stateErr != nil {
		return stateErr
	}
	if wasScanning {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Warn("Failed to stop scan before connect", logger.Err(err))
		}
	}
	m.logger.Info("Connecting", logger.F("device_id", deviceID))

	link, err := m.adapter.Connect(ctx, deviceID)
	if err != nil {
		return m.connectFailed(attempt, nil, nil, &Error{Kind: KindLinkFailure, Op: "connect", Err: err})
	}
	m.mu.Lock()
	if m.state == Connecting && m.attempt == attempt {
		m.pending = link
	}
	m.mu.Unlock()

	char, err := link.Characteristic(ctx, m.opts.ServiceUUID, m.opts.CharacteristicUUID)
	if err != nil {
		kind := KindLinkFailure
		if errors.Is(err, ble.ErrServiceNotFound) || errors.Is(err, ble.ErrCharacteristicNotFound) {
			kind = KindServiceNotFound
		}
		return m.connectFailed(attempt, nil, link, &Error{Kind: kind, Op: "discover characteristic", Err: err})
	}

	linkedAt := m.opts.Now()
	err = char.EnableNotifications(func(payload []byte) {
		m.onNotification(attempt, linkedAt, payload)
	})
	if err != nil {
		return m.connectFailed(attempt, nil, link, &Error{Kind: KindLinkFailure, Op: "subscribe notifications", Err: err})
	}

	var superseded bool
	m.update(func(*Status) bool {
		if m.state != Connecting || m.attempt != attempt {
			superseded = true
			return false
		}
		m.state = Connected
		m.link = link
		m.char = char
		m.connected = m.target
		m.target = nil
		m.pending = nil
		return true
	})
	if superseded {
		return m.connectFailed(attempt, char, link, &Error{Kind: KindLinkFailure, Op: "connect", Err: errors.New("link lost during setup")})
	}

	m.logger.Info("Device connected", logger.F("device_id", deviceID))
	return nil
}

// connectFailed releases a partial link and reverts to Disconnected. An
// attempt the user abandoned with Disconnect is not reported.
func (m *Manager) connectFailed(attempt uint64, char ble.Characteristic, link ble.Link, cerr *Error) error {
	if link != nil {
		if err := release(char, link); err != nil {
			m.logger.Warn("Failed to release partial link", logger.Err(err))
		}
	}
	var abandoned bool
	m.update(func(*Status) bool {
		abandoned = m.abandoned == attempt
		if m.state != Connecting || m.attempt != attempt {
			return false
		}
		m.attempt++
		m.target = nil
		m.pending = nil
		m.state = Disconnected
		return true
	})
	if abandoned {
		m.logger.Info("Connect abandoned", logger.Err(cerr))
		return cerr
	}
	m.report(cerr)
	return cerr
}

// StartSession tells the sensor to start tracking. The state is kept when the
// write fails.
func (m *Manager) StartSession(ctx context.Context) error {
	return m.command(ctx, "start session", ble.CommandStart, true)
}

// StopSession tells the sensor to stop tracking. It is a no-op when not
// connected.
func (m *Manager) StopSession(ctx context.Context) error {
	return m.command(ctx, "stop session", ble.CommandStop, false)
}

func (m *Manager) command(ctx context.Context, op string, payload []byte, requireLink bool) error {
	m.mu.Lock()
	char := m.char
	m.mu.Unlock()

	if char == nil {
		if !requireLink {
			return nil
		}
		err := &Error{Kind: KindNotConnected, Op: op}
		m.report(err)
		return err
	}

	if err := char.Write(ctx, payload); err != nil {
		werr := &Error{Kind: KindWriteFailure, Op: op, Err: err}
		m.report(werr)
		return werr
	}
	m.logger.Debug("Command written", logger.F("op", op))
	return nil
}

// Disconnect drops the link on user request. An attempt still Connecting is
// abandoned.
func (m *Manager) Disconnect() error {
	var (
		link ble.Link
		char ble.Characteristic
	)
	m.update(func(*Status) bool {
		switch m.state {
		case Connected:
			link, char = m.link, m.char
			m.clearLinkLocked()
			return true
		case Connecting:
			m.abandoned = m.attempt
			m.attempt++
			m.target = nil
			m.pending = nil
			m.state = Disconnected
			return true
		default:
			return false
		}
	})
	if link == nil {
		return nil
	}

	m.logger.Info("Disconnecting", logger.F("device_id", link.DeviceID()))
	if err := release(char, link); err != nil {
		m.logger.Warn("Disconnect cleanup failed", logger.Err(err))
		return err
	}
	return nil
}

// Close cancels any scan and releases the link
func (m *Manager) Close() error {
	m.CancelScan()
	return m.Disconnect()
}

// handleRemoteDisconnect acts only on the current link. Events for links that
// were already released, or for other devices, are ignored.
func (m *Manager) handleRemoteDisconnect(link ble.Link) {
	if link == nil {
		return
	}
	var char ble.Characteristic
	m.update(func(ev *Status) bool {
		switch {
		case m.state == Connected && m.link == link:
			char = m.char
			m.clearLinkLocked()
		case m.state == Connecting && m.pending == link:
			m.attempt++
			m.target = nil
			m.pending = nil
			m.state = Disconnected
		default:
			return false
		}
		ev.Lost = true
		return true
	})
	if char == nil {
		return
	}

	// The link is already gone; only the local subscription is left.
	if err := char.DisableNotifications(); err != nil {
		m.logger.Debug("Disable notifications after remote disconnect", logger.Err(err))
	}
	m.logger.Warn("Device disconnected", logger.F("device_id", link.DeviceID()))
}

func (m *Manager) onNotification(attempt uint64, linkedAt time.Time, payload []byte) {
	m.mu.Lock()
	current := m.attempt == attempt
	m.mu.Unlock()
	if !current {
		return
	}

	sample, err := frame.Decode(payload, m.opts.Now().Sub(linkedAt).Seconds())
	if err != nil {
		m.dropped.Add(1)
		m.logger.Debug("Dropping malformed frame", logger.Int("bytes", len(payload)), logger.Err(err))
		return
	}
	m.samples.Publish(sample)
}

func (m *Manager) ensureEnabled() error {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if enabled {
		return nil
	}

	m.adapter.SetDisconnectHandler(m.handleRemoteDisconnect)
	if err := m.adapter.Enable(); err != nil {
		terr := &Error{Kind: KindTransportUnavailable, Op: "enable adapter", Err: err}
		m.report(terr)
		return terr
	}

	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return nil
}

// update applies fn under the state lock and publishes the resulting status
// when fn reports a change.
func (m *Manager) update(fn func(ev *Status) bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	var ev Status
	m.mu.Lock()
	changed := fn(&ev)
	lost := ev.Lost
	ev = m.statusLocked()
	ev.Lost = lost
	m.mu.Unlock()

	if changed {
		m.states.Publish(ev)
	}
}

func (m *Manager) statusLocked() Status {
	st := Status{
		State:   m.state,
		Devices: append([]models.Device(nil), m.devices...),
	}
	switch {
	case m.connected != nil:
		d := *m.connected
		st.Device = &d
	case m.target != nil:
		d := *m.target
		st.Device = &d
	}
	return st
}

func (m *Manager) clearLinkLocked() {
	m.attempt++
	m.state = Disconnected
	m.link = nil
	m.char = nil
	m.connected = nil
	m.devices = nil
}

func (m *Manager) report(err error) {
	m.logger.Error("Connection error", logger.Err(err))
	m.errs.Publish(err)
}

// release unsubscribes and drops the link. Both steps run even if the first
// fails.
func release(char ble.Characteristic, link ble.Link) error {
	var errs []error
	if char != nil {
		if err := char.DisableNotifications(); err != nil {
			errs = append(errs, fmt.Errorf("disable notifications: %w", err))
		}
	}
	if err := link.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	return errors.Join(errs...)
}
