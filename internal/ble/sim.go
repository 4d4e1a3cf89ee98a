package ble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/motion-rep-tracker/internal/frame"
	"github.com/motion-rep-tracker/internal/models"
)

// SimConfig shapes the simulated sensor signal
type SimConfig struct {
	ServiceUUID        string
	CharacteristicUUID string
	Rate               int           // frames per second
	RepPeriod          time.Duration // one repetition every RepPeriod while tracking
	Peak               float64       // peak linear acceleration of a rep, m/s²
	Noise              float64       // noise amplitude, m/s²
}

// DefaultSimConfig returns a 50 Hz sensor doing a rep every 1.5s
func DefaultSimConfig() SimConfig {
	return SimConfig{
		ServiceUUID:        DefaultServiceUUID,
		CharacteristicUUID: DefaultCharacteristicUUID,
		Rate:               50,
		RepPeriod:          1500 * time.Millisecond,
		Peak:               4.5,
		Noise:              0.3,
	}
}

// Sim is an in-process stand-in for the ESP32 sensor.
// Frames always stream while notifications are enabled; the rep bursts only
// appear between a start and a stop command, like the firmware's tracking mode.
type Sim struct {
	cfg    SimConfig
	device models.Device

	mu           sync.Mutex
	enabled      bool
	scanStop     chan struct{}
	onDisconnect func(link Link)
	link         *simLink
}

// NewSim creates a simulated adapter advertising one device
func NewSim(cfg SimConfig) *Sim {
	if cfg.Rate <= 0 {
		cfg.Rate = 50
	}
	if cfg.RepPeriod <= 0 {
		cfg.RepPeriod = 1500 * time.Millisecond
	}
	return &Sim{
		cfg:    cfg,
		device: models.Device{ID: "SIM:00:00:00:00:01", Name: "ESP32 Motion (simulated)"},
	}
}

// Device returns the simulated device descriptor
func (s *Sim) Device() models.Device {
	return s.device
}

func (s *Sim) Enable() error {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	return nil
}

func (s *Sim) SetDisconnectHandler(fn func(link Link)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

func (s *Sim) Scan(ctx context.Context, serviceUUID string, found func(models.Device)) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return ErrNotEnabled
	}
	if s.scanStop != nil {
		s.mu.Unlock()
		return errors.New("scan already in progress")
	}
	stop := make(chan struct{})
	s.scanStop = stop
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.scanStop == stop {
			s.scanStop = nil
		}
		s.mu.Unlock()
	}()

	if strings.EqualFold(serviceUUID, s.cfg.ServiceUUID) {
		found(s.device)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrScanStopped
	}
}

func (s *Sim) StopScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scanStop != nil {
		close(s.scanStop)
		s.scanStop = nil
	}
	return nil
}

func (s *Sim) Connect(ctx context.Context, deviceID string) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil, ErrNotEnabled
	}
	if deviceID != s.device.ID {
		return nil, fmt.Errorf("connect %s: %w", deviceID, ErrUnknownDevice)
	}
	if s.link != nil {
		s.link.close()
	}
	s.link = &simLink{sim: s, id: deviceID}
	return s.link, nil
}

// Drop simulates the sensor going out of range. The disconnect handler fires
// as it would for a real radio.
func (s *Sim) Drop() {
	s.mu.Lock()
	link := s.link
	s.link = nil
	fn := s.onDisconnect
	s.mu.Unlock()

	if link == nil {
		return
	}
	link.close()
	if fn != nil {
		fn(link)
	}
}

type simLink struct {
	sim *Sim
	id  string

	mu   sync.Mutex
	char *simCharacteristic
}

func (l *simLink) DeviceID() string {
	return l.id
}

func (l *simLink) Characteristic(ctx context.Context, serviceUUID, characteristicUUID string) (Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.EqualFold(serviceUUID, l.sim.cfg.ServiceUUID) {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceUUID)
	}
	if !strings.EqualFold(characteristicUUID, l.sim.cfg.CharacteristicUUID) {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, characteristicUUID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.char == nil {
		l.char = &simCharacteristic{cfg: l.sim.cfg}
	}
	return l.char, nil
}

func (l *simLink) Disconnect() error {
	l.sim.mu.Lock()
	if l.sim.link == l {
		l.sim.link = nil
	}
	l.sim.mu.Unlock()

	l.close()
	return nil
}

func (l *simLink) close() {
	l.mu.Lock()
	char := l.char
	l.mu.Unlock()
	if char != nil {
		_ = char.DisableNotifications()
	}
}

type simCharacteristic struct {
	cfg SimConfig

	mu       sync.Mutex
	tracking bool
	done     chan struct{}
}

func (c *simCharacteristic) EnableNotifications(fn func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return errors.New("notifications already enabled")
	}
	done := make(chan struct{})
	c.done = done
	go c.run(fn, done)
	return nil
}

func (c *simCharacteristic) DisableNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	return nil
}

func (c *simCharacteristic) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p) != 1 || p[0] > 1 {
		return fmt.Errorf("unsupported command % x", p)
	}
	c.mu.Lock()
	c.tracking = p[0] == CommandStart[0]
	c.mu.Unlock()
	return nil
}

func (c *simCharacteristic) isTracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracking
}

func (c *simCharacteristic) run(fn func([]byte), done <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.Rate))
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n++
			fn(frame.Encode(c.cfg.sample(n, c.isTracking())))
		}
	}
}

// sample returns the n-th frame of the waveform. The rep is a gaussian burst
// on z placed at 30% of each period; noise is deterministic.
func (cfg SimConfig) sample(n int, tracking bool) models.Sample {
	s := models.Sample{
		X: cfg.Noise * noise(float64(n)),
		Y: cfg.Noise * noise(float64(n)+0.5),
		Z: cfg.Noise * noise(float64(n)+0.25),
	}
	if !tracking {
		return s
	}

	perRep := cfg.RepPeriod.Seconds() * float64(cfg.Rate)
	phase := math.Mod(float64(n), perRep) / perRep
	s.Z += cfg.Peak * gauss(phase, 0.3, 0.06)
	return s
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

// noise maps x to [-1, 1)
func noise(x float64) float64 {
	v := math.Sin(x*12.9898) * 43758.5453
	return 2*(v-math.Floor(v)) - 1
}
