package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/motion-rep-tracker/internal/models"
)

// TinyGo implements Adapter on top of tinygo.org/x/bluetooth
type TinyGo struct {
	adapter *bluetooth.Adapter

	mu           sync.Mutex
	enabled      bool
	addresses    map[string]bluetooth.Address // device ID -> address, filled by Scan
	onDisconnect func(link Link)

	// open holds, per address, the links still waiting for their disconnect
	// event, oldest first. The radio reports disconnects per address in
	// order, so each event belongs to the oldest entry.
	open map[string][]*tinyGoLink
}

// NewTinyGo wraps the platform default adapter
func NewTinyGo() *TinyGo {
	return &TinyGo{
		adapter:   bluetooth.DefaultAdapter,
		addresses: make(map[string]bluetooth.Address),
		open:      make(map[string][]*tinyGoLink),
	}
}

// Enable powers up the adapter and installs the connection handler
func (t *TinyGo) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		t.mu.Lock()
		fn := t.onDisconnect
		var link *tinyGoLink
		if queue := t.open[addr]; len(queue) > 0 {
			link = queue[0]
			if len(queue) == 1 {
				delete(t.open, addr)
			} else {
				t.open[addr] = queue[1:]
			}
		}
		t.mu.Unlock()
		if fn != nil && link != nil && !link.abandoned {
			fn(link)
		}
	})

	t.enabled = true
	return nil
}

// SetDisconnectHandler implements Adapter
func (t *TinyGo) SetDisconnectHandler(fn func(link Link)) {
	t.mu.Lock()
	t.onDisconnect = fn
	t.mu.Unlock()
}

// Scan implements Adapter. The radio scan blocks, so ctx cancellation is
// turned into a StopScan call.
func (t *TinyGo) Scan(ctx context.Context, serviceUUID string, found func(models.Device)) error {
	if !t.isEnabled() {
		return ErrNotEnabled
	}

	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("parse service uuid %q: %w", serviceUUID, err)
	}

	stopOnCancel := context.AfterFunc(ctx, func() {
		_ = t.adapter.StopScan()
	})
	defer stopOnCancel()

	reported := make(map[string]bool)
	err = t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		id := result.Address.String()
		if reported[id] {
			return
		}
		reported[id] = true

		t.mu.Lock()
		t.addresses[id] = result.Address
		t.mu.Unlock()

		name := result.LocalName()
		if name == "" {
			name = "Unknown Device"
		}
		found(models.Device{ID: id, Name: name})
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("bluetooth scan: %w", err)
	}
	return ErrScanStopped
}

// StopScan implements Adapter
func (t *TinyGo) StopScan() error {
	return t.adapter.StopScan()
}

// Connect implements Adapter. The platform call has no context, so a
// cancelled ctx abandons the attempt and drops the link once it completes.
func (t *TinyGo) Connect(ctx context.Context, deviceID string) (Link, error) {
	if !t.isEnabled() {
		return nil, ErrNotEnabled
	}

	t.mu.Lock()
	addr, ok := t.addresses[deviceID]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connect %s: %w", deviceID, ErrUnknownDevice)
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan result, 1)
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{device: device, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				t.track(&tinyGoLink{id: deviceID, device: r.device, abandoned: true})
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect %s: %w", deviceID, r.err)
		}
		link := &tinyGoLink{id: deviceID, device: r.device}
		t.track(link)
		return link, nil
	}
}

func (t *TinyGo) track(link *tinyGoLink) {
	addr := link.device.Address.String()
	t.mu.Lock()
	t.open[addr] = append(t.open[addr], link)
	t.mu.Unlock()
}

func (t *TinyGo) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

type tinyGoLink struct {
	id     string
	device bluetooth.Device

	// abandoned links were dropped before the caller ever saw them
	abandoned bool
}

func (l *tinyGoLink) DeviceID() string {
	return l.id
}

func (l *tinyGoLink) Characteristic(ctx context.Context, serviceUUID, characteristicUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid %q: %w", serviceUUID, err)
	}
	charUUID, err := bluetooth.ParseUUID(characteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid %q: %w", characteristicUUID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	services, err := l.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServiceNotFound, serviceUUID, err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCharacteristicNotFound, characteristicUUID, err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, characteristicUUID)
	}

	return &tinyGoCharacteristic{char: chars[0]}, nil
}

func (l *tinyGoLink) Disconnect() error {
	return l.device.Disconnect()
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) EnableNotifications(fn func(payload []byte)) error {
	return c.char.EnableNotifications(fn)
}

// DisableNotifications passes a nil callback, which unsubscribes
func (c *tinyGoCharacteristic) DisableNotifications() error {
	return c.char.EnableNotifications(nil)
}

func (c *tinyGoCharacteristic) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.char.WriteWithoutResponse(p)
	return err
}
