// Package ble is the boundary to the platform Bluetooth LE stack.
//
// The connection manager only talks to the interfaces declared here. The
// TinyGo adapter drives real hardware; the simulated adapter stands in for the
// ESP32 sensor when no radio is available.
package ble

import (
	"context"
	"errors"

	"github.com/motion-rep-tracker/internal/models"
)

// Default identifiers of the ESP32 accelerometer firmware.
const (
	DefaultServiceUUID        = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	DefaultCharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// Commands written to the characteristic.
var (
	CommandStart = []byte{0x01}
	CommandStop  = []byte{0x00}
)

var (
	// ErrScanStopped is returned by Scan when StopScan ended the discovery.
	ErrScanStopped = errors.New("scan stopped")

	ErrUnknownDevice          = errors.New("device was not seen during scan")
	ErrServiceNotFound        = errors.New("service not found")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrNotEnabled             = errors.New("adapter not enabled")
)

// Adapter is the platform radio
type Adapter interface {
	// Enable powers up the stack. It fails when the platform has no BLE support.
	Enable() error

	// Scan reports devices advertising serviceUUID until StopScan is called,
	// ctx is done, or discovery fails. Each device is reported once per scan.
	Scan(ctx context.Context, serviceUUID string, found func(models.Device)) error

	// StopScan ends a running Scan, which then returns ErrScanStopped.
	StopScan() error

	// Connect establishes a link to a device previously reported by Scan.
	Connect(ctx context.Context, deviceID string) (Link, error)

	// SetDisconnectHandler registers fn for links dropped by the remote side
	// or the radio. fn receives the Link that went down, so a late event for
	// an old link can be told apart from a newer link to the same device.
	// fn runs on a platform goroutine.
	SetDisconnectHandler(fn func(link Link))
}

// Link is an established connection to one device
type Link interface {
	DeviceID() string

	// Characteristic discovers the service and then the characteristic.
	Characteristic(ctx context.Context, serviceUUID, characteristicUUID string) (Characteristic, error)

	Disconnect() error
}

// Characteristic is the endpoint frames arrive on and commands go to
type Characteristic interface {
	EnableNotifications(fn func(payload []byte)) error
	DisableNotifications() error
	Write(ctx context.Context, p []byte) error
}
