// Package ble owns the Bluetooth link to a Glance Clock. It defines the
// adapter abstraction over the host stack and the Manager, which connects,
// keeps the link alive, reconnects with backoff and serializes every
// command frame sent to the device.
package ble

import (
	"context"
	"strings"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic and returns once the peripheral
	// has acknowledged it.
	Write(data []byte) error
	// Read returns the characteristic's current value.
	Read() ([]byte, error)
}

// Device is a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
	// Paired is set when the host stack reports an existing bond.
	Paired bool
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals until ctx is done. An empty serviceUUID
	// reports every advertiser.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// PairingStore answers bond questions from the host's Bluetooth subsystem.
// Pairing itself happens outside this package.
type PairingStore interface {
	IsPaired(ctx context.Context, address string) (bool, error)
}

// nameMarkers identify a clock by its advertised name.
var nameMarkers = []string{"glance", "clock"}

// IsClock reports whether an advertised name looks like a Glance Clock.
func IsClock(name string) bool {
	n := strings.ToLower(name)
	for _, m := range nameMarkers {
		if strings.Contains(n, m) {
			return true
		}
	}
	return false
}
