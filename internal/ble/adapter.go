// Package ble provides the Bluetooth Low Energy side of the scale bridge:
// scanning for scales, connecting, and exchanging reassembled protocol
// messages over every notifiable characteristic of a connected scale.
package ble

import (
	"context"
	"errors"
)

// ErrDisconnected is reported when the peripheral drops the connection.
var ErrDisconnected = errors.New("ble: device disconnected")

// ErrWriteWithResponseUnsupported is returned by characteristics whose
// platform stack cannot perform an acknowledged write.
var ErrWriteWithResponseUnsupported = errors.New("ble: write with response not supported on this platform")

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID.
	UUID() string
	// ServiceUUID returns the UUID of the owning service.
	ServiceUUID() string
	// Write sends data without waiting for an acknowledgment.
	Write(data []byte) error
	// WriteWithResponse sends data and waits for the peripheral to acknowledge it.
	WriteWithResponse(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	// It fails for characteristics that cannot notify.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	ID   string
	Name string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Characteristics discovers every characteristic of every service.
	Characteristics() ([]Characteristic, error)
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
	// Scan reports advertising peripherals to found until ctx is done.
	Scan(ctx context.Context, found func(Device)) error
	// Connect establishes a connection to the device with the given identifier.
	Connect(ctx context.Context, id string) (Connection, error)
}
