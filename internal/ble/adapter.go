// Package ble abstracts the Bluetooth Low Energy transport consumed by the
// rest of the library: scanning, connecting, characteristic writes, and
// notification subscriptions. The concrete implementation wraps
// tinygo.org/x/bluetooth; everything above it depends only on the
// interfaces here so sessions can be driven by simulated transports in
// tests.
package ble

import (
	"context"
	"errors"
	"fmt"
)

var (
	errNoControlService      = errors.New("no control service on peripheral")
	errCharacteristicMissing = errors.New("control characteristic missing")
)

// Advertisement is one discovered peripheral.
type Advertisement struct {
	Address string // stable hardware identifier (MAC, or CB UUID on darwin)
	Name    string // advertised local name
	RSSI    int
}

// Characteristic is a writable or subscribable GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without response.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this
	// characteristic.
	Subscribe(callback func(data []byte)) error
}

// Connection is an active link to one peripheral.
type Connection interface {
	// ControlCharacteristics locates the vendor control service and
	// returns its TX (command) and RX (notify) characteristics.
	ControlCharacteristics() (tx, rx Characteristic, err error)
	// Disconnect tears the link down. Best-effort: callers must treat a
	// returned error as advisory and still release their own state.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops,
	// whether requested or not.
	OnDisconnect(callback func())
}

// Adapter is the radio-facing capability.
type Adapter interface {
	// Enable powers on the adapter.
	Enable() error
	// Scan discovers peripherals whose advertised name starts with
	// namePrefix, until ctx is done.
	Scan(ctx context.Context, namePrefix string) ([]Advertisement, error)
	// Connect establishes a connection to the peripheral at addr.
	Connect(ctx context.Context, addr string) (Connection, error)
}

// TransportError wraps a failure at the radio layer. Retryable at the
// caller's discretion; nothing in this library retries it internally.
type TransportError struct {
	Op   string // "scan", "connect", "write", "subscribe", "disconnect"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("ble: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ble: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
