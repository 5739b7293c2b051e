package ble

import (
	"context"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// RadioAdapter wraps tinygo.org/x/bluetooth behind the Adapter interface.
// On macOS the address is a CoreBluetooth UUID rather than a MAC; everything
// here treats the address as an opaque string.
type RadioAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*radioConnection // keyed by device address
}

// NewRadioAdapter creates an adapter over the platform's default radio.
func NewRadioAdapter() *RadioAdapter {
	return &RadioAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*radioConnection),
	}
}

func (a *RadioAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return &TransportError{Op: "enable", Err: err}
	}

	// Adapter-level connect handler fires with connected=false when a
	// peripheral drops, whether we asked for it or not. Route it to the
	// affected connection's OnDisconnect callback.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok && conn.disconnectCb != nil {
			conn.disconnectCb()
		}
	})

	return nil
}

// Scan collects advertisements whose local name starts with namePrefix until
// ctx is done. Each peripheral is reported once per scan.
func (a *RadioAdapter) Scan(ctx context.Context, namePrefix string) ([]Advertisement, error) {
	var mu sync.Mutex
	var found []Advertisement
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !strings.HasPrefix(name, namePrefix) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		found = append(found, Advertisement{
			Address: addr,
			Name:    name,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, &TransportError{Op: "scan", Err: err}
	}
	return found, nil
}

func (a *RadioAdapter) Connect(ctx context.Context, addr string) (Connection, error) {
	var target bluetooth.Address
	target.Set(addr)

	// The underlying Connect blocks with its own timeout. Wrap it so ctx
	// cancellation returns promptly; a late success is dropped, the radio
	// link will idle out on its own.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(target, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "connect", Addr: addr, Err: ctx.Err()}
	case result := <-ch:
		if result.err != nil {
			return nil, &TransportError{Op: "connect", Addr: addr, Err: result.err}
		}
		conn := &radioConnection{device: &result.device, addr: addr}

		// Track the connection so the adapter-level disconnect handler can
		// find it and fire its callback.
		a.mu.Lock()
		a.connections[addr] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that RadioAdapter implements Adapter.
var _ Adapter = (*RadioAdapter)(nil)

type radioConnection struct {
	device       *bluetooth.Device
	addr         string
	disconnectCb func()
}

// ControlCharacteristics walks the peripheral's services looking for the
// vendor control service and derives its TX/RX characteristics from it.
func (c *radioConnection) ControlCharacteristics() (tx, rx Characteristic, err error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, nil, &TransportError{Op: "discover", Addr: c.addr, Err: err}
	}

	for i := range svcs {
		svcUUID := svcs[i].UUID().String()
		if !isControlService(svcUUID) {
			continue
		}
		txUUID, rxUUID := deriveCharacteristics(svcUUID)
		txChar, err := c.findCharacteristic(&svcs[i], txUUID)
		if err != nil {
			return nil, nil, err
		}
		rxChar, err := c.findCharacteristic(&svcs[i], rxUUID)
		if err != nil {
			return nil, nil, err
		}
		return txChar, rxChar, nil
	}

	return nil, nil, &TransportError{Op: "discover", Addr: c.addr, Err: errNoControlService}
}

func (c *radioConnection) findCharacteristic(svc *bluetooth.DeviceService, uuidStr string) (Characteristic, error) {
	uuid, err := bluetooth.ParseUUID(uuidStr)
	if err != nil {
		return nil, &TransportError{Op: "discover", Addr: c.addr, Err: err}
	}
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil || len(chars) == 0 {
		if err == nil {
			err = errCharacteristicMissing
		}
		return nil, &TransportError{Op: "discover", Addr: c.addr, Err: err}
	}
	return &radioCharacteristic{char: &chars[0], addr: c.addr}, nil
}

func (c *radioConnection) Disconnect() error {
	if err := c.device.Disconnect(); err != nil {
		return &TransportError{Op: "disconnect", Addr: c.addr, Err: err}
	}
	return nil
}

func (c *radioConnection) OnDisconnect(callback func()) {
	c.disconnectCb = callback
}

type radioCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
	addr string
}

// Write sends without response; the devices acknowledge over the notify
// characteristic instead of at the ATT layer.
func (c *radioCharacteristic) Write(data []byte) error {
	if _, err := c.char.WriteWithoutResponse(data); err != nil {
		return &TransportError{Op: "write", Addr: c.addr, Err: err}
	}
	return nil
}

func (c *radioCharacteristic) Subscribe(callback func(data []byte)) error {
	err := c.char.EnableNotifications(func(buf []byte) {
		callback(buf)
	})
	if err != nil {
		return &TransportError{Op: "subscribe", Addr: c.addr, Err: err}
	}
	return nil
}
