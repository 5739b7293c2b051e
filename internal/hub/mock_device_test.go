package hub

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/quodana/toylink/internal/ble"
	"github.com/quodana/toylink/internal/protocol"
)

// mockCharacteristic records writes and supports notification delivery.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	onWrite  func([]byte)
	callback func([]byte)
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(callback func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = callback
	return nil
}

func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// mockConnection is one link to an emulated device. Every command written to
// the TX characteristic is answered on RX the way the real devices answer.
type mockConnection struct {
	mu           sync.Mutex
	txChar       *mockCharacteristic
	rxChar       *mockCharacteristic
	disconnectCb func()
	disconnected bool
	battery      int
}

func newMockConnection() *mockConnection {
	conn := &mockConnection{
		txChar:  &mockCharacteristic{},
		rxChar:  &mockCharacteristic{},
		battery: 85,
	}
	conn.txChar.onWrite = func(frame []byte) {
		if reply := conn.respond(frame); reply != nil {
			conn.rxChar.SimulateNotification(reply)
		}
	}
	return conn
}

// respond emulates the device side of the wire protocol.
func (c *mockConnection) respond(frame []byte) []byte {
	cmd, err := protocol.ParseCommand(frame)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	battery := c.battery
	c.mu.Unlock()
	switch cmd.Op {
	case protocol.OpBattery:
		return []byte(strconv.Itoa(battery) + ";")
	case protocol.OpDeviceType:
		return []byte("C:11:0082059AD3BD;")
	case protocol.OpStatus:
		return []byte("2;")
	case protocol.OpGetBatch:
		return []byte("241015;")
	default:
		return []byte("OK;")
	}
}

func (c *mockConnection) ControlCharacteristics() (tx, rx ble.Characteristic, err error) {
	return c.txChar, c.rxChar, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = callback
}

// SimulateDrop fires the transport disconnect callback.
func (c *mockConnection) SimulateDrop() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// SimulatePowerOff pushes the unsolicited power-off notification.
func (c *mockConnection) SimulatePowerOff() {
	c.rxChar.SimulateNotification([]byte("POWEROFF;"))
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter hands out emulated device connections. connectGate, when set,
// blocks Connect until released.
type mockAdapter struct {
	mu          sync.Mutex
	advs        []ble.Advertisement
	connectGate chan struct{}
	connections map[string]*mockConnection // most recent per address
}

func newMockAdapter(advs []ble.Advertisement) *mockAdapter {
	return &mockAdapter{
		advs:        advs,
		connections: make(map[string]*mockConnection),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, namePrefix string) ([]ble.Advertisement, error) {
	var out []ble.Advertisement
	for _, adv := range a.advs {
		if strings.HasPrefix(adv.Name, namePrefix) {
			out = append(out, adv)
		}
	}
	return out, nil
}

func (a *mockAdapter) Connect(ctx context.Context, addr string) (ble.Connection, error) {
	a.mu.Lock()
	gate := a.connectGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	conn := newMockConnection()
	a.mu.Lock()
	a.connections[addr] = conn
	a.mu.Unlock()
	return conn, nil
}

func (a *mockAdapter) connection(addr string) *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connections[addr]
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ ble.Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ ble.Connection = (*mockConnection)(nil)
}
