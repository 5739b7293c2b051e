// Package session owns the lifecycle of one device link: an explicit state
// machine over the BLE transport, a per-session command rate limiter, and a
// single-response queue fed by the device's notify characteristic. Sessions
// never retry on their own; callers decide what a failure means.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quodana/toylink/internal/ble"
	"github.com/quodana/toylink/internal/protocol"
)

// State is the session lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrNotConnected is returned by Execute outside the Connected state.
	ErrNotConnected = errors.New("session: not connected")
	// ErrOperationInProgress is returned when a write is already in flight.
	// Commands are refused, never queued.
	ErrOperationInProgress = errors.New("session: operation in progress")
	// ErrRateLimited is returned when a command arrives inside the minimum
	// command interval. Refused, never delayed.
	ErrRateLimited = errors.New("session: rate limited")
	// ErrConnectAborted is returned when a forced disconnect lands while the
	// connect attempt is still in flight. The late transport completion is
	// torn down and discarded.
	ErrConnectAborted = errors.New("session: connect aborted")
	// ErrResponseTimeout is returned when the device does not answer a
	// command within the response timeout.
	ErrResponseTimeout = errors.New("session: response timeout")
)

// ReconnectTimeoutError reports a reconnect attempt that exceeded its
// deadline. Raised once per attempt; a late completion is discarded.
type ReconnectTimeoutError struct {
	Address string
	Elapsed time.Duration
}

func (e *ReconnectTimeoutError) Error() string {
	return fmt.Sprintf("session: reconnect to %s timed out after %s", e.Address, e.Elapsed)
}

// Options configures per-session behavior.
type Options struct {
	MinCommandInterval time.Duration // rate limiter interval between commands
	ResponseTimeout    time.Duration // how long Execute waits for the reply
}

// DefaultOptions returns the defaults used when a field is zero.
func DefaultOptions() Options {
	return Options{
		MinCommandInterval: 100 * time.Millisecond,
		ResponseTimeout:    2 * time.Second,
	}
}

// Session is the connection state machine for one device. All state is
// observed under one mutex; transport I/O runs unlocked and is revalidated
// against the attempt epoch before it is allowed to commit.
type Session struct {
	adapter ble.Adapter
	addr    string
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped by every forced or requested teardown
	conn     ble.Connection
	tx       ble.Characteristic
	respCh   chan []byte
	inFlight bool

	onDrop     func() // unexpected link drop, after state converged
	onPowerOff func() // device pushed POWEROFF
}

// New builds a session for the device at addr. No I/O happens until Connect.
func New(adapter ble.Adapter, addr string, opts Options) *Session {
	def := DefaultOptions()
	if opts.MinCommandInterval <= 0 {
		opts.MinCommandInterval = def.MinCommandInterval
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	return &Session{
		adapter: adapter,
		addr:    addr,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinCommandInterval), 1),
	}
}

// Addr returns the device address this session is bound to.
func (s *Session) Addr() string { return s.addr }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnDrop registers the callback invoked after an unexpected link drop has
// converged the session to Disconnected. Must be set before Connect.
func (s *Session) OnDrop(callback func()) { s.onDrop = callback }

// OnPowerOff registers the callback invoked when the device announces it was
// physically powered off. Must be set before Connect.
func (s *Session) OnPowerOff(callback func()) { s.onPowerOff = callback }

// Connect drives Disconnected -> Connecting -> Connected: transport connect,
// control characteristic discovery, notification subscription. Any failure
// releases the handle and converges back to Disconnected. A forced disconnect
// during the attempt invalidates it; the late transport completion is torn
// down and ErrConnectAborted returned.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: connect to %s in state %s", s.addr, state)
	}
	s.state = Connecting
	s.epoch++
	attempt := s.epoch
	s.mu.Unlock()

	conn, err := s.adapter.Connect(ctx, s.addr)
	if err != nil {
		s.abandonAttempt(attempt)
		return err
	}

	tx, rx, err := conn.ControlCharacteristics()
	if err != nil {
		conn.Disconnect()
		s.abandonAttempt(attempt)
		return err
	}

	respCh := make(chan []byte, 8)
	err = rx.Subscribe(func(data []byte) {
		s.handleNotification(attempt, respCh, data)
	})
	if err != nil {
		conn.Disconnect()
		s.abandonAttempt(attempt)
		return err
	}

	s.mu.Lock()
	if s.epoch != attempt || s.state != Connecting {
		// A forced disconnect won the race. Tear the handle down and
		// discard the completion.
		s.mu.Unlock()
		conn.Disconnect()
		slog.Debug("[session] late connect discarded", "addr", s.addr)
		return ErrConnectAborted
	}
	s.conn = conn
	s.tx = tx
	s.respCh = respCh
	s.state = Connected
	s.mu.Unlock()

	conn.OnDisconnect(func() { s.handleDrop(attempt) })
	slog.Info("[session] connected", "addr", s.addr)
	return nil
}

// abandonAttempt converges a failed connect attempt back to Disconnected,
// unless a forced disconnect already did.
func (s *Session) abandonAttempt(attempt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == attempt && s.state == Connecting {
		s.state = Disconnected
	}
}

// Disconnect ends the session on request. Idempotent: calling it in
// Disconnected returns nil. Teardown is best-effort; whatever fails, the
// session ends in Disconnected with the handle released, and the first
// teardown error is returned after cleanup.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	switch s.state {
	case Disconnected:
		s.mu.Unlock()
		return nil
	case Connecting:
		// Abort the in-flight attempt; there is no handle to tear down
		// yet, the attempt goroutine discards its own.
		s.epoch++
		s.state = Disconnected
		s.mu.Unlock()
		return nil
	case Disconnecting:
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.state = Disconnecting
	s.epoch++ // transport drop callbacks from this link are now stale
	s.mu.Unlock()

	var firstErr error
	if conn != nil {
		firstErr = conn.Disconnect()
	}

	s.mu.Lock()
	s.conn = nil
	s.tx = nil
	s.respCh = nil
	s.state = Disconnected
	s.mu.Unlock()

	slog.Info("[session] disconnected", "addr", s.addr, "error", firstErr)
	return firstErr
}

// ForceDisconnect tears the session down from any state without reporting
// teardown errors. Used for reconnect timeouts, power-off events, and
// unrecoverable transport failures.
func (s *Session) ForceDisconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.tx = nil
	s.respCh = nil
	s.epoch++
	s.state = Disconnected
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			slog.Warn("[session] forced teardown error", "addr", s.addr, "error", err)
		}
	}
}

// Execute sends one command and waits for the device's reply. Only valid in
// Connected; at most one write is in flight per session; commands inside the
// minimum command interval are refused with ErrRateLimited.
func (s *Session) Execute(cmd protocol.Command) (protocol.Response, error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return protocol.Response{}, ErrNotConnected
	}
	if s.inFlight {
		s.mu.Unlock()
		return protocol.Response{}, ErrOperationInProgress
	}
	if !s.limiter.Allow() {
		s.mu.Unlock()
		return protocol.Response{}, ErrRateLimited
	}
	s.inFlight = true
	tx := s.tx
	respCh := s.respCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// Drop stale notifications so they cannot answer this command.
	for {
		select {
		case <-respCh:
			continue
		default:
		}
		break
	}

	if err := tx.Write(protocol.Encode(cmd)); err != nil {
		return protocol.Response{}, err
	}

	timer := time.NewTimer(s.opts.ResponseTimeout)
	defer timer.Stop()
	select {
	case raw := <-respCh:
		return protocol.ParseResponse(raw)
	case <-timer.C:
		return protocol.Response{}, ErrResponseTimeout
	}
}

// handleNotification routes one RX notification: power-off events go to the
// power-off callback, everything else feeds the response queue of the
// attempt it belongs to.
func (s *Session) handleNotification(attempt uint64, respCh chan []byte, data []byte) {
	s.mu.Lock()
	stale := s.epoch != attempt
	s.mu.Unlock()
	if stale {
		return
	}

	if resp, err := protocol.ParseResponse(data); err == nil && resp.Kind == protocol.RespPowerOff {
		slog.Info("[session] device powered off", "addr", s.addr)
		if s.onPowerOff != nil {
			s.onPowerOff()
		}
		return
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case respCh <- buf:
	default:
		slog.Warn("[session] response queue full, dropping notification", "addr", s.addr)
	}
}

// handleDrop reacts to the transport's disconnect callback. Requested
// teardowns bump the epoch first, so only unexpected drops get through.
func (s *Session) handleDrop(attempt uint64) {
	s.mu.Lock()
	if s.epoch != attempt || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.tx = nil
	s.respCh = nil
	s.epoch++
	s.state = Disconnected
	s.mu.Unlock()

	slog.Warn("[session] link dropped", "addr", s.addr)
	if s.onDrop != nil {
		s.onDrop()
	}
}
