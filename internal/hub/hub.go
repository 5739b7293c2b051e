// Package hub coordinates the whole device fleet: discovery, identity
// resolution, one session per connected device, and the capability-checked
// controllers handed to callers. Every operation exists in a blocking form
// and a Callback form; the callback forms run on a single background worker
// so completions never land on the caller's goroutine.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quodana/toylink/internal/ble"
	"github.com/quodana/toylink/internal/identity"
	"github.com/quodana/toylink/internal/protocol"
	"github.com/quodana/toylink/internal/session"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("hub: closed")
	// ErrJobQueueFull is returned by Callback operations when the worker
	// queue is at capacity.
	ErrJobQueueFull = errors.New("hub: job queue full")
	// ErrUnknownDevice is returned for an address no discovery has seen.
	ErrUnknownDevice = errors.New("hub: unknown device")
	// ErrAlreadyConnected is returned when a session for the address is
	// already registered.
	ErrAlreadyConnected = errors.New("hub: already connected")
)

// Options configures hub-wide behavior. Zero fields take the defaults.
type Options struct {
	ScanTimeout         time.Duration // default scan window for Discover
	ConnectTimeout      time.Duration // per connect attempt
	ReconnectTimeout    time.Duration // single recovery attempt after a drop
	MinCommandInterval  time.Duration // per-session rate limiter interval
	ResponseTimeout     time.Duration // per-command reply wait
	BatteryPollInterval time.Duration // battery monitor tick
	JobQueueSize        int           // callback worker queue bound
}

// DefaultOptions returns the defaults applied for zero Option fields.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:         5 * time.Second,
		ConnectTimeout:      10 * time.Second,
		ReconnectTimeout:    10 * time.Second,
		MinCommandInterval:  100 * time.Millisecond,
		ResponseTimeout:     2 * time.Second,
		BatteryPollInterval: 120 * time.Second,
		JobQueueSize:        32,
	}
}

// Hub owns the session registry and the background worker. Safe for
// concurrent use.
type Hub struct {
	adapter  ble.Adapter
	resolver *identity.Resolver
	opts     Options

	mu         sync.Mutex
	discovered map[string]identity.Identity
	sessions   map[string]*deviceEntry
	closed     bool
	polling    bool

	jobs chan func()
	done chan struct{}
	wg   sync.WaitGroup

	onPowerOff  func(addr string)
	onReconnect func(addr string, err error)
}

// deviceEntry is one registry slot: identity, session, controller.
type deviceEntry struct {
	id         identity.Identity
	sess       *session.Session
	controller *Controller
}

// New enables the adapter and starts the callback worker.
func New(adapter ble.Adapter, resolver *identity.Resolver, opts Options) (*Hub, error) {
	def := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ReconnectTimeout <= 0 {
		opts.ReconnectTimeout = def.ReconnectTimeout
	}
	if opts.MinCommandInterval <= 0 {
		opts.MinCommandInterval = def.MinCommandInterval
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	if opts.BatteryPollInterval <= 0 {
		opts.BatteryPollInterval = def.BatteryPollInterval
	}
	if opts.JobQueueSize <= 0 {
		opts.JobQueueSize = def.JobQueueSize
	}

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("hub: enable adapter: %w", err)
	}

	h := &Hub{
		adapter:    adapter,
		resolver:   resolver,
		opts:       opts,
		discovered: make(map[string]identity.Identity),
		sessions:   make(map[string]*deviceEntry),
		jobs:       make(chan func(), opts.JobQueueSize),
		done:       make(chan struct{}),
	}
	h.wg.Add(1)
	go h.worker()
	return h, nil
}

// OnPowerOff registers the callback invoked with the device address when a
// device announces it was switched off. Set before connecting.
func (h *Hub) OnPowerOff(callback func(addr string)) { h.onPowerOff = callback }

// OnReconnect registers the callback reporting the outcome of the single
// recovery attempt after an unexpected link drop: nil error on success, a
// *session.ReconnectTimeoutError when the attempt exceeded its deadline.
// Set before connecting.
func (h *Hub) OnReconnect(callback func(addr string, err error)) { h.onReconnect = callback }

// worker drains the callback job queue. One goroutine: callback operations
// are serialized in submission order.
func (h *Hub) worker() {
	defer h.wg.Done()
	for {
		select {
		case job := <-h.jobs:
			job()
		case <-h.done:
			return
		}
	}
}

// submit enqueues a job for the worker without blocking the caller.
func (h *Hub) submit(job func()) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case h.jobs <- job:
		return nil
	default:
		return ErrJobQueueFull
	}
}

// Discover scans for advertising devices and resolves each hit. Ambiguous
// identities are returned as-is; names matching the vendor prefix but
// neither encoding are skipped.
func (h *Hub) Discover(ctx context.Context) ([]identity.Identity, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ScanTimeout)
		defer cancel()
	}

	advs, err := h.adapter.Scan(ctx, identity.NamePrefix)
	if err != nil {
		return nil, err
	}

	var found []identity.Identity
	for _, adv := range advs {
		id, err := h.resolver.Resolve(adv.Name, adv.Address)
		if err != nil {
			slog.Debug("[hub] skipping unresolvable device", "name", adv.Name, "addr", adv.Address, "error", err)
			continue
		}
		h.mu.Lock()
		h.discovered[adv.Address] = id
		h.mu.Unlock()
		found = append(found, id)
	}
	slog.Info("[hub] discovery finished", "devices", len(found))
	return found, nil
}

// DiscoverCallback runs Discover on the worker and delivers the result to
// callback.
func (h *Hub) DiscoverCallback(ctx context.Context, callback func([]identity.Identity, error)) error {
	return h.submit(func() { callback(h.Discover(ctx)) })
}

// SetModel applies an external model pick to a previously discovered
// ambiguous device. The pick must be one of the identity's candidates.
func (h *Hub) SetModel(addr, model string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	id, ok := h.discovered[addr]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}

	id, err := h.resolver.Disambiguate(id, model)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.discovered[addr] = id
	h.mu.Unlock()
	return nil
}

// SetModelCallback runs SetModel on the worker.
func (h *Hub) SetModelCallback(addr, model string, callback func(error)) error {
	return h.submit(func() { callback(h.SetModel(addr, model)) })
}

// Connect establishes a session with a discovered device and returns its
// controller. The identity must be resolved to a single model first;
// ambiguous identities are refused, raw sends included.
func (h *Hub) Connect(ctx context.Context, addr string) (*Controller, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := h.sessions[addr]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, addr)
	}
	id, ok := h.discovered[addr]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}
	if !id.Resolved() {
		h.mu.Unlock()
		return nil, &identity.AmbiguousIdentityError{Name: id.RawName, Candidates: id.Candidates}
	}
	model, ok := protocol.LookupModel(id.Model)
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("hub: no capability entry for model %s", id.Model)
	}

	sess := session.New(h.adapter, addr, session.Options{
		MinCommandInterval: h.opts.MinCommandInterval,
		ResponseTimeout:    h.opts.ResponseTimeout,
	})
	sess.OnDrop(func() { h.handleDrop(addr) })
	sess.OnPowerOff(func() { h.handlePowerOff(addr) })

	entry := &deviceEntry{id: id, sess: sess}
	h.sessions[addr] = entry
	h.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ConnectTimeout)
		defer cancel()
	}
	if err := sess.Connect(ctx); err != nil {
		h.mu.Lock()
		if h.sessions[addr] == entry {
			delete(h.sessions, addr)
		}
		h.mu.Unlock()
		return nil, err
	}

	ctrl := newController(model, id, sess, h.opts.MinCommandInterval)
	h.mu.Lock()
	entry.controller = ctrl
	h.mu.Unlock()

	slog.Info("[hub] device connected", "addr", addr, "model", id.Model)
	return ctrl, nil
}

// ConnectCallback runs Connect on the worker.
func (h *Hub) ConnectCallback(ctx context.Context, addr string, callback func(*Controller, error)) error {
	return h.submit(func() { callback(h.Connect(ctx, addr)) })
}

// Disconnect ends the session for addr and removes it from the registry.
// Idempotent: an address with no session returns nil.
func (h *Hub) Disconnect(addr string) error {
	h.mu.Lock()
	entry, ok := h.sessions[addr]
	if ok {
		delete(h.sessions, addr)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.sess.Disconnect()
}

// DisconnectCallback runs Disconnect on the worker.
func (h *Hub) DisconnectCallback(addr string, callback func(error)) error {
	return h.submit(func() { callback(h.Disconnect(addr)) })
}

// Controller returns the controller for a connected device, if any.
func (h *Hub) Controller(addr string) (*Controller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.sessions[addr]
	if !ok || entry.controller == nil {
		return nil, false
	}
	return entry.controller, true
}

// Connected returns the addresses of all registered sessions.
func (h *Hub) Connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	addrs := make([]string, 0, len(h.sessions))
	for addr := range h.sessions {
		addrs = append(addrs, addr)
	}
	return addrs
}

// handleDrop runs the single recovery attempt after an unexpected link
// drop. The attempt is bounded by ReconnectTimeout; on expiry the session is
// forced down, the late transport completion is discarded, and the outcome
// is reported exactly once through the OnReconnect callback.
func (h *Hub) handleDrop(addr string) {
	h.mu.Lock()
	entry, ok := h.sessions[addr]
	closed := h.closed
	h.mu.Unlock()
	if !ok || closed {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.ReconnectTimeout)
		defer cancel()

		slog.Warn("[hub] link dropped, attempting reconnect", "addr", addr)
		err := entry.sess.Connect(ctx)
		if err == nil {
			slog.Info("[hub] reconnected", "addr", addr)
			if h.onReconnect != nil {
				h.onReconnect(addr, nil)
			}
			return
		}

		entry.sess.ForceDisconnect()
		h.mu.Lock()
		if h.sessions[addr] == entry {
			delete(h.sessions, addr)
		}
		h.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) {
			err = &session.ReconnectTimeoutError{Address: addr, Elapsed: time.Since(start)}
		}
		slog.Warn("[hub] reconnect failed", "addr", addr, "error", err)
		if h.onReconnect != nil {
			h.onReconnect(addr, err)
		}
	}()
}

// handlePowerOff reacts to a device announcing it was physically switched
// off: force the session down, drop it from the registry, tell the caller.
func (h *Hub) handlePowerOff(addr string) {
	h.mu.Lock()
	entry, ok := h.sessions[addr]
	if ok {
		delete(h.sessions, addr)
	}
	h.mu.Unlock()
	if ok {
		entry.sess.ForceDisconnect()
	}
	slog.Info("[hub] device powered off", "addr", addr)
	if h.onPowerOff != nil {
		h.onPowerOff(addr)
	}
}

// StartBatteryMonitor polls every connected controller's battery level at
// the configured interval and delivers an address to level map to callback.
// Runs until Close; starting twice is an error.
func (h *Hub) StartBatteryMonitor(callback func(levels map[string]int)) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.polling {
		h.mu.Unlock()
		return errors.New("hub: battery monitor already running")
	}
	h.polling = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.opts.BatteryPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				levels := h.pollBatteries()
				if len(levels) > 0 {
					callback(levels)
				}
			case <-h.done:
				return
			}
		}
	}()
	return nil
}

func (h *Hub) pollBatteries() map[string]int {
	h.mu.Lock()
	controllers := make(map[string]*Controller, len(h.sessions))
	for addr, entry := range h.sessions {
		if entry.controller != nil {
			controllers[addr] = entry.controller
		}
	}
	h.mu.Unlock()

	levels := make(map[string]int, len(controllers))
	for addr, ctrl := range controllers {
		level, err := ctrl.Battery()
		if err != nil {
			slog.Warn("[hub] battery poll failed", "addr", addr, "error", err)
			continue
		}
		levels[addr] = level
	}
	return levels
}

// Close disconnects every session, stops the worker and monitors, and
// refuses all further operations.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	entries := make([]*deviceEntry, 0, len(h.sessions))
	for _, entry := range h.sessions {
		entries = append(entries, entry)
	}
	h.sessions = make(map[string]*deviceEntry)
	h.mu.Unlock()

	var firstErr error
	for _, entry := range entries {
		if err := entry.sess.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	close(h.done)
	h.wg.Wait()
	return firstErr
}
