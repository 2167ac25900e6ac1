package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/canelink/internal/ble/protocol"
)

// DefaultConnectTimeout is the hard upper bound on Connect.
const DefaultConnectTimeout = 15 * time.Second

// ManagerOptions configures the connection manager.
type ManagerOptions struct {
	ServiceUUID       string
	NotifyCharUUID    string
	WriteCharUUID     string
	ConnectTimeout    time.Duration // enforced independently of the transport's own timeout
	WriteWithResponse bool
	Codec             protocol.Codec
}

// DefaultManagerOptions returns sensible defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ServiceUUID:    DefaultServiceUUID,
		NotifyCharUUID: DefaultNotifyCharUUID,
		WriteCharUUID:  DefaultWriteCharUUID,
		ConnectTimeout: DefaultConnectTimeout,
		Codec:          protocol.DefaultCodec(),
	}
}

// SessionInfo describes the live session.
type SessionInfo struct {
	ID      string
	Address string
	Name    string
}

// session is the exclusive state of one connection. Its reassembler is
// created with the session and dropped with it, so no bytes survive a
// reconnect.
type session struct {
	id     uuid.UUID
	device DeviceRecord
	conn   Connection
	notify Characteristic
	write  Characteristic

	// rx serializes chunk handling; the reassembler, live and pending are
	// only touched under it. Chunks that arrive before Ready is published
	// wait in pending.
	rx          sync.Mutex
	reassembler *protocol.Reassembler
	live        bool
	pending     [][]byte

	closed atomic.Bool
}

func (s *session) info() SessionInfo {
	return SessionInfo{ID: s.id.String(), Address: s.device.Address, Name: s.device.Name}
}

// Manager owns at most one connection and drives the
// Idle -> Connecting -> Ready -> Idle state machine.
//
// Observers run synchronously on the goroutine that caused the event. They
// may call Send, SendRaw, Read, Status and Session, but must not call Connect
// or Disconnect without handing off to another goroutine.
type Manager struct {
	adapter    Adapter
	gate       *PermissionGate
	scanner    *Scanner // may be nil
	dispatcher *Dispatcher
	opts       ManagerOptions

	mu      sync.Mutex
	state   State
	session *session
	seq     uint64 // transitions recorded, guarded by mu

	// Status events are published in transition order: each transition
	// waits until the previous one has been delivered.
	emitMu   sync.Mutex
	emitCond *sync.Cond
	emitted  uint64
}

// NewManager creates a Manager. scanner may be nil if discovery is not used.
// Panics if adapter, gate or dispatcher is nil.
func NewManager(adapter Adapter, gate *PermissionGate, scanner *Scanner, dispatcher *Dispatcher, opts ManagerOptions) *Manager {
	if adapter == nil || gate == nil || dispatcher == nil {
		panic("ble: NewManager called with nil adapter, gate or dispatcher")
	}
	def := DefaultManagerOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.NotifyCharUUID == "" {
		opts.NotifyCharUUID = def.NotifyCharUUID
	}
	if opts.WriteCharUUID == "" {
		opts.WriteCharUUID = def.WriteCharUUID
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.Codec.Encoding == nil {
		opts.Codec = def.Codec
	}
	m := &Manager{
		adapter:    adapter,
		gate:       gate,
		scanner:    scanner,
		dispatcher: dispatcher,
		opts:       opts,
	}
	m.emitCond = sync.NewCond(&m.emitMu)
	if scanner != nil {
		scanner.exclude(m.busy)
	}
	return m
}

// busy reports whether a connection attempt or session is active.
func (m *Manager) busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state}
	if m.session != nil {
		st.DeviceName = m.session.device.Name
	}
	return st
}

// Session returns the live session, if any.
func (m *Manager) Session() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SessionInfo{}, false
	}
	return m.session.info(), true
}

// transitionLocked records st and publishes it. The caller holds m.mu;
// transitionLocked releases it.
func (m *Manager) transitionLocked(st Status) {
	m.state = st.State
	m.seq++
	turn := m.seq
	m.mu.Unlock()

	m.emitMu.Lock()
	for m.emitted+1 != turn {
		m.emitCond.Wait()
	}
	m.emitMu.Unlock()

	m.dispatcher.publishStatus(st)

	m.emitMu.Lock()
	m.emitted = turn
	m.emitCond.Broadcast()
	m.emitMu.Unlock()
}

// Connect establishes a session with the device at address. It fails with
// ErrBusy unless the manager is idle, so a live session is never torn down
// by a second Connect. Any in-flight scan is stopped first.
func (m *Manager) Connect(ctx context.Context, address string) error {
	if !m.gate.Ensure(ctx) {
		return ErrPermissionDenied
	}

	m.mu.Lock()
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, st)
	}
	m.transitionLocked(Status{State: StateConnecting})

	if m.scanner != nil {
		m.scanner.Stop()
	}
	if err := m.adapter.StopScan(); err != nil {
		slog.Debug("[BLE] stop scan before connect", "error", err)
	}

	slog.Info("[BLE] connecting", "addr", address, "timeout", m.opts.ConnectTimeout)
	if err := m.adapter.Enable(); err != nil {
		return m.failConnect(fmt.Errorf("%w: enable adapter: %w", ErrConnectFailed, err))
	}

	sess, err := m.establish(ctx, address)
	if err != nil {
		return m.failConnect(err)
	}

	m.mu.Lock()
	if sess.closed.Load() {
		// The link dropped before the session was published.
		_ = sess.conn.Disconnect()
		m.transitionLocked(Status{State: StateIdle})
		return fmt.Errorf("%w: %s: link lost during setup", ErrConnectFailed, address)
	}
	m.session = sess
	m.transitionLocked(Status{State: StateReady, DeviceName: sess.device.Name})
	m.activate(sess)

	slog.Info("[BLE] connected", "addr", address, "name", sess.device.Name, "session", sess.id)
	return nil
}

func (m *Manager) failConnect(err error) error {
	slog.Warn("[BLE] connect failed", "error", err)
	m.mu.Lock()
	m.transitionLocked(Status{State: StateIdle})
	return err
}

// establish connects, runs capability discovery and subscribes to
// notifications under the connect timeout. A connection that completes after the deadline is closed.
func (m *Manager) establish(ctx context.Context, address string) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	type result struct {
		sess *session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := m.open(ctx, address)
		ch <- result{sess, err}
	}()

	select {
	case r := <-ch:
		return r.sess, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.sess != nil {
				r.sess.closed.Store(true)
				_ = r.sess.conn.Disconnect()
				slog.Debug("[BLE] closed connection that completed after timeout", "addr", address)
			}
		}()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, address, ctx.Err())
	}
}

func (m *Manager) open(ctx context.Context, address string) (*session, error) {
	conn, err := m.adapter.Connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	chars, err := conn.DiscoverCharacteristics(m.opts.ServiceUUID, m.opts.NotifyCharUUID, m.opts.WriteCharUUID)
	if err == nil && len(chars) != 2 {
		err = fmt.Errorf("discovered %d characteristics, want 2", len(chars))
	}
	if err != nil {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: discover characteristics: %w", ErrConnectFailed, err)
	}

	device := DeviceRecord{Address: address, Name: FallbackName(address), Connectable: true}
	if m.scanner != nil {
		if rec, ok := m.scanner.Lookup(address); ok {
			device = rec
		}
	}

	sess := &session{
		id:          uuid.New(),
		device:      device,
		conn:        conn,
		notify:      chars[0],
		write:       chars[1],
		reassembler: m.opts.Codec.NewReassembler(),
	}
	conn.OnDisconnect(func() { m.handleLinkLoss(sess) })

	if err := sess.notify.Subscribe(func(data []byte) { m.handleChunk(sess, data) }); err != nil {
		sess.closed.Store(true)
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: subscribe to notifications: %w", ErrConnectFailed, err)
	}
	return sess, nil
}

// Disconnect ends the session: notifications are stopped before the link
// is closed, then the session and its partial buffer are dropped and
// Disconnected is published. Returns false if there was no session.
func (m *Manager) Disconnect() (bool, error) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return false, nil
	}
	ok, err := m.end(sess, true)
	if ok {
		slog.Info("[BLE] disconnected", "addr", sess.device.Address, "session", sess.id)
	}
	return ok, err
}

// end tears sess down exactly once. graceful unsubscribes and closes the
// link; a lost link only needs the bookkeeping.
func (m *Manager) end(sess *session, graceful bool) (bool, error) {
	if !sess.closed.CompareAndSwap(false, true) {
		return false, nil
	}

	m.mu.Lock()
	var err error
	if graceful {
		var errs []error
		if e := sess.notify.Unsubscribe(); e != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", e))
		}
		if e := sess.conn.Disconnect(); e != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", e))
		}
		if len(errs) > 0 {
			err = fmt.Errorf("ble: close session: %w", errors.Join(errs...))
		}
	}
	if m.session != sess {
		m.mu.Unlock()
		return false, err
	}
	m.session = nil
	m.transitionLocked(Status{State: StateIdle})
	return true, err
}

func (m *Manager) handleLinkLoss(sess *session) {
	if sess.closed.Load() {
		return
	}
	slog.Warn("[BLE] link lost", "addr", sess.device.Address, "session", sess.id)
	_, _ = m.end(sess, false)
}

// handleChunk feeds one notification to the session's reassembler. Chunks
// for a closed session are dropped, and so are messages completed after
// the session closed.
func (m *Manager) handleChunk(sess *session, data []byte) {
	if sess.closed.Load() {
		return
	}
	sess.rx.Lock()
	defer sess.rx.Unlock()
	if !sess.live {
		sess.pending = append(sess.pending, append([]byte(nil), data...))
		return
	}
	m.feed(sess, data)
}

// activate releases chunks held while the session was being set up. It runs
// after Ready has been delivered, so no message precedes Connected.
func (m *Manager) activate(sess *session) {
	sess.rx.Lock()
	defer sess.rx.Unlock()
	sess.live = true
	for _, chunk := range sess.pending {
		m.feed(sess, chunk)
	}
	sess.pending = nil
}

// feed runs with sess.rx held.
func (m *Manager) feed(sess *session, data []byte) {
	if sess.closed.Load() {
		return
	}
	sess.reassembler.Feed(data, func(msg protocol.Message) {
		if sess.closed.Load() {
			return
		}
		slog.Debug("[BLE] message", "event", msg.Kind(), "session", sess.id)
		m.dispatcher.publishMessage(msg)
	})
}

func (m *Manager) live() (*session, error) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil || sess.closed.Load() {
		return nil, ErrNotConnected
	}
	return sess, nil
}

// Send encodes cmd and writes it to the cane in a single write. A failed
// write is returned as ErrWriteFailed and leaves the session intact.
func (m *Manager) Send(cmd protocol.Command) error {
	sess, err := m.live()
	if err != nil {
		return err
	}
	payload, err := m.opts.Codec.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("ble: encode command: %w", err)
	}
	return m.write(sess, payload)
}

// SendRaw writes data to the write characteristic unchanged.
func (m *Manager) SendRaw(data []byte) error {
	sess, err := m.live()
	if err != nil {
		return err
	}
	return m.write(sess, data)
}

func (m *Manager) write(sess *session, payload []byte) error {
	if err := sess.write.Write(payload, m.opts.WriteWithResponse); err != nil {
		slog.Warn("[BLE] write failed", "error", err, "session", sess.id)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Read reads the notify characteristic's current value and strips the wire
// encoding.
func (m *Manager) Read() ([]byte, error) {
	sess, err := m.live()
	if err != nil {
		return nil, err
	}
	data, err := sess.notify.Read()
	if err != nil {
		return nil, fmt.Errorf("ble: read: %w", err)
	}
	return m.opts.Codec.Encoding.Decode(data)
}
