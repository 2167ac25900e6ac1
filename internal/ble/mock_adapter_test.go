package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/canelink/internal/ble/protocol"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu           sync.Mutex
	writes       [][]byte
	callback     func([]byte)
	writeErr     error
	subscribeErr error
	unsubscribed bool
	early        [][]byte // delivered from inside Subscribe, before it returns
	value        []byte
	log          *callLog
	name         string
}

func (c *mockCharacteristic) Write(data []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	if c.subscribeErr != nil {
		c.mu.Unlock()
		return c.subscribeErr
	}
	c.callback = cb
	early := c.early
	c.mu.Unlock()

	for _, data := range early {
		cb(data)
	}
	return nil
}

func (c *mockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	c.callback = nil
	c.unsubscribed = true
	c.mu.Unlock()
	c.log.add(c.name + ".unsubscribe")
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// callLog records transport calls in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	notifyChar   *mockCharacteristic
	writeChar    *mockCharacteristic
	discoverErr  error
	disconnectCb func()
	disconnected bool
	log          *callLog
}

func newMockConnection(log *callLog) *mockConnection {
	return &mockConnection{
		notifyChar: &mockCharacteristic{log: log, name: "notify"},
		writeChar:  &mockCharacteristic{log: log, name: "write"},
		log:        log,
	}
}

func (c *mockConnection) DiscoverCharacteristics(_ string, charUUIDs ...string) ([]Characteristic, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	var out []Characteristic
	for _, u := range charUUIDs {
		switch u {
		case DefaultNotifyCharUUID:
			out = append(out, c.notifyChar)
		case DefaultWriteCharUUID:
			out = append(out, c.writeChar)
		default:
			return nil, errors.New("mock: unknown characteristic UUID " + u)
		}
	}
	return out, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.log.add("disconnect")
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu           sync.Mutex
	ads          []Advertisement
	scanErr      error
	connectErr   error
	connectDelay time.Duration
	discoverErr  error
	subscribeErr error
	earlyNotify  [][]byte
	scans        int
	stopScans    int
	connects     int
	connection   *mockConnection // most recent connection for test assertions
	log          *callLog
}

func newMockAdapter(ads ...Advertisement) *mockAdapter {
	return &mockAdapter{ads: ads, log: &callLog{}}
}

func (a *mockAdapter) Enable() error { return nil }

// Scan reports the configured advertisements, then blocks until ctx ends
// unless scanErr is set.
func (a *mockAdapter) Scan(ctx context.Context, _ string, found func(Advertisement)) error {
	a.mu.Lock()
	a.scans++
	ads := a.ads
	scanErr := a.scanErr
	a.mu.Unlock()

	for _, ad := range ads {
		found(ad)
	}
	if scanErr != nil {
		return scanErr
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopScans++
	return nil
}

func (a *mockAdapter) Connect(ctx context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	a.connects++
	delay := a.connectDelay
	connectErr := a.connectErr
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}

	conn := newMockConnection(a.log)
	conn.discoverErr = a.discoverErr
	conn.notifyChar.subscribeErr = a.subscribeErr
	conn.notifyChar.early = a.earlyNotify
	a.mu.Lock()
	a.connection = conn
	a.mu.Unlock()
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// recorder collects dispatcher output.
type recorder struct {
	mu       sync.Mutex
	messages []protocol.Message
	statuses []Status
	order    []string // status names and message kinds, interleaved as delivered
}

func (r *recorder) onMessage(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	r.order = append(r.order, m.Kind())
}

func (r *recorder) onStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	r.order = append(r.order, s.State.String())
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.statuses))
	for i, s := range r.statuses {
		out[i] = s.State
	}
	return out
}

func implicitGate() *PermissionGate {
	return NewPermissionGate(PlatformImplicit, 0, nil)
}

// newTestLink wires a Link around adapter and records everything dispatched.
func newTestLink(adapter Adapter, opts ManagerOptions) (*Link, *recorder) {
	link := NewLink(adapter, implicitGate(), opts)
	rec := &recorder{}
	link.Events.OnMessage(rec.onMessage)
	link.Events.OnStatus(rec.onStatus)
	return link, rec
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
