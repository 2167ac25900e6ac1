package ble

import (
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/canelink/internal/ble/protocol"
)

// MessageObserver receives each decoded message exactly once.
type MessageObserver func(protocol.Message)

// StatusObserver receives connection state transitions.
type StatusObserver func(Status)

// ConnectionObserver adapts a (connected, deviceName) callback.
func ConnectionObserver(fn func(connected bool, deviceName string)) StatusObserver {
	return func(s Status) { fn(s.Connected(), s.DeviceName) }
}

// Subscription is the revocable handle for an observer slot.
type Subscription struct {
	id     uuid.UUID
	cancel func(uuid.UUID)
}

// ID identifies the registration.
func (s Subscription) ID() string { return s.id.String() }

// Cancel empties the slot if this subscription still owns it. Cancelling a
// replaced subscription does nothing.
func (s Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel(s.id)
	}
}

type slot[F any] struct {
	id uuid.UUID
	fn F
}

// Dispatcher holds one observer per signal. Registering replaces the
// previous observer. Delivery is synchronous on the emitter's goroutine.
type Dispatcher struct {
	mu      sync.Mutex
	message *slot[MessageObserver]
	status  *slot[StatusObserver]
}

// NewDispatcher returns a Dispatcher with empty slots.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnMessage installs fn as the message observer. A nil fn empties the slot.
func (d *Dispatcher) OnMessage(fn MessageObserver) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		d.message = nil
		return Subscription{}
	}
	s := &slot[MessageObserver]{id: uuid.New(), fn: fn}
	d.message = s
	return Subscription{id: s.id, cancel: d.cancelMessage}
}

// OnStatus installs fn as the status observer. A nil fn empties the slot.
func (d *Dispatcher) OnStatus(fn StatusObserver) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		d.status = nil
		return Subscription{}
	}
	s := &slot[StatusObserver]{id: uuid.New(), fn: fn}
	d.status = s
	return Subscription{id: s.id, cancel: d.cancelStatus}
}

func (d *Dispatcher) cancelMessage(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.message != nil && d.message.id == id {
		d.message = nil
	}
}

func (d *Dispatcher) cancelStatus(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != nil && d.status.id == id {
		d.status = nil
	}
}

func (d *Dispatcher) publishMessage(msg protocol.Message) {
	d.mu.Lock()
	s := d.message
	d.mu.Unlock()
	if s != nil {
		s.fn(msg)
	}
}

func (d *Dispatcher) publishStatus(st Status) {
	d.mu.Lock()
	s := d.status
	d.mu.Unlock()
	if s != nil {
		s.fn(st)
	}
}
