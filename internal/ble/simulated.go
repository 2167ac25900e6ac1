package ble

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chaz8081/canelink/internal/ble/protocol"
)

// SimulatedPeripheral is a fake cane the SimulatedAdapter advertises.
type SimulatedPeripheral struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
}

// SimulatedAdapter is an in-process Adapter for demos and tests. It
// advertises its peripherals, accepts connections to connectable ones, and
// pushes events through the notify characteristic in MTU-sized chunks using
// the same Codec as the receiving side.
type SimulatedAdapter struct {
	codec protocol.Codec
	mtu   int

	mu          sync.Mutex
	peripherals []SimulatedPeripheral
	conn        *simulatedConnection
}

// NewSimulatedAdapter creates a SimulatedAdapter. A non-positive mtu uses
// protocol.DefaultMTUPayload.
func NewSimulatedAdapter(codec protocol.Codec, mtu int, peripherals ...SimulatedPeripheral) *SimulatedAdapter {
	if mtu <= 0 {
		mtu = protocol.DefaultMTUPayload
	}
	if codec.Encoding == nil {
		codec = protocol.DefaultCodec()
	}
	return &SimulatedAdapter{codec: codec, mtu: mtu, peripherals: peripherals}
}

func (a *SimulatedAdapter) Enable() error { return nil }

// Scan reports every peripheral once, then waits for ctx.
func (a *SimulatedAdapter) Scan(ctx context.Context, _ string, found func(Advertisement)) error {
	a.mu.Lock()
	peripherals := append([]SimulatedPeripheral(nil), a.peripherals...)
	a.mu.Unlock()

	for _, p := range peripherals {
		found(Advertisement{
			Address:     p.Address,
			LocalName:   p.Name,
			RSSI:        p.RSSI,
			Connectable: p.Connectable,
		})
	}
	<-ctx.Done()
	return nil
}

func (a *SimulatedAdapter) StopScan() error { return nil }

func (a *SimulatedAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.peripherals {
		if p.Address != address {
			continue
		}
		if !p.Connectable {
			return nil, fmt.Errorf("sim: %s is not connectable", address)
		}
		a.conn = &simulatedConnection{
			notify: &simulatedCharacteristic{},
			write:  &simulatedCharacteristic{},
		}
		return a.conn, nil
	}
	return nil, fmt.Errorf("sim: no peripheral at %s", address)
}

// Emit frames and encodes payload and delivers it as notifications.
func (a *SimulatedAdapter) Emit(payload []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil || conn.isClosed() {
		return ErrNotConnected
	}

	framed, err := a.codec.Frame(payload)
	if err != nil {
		return err
	}
	for _, chunk := range protocol.SplitPayload(framed, a.mtu) {
		conn.notify.notify(a.codec.Encoding.Encode(chunk))
	}
	return nil
}

// EmitEvent marshals fields as one JSON event and emits it.
func (a *SimulatedAdapter) EmitEvent(fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sim: marshal event: %w", err)
	}
	return a.Emit(payload)
}

// Drop simulates the peripheral going out of range.
func (a *SimulatedAdapter) Drop() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		conn.fireDisconnect()
	}
}

// Written returns every value written to the write characteristic of the
// current connection.
func (a *SimulatedAdapter) Written() [][]byte {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.write.mu.Lock()
	defer conn.write.mu.Unlock()
	return append([][]byte(nil), conn.write.writes...)
}

var _ Adapter = (*SimulatedAdapter)(nil)

type simulatedConnection struct {
	notify *simulatedCharacteristic
	write  *simulatedCharacteristic

	mu           sync.Mutex
	disconnectCb func()
	closed       bool
}

func (c *simulatedConnection) DiscoverCharacteristics(_ string, charUUIDs ...string) ([]Characteristic, error) {
	if len(charUUIDs) != 2 {
		return nil, fmt.Errorf("sim: expected notify and write characteristics, got %d", len(charUUIDs))
	}
	return []Characteristic{c.notify, c.write}, nil
}

func (c *simulatedConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *simulatedConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *simulatedConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *simulatedConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type simulatedCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	value    []byte
	callback func([]byte)
}

func (c *simulatedCharacteristic) Write(data []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *simulatedCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...), nil
}

func (c *simulatedCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *simulatedCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	return nil
}

func (c *simulatedCharacteristic) notify(data []byte) {
	c.mu.Lock()
	c.value = data
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}
