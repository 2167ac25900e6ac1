package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). On macOS, device addresses are CoreBluetooth
// UUIDs rather than MAC addresses; both are carried as opaque strings.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error
	scanning   atomic.Bool

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates an adapter on the system's default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = err
			return
		}

		// tinygo/bluetooth reports peripheral-initiated disconnects through
		// the adapter-level handler with connected=false.
		a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			id := device.Address.String()
			a.mu.Lock()
			conn, ok := a.connections[id]
			delete(a.connections, id)
			a.mu.Unlock()
			if ok {
				conn.fireDisconnect()
			}
		})
	})
	return a.enableErr
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string, found func(Advertisement)) error {
	var filter *bluetooth.UUID
	if serviceUUID != "" {
		uuid, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = &uuid
	}
	if ctx.Err() != nil {
		return nil
	}

	a.scanning.Store(true)
	defer a.scanning.Store(false)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if filter != nil && !result.HasServiceUUID(*filter) {
			return
		}
		found(Advertisement{
			Address:   result.Address.String(),
			LocalName: result.LocalName(),
			RSSI:      int(result.RSSI),
			// The scan result does not expose the connectable flag; peripherals
			// that omit it are treated as connectable.
			Connectable: true,
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	if !a.scanning.Load() {
		return nil
	}
	return a.adapter.StopScan()
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks with its own timeout; wrap it so the
	// caller's deadline wins.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect cannot be cancelled; close it if it lands.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &tinyGoConnection{device: result.device}

		// Key by the parsed form so it matches what the connect handler reports.
		a.mu.Lock()
		a.connections[addr.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristics(serviceUUID string, charUUIDs ...string) ([]Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	want := make([]bluetooth.UUID, len(charUUIDs))
	for i, s := range charUUIDs {
		if want[i], err = bluetooth.ParseUUID(s); err != nil {
			return nil, err
		}
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics(want)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	byUUID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	for _, ch := range chars {
		byUUID[ch.UUID().String()] = ch
	}

	out := make([]Characteristic, len(want))
	for i, u := range want {
		ch, ok := byUUID[u.String()]
		if !ok {
			return nil, fmt.Errorf("ble: characteristic %s not found", charUUIDs[i])
		}
		out[i] = &tinyGoCharacteristic{char: ch}
	}
	return out, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte, withResponse bool) error {
	if withResponse {
		return c.writeWithResponse(data)
	}
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	return c.read()
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	if cb == nil {
		return errors.New("ble: nil notification callback")
	}
	return c.char.EnableNotifications(func(buf []byte) {
		// The stack may reuse buf after the callback returns.
		data := make([]byte, len(buf))
		copy(data, buf)
		cb(data)
	})
}

func (c *tinyGoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
