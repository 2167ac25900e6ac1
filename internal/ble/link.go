package ble

import (
	"context"
	"time"
)

// Link is the process-wide connectivity context: one adapter, one gate, one
// scanner, one manager and one dispatcher. Create it at startup, pass it to
// whatever needs it, and Close it on shutdown.
type Link struct {
	Gate    *PermissionGate
	Scanner *Scanner
	Manager *Manager
	Events  *Dispatcher
}

// NewLink wires the components around adapter.
func NewLink(adapter Adapter, gate *PermissionGate, opts ManagerOptions) *Link {
	events := NewDispatcher()
	scanner := NewScanner(adapter, gate)
	return &Link{
		Gate:    gate,
		Scanner: scanner,
		Manager: NewManager(adapter, gate, scanner, events, opts),
		Events:  events,
	}
}

// Scan runs one discovery pass.
func (l *Link) Scan(ctx context.Context, duration time.Duration) ([]DeviceRecord, error) {
	return l.Scanner.Scan(ctx, duration)
}

// Close stops any scan and ends the session.
func (l *Link) Close() error {
	l.Scanner.Stop()
	_, err := l.Manager.Disconnect()
	return err
}
