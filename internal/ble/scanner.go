package ble

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultScanDuration is how long a discovery pass runs by default.
const DefaultScanDuration = 6 * time.Second

// DeviceRecord is one peripheral found during a scan. Records live until
// the next scan replaces them.
type DeviceRecord struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
}

// FallbackName labels a peripheral that advertised no name, using the tail
// of its address.
func FallbackName(address string) string {
	if address == "" {
		return "Device_unknown"
	}
	if len(address) > 6 {
		address = address[len(address)-6:]
	}
	return "Device_" + address
}

// Scanner runs time-boxed discovery passes.
type Scanner struct {
	adapter Adapter
	gate    *PermissionGate

	mu     sync.Mutex
	cancel context.CancelFunc // set while a scan is in flight
	last   map[string]DeviceRecord
	busy   func() bool // reports a connection attempt or session; checked under mu
}

// NewScanner creates a Scanner. Panics if adapter or gate is nil.
func NewScanner(adapter Adapter, gate *PermissionGate) *Scanner {
	if adapter == nil || gate == nil {
		panic("ble: NewScanner called with nil adapter or gate")
	}
	return &Scanner{adapter: adapter, gate: gate}
}

// Scan discovers nearby peripherals for duration and returns them strongest
// signal first; ties keep discovery order. Each address appears once, with
// the fields from its first advertisement. Discovery is stopped on every
// return path. Stop ends the pass early and returns what was found so far.
// A scan is refused with ErrBusy while a connection attempt or session is
// active on the Manager sharing this Scanner.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration) ([]DeviceRecord, error) {
	if !s.gate.Ensure(ctx) {
		return nil, ErrPermissionDenied
	}
	if duration <= 0 {
		duration = DefaultScanDuration
	}
	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: enable adapter: %w", ErrScanFailed, err)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: scan already running", ErrBusy)
	}
	if s.busy != nil && s.busy() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: connection active", ErrBusy)
	}
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	s.cancel = cancel
	s.last = nil
	s.mu.Unlock()

	defer func() {
		cancel()
		if err := s.adapter.StopScan(); err != nil {
			slog.Debug("[BLE] stop scan", "error", err)
		}
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	// Clear anything left running by an earlier pass.
	_ = s.adapter.StopScan()

	slog.Info("[BLE] scan started", "duration", duration)
	start := time.Now()

	var mu sync.Mutex
	var found []DeviceRecord
	seen := make(map[string]bool)

	err := s.adapter.Scan(scanCtx, "", func(adv Advertisement) {
		if adv.Address == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[adv.Address] {
			return
		}
		seen[adv.Address] = true
		rec := DeviceRecord{
			Address:     adv.Address,
			Name:        displayName(adv),
			RSSI:        adv.RSSI,
			Connectable: adv.Connectable,
		}
		found = append(found, rec)
		slog.Debug("[BLE] found", "addr", rec.Address, "name", rec.Name, "rssi", rec.RSSI, "connectable", rec.Connectable)
	})
	if err != nil && scanCtx.Err() == nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	mu.Lock()
	records := slices.Clone(found)
	mu.Unlock()
	slices.SortStableFunc(records, func(a, b DeviceRecord) int {
		return cmp.Compare(b.RSSI, a.RSSI)
	})

	last := make(map[string]DeviceRecord, len(records))
	for _, r := range records {
		last[r.Address] = r
	}
	s.mu.Lock()
	s.last = last
	s.mu.Unlock()

	slog.Info("[BLE] scan complete", "devices", len(records), "elapsed", time.Since(start).Round(time.Millisecond))
	if len(records) == 0 {
		slog.Warn("[BLE] no devices found; check that bluetooth is on and the cane is advertising")
	}
	return records, nil
}

// exclude makes Scan fail with ErrBusy whenever busy reports true. The
// owner of busy must change its state before calling Stop, so that a scan
// either sees the new state or is cancelled by Stop.
func (s *Scanner) exclude(busy func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// Stop aborts an in-flight scan. No-op when none is running.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Lookup returns the record for address from the most recent scan.
func (s *Scanner) Lookup(address string) (DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.last[address]
	return r, ok
}

func displayName(adv Advertisement) string {
	switch {
	case adv.Name != "":
		return adv.Name
	case adv.LocalName != "":
		return adv.LocalName
	default:
		return FallbackName(adv.Address)
	}
}
