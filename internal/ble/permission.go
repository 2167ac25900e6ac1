package ble

import (
	"context"
	"log/slog"
)

// Permission names a platform capability the radio stack needs.
type Permission string

const (
	PermissionBluetoothScan    Permission = "android.permission.BLUETOOTH_SCAN"
	PermissionBluetoothConnect Permission = "android.permission.BLUETOOTH_CONNECT"
	// PermissionFineLocation is needed because scan results can reveal location.
	PermissionFineLocation Permission = "android.permission.ACCESS_FINE_LOCATION"
)

// Platform classifies how the host authorizes radio use.
type Platform string

const (
	// PlatformImplicit hosts have no runtime permission model.
	PlatformImplicit Platform = "implicit"
	// PlatformExplicit hosts require runtime permission grants.
	PlatformExplicit Platform = "explicit"
)

// splitPermissionsAPILevel is the first API level with dedicated scan and
// connect permissions. Older levels gate scanning on location alone.
const splitPermissionsAPILevel = 31

// Requester asks the platform for permissions. It may show a consent dialog.
type Requester interface {
	Request(ctx context.Context, perms []Permission) (map[Permission]bool, error)
}

// StaticRequester answers from a fixed grant list, for hosts where grants
// are settled before the process starts.
type StaticRequester map[Permission]bool

// NewStaticRequester grants exactly the named permissions.
func NewStaticRequester(granted []string) StaticRequester {
	r := make(StaticRequester, len(granted))
	for _, p := range granted {
		r[Permission(p)] = true
	}
	return r
}

// Request implements Requester.
func (r StaticRequester) Request(_ context.Context, perms []Permission) (map[Permission]bool, error) {
	out := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		out[p] = r[p]
	}
	return out, nil
}

// PermissionGate decides whether the process may use the radio.
type PermissionGate struct {
	platform  Platform
	apiLevel  int
	requester Requester
}

// NewPermissionGate creates a gate. requester may be nil on implicit platforms.
func NewPermissionGate(platform Platform, apiLevel int, requester Requester) *PermissionGate {
	return &PermissionGate{platform: platform, apiLevel: apiLevel, requester: requester}
}

// Permissions returns what Ensure requests and the subset that must be granted.
func (g *PermissionGate) Permissions() (requested, required []Permission) {
	if g.platform != PlatformExplicit {
		return nil, nil
	}
	if g.apiLevel >= splitPermissionsAPILevel {
		return []Permission{PermissionBluetoothScan, PermissionBluetoothConnect, PermissionFineLocation},
			[]Permission{PermissionBluetoothScan, PermissionBluetoothConnect}
	}
	return []Permission{PermissionFineLocation}, []Permission{PermissionFineLocation}
}

// Ensure requests every permission the radio stack needs and reports whether
// all required ones were granted. A denial is reported once; re-prompting is
// up to the caller.
func (g *PermissionGate) Ensure(ctx context.Context) bool {
	if g.platform != PlatformExplicit {
		return true
	}
	requested, required := g.Permissions()
	if g.requester == nil {
		slog.Error("[BLE] no permission requester on explicit platform")
		return false
	}

	results, err := g.requester.Request(ctx, requested)
	if err != nil {
		slog.Error("[BLE] permission request failed", "error", err)
		return false
	}

	granted := true
	for _, p := range required {
		if !results[p] {
			slog.Warn("[BLE] required permission denied", "permission", p)
			granted = false
		}
	}
	for _, p := range requested {
		slog.Debug("[BLE] permission result", "permission", p, "granted", results[p])
	}
	return granted
}
