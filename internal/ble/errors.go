package ble

import "errors"

var (
	// ErrPermissionDenied means the platform refused a required radio permission.
	ErrPermissionDenied = errors.New("ble: bluetooth permission denied")
	// ErrScanFailed means discovery could not start or failed mid-flight.
	ErrScanFailed = errors.New("ble: scan failed")
	// ErrConnectFailed covers timeouts, rejections and discovery failures.
	ErrConnectFailed = errors.New("ble: connect failed")
	// ErrWriteFailed means a characteristic write failed; the session is kept.
	ErrWriteFailed = errors.New("ble: write failed")
	// ErrNotConnected is returned by session operations with no session.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrBusy is returned when an operation conflicts with the current state.
	ErrBusy = errors.New("ble: busy")
	// ErrUnsupported means the platform's bluetooth stack lacks the operation.
	ErrUnsupported = errors.New("ble: not supported on this platform")
)
