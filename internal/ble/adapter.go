// Package ble connects to a smart cane over Bluetooth Low Energy. It handles
// permission-gated discovery, the single active connection, reassembly of
// notification chunks into events, and outbound commands.
package ble

import "context"

// Nordic UART service UUIDs used by the cane firmware.
const (
	DefaultServiceUUID    = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultWriteCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultNotifyCharUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data, waiting for the peer's acknowledgment if withResponse.
	Write(data []byte, withResponse bool) error
	// Read returns the current value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notifications.
	Unsubscribe() error
}

// Advertisement is one discovery report from a nearby peripheral.
type Advertisement struct {
	Address     string
	Name        string // GAP device name, if the stack knows one
	LocalName   string // name carried in the advertising payload
	RSSI        int
	Connectable bool
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristics finds the characteristics within a service, in
	// the order requested. It fails if any is missing.
	DiscoverCharacteristics(serviceUUID string, charUUIDs ...string) ([]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. Repeated calls are harmless.
	Enable() error
	// Scan reports advertisements until ctx is done or the scan fails. An
	// empty serviceUUID disables filtering so unnamed peripherals show up.
	Scan(ctx context.Context, serviceUUID string, found func(Advertisement)) error
	// StopScan halts discovery. It is safe to call when no scan is running.
	StopScan() error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
