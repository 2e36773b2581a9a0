// Package ble implements the BLE transport for the Nordic WiFi
// provisioning service: device scanning, connection and session
// management with a bluetoothctl-assisted hybrid fallback, GATT
// characteristic resolution, and the command/response protocol engine
// that carries the encoded provisioning messages.
package ble

import (
	"context"
	"errors"
)

// Nordic WiFi provisioning service and characteristic UUIDs.
const (
	ServiceUUID      = "14387800-130c-49e7-b877-2881c89cb258"
	InfoCharUUID     = "14387801-130c-49e7-b877-2881c89cb258"
	ControlPointUUID = "14387802-130c-49e7-b877-2881c89cb258"
	DataOutCharUUID  = "14387803-130c-49e7-b877-2881c89cb258"
)

// Sentinel errors for the terminal failure states. Callers match with
// errors.Is; wrapped messages carry device address and operation.
var (
	ErrDeviceNotFound          = errors.New("device not found")
	ErrConnectionFailed        = errors.New("connection failed")
	ErrCharacteristicsNotFound = errors.New("provisioning characteristics not found")
	ErrProtocolTimeout         = errors.New("no response from device")
	ErrEncoding                = errors.New("undecodable payload")
	ErrExchangeInFlight        = errors.New("exchange already in flight")
	ErrNotReady                = errors.New("session not ready")
)

// CharProps is the declared GATT property bitmask of a characteristic.
type CharProps uint8

const (
	PropRead CharProps = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
	PropIndicate
)

// Has reports whether all properties in p are set.
func (c CharProps) Has(p CharProps) bool { return c&p == p }

// Device is a peripheral seen during scanning.
type Device struct {
	Address      string
	Name         string
	RSSI         int
	Provisioning bool // advertised the provisioning service
}

// ScanFilter selects which advertisements a scan reports.
type ScanFilter struct {
	ServiceUUID string // keep only devices advertising this service
	ShowAll     bool   // report every advertisement regardless of service
}

// CharacteristicInfo describes one discovered characteristic for the
// property-signature fallback resolver. Props is zero when the backing
// stack does not expose declared properties.
type CharacteristicInfo struct {
	UUID  string
	Props CharProps
	Char  Characteristic
}

// Characteristic is an addressable GATT data point on a connected peripheral.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read fetches the characteristic's current value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Connection is an active link to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// EnumerateCharacteristics lists every characteristic on the
	// peripheral across all services, with declared properties where the
	// stack reports them.
	EnumerateCharacteristics() ([]CharacteristicInfo, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE radio for scanning and connecting.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertising peripherals until ctx is done. The radio's
	// scanning mode is always released on return.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device at the given address.
	Connect(ctx context.Context, addr string) (Connection, error)
}
