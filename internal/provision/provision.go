// Package provision sequences the user-facing provisioning operations
// (status, scan, configure, forget) on top of the BLE protocol engine,
// and dispatches between provisioning transports.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/tlangford/wifiprov/internal/ble"
	"github.com/tlangford/wifiprov/internal/wire"
)

var (
	// ErrAuthenticationFailed means the device rejected the supplied
	// WiFi credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNotImplemented marks provisioning transports that exist as
	// dispatch slots only.
	ErrNotImplemented = errors.New("not implemented")
)

// Mode selects the provisioning transport.
type Mode string

const (
	ModeBLE    Mode = "ble"
	ModeSoftAP Mode = "softap"
	ModeNFC    Mode = "nfc"
)

// ParseMode validates a mode name from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBLE, ModeSoftAP, ModeNFC:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown provisioning mode %q (want ble, softap, or nfc)", s)
	}
}

// DeviceStatus is the decoded device WiFi state.
type DeviceStatus struct {
	State     string
	SSID      string
	IPAddress string
	BSSID     string
	Channel   int
	Version   uint32 // protocol version from the info characteristic
}

// Network is one WiFi network reported by the device's scan.
type Network struct {
	SSID    string
	BSSID   string
	Channel int
	Auth    string
	Band    string
	RSSI    int
}

// ScanOutcome is the collected scan result set. Complete is false when
// the scan deadline expired before the device sent its scan-done
// marker; the networks gathered so far are still returned.
type ScanOutcome struct {
	Networks []Network
	Complete bool
}

// Credentials is the payload of a configure operation.
type Credentials struct {
	SSID     string
	Password string
	Auth     wire.AuthMode
	Volatile bool // apply to running state only, skip non-volatile storage
}

// Provisioner is one provisioning transport. Only BLE is implemented;
// the SoftAP and NFC slots fail fast with ErrNotImplemented.
type Provisioner interface {
	Discover(ctx context.Context) ([]ble.Device, error)
	Status(ctx context.Context, device string) (*DeviceStatus, error)
	Scan(ctx context.Context, device string) (*ScanOutcome, error)
	Configure(ctx context.Context, device string, creds Credentials) error
	Forget(ctx context.Context, device string) error
}

// New returns the provisioner for the given mode.
func New(mode Mode, bleProv *BLE) (Provisioner, error) {
	switch mode {
	case ModeBLE:
		return bleProv, nil
	case ModeSoftAP:
		return softAP{}, nil
	case ModeNFC:
		return nfc{}, nil
	default:
		return nil, fmt.Errorf("unknown provisioning mode %q", mode)
	}
}

type softAP struct{}

func (softAP) Discover(context.Context) ([]ble.Device, error) {
	return nil, fmt.Errorf("softap provisioning: %w", ErrNotImplemented)
}
func (softAP) Status(context.Context, string) (*DeviceStatus, error) {
	return nil, fmt.Errorf("softap provisioning: %w", ErrNotImplemented)
}
func (softAP) Scan(context.Context, string) (*ScanOutcome, error) {
	return nil, fmt.Errorf("softap provisioning: %w", ErrNotImplemented)
}
func (softAP) Configure(context.Context, string, Credentials) error {
	return fmt.Errorf("softap provisioning: %w", ErrNotImplemented)
}
func (softAP) Forget(context.Context, string) error {
	return fmt.Errorf("softap provisioning: %w", ErrNotImplemented)
}

type nfc struct{}

func (nfc) Discover(context.Context) ([]ble.Device, error) {
	return nil, fmt.Errorf("nfc provisioning: %w", ErrNotImplemented)
}
func (nfc) Status(context.Context, string) (*DeviceStatus, error) {
	return nil, fmt.Errorf("nfc provisioning: %w", ErrNotImplemented)
}
func (nfc) Scan(context.Context, string) (*ScanOutcome, error) {
	return nil, fmt.Errorf("nfc provisioning: %w", ErrNotImplemented)
}
func (nfc) Configure(context.Context, string, Credentials) error {
	return fmt.Errorf("nfc provisioning: %w", ErrNotImplemented)
}
func (nfc) Forget(context.Context, string) error {
	return fmt.Errorf("nfc provisioning: %w", ErrNotImplemented)
}
