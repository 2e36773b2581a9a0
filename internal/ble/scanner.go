package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ScanOptions controls one discovery window.
type ScanOptions struct {
	Window      time.Duration // how long the radio scans
	ShowAll     bool          // include devices not advertising the provisioning service
	ServiceUUID string        // defaults to ServiceUUID
}

// DefaultScanOptions returns the standard discovery window.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Window:      10 * time.Second,
		ServiceUUID: ServiceUUID,
	}
}

// Scan opens one discovery window and returns the peripherals seen,
// strongest signal first. Each call is an independent window; the
// adapter's scanning mode is released when it returns.
func Scan(ctx context.Context, adapter Adapter, opts ScanOptions) ([]Device, error) {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = ServiceUUID
	}

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Window)
	defer cancel()

	slog.Debug("[BLE] scanning", "window", opts.Window, "show_all", opts.ShowAll)
	devices, err := adapter.Scan(ctx, ScanFilter{
		ServiceUUID: opts.ServiceUUID,
		ShowAll:     opts.ShowAll,
	})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})
	slog.Debug("[BLE] scan complete", "devices", len(devices))
	return devices, nil
}

// FindDevice scans until the given address is seen or the window closes.
func FindDevice(ctx context.Context, adapter Adapter, addr string, opts ScanOptions) (Device, error) {
	opts.ShowAll = true // address lookup should not depend on the advert payload
	devices, err := Scan(ctx, adapter, opts)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.Address == addr {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("ble: %s: %w", addr, ErrDeviceNotFound)
}
