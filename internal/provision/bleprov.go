package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/tlangford/wifiprov/internal/ble"
	"github.com/tlangford/wifiprov/internal/wire"
)

// BLE provisions over the Bluetooth LE transport. Each operation opens
// its own session (connect, resolve, subscribe), runs its round trips,
// and disconnects — the device firmware expects short-lived
// provisioning links.
type BLE struct {
	Adapter ble.Adapter
	Session ble.SessionOptions
	Scan0   ble.ScanOptions // discovery window settings

	// ScanWindow bounds the collection of WiFi scan-result frames. It is
	// independent of, and longer than, the per-exchange timeout since a
	// scan spans many notifications.
	ScanWindow time.Duration

	// LinkWait bounds the post-configure wait for the device's
	// connection-state report.
	LinkWait time.Duration
}

var _ Provisioner = (*BLE)(nil)

func (p *BLE) scanWindow() time.Duration {
	if p.ScanWindow > 0 {
		return p.ScanWindow
	}
	return 15 * time.Second
}

func (p *BLE) linkWait() time.Duration {
	if p.LinkWait > 0 {
		return p.LinkWait
	}
	return 10 * time.Second
}

// Discover lists peripherals advertising the provisioning service.
func (p *BLE) Discover(ctx context.Context) ([]ble.Device, error) {
	return ble.Scan(ctx, p.Adapter, p.Scan0)
}

func (p *BLE) connect(ctx context.Context, device string) (*ble.Session, error) {
	// Confirm the target is advertising before dialing: an absent
	// device reports as not found rather than as a failed connect
	// attempt.
	if _, err := ble.FindDevice(ctx, p.Adapter, device, p.Scan0); err != nil {
		return nil, err
	}
	return ble.Connect(ctx, p.Adapter, device, p.Session)
}

// Status performs one GET_STATUS round trip and reads the info
// characteristic for the protocol version.
func (p *BLE) Status(ctx context.Context, device string) (*DeviceStatus, error) {
	session, err := p.connect(ctx, device)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	resp, err := session.Exchange(ctx, &wire.Request{OpCode: wire.OpGetStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusSuccess {
		return nil, fmt.Errorf("provision: GET_STATUS on %s: device reported %s", device, resp.Status)
	}

	status := decodeStatus(resp.DeviceStatus)

	// Best effort: version is informational and some firmware revisions
	// leave the info characteristic empty.
	if raw, err := session.ReadInfo(); err == nil && len(raw) > 0 {
		if info, err := wire.DecodeInfo(raw); err == nil {
			status.Version = info.Version
		}
	}
	return status, nil
}

func decodeStatus(ds *wire.DeviceStatus) *DeviceStatus {
	if ds == nil {
		return &DeviceStatus{State: wire.StateDisconnected.String()}
	}
	out := &DeviceStatus{
		State:     ds.State.String(),
		IPAddress: ds.IPv4Addr,
	}
	if ds.Wifi != nil {
		out.SSID = string(ds.Wifi.SSID)
		out.Channel = int(ds.Wifi.Channel)
		if len(ds.Wifi.BSSID) > 0 {
			out.BSSID = net.HardwareAddr(ds.Wifi.BSSID).String()
		}
	}
	return out
}

// Scan asks the device to scan for WiFi networks, then collects the
// result frames. The firmware streams each network as its own discrete
// notification frame; every frame is decoded independently rather than
// accumulated into one reassembly buffer. Collection ends at the
// device's scan-done marker or at the scan deadline, whichever comes
// first; deadline expiry returns the partial set marked incomplete.
func (p *BLE) Scan(ctx context.Context, device string) (*ScanOutcome, error) {
	session, err := p.connect(ctx, device)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	window := p.scanWindow()
	req := &wire.Request{
		OpCode: wire.OpStartScan,
		ScanParams: &wire.ScanParams{
			Band:     wire.BandAny,
			Passive:  false,
			PeriodMS: uint32(window / time.Millisecond),
		},
	}
	resp, err := session.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusSuccess {
		return nil, fmt.Errorf("provision: START_SCAN on %s: device reported %s", device, resp.Status)
	}

	outcome := &ScanOutcome{}
	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	for {
		frame, err := session.NextNotification(scanCtx)
		if err != nil {
			// Deadline: hand back what arrived, marked incomplete, and
			// tell the device to stop scanning.
			slog.Warn("[PROV] scan window closed before scan-done marker",
				"device", device, "networks", len(outcome.Networks))
			stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
			if _, err := session.Exchange(stopCtx, &wire.Request{OpCode: wire.OpStopScan}); err != nil {
				slog.Debug("[PROV] STOP_SCAN failed", "device", device, "error", err)
			}
			stopCancel()
			return outcome, nil
		}

		result, err := wire.DecodeResult(frame)
		if err != nil {
			slog.Warn("[PROV] discarding undecodable scan frame", "device", device, "bytes", len(frame), "error", err)
			continue
		}
		if result.ScanDone {
			outcome.Complete = true
			return outcome, nil
		}
		if result.ScanRecord != nil && result.ScanRecord.Wifi != nil {
			outcome.Networks = append(outcome.Networks, decodeNetwork(result.ScanRecord))
		}
	}
}

func decodeNetwork(rec *wire.ScanRecord) Network {
	w := rec.Wifi
	n := Network{
		SSID:    string(w.SSID),
		Channel: int(w.Channel),
		Auth:    w.Auth.String(),
		Band:    w.Band.String(),
		RSSI:    int(rec.RSSI),
	}
	if len(w.BSSID) > 0 {
		n.BSSID = net.HardwareAddr(w.BSSID).String()
	}
	return n
}

// Configure sends the credentials in one SET_CONFIG round trip, then
// watches the connection-state result frames until the device reports
// the join outcome. A CONNECTION_FAILED report with an authentication
// reason maps to ErrAuthenticationFailed.
func (p *BLE) Configure(ctx context.Context, device string, creds Credentials) error {
	session, err := p.connect(ctx, device)
	if err != nil {
		return err
	}
	defer session.Close()

	req := &wire.Request{
		OpCode: wire.OpSetConfig,
		Config: &wire.WifiConfig{
			Wifi: &wire.WifiInfo{
				SSID: []byte(creds.SSID),
				Band: wire.BandAny,
				Auth: creds.Auth,
			},
			Passphrase: []byte(creds.Password),
			Volatile:   creds.Volatile,
		},
	}
	resp, err := session.Exchange(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusSuccess {
		return fmt.Errorf("provision: SET_CONFIG on %s: device reported %s", device, resp.Status)
	}

	return p.awaitLink(ctx, session, device)
}

// awaitLink watches result frames for the join outcome. Hearing nothing
// before the wait expires is not a failure — the command was acked and
// some firmware revisions only report state on the next GET_STATUS.
func (p *BLE) awaitLink(ctx context.Context, session *ble.Session, device string) error {
	linkCtx, cancel := context.WithTimeout(ctx, p.linkWait())
	defer cancel()

	for {
		frame, err := session.NextNotification(linkCtx)
		if err != nil {
			slog.Debug("[PROV] no connection report before deadline, config acked", "device", device)
			return nil
		}
		result, err := wire.DecodeResult(frame)
		if err != nil || result.State == nil {
			continue
		}
		switch *result.State {
		case wire.StateConnected:
			slog.Info("[PROV] device joined network", "device", device)
			return nil
		case wire.StateConnectionFailed:
			if result.Reason != nil && *result.Reason == wire.ReasonAuthError {
				return fmt.Errorf("provision: %s rejected credentials: %w", device, ErrAuthenticationFailed)
			}
			reason := "unspecified"
			if result.Reason != nil {
				reason = result.Reason.String()
			}
			return fmt.Errorf("provision: %s failed to join network: %s", device, reason)
		default:
			// intermediate state (authentication, association, dhcp)
			slog.Debug("[PROV] connection progress", "device", device, "state", result.State.String())
		}
	}
}

// Forget clears the stored configuration in one FORGET_CONFIG round
// trip. Devices configured volatile still ack this as a no-op.
func (p *BLE) Forget(ctx context.Context, device string) error {
	session, err := p.connect(ctx, device)
	if err != nil {
		return err
	}
	defer session.Close()

	resp, err := session.Exchange(ctx, &wire.Request{OpCode: wire.OpForgetConfig})
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusSuccess {
		return fmt.Errorf("provision: FORGET_CONFIG on %s: device reported %s", device, resp.Status)
	}
	return nil
}
