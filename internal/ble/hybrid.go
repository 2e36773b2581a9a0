package ble

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// BluetoothctlPairer pairs through the system bluetoothctl utility.
// Some peripherals reject the stack's own pairing path (agent quirks,
// security-level negotiation bugs) but pair fine through BlueZ's
// interactive agent; driving bluetoothctl out-of-process and then
// reconnecting with the regular stack is the hybrid path.
type BluetoothctlPairer struct {
	Path    string        // bluetoothctl binary, default "bluetoothctl"
	Timeout time.Duration // overall budget for the scripted session
}

var _ Pairer = (*BluetoothctlPairer)(nil)

// Pair removes any stale bond for addr, then runs a scripted
// pair/trust/connect session and checks the transcript for a
// confirmed connection.
func (p *BluetoothctlPairer) Pair(ctx context.Context, addr string) error {
	path := p.Path
	if path == "" {
		path = "bluetoothctl"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A stale bond makes pair fail with "already exists"; remove first
	// and ignore the error when there was nothing to remove.
	if out, err := exec.CommandContext(ctx, path, "remove", addr).CombinedOutput(); err != nil {
		slog.Debug("[BLE] bluetoothctl remove", "device", addr, "output", strings.TrimSpace(string(out)))
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = strings.NewReader(pairingScript(addr))
	out, err := cmd.CombinedOutput()
	transcript := string(out)
	slog.Debug("[BLE] bluetoothctl transcript", "device", addr, "output", transcript)
	if err != nil {
		return fmt.Errorf("ble: bluetoothctl: %v: %s", err, firstLines(transcript, 3))
	}
	if !pairingConfirmed(transcript) {
		return fmt.Errorf("ble: bluetoothctl finished without confirming connection to %s", addr)
	}
	slog.Info("[BLE] paired and trusted via bluetoothctl", "device", addr)
	return nil
}

func pairingScript(addr string) string {
	return strings.Join([]string{
		"power on",
		"agent on",
		"default-agent",
		"pair " + addr,
		"trust " + addr,
		"connect " + addr,
		"quit",
	}, "\n") + "\n"
}

// pairingConfirmed scans a bluetoothctl transcript for evidence that
// the connect step succeeded.
func pairingConfirmed(transcript string) bool {
	return strings.Contains(transcript, "Connection successful") ||
		strings.Contains(transcript, "Connected: yes")
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, " / ")
}
