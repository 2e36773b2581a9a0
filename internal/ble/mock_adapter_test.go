package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes, serves reads, and allows
// subscribing. The optional onWrite hook lets tests answer
// control-point writes with simulated data-out notifications; the
// onSubscribe hook lets tests inject faults mid-setup.
type mockCharacteristic struct {
	mu          sync.Mutex
	writes      [][]byte
	readValue   []byte
	writeErr    error
	callback    func([]byte)
	onWrite     func([]byte)
	onSubscribe func()
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readValue, nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	c.callback = cb
	hook := c.onSubscribe
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// SimulateNotification delivers a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writeLog() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// mockConnection simulates a connected peripheral exposing the
// provisioning triple at the well-known UUIDs, plus an optional
// enumeration list for the property-signature fallback.
type mockConnection struct {
	mu           sync.Mutex
	control      *mockCharacteristic
	dataOut      *mockCharacteristic
	info         *mockCharacteristic
	discoverErr  error                // force the UUID lookup to fail
	enumerated   []CharacteristicInfo // served by EnumerateCharacteristics
	enumerateErr error
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		control: &mockCharacteristic{},
		dataOut: &mockCharacteristic{},
		info:    &mockCharacteristic{},
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	switch charUUID {
	case ControlPointUUID:
		return c.control, nil
	case DataOutCharUUID:
		return c.dataOut, nil
	case InfoCharUUID:
		return c.info, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) EnumerateCharacteristics() ([]CharacteristicInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enumerateErr != nil {
		return nil, c.enumerateErr
	}
	return c.enumerated, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the registered disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdapter simulates the BLE radio. failConnects makes the first N
// Connect calls fail, which is how the hybrid-fallback tests force the
// standard path to lose.
type mockAdapter struct {
	mu           sync.Mutex
	devices      []Device
	scanErr      error
	failConnects int
	connectCalls int
	connection   *mockConnection
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices:    devices,
		connection: newMockConnection(),
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, filter ScanFilter) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanErr != nil {
		return nil, a.scanErr
	}
	if filter.ShowAll {
		return a.devices, nil
	}
	var out []Device
	for _, d := range a.devices {
		if d.Provisioning {
			out = append(out, d)
		}
	}
	return out, nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCalls++
	if a.connectCalls <= a.failConnects {
		return nil, fmt.Errorf("mock: connect refused (attempt %d)", a.connectCalls)
	}
	return a.connection, nil
}

func (a *mockAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls
}

// mockPairer records hybrid pairing invocations.
type mockPairer struct {
	mu      sync.Mutex
	calls   int
	pairErr error
}

func (p *mockPairer) Pair(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.pairErr
}

func (p *mockPairer) pairCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
