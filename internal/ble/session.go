package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection manager's state for one session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHybridPairing
	StateResolving
	StateSubscribing
	StateReady
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHybridPairing:
		return "hybrid-pairing"
	case StateResolving:
		return "resolving"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Pairer performs out-of-band pairing for the hybrid connection path.
type Pairer interface {
	Pair(ctx context.Context, addr string) error
}

// SessionOptions configures session establishment and the protocol engine.
type SessionOptions struct {
	UUIDs           ServiceUUIDs  // characteristic triple to resolve
	ConnectTimeout  time.Duration // per connect attempt
	Hybrid          bool          // permit the hybrid fallback path
	Pairer          Pairer        // out-of-band pairing mechanism for hybrid mode
	SettleDelay     time.Duration // wait after hybrid pairing before reconnecting
	ExchangeTimeout time.Duration // overall deadline per exchange attempt
	FragmentWindow  time.Duration // max gap between response fragments
	Retries         int           // extra write-and-wait cycles after a silent timeout
	WriteChunkSize  int           // max bytes per control-point write
	InterChunkDelay time.Duration // pause between chunked writes
	NotifyBuffer    int           // data-out notification channel depth
}

// DefaultSessionOptions returns the production defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		UUIDs:           DefaultUUIDs(),
		ConnectTimeout:  30 * time.Second,
		SettleDelay:     2 * time.Second,
		ExchangeTimeout: 5 * time.Second,
		FragmentWindow:  500 * time.Millisecond,
		Retries:         2,
		WriteChunkSize:  244,
		InterChunkDelay: 20 * time.Millisecond,
		NotifyBuffer:    16,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	def := DefaultSessionOptions()
	if o.UUIDs == (ServiceUUIDs{}) {
		o.UUIDs = def.UUIDs
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = def.SettleDelay
	}
	if o.ExchangeTimeout <= 0 {
		o.ExchangeTimeout = def.ExchangeTimeout
	}
	if o.FragmentWindow <= 0 {
		o.FragmentWindow = def.FragmentWindow
	}
	if o.Retries < 0 {
		o.Retries = def.Retries
	}
	if o.WriteChunkSize <= 0 {
		o.WriteChunkSize = def.WriteChunkSize
	}
	if o.InterChunkDelay < 0 {
		o.InterChunkDelay = def.InterChunkDelay
	}
	if o.NotifyBuffer <= 0 {
		o.NotifyBuffer = def.NotifyBuffer
	}
	return o
}

// Session is one logical interaction with one device. It exclusively
// owns the underlying connection from establishment until Close or a
// transport-reported disconnect.
type Session struct {
	addr string
	opts SessionOptions

	mu       sync.Mutex
	state    State
	conn     Connection
	endpoint *Endpoint
	inFlight bool
	hybrid   bool

	seq     atomic.Uint32
	notifCh chan []byte

	// pending holds chunks the engine consumed past a response's frame
	// boundary; they are handed out ahead of notifCh in arrival order.
	pending [][]byte
}

// Connect establishes a session: connect, resolve the characteristic
// triple, subscribe to data-out notifications. On a connect failure
// with hybrid mode permitted, it runs the out-of-band pairing mechanism
// once and retries the standard path exactly once; a second failure is
// terminal. Commands are only accepted once the session is Ready.
func Connect(ctx context.Context, adapter Adapter, addr string, opts SessionOptions) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{
		addr:    addr,
		opts:    opts,
		state:   StateIdle,
		notifCh: make(chan []byte, opts.NotifyBuffer),
	}

	if err := adapter.Enable(); err != nil {
		s.fail()
		return nil, fmt.Errorf("ble: enable adapter: %v: %w", err, ErrConnectionFailed)
	}

	conn, err := s.dial(ctx, adapter)
	if err != nil {
		s.fail()
		return nil, err
	}
	s.conn = conn
	conn.OnDisconnect(func() {
		slog.Warn("[BLE] device disconnected", "device", s.addr)
		s.markDisconnected()
	})

	s.setState(StateResolving)
	ep, err := Resolve(conn, opts.UUIDs)
	if err != nil {
		conn.Disconnect()
		s.fail()
		return nil, fmt.Errorf("ble: resolve on %s: %w", addr, err)
	}
	s.endpoint = ep

	// Subscription must be confirmed before any control-point write:
	// the device answers commands only via data-out notifications, and
	// an unsubscribed response is lost for good.
	s.setState(StateSubscribing)
	if err := ep.DataOut.Subscribe(s.onNotify); err != nil {
		conn.Disconnect()
		s.fail()
		return nil, fmt.Errorf("ble: subscribe data-out on %s: %v: %w", addr, err, ErrConnectionFailed)
	}

	s.setState(StateReady)
	slog.Info("[BLE] session ready", "device", addr, "hybrid", s.hybrid, "write_mode", ep.WriteMode.String())
	return s, nil
}

// dial runs the standard connect path, falling back to hybrid pairing
// once when permitted. Hybrid mode switches the pairing mechanism, it
// is not a retry loop.
func (s *Session) dial(ctx context.Context, adapter Adapter) (Connection, error) {
	s.setState(StateConnecting)
	conn, err := s.connectOnce(ctx, adapter)
	if err == nil {
		return conn, nil
	}
	slog.Warn("[BLE] standard connect failed", "device", s.addr, "error", err)

	if !s.opts.Hybrid || s.opts.Pairer == nil {
		return nil, fmt.Errorf("ble: connect to %s: %v: %w", s.addr, err, ErrConnectionFailed)
	}

	s.setState(StateHybridPairing)
	slog.Info("[BLE] switching to hybrid pairing", "device", s.addr)
	if err := s.opts.Pairer.Pair(ctx, s.addr); err != nil {
		return nil, fmt.Errorf("ble: hybrid pairing with %s: %v: %w", s.addr, err, ErrConnectionFailed)
	}

	// Let the peripheral settle after the external pairing agent ran.
	select {
	case <-time.After(s.opts.SettleDelay):
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %v: %w", s.addr, ctx.Err(), ErrConnectionFailed)
	}

	s.setState(StateConnecting)
	conn, err = s.connectOnce(ctx, adapter)
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s after hybrid pairing: %v: %w", s.addr, err, ErrConnectionFailed)
	}
	s.hybrid = true
	return conn, nil
}

func (s *Session) connectOnce(ctx context.Context, adapter Adapter) (Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	return adapter.Connect(ctx, s.addr)
}

// onNotify is the data-out notification callback. It bridges the
// transport's push model into the engine's synchronous wait via a
// bounded channel; a full channel drops the oldest pending chunk rather
// than blocking the transport callback.
func (s *Session) onNotify(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)
	for {
		select {
		case s.notifCh <- chunk:
			return
		default:
			select {
			case stale := <-s.notifCh:
				slog.Warn("[BLE] notification buffer full, dropping oldest chunk", "device", s.addr, "bytes", len(stale))
			default:
			}
		}
	}
}

// State returns the session's current connection-manager state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the peer device address.
func (s *Session) Address() string { return s.addr }

// Hybrid reports whether the hybrid pairing path was used.
func (s *Session) Hybrid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hybrid
}

// ReadInfo reads the info characteristic directly. No command round
// trip is involved; the value is static device/protocol version data.
func (s *Session) ReadInfo() ([]byte, error) {
	s.mu.Lock()
	ep := s.endpoint
	st := s.state
	s.mu.Unlock()
	if st != StateReady || ep == nil {
		return nil, fmt.Errorf("ble: read info on %s in state %s: %w", s.addr, st, ErrNotReady)
	}
	data, err := ep.Info.Read()
	if err != nil {
		return nil, fmt.Errorf("ble: read info on %s: %w", s.addr, err)
	}
	return data, nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.endpoint = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	if conn != nil {
		slog.Debug("[BLE] closing session", "device", s.addr)
		return conn.Disconnect()
	}
	return nil
}

// setState advances the session, except out of Disconnected: a
// transport disconnect that fires mid-setup must not be overwritten by
// the remaining setup steps.
func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) fail() {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.state = StateFailed
	}
	s.mu.Unlock()
}

// markDisconnected moves any state to Disconnected. Invoked from the
// transport's disconnect callback.
func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.state = StateDisconnected
	s.endpoint = nil
	s.mu.Unlock()
}
