package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/tlangford/wifiprov/internal/wire"
)

// Exchange performs one synchronous command/response round trip: encode
// the request, write it to the control point (chunked when oversized),
// and await the correlated response on data-out. A silent timeout is
// retried with the same command up to the configured budget; decode
// failures are never retried. Exactly one exchange may be in flight
// per session — a second concurrent call is a caller bug and fails with
// ErrExchangeInFlight.
func (s *Session) Exchange(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("ble: encode %s: %v: %w", req.OpCode, err, ErrEncoding)
	}

	if err := s.beginExchange(); err != nil {
		return nil, fmt.Errorf("ble: %s on %s: %w", req.OpCode, s.addr, err)
	}
	defer s.endExchange()

	seq := s.seq.Add(1)
	attempts := s.opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := s.attempt(ctx, req.OpCode, payload, seq, attempt)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrProtocolTimeout) {
			// Structural failures are not retried: the payload the
			// device sent (or refused to send) will not change.
			return nil, err
		}
		lastErr = err
		slog.Warn("[BLE] exchange timed out", "op", req.OpCode.String(), "device", s.addr,
			"seq", seq, "attempt", attempt, "of", attempts)
	}
	return nil, fmt.Errorf("ble: %s on %s: %d attempts: %w", req.OpCode, s.addr, attempts, lastErr)
}

func (s *Session) beginExchange() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return fmt.Errorf("state %s: %w", s.state, ErrNotReady)
	}
	if s.inFlight {
		return ErrExchangeInFlight
	}
	s.inFlight = true
	return nil
}

func (s *Session) endExchange() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Session) attempt(ctx context.Context, op wire.OpCode, payload []byte, seq uint32, attempt int) (*wire.Response, error) {
	s.drainNotifications()

	if err := s.writeChunked(payload); err != nil {
		return nil, fmt.Errorf("ble: write %s to %s: %v: %w", op, s.addr, err, ErrProtocolTimeout)
	}
	slog.Debug("[BLE] command written", "op", op.String(), "device", s.addr, "seq", seq,
		"attempt", attempt, "bytes", len(payload))

	return s.awaitResponse(ctx, op)
}

// writeChunked writes the payload to the control point, one awaited
// chunk at a time. BLE stacks serialize writes per connection; issuing
// them sequentially keeps fragments from interleaving mid-flight.
func (s *Session) writeChunked(payload []byte) error {
	s.mu.Lock()
	ep := s.endpoint
	s.mu.Unlock()
	if ep == nil {
		return ErrNotReady
	}

	chunks := chunkPayload(payload, s.opts.WriteChunkSize)
	for i, chunk := range chunks {
		if err := ep.ControlPoint.Write(chunk); err != nil {
			return err
		}
		if i < len(chunks)-1 && s.opts.InterChunkDelay > 0 {
			time.Sleep(s.opts.InterChunkDelay)
		}
	}
	return nil
}

// awaitResponse reassembles data-out fragments until the codec yields a
// response correlated to op. A clean decode of the accumulated buffer
// is only a completion candidate: protobuf is not self-delimiting, and
// a prefix cut at a field boundary also decodes cleanly, so the
// candidate is accepted once the quiescence window passes with no
// further chunk. A chunk that arrives on a settled candidate but does
// not extend it into a changed clean decode marks a frame boundary
// instead — the candidate is the whole response and the chunk starts
// the next discrete frame (scan results and link reports follow their
// command's ack without a pause), so it is held for NextNotification.
// DecodeResponse rejects repeated or regressing field numbers, which is
// what makes a buffer running into the next frame decode dirty. The same
// window bounds the gap between fragments while the buffer is still
// undecodable — stalling there is a decode failure, not a timeout.
// Fragments are assumed to arrive in transmission order.
func (s *Session) awaitResponse(ctx context.Context, op wire.OpCode) (*wire.Response, error) {
	overall := time.NewTimer(s.opts.ExchangeTimeout)
	defer overall.Stop()

	var buf fragmentBuffer
	defer buf.Reset()

	var quiesce *time.Timer
	var quiesceC <-chan time.Time
	defer func() {
		if quiesce != nil {
			quiesce.Stop()
		}
	}()

	// accept validates the correlation of a settled candidate. A frame
	// answering some other command is incompatible with the
	// single-outstanding-request model and counts as a decode failure.
	accept := func(resp *wire.Response) (*wire.Response, error) {
		if resp.OpCode != op {
			return nil, fmt.Errorf("ble: %s on %s: response correlates to %s: %w",
				op, s.addr, resp.OpCode, ErrEncoding)
		}
		return resp, nil
	}

	var candidate *wire.Response
	var lastDecodeErr error
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ble: await %s on %s: %w", op, s.addr, ctx.Err())

		case <-overall.C:
			if candidate != nil {
				return accept(candidate)
			}
			if buf.Len() == 0 {
				return nil, ErrProtocolTimeout
			}
			return nil, fmt.Errorf("ble: %s on %s: %d bytes left unreassembled at deadline: %w",
				op, s.addr, buf.Len(), ErrEncoding)

		case <-quiesceC:
			if candidate != nil {
				return accept(candidate)
			}
			return nil, fmt.Errorf("ble: %s on %s: response stalled after %d bytes (%v): %w",
				op, s.addr, buf.Len(), lastDecodeErr, ErrEncoding)

		case chunk := <-s.notifCh:
			buf.Append(chunk)
			resp, err := wire.DecodeResponse(buf.Bytes())
			switch {
			case err == nil && (candidate == nil || !reflect.DeepEqual(resp, candidate)):
				candidate = resp
				lastDecodeErr = nil
			case candidate != nil:
				// The chunk either breaks the decode or adds nothing the
				// response recognizes: the response ended at the previous
				// chunk and this one starts the next frame.
				s.holdNotification(chunk)
				return accept(candidate)
			default:
				lastDecodeErr = err
			}
			if quiesce == nil {
				quiesce = time.NewTimer(s.opts.FragmentWindow)
				quiesceC = quiesce.C
			} else {
				if !quiesce.Stop() {
					<-quiesce.C
				}
				quiesce.Reset(s.opts.FragmentWindow)
			}
		}
	}
}

// NextNotification returns the next raw data-out notification. Scan
// results stream as discrete frames outside the exchange cycle; the
// provisioning layer decodes each frame independently.
func (s *Session) NextNotification(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateReady {
		return nil, fmt.Errorf("ble: notifications on %s in state %s: %w", s.addr, st, ErrNotReady)
	}
	s.mu.Lock()
	if len(s.pending) > 0 {
		data := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-s.notifCh:
		return data, nil
	}
}

// holdNotification queues a chunk the exchange engine read past its
// response's frame boundary, to be replayed ahead of notifCh.
func (s *Session) holdNotification(chunk []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, chunk)
	s.mu.Unlock()
}

// drainNotifications discards stale chunks left over from a previous
// attempt so they cannot be mistaken for the new response.
func (s *Session) drainNotifications() {
	s.mu.Lock()
	held := len(s.pending)
	s.pending = nil
	s.mu.Unlock()
	if held > 0 {
		slog.Debug("[BLE] discarding held notifications", "device", s.addr, "frames", held)
	}
	for {
		select {
		case stale := <-s.notifCh:
			slog.Debug("[BLE] discarding stale notification", "device", s.addr, "bytes", len(stale))
		default:
			return
		}
	}
}
