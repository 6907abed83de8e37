package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrNotConnected reports an operation invoked outside the Connected
// state. This is a programming error in the caller, not a network fault.
var ErrNotConnected = errors.New("transport: not connected")

// Error wraps a socket-level failure. It is fatal to the current
// session; the transport does not retry.
type Error struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// DefaultReceiveTimeout bounds how long a single TryReceiveOnce call
// waits for an inbound message. An attempt that times out is an empty
// poll, not an error.
const DefaultReceiveTimeout = 5 * time.Second

// receiveBuffer is the capacity of the inbound message channel filled by
// the read pump.
const receiveBuffer = 32

// Transport is the exclusive owner of one websocket connection.
//
// A read pump goroutine performs the blocking reads and publishes raw
// messages on an internal channel; TryReceiveOnce drains that channel
// under the single-receive guard. A read deadline would poison a gorilla
// connection for all subsequent reads, so the pump is the only place a
// blocking read ever happens.
type Transport struct {
	url         string
	header      http.Header
	dialer      *websocket.Dialer
	recvTimeout time.Duration
	logger      *slog.Logger

	state atomic.Int32

	// writeMu serializes whole-frame writes; gorilla connections allow
	// only one concurrent writer.
	writeMu sync.Mutex
	conn    *websocket.Conn

	// recvBusy is the single-receive guard: at most one receive may be
	// in flight at a time.
	recvBusy atomic.Bool

	msgCh   chan []byte
	done    chan struct{} // closed by Close; releases a pump blocked on msgCh
	readErr atomic.Value  // error set by the pump before msgCh closes
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithReceiveTimeout bounds each receive attempt.
func WithReceiveTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.recvTimeout = d
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		t.dialer = d
	}
}

// New creates a Transport for the given websocket URL. The token is sent
// as a Bearer Authorization header on dial.
func New(url, token string, opts ...Option) *Transport {
	t := &Transport{
		url:         url,
		header:      http.Header{},
		dialer:      websocket.DefaultDialer,
		recvTimeout: DefaultReceiveTimeout,
		logger:      slog.Default(),
	}
	if token != "" {
		t.header.Set("Authorization", "Bearer "+token)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Connect dials the websocket and starts the read pump. Valid only from
// Disconnected.
func (t *Transport) Connect(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("transport: connect from state %s: %w", t.State(), ErrNotConnected)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		t.state.Store(int32(StateDisconnected))
		return &Error{Op: "dial", Err: err}
	}

	t.msgCh = make(chan []byte, receiveBuffer)
	t.done = make(chan struct{})
	t.conn = conn
	t.state.Store(int32(StateConnected))

	go t.readPump()

	t.logger.Debug("websocket connected", "url", t.url)
	return nil
}

// readPump performs the blocking reads for the connection's lifetime.
func (t *Transport) readPump() {
	defer close(t.msgCh)
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if t.State() != StateClosed &&
				websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure) {
				t.logger.Error("websocket read failed", "error", err)
			}
			t.readErr.Store(err)
			return
		}
		// conn.Close only unblocks ReadMessage, so a pump stuck on a
		// full buffer must watch for Close too.
		select {
		case t.msgCh <- msg:
		case <-t.done:
			return
		}
	}
}

// Send writes one complete frame to the socket.
func (t *Transport) Send(data []byte) error {
	if t.State() != StateConnected {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// TryReceiveOnce attempts exactly one receive. If another receive is
// already pending, it returns (nil, false, nil) immediately; callers
// poll in a loop. An attempt that waits out the receive timeout without
// a message is likewise an empty poll. Socket failure is fatal and
// surfaces as *Error.
func (t *Transport) TryReceiveOnce() ([]byte, bool, error) {
	if t.State() != StateConnected {
		return nil, false, ErrNotConnected
	}

	if !t.recvBusy.CompareAndSwap(false, true) {
		return nil, false, nil
	}
	defer t.recvBusy.Store(false)

	timer := time.NewTimer(t.recvTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-t.msgCh:
		if !ok {
			if t.State() == StateClosed {
				return nil, false, ErrNotConnected
			}
			err, _ := t.readErr.Load().(error)
			return nil, false, &Error{Op: "receive", Err: err}
		}
		return msg, true, nil
	case <-timer.C:
		return nil, false, nil
	}
}

// Close closes the socket. Idempotent: closing a closed transport is a
// no-op.
func (t *Transport) Close() error {
	prev := State(t.state.Swap(int32(StateClosed)))
	if prev == StateClosed || t.conn == nil {
		return nil
	}
	close(t.done)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	// Best-effort close handshake before tearing down the socket.
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	if err := t.conn.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	t.logger.Debug("websocket closed", "url", t.url)
	return nil
}
