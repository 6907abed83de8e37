package measurement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepaffex/dfx/pkg/api"
	"github.com/deepaffex/dfx/pkg/metrics"
	"github.com/deepaffex/dfx/pkg/protocol"
	"github.com/deepaffex/dfx/pkg/router"
)

// Conn is the transport surface the flows poll. *transport.Transport
// satisfies it.
type Conn interface {
	Send(data []byte) error
	TryReceiveOnce() ([]byte, bool, error)
}

// ErrAckTimeout reports that no add-data acknowledgement arrived within
// the ack-wait window.
var ErrAckTimeout = errors.New("measurement: timed out waiting for add-data ack")

// DefaultAckTimeout matches the vendor's per-call response window.
const DefaultAckTimeout = 10 * time.Second

// pollInterval spaces out receive attempts when another flow holds the
// transport's single-receive guard, so the losing loop does not spin.
const pollInterval = 5 * time.Millisecond

// Ack is the outcome of one chunk upload.
type Ack struct {
	// Aborted is set when the caller cancelled before an
	// acknowledgement arrived. Cancellation is a normal outcome, not
	// an error.
	Aborted bool

	// Status is the three-digit application status from the ack
	// message; Body is the raw ack message it was parsed from.
	Status int
	Body   []byte
}

// OK reports a successful upload.
func (a Ack) OK() bool {
	return !a.Aborted && a.Status == 200
}

// MeasurementClosed reports that the server closed the measurement
// (its duration window is exhausted); the caller should rotate to a new
// measurement and resend the chunk.
func (a Ack) MeasurementClosed() bool {
	if a.Aborted || (a.Status != 400 && a.Status != 405) {
		return false
	}
	return ackErrorCode(a.Body) == api.CodeMeasurementClosed
}

// ackErrorCode extracts the application error code from an ack body.
// Bodies are JSON when the server has one to give; older responses
// carry the bare code string, so a token search is the fallback.
func ackErrorCode(msg []byte) string {
	if len(msg) <= protocol.StatusEnd {
		return ""
	}
	body := msg[protocol.StatusEnd:]
	var env struct {
		Code string `json:"Code"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return env.Code
	}
	if bytes.Contains(body, []byte(api.CodeMeasurementClosed)) {
		return api.CodeMeasurementClosed
	}
	return ""
}

// Uploader pushes payload chunks to a measurement over the websocket
// and waits for their acknowledgements.
type Uploader struct {
	conn       Conn
	router     *router.Router
	connID     string
	ackTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithUploaderLogger sets the logger. Defaults to slog.Default().
func WithUploaderLogger(logger *slog.Logger) UploaderOption {
	return func(u *Uploader) {
		u.logger = logger
	}
}

// WithAckTimeout bounds the wait for an acknowledgement, measured from
// the last successful receive.
func WithAckTimeout(d time.Duration) UploaderOption {
	return func(u *Uploader) {
		u.ackTimeout = d
	}
}

// WithUploaderMetrics attaches Prometheus instrumentation.
func WithUploaderMetrics(m *metrics.Metrics) UploaderOption {
	return func(u *Uploader) {
		u.metrics = m
	}
}

// NewUploader creates an Uploader. connID is the session's ten-character
// request ID, stamped on every outbound frame so the server's responses
// come back addressed to this client.
func NewUploader(conn Conn, r *router.Router, connID string, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		conn:       conn,
		router:     r,
		connID:     connID,
		ackTimeout: DefaultAckTimeout,
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/deepaffex/dfx/pkg/measurement"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UploadChunk sends one payload chunk to the measurement and polls
// until its acknowledgement arrives. One logical upload is exactly one
// frame on the wire; the only looping is on the receive side.
// Cancellation returns Ack{Aborted: true} with a nil error.
func (u *Uploader) UploadChunk(ctx context.Context, measurementID string, chunk Chunk) (Ack, error) {
	ctx, span := u.tracer.Start(ctx, "dfx.UploadChunk", trace.WithAttributes(
		attribute.String("dfx.measurement_id", measurementID),
		attribute.Int("dfx.chunk_order", chunk.Order),
		attribute.String("dfx.chunk_action", chunk.Action()),
	))
	defer span.End()

	meta, err := chunk.metaJSON()
	if err != nil {
		return Ack{}, err
	}

	body := (&protocol.DataRequest{
		MeasurementID: measurementID,
		ChunkOrder:    chunk.orderString(),
		Action:        chunk.Action(),
		StartTime:     chunk.StartTime,
		EndTime:       chunk.EndTime,
		Duration:      chunk.Duration,
		Meta:          meta,
		Payload:       chunk.Payload,
	}).Marshal()

	frame := protocol.EncodeFrame(protocol.ActionAddData, u.connID, body)
	if err := u.conn.Send(frame); err != nil {
		u.metrics.TransportError()
		return Ack{}, err
	}
	u.logger.Debug("chunk sent",
		"measurement_id", measurementID,
		"order", chunk.Order,
		"action", chunk.Action(),
		"payload_bytes", len(chunk.Payload))

	lastReceive := time.Now()
	for {
		select {
		case <-ctx.Done():
			return Ack{Aborted: true}, nil
		default:
		}

		msg, ok, err := u.conn.TryReceiveOnce()
		if err != nil {
			u.metrics.TransportError()
			return Ack{}, err
		}
		if ok {
			u.router.Ingest(msg)
			u.metrics.FrameReceived(protocol.Classify(msg))
			lastReceive = time.Now()
		}

		if resp, found := u.router.PopAddDataStatus(); found {
			status, err := protocol.StatusCode(resp)
			if err != nil {
				return Ack{}, err
			}
			u.metrics.UploadAck(status)
			return Ack{Status: status, Body: resp}, nil
		}

		if !ok {
			if time.Since(lastReceive) > u.ackTimeout {
				return Ack{}, ErrAckTimeout
			}
			time.Sleep(pollInterval)
		}
	}
}
