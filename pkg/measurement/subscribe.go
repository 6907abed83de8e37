package measurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deepaffex/dfx/pkg/metrics"
	"github.com/deepaffex/dfx/pkg/protocol"
	"github.com/deepaffex/dfx/pkg/router"
	"github.com/deepaffex/dfx/pkg/sink"
)

// SubscriptionRejectedError reports a non-200 subscribe status. The
// measurement is dead to this subscription: the ID is likely invalid or
// access is denied, and the caller must create a new measurement before
// retrying.
type SubscriptionRejectedError struct {
	Status int
}

// Error implements the error interface.
func (e *SubscriptionRejectedError) Error() string {
	return fmt.Sprintf("measurement: subscribe rejected with status %d (check measurement ID)", e.Status)
}

// Subscriber drains one measurement's result stream into a sink.
type Subscriber struct {
	conn    Conn
	router  *router.Router
	connID  string
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger. Defaults to slog.Default().
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithSubscriberMetrics attaches Prometheus instrumentation.
func WithSubscriberMetrics(m *metrics.Metrics) SubscriberOption {
	return func(s *Subscriber) {
		s.metrics = m
	}
}

// NewSubscriber creates a Subscriber sharing the uploader's transport,
// router and session request ID.
func NewSubscriber(conn Conn, r *router.Router, connID string, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		conn:   conn,
		router: r,
		connID: connID,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/deepaffex/dfx/pkg/measurement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe requests the measurement's result stream and delivers
// result-chunk payloads to snk until this call's quota is met. The
// quota is min(cursor.ChunksRemaining, cursor.MaxChunks); the cursor is
// decremented by exactly that amount. done is true once the cursor is
// exhausted. Longer recordings call Subscribe again for each rotated
// measurement while done is false.
//
// There is no local timeout: the loop runs until quota or cancellation.
// The server's measurement window is enforced server-side and surfaces
// as a status code. Cancellation returns (true, delivered, nil); a
// non-200 subscribe status is a hard *SubscriptionRejectedError
// regardless of cancellation state.
func (s *Subscriber) Subscribe(ctx context.Context, measurementID string, startChunk int, snk sink.Sink, cursor *Cursor) (done bool, delivered int, err error) {
	if cursor.ChunksRemaining < 0 {
		return false, 0, ErrInvalidQuota
	}

	ctx, span := s.tracer.Start(ctx, "dfx.Subscribe", trace.WithAttributes(
		attribute.String("dfx.measurement_id", measurementID),
		attribute.Int("dfx.start_chunk", startChunk),
	))
	defer span.End()

	body := (&protocol.SubscribeResultsRequest{
		MeasurementID: measurementID,
		RequestID:     s.connID,
	}).Marshal()

	frame := protocol.EncodeFrame(protocol.ActionSubscribeResults, s.connID, body)
	if err := s.conn.Send(frame); err != nil {
		s.metrics.TransportError()
		return false, 0, err
	}

	allocate, err := cursor.Allocate()
	if err != nil {
		return false, 0, err
	}
	s.logger.Debug("subscribed to results",
		"measurement_id", measurementID,
		"start_chunk", startChunk,
		"allocate", allocate)

	for delivered < allocate {
		select {
		case <-ctx.Done():
			return true, delivered, nil
		default:
		}

		msg, ok, recvErr := s.conn.TryReceiveOnce()
		if recvErr != nil {
			s.metrics.TransportError()
			return false, delivered, recvErr
		}
		if ok {
			s.router.Ingest(msg)
			s.metrics.FrameReceived(protocol.Classify(msg))
		}

		// Status responses outrank data: a rejection must surface even
		// when chunks from an earlier subscription are still queued.
		if status, found := s.router.PopSubscribeStatus(); found {
			code, err := protocol.StatusCode(status)
			if err != nil {
				return false, delivered, err
			}
			if code != 200 {
				return false, delivered, &SubscriptionRejectedError{Status: code}
			}
			continue
		}

		if chunk, found := s.router.PopResultChunk(); found {
			if err := snk.Push(ctx, protocol.ChunkPayload(chunk)); err != nil {
				return false, delivered, fmt.Errorf("measurement: deliver chunk %d: %w", startChunk+delivered, err)
			}
			delivered++
			s.metrics.ChunkDelivered()
		} else if !ok {
			time.Sleep(pollInterval)
		}
	}

	return cursor.Done(), delivered, nil
}
