package measurement

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/deepaffex/dfx/pkg/protocol"
	"github.com/deepaffex/dfx/pkg/router"
	"github.com/deepaffex/dfx/pkg/sink"
)

// subStatus builds a subscribe status message (exactly 13 bytes).
func subStatus(status string) []byte {
	return append([]byte(testConnID), []byte(status)...)
}

// collectSink records every pushed payload.
type collectSink struct {
	payloads [][]byte
}

func (c *collectSink) Push(_ context.Context, payload []byte) error {
	c.payloads = append(c.payloads, payload)
	return nil
}

func resultPayload(i int) []byte {
	return bytes.Repeat([]byte{byte(i)}, 64)
}

func TestSubscribeDeliversAllChunks(t *testing.T) {
	inbox := [][]byte{subStatus("200")}
	for i := 0; i < 4; i++ {
		inbox = append(inbox, resultMsg(resultPayload(i)))
	}
	conn := &fakeConn{inbox: inbox}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)
	cursor := NewCursor(4, 8)
	snk := &collectSink{}

	done, delivered, err := s.Subscribe(context.Background(), "m-1", 0, snk, cursor)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !done || delivered != 4 {
		t.Errorf("Subscribe() = (%v, %d), want (true, 4)", done, delivered)
	}
	if len(snk.payloads) != 4 {
		t.Fatalf("sink got %d payloads, want 4", len(snk.payloads))
	}
	// Payload delivery strips the 13-byte message header.
	for i, p := range snk.payloads {
		if !bytes.Equal(p, resultPayload(i)) {
			t.Errorf("payload %d = %v, want header stripped", i, p[:4])
		}
	}

	// The subscribe request itself goes out as one frame.
	if len(conn.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(conn.sent))
	}
	action, requestID, body, err := protocol.DecodeFrame(conn.sent[0])
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if action != protocol.ActionSubscribeResults || requestID != testConnID {
		t.Errorf("frame header = (%q, %q)", action, requestID)
	}
	req, err := protocol.UnmarshalSubscribeResultsRequest(body)
	if err != nil {
		t.Fatalf("UnmarshalSubscribeResultsRequest() error = %v", err)
	}
	if req.MeasurementID != "m-1" || req.RequestID != testConnID {
		t.Errorf("request = %+v", req)
	}
}

func TestSubscribeCappedByMeasurementWindow(t *testing.T) {
	// 10 chunks wanted but the measurement holds 8: the pass delivers 8
	// and reports the recording unfinished, so the caller rotates.
	inbox := [][]byte{subStatus("200")}
	for i := 0; i < 8; i++ {
		inbox = append(inbox, resultMsg(resultPayload(i)))
	}
	conn := &fakeConn{inbox: inbox}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)
	cursor := NewCursor(10, 8)

	done, delivered, err := s.Subscribe(context.Background(), "m-1", 0, &collectSink{}, cursor)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if done || delivered != 8 {
		t.Errorf("Subscribe() = (%v, %d), want (false, 8)", done, delivered)
	}
	if cursor.ChunksRemaining != 2 {
		t.Errorf("ChunksRemaining = %d, want 2", cursor.ChunksRemaining)
	}
}

func TestSubscribeRejected(t *testing.T) {
	conn := &fakeConn{inbox: [][]byte{subStatus("404")}}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)

	_, delivered, err := s.Subscribe(context.Background(), "m-1", 0, &collectSink{}, NewCursor(4, 8))
	var rejected *SubscriptionRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Subscribe() error = %v, want *SubscriptionRejectedError", err)
	}
	if rejected.Status != 404 {
		t.Errorf("Status = %d, want 404", rejected.Status)
	}
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
}

func TestSubscribeInvalidQuota(t *testing.T) {
	conn := &fakeConn{}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)
	cursor := &Cursor{ChunksRemaining: -1, MaxChunks: 8}

	_, _, err := s.Subscribe(context.Background(), "m-1", 0, &collectSink{}, cursor)
	if !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("Subscribe() error = %v, want ErrInvalidQuota", err)
	}
	// The quota check happens before anything touches the wire.
	if len(conn.sent) != 0 {
		t.Errorf("sent %d frames, want 0", len(conn.sent))
	}
}

func TestSubscribeCancelled(t *testing.T) {
	inbox := [][]byte{subStatus("200")}
	for i := 0; i < 4; i++ {
		inbox = append(inbox, resultMsg(resultPayload(i)))
	}
	conn := &fakeConn{inbox: inbox}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)

	ctx, cancel := context.WithCancel(context.Background())
	pushed := 0
	snk := sink.Func(func(_ context.Context, _ []byte) error {
		pushed++
		if pushed == 2 {
			cancel()
		}
		return nil
	})

	done, delivered, err := s.Subscribe(ctx, "m-1", 0, snk, NewCursor(4, 8))
	if err != nil {
		t.Fatalf("Subscribe() error = %v, want nil on cancellation", err)
	}
	if !done || delivered != 2 {
		t.Errorf("Subscribe() = (%v, %d), want (true, 2)", done, delivered)
	}
}

func TestSubscribeSinkError(t *testing.T) {
	boom := errors.New("downstream full")
	inbox := [][]byte{subStatus("200"), resultMsg(resultPayload(0))}
	conn := &fakeConn{inbox: inbox}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)
	snk := sink.Func(func(_ context.Context, _ []byte) error {
		return boom
	})

	_, delivered, err := s.Subscribe(context.Background(), "m-1", 0, snk, NewCursor(4, 8))
	if !errors.Is(err, boom) {
		t.Fatalf("Subscribe() error = %v, want wrapped sink error", err)
	}
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
}

func TestSubscribeTransportError(t *testing.T) {
	boom := errors.New("socket failed")
	conn := &fakeConn{recvErr: boom}
	s := NewSubscriber(conn, router.New(testConnID), testConnID)

	_, _, err := s.Subscribe(context.Background(), "m-1", 0, &collectSink{}, NewCursor(4, 8))
	if !errors.Is(err, boom) {
		t.Errorf("Subscribe() error = %v, want transport error", err)
	}
}

func TestSubscribeStatusOutranksQueuedChunks(t *testing.T) {
	// With both a queued chunk and a rejection pending, the rejection
	// surfaces first and nothing reaches the sink.
	r := router.New(testConnID)
	r.Ingest(resultMsg(resultPayload(0)))
	r.Ingest(subStatus("500"))
	s := NewSubscriber(&fakeConn{}, r, testConnID)

	snk := &collectSink{}
	_, delivered, err := s.Subscribe(context.Background(), "m-1", 0, snk, NewCursor(4, 8))
	var rejected *SubscriptionRejectedError
	if !errors.As(err, &rejected) || rejected.Status != 500 {
		t.Fatalf("Subscribe() error = %v, want rejection with status 500", err)
	}
	if delivered != 0 || len(snk.payloads) != 0 {
		t.Errorf("delivered = %d, sink = %d payloads, want none", delivered, len(snk.payloads))
	}
}
