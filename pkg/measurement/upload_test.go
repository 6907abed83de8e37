package measurement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deepaffex/dfx/pkg/protocol"
	"github.com/deepaffex/dfx/pkg/router"
)

const testConnID = "a1b2c3d4e5"

// fakeConn scripts the transport: each TryReceiveOnce pops one inbox
// message, or reports an empty poll once the inbox is drained.
type fakeConn struct {
	sent    [][]byte
	inbox   [][]byte
	sendErr error
	recvErr error
}

func (f *fakeConn) Send(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) TryReceiveOnce() ([]byte, bool, error) {
	if f.recvErr != nil {
		return nil, false, f.recvErr
	}
	if len(f.inbox) == 0 {
		return nil, false, nil
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, true, nil
}

// ackMsg builds an add-data status message (total length 14..60).
func ackMsg(status string, body string) []byte {
	msg := append([]byte(testConnID), []byte(status)...)
	msg = append(msg, []byte(body)...)
	if len(msg) == protocol.SubscribeStatusLen {
		msg = append(msg, ' ')
	}
	return msg
}

// resultMsg builds a result-chunk message (>60 bytes) around a payload.
func resultMsg(payload []byte) []byte {
	header := append([]byte(testConnID), []byte("200")...)
	return append(header, payload...)
}

func testChunk() Chunk {
	return Chunk{
		Order:     1,
		Total:     4,
		StartTime: "15.0",
		EndTime:   "30.0",
		Duration:  "15.0",
		Payload:   bytes.Repeat([]byte{0x42}, 64),
		Meta:      map[string]any{"Valid": 1},
	}
}

func TestUploadChunkSuccess(t *testing.T) {
	conn := &fakeConn{inbox: [][]byte{ackMsg("200", " OK")}}
	r := router.New(testConnID)
	u := NewUploader(conn, r, testConnID)

	ack, err := u.UploadChunk(context.Background(), "m-1", testChunk())
	if err != nil {
		t.Fatalf("UploadChunk() error = %v", err)
	}
	if !ack.OK() {
		t.Errorf("ack = %+v, want OK", ack)
	}

	// Exactly one frame on the wire per logical upload.
	if len(conn.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(conn.sent))
	}
	action, requestID, body, err := protocol.DecodeFrame(conn.sent[0])
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if action != protocol.ActionAddData {
		t.Errorf("action = %q, want %q", action, protocol.ActionAddData)
	}
	if requestID != testConnID {
		t.Errorf("requestID = %q, want %q", requestID, testConnID)
	}

	req, err := protocol.UnmarshalDataRequest(body)
	if err != nil {
		t.Fatalf("UnmarshalDataRequest() error = %v", err)
	}
	if req.MeasurementID != "m-1" {
		t.Errorf("MeasurementID = %q, want m-1", req.MeasurementID)
	}
	if req.Action != ActionMidChunk {
		t.Errorf("Action = %q, want %q", req.Action, ActionMidChunk)
	}

	var meta map[string]any
	if err := json.Unmarshal(req.Meta, &meta); err != nil {
		t.Fatalf("meta decode error = %v", err)
	}
	if meta["Order"] != float64(1) || meta["Duration"] != "15.0" || meta["Valid"] != float64(1) {
		t.Errorf("meta = %v, missing merged fields", meta)
	}
}

func TestUploadChunkMeasurementClosed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"structured_code", `{"Code":"MEASUREMENT_CLOSED"}`, true},
		{"bare_token", `MEASUREMENT_CLOSED`, true},
		{"other_error", `{"Code":"VALIDATION_ERROR"}`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeConn{inbox: [][]byte{ackMsg("405", tc.body)}}
			u := NewUploader(conn, router.New(testConnID), testConnID)

			ack, err := u.UploadChunk(context.Background(), "m-1", testChunk())
			if err != nil {
				t.Fatalf("UploadChunk() error = %v", err)
			}
			if ack.Status != 405 {
				t.Errorf("Status = %d, want 405", ack.Status)
			}
			if got := ack.MeasurementClosed(); got != tc.want {
				t.Errorf("MeasurementClosed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUploadChunkAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := &fakeConn{} // no ack ever arrives
	u := NewUploader(conn, router.New(testConnID), testConnID)

	ack, err := u.UploadChunk(ctx, "m-1", testChunk())
	if err != nil {
		t.Fatalf("UploadChunk() error = %v, want nil on cancellation", err)
	}
	if !ack.Aborted {
		t.Errorf("ack = %+v, want Aborted", ack)
	}
	if ack.OK() {
		t.Error("aborted ack reports OK")
	}
}

func TestUploadChunkAckTimeout(t *testing.T) {
	conn := &fakeConn{}
	u := NewUploader(conn, router.New(testConnID), testConnID,
		WithAckTimeout(20*time.Millisecond))

	_, err := u.UploadChunk(context.Background(), "m-1", testChunk())
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("UploadChunk() error = %v, want ErrAckTimeout", err)
	}
}

func TestUploadChunkTransportErrors(t *testing.T) {
	boom := errors.New("socket failed")

	conn := &fakeConn{sendErr: boom}
	u := NewUploader(conn, router.New(testConnID), testConnID)
	if _, err := u.UploadChunk(context.Background(), "m-1", testChunk()); !errors.Is(err, boom) {
		t.Errorf("send failure error = %v, want wrapped boom", err)
	}

	conn = &fakeConn{recvErr: boom}
	u = NewUploader(conn, router.New(testConnID), testConnID)
	if _, err := u.UploadChunk(context.Background(), "m-1", testChunk()); !errors.Is(err, boom) {
		t.Errorf("receive failure error = %v, want wrapped boom", err)
	}
}

func TestUploadChunkSkipsForeignClasses(t *testing.T) {
	// A result chunk arriving while waiting for the ack must be queued
	// for the subscriber, not consumed by the upload flow.
	chunk := resultMsg(bytes.Repeat([]byte{0x01}, 100))
	conn := &fakeConn{inbox: [][]byte{chunk, ackMsg("200", " OK")}}
	r := router.New(testConnID)
	u := NewUploader(conn, r, testConnID)

	ack, err := u.UploadChunk(context.Background(), "m-1", testChunk())
	if err != nil || !ack.OK() {
		t.Fatalf("UploadChunk() = (%+v, %v), want OK", ack, err)
	}
	if _, ok := r.PopResultChunk(); !ok {
		t.Error("result chunk consumed by upload flow, want queued")
	}
}
