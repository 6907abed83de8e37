package protocol

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Wire format constants. All values are fixed by the DFX API and must be
// reproduced exactly.
const (
	// ActionIDSize is the width of the ASCII action ID field.
	ActionIDSize = 4

	// RequestIDSize is the width of the request ID field. The server
	// echoes the request ID back as the first ten bytes of every
	// response addressed to that request.
	RequestIDSize = 10

	// FrameHeaderSize is the total outbound header size.
	FrameHeaderSize = ActionIDSize + RequestIDSize

	// StatusOffset and StatusEnd bound the three-digit ASCII status
	// code inside a status message.
	StatusOffset = 10
	StatusEnd    = 13

	// ChunkHeaderSize is the length of the header preceding the payload
	// in a result-chunk message.
	ChunkHeaderSize = 13

	// SubscribeStatusLen is the exact length of a subscribe-status
	// message; AddDataStatusMax is the inclusive upper bound for an
	// add-data status message. Anything longer is a result chunk.
	SubscribeStatusLen = 13
	AddDataStatusMax   = 60
)

// Endpoint action IDs (DFX API documentation section 3.6).
const (
	ActionAddData          = "0506"
	ActionSubscribeResults = "0510"
)

// Frame errors.
var (
	ErrShortMessage  = errors.New("protocol: message too short for status code")
	ErrInvalidStatus = errors.New("protocol: status code is not three ASCII digits")
	ErrShortFrame    = errors.New("protocol: frame shorter than header")
)

// Class identifies the kind of inbound message.
type Class uint8

const (
	ClassSubscribeStatus Class = iota // exactly 13 bytes
	ClassAddDataStatus                // 14..60 bytes
	ClassResultChunk                  // more than 60 bytes
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassSubscribeStatus:
		return "SubscribeStatus"
	case ClassAddDataStatus:
		return "AddDataStatus"
	case ClassResultChunk:
		return "ResultChunk"
	default:
		return "Unknown"
	}
}

// Classify determines the kind of an inbound message from its total
// length alone. Length is the only discriminator the protocol provides;
// content must not be inspected.
func Classify(msg []byte) Class {
	switch {
	case len(msg) == SubscribeStatusLen:
		return ClassSubscribeStatus
	case len(msg) <= AddDataStatusMax:
		return ClassAddDataStatus
	default:
		return ClassResultChunk
	}
}

// EncodeFrame builds an outbound frame from an action ID, a request ID
// and an already-serialized body. Both header fields are fixed width:
// shorter values are right-padded with spaces, longer values truncated.
func EncodeFrame(actionID, requestID string, body []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(body))
	padInto(buf[:ActionIDSize], actionID)
	padInto(buf[ActionIDSize:FrameHeaderSize], requestID)
	copy(buf[FrameHeaderSize:], body)
	return buf
}

// DecodeFrame splits an outbound frame back into its action ID, request
// ID and body. Used by tests and by the mock server; the real API never
// sends frames in this direction.
func DecodeFrame(data []byte) (actionID, requestID string, body []byte, err error) {
	if len(data) < FrameHeaderSize {
		return "", "", nil, ErrShortFrame
	}
	actionID = strings.TrimRight(string(data[:ActionIDSize]), " ")
	requestID = strings.TrimRight(string(data[ActionIDSize:FrameHeaderSize]), " ")
	body = data[FrameHeaderSize:]
	return actionID, requestID, body, nil
}

// padInto writes s into dst, space-padding or truncating to len(dst).
func padInto(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

// NewRequestID returns a fresh ten-character hex request ID. Uniqueness
// only needs to hold against recent in-flight requests, so a truncated
// UUID is sufficient.
func NewRequestID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:RequestIDSize]
}

// SenderID returns the request/connection ID carried in the first ten
// bytes of an inbound message.
func SenderID(msg []byte) string {
	if len(msg) < RequestIDSize {
		return string(msg)
	}
	return string(msg[:RequestIDSize])
}

// StatusCode extracts the three-digit numeric status from a status
// message (bytes 10..13).
func StatusCode(msg []byte) (int, error) {
	if len(msg) < StatusEnd {
		return 0, ErrShortMessage
	}
	code, err := strconv.Atoi(string(msg[StatusOffset:StatusEnd]))
	if err != nil {
		return 0, ErrInvalidStatus
	}
	return code, nil
}

// ChunkPayload strips the 13-byte header from a result-chunk message and
// returns the raw result payload.
func ChunkPayload(msg []byte) []byte {
	if len(msg) <= ChunkHeaderSize {
		return nil
	}
	return msg[ChunkHeaderSize:]
}
