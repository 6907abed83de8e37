package measurement

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Chunk actions tell the server where a chunk sits within its
// recording.
const (
	ActionFirstChunk = "FIRST::PROCESS"
	ActionMidChunk   = "CHUNK::PROCESS"
	ActionLastChunk  = "LAST::PROCESS"
)

// Chunk is one bounded-duration slice of sensor payload data.
type Chunk struct {
	// Order is the zero-based position of this chunk; Total is the
	// number of chunks in the whole recording.
	Order int
	Total int

	// Timestamps and duration in seconds, as produced by the capture
	// SDK.
	StartTime string
	EndTime   string
	Duration  string

	// Payload is the opaque sensor data; Meta is optional capture
	// metadata merged into the request.
	Payload []byte
	Meta    map[string]any
}

// Action derives the measurement action from the chunk's position.
func (c Chunk) Action() string {
	switch {
	case c.Order == 0 && c.Total > 1:
		return ActionFirstChunk
	case c.Order == c.Total-1:
		return ActionLastChunk
	default:
		return ActionMidChunk
	}
}

// IsLast reports whether this is the recording's final chunk.
func (c Chunk) IsLast() bool {
	return c.Order == c.Total-1
}

// metaJSON merges the chunk's position and timing into its metadata and
// serializes the result, mirroring the fields the server expects
// alongside the payload.
func (c Chunk) metaJSON() ([]byte, error) {
	meta := make(map[string]any, len(c.Meta)+4)
	for k, v := range c.Meta {
		meta[k] = v
	}
	meta["Order"] = c.Order
	meta["StartTime"] = c.StartTime
	meta["EndTime"] = c.EndTime
	meta["Duration"] = c.Duration

	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("measurement: encode chunk meta: %w", err)
	}
	return encoded, nil
}

// orderString returns the chunk order as the decimal string the wire
// format carries.
func (c Chunk) orderString() string {
	return strconv.Itoa(c.Order)
}
