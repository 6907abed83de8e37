package dfx

import (
	"errors"
	"strings"
)

// ErrUnknownMode reports a measurement mode outside the table.
var ErrUnknownMode = errors.New("dfx: unknown measurement mode")

// Measurement modes. The mode bounds how many seconds of data one
// measurement may hold; recordings longer than that are split across
// consecutive measurements.
const (
	ModeDiscrete  = "DISCRETE"
	ModeBatch     = "BATCH"
	ModeVideo     = "VIDEO"
	ModeStreaming = "STREAMING"
)

// modeMaxSeconds is the per-measurement duration limit for each mode.
var modeMaxSeconds = map[string]float64{
	ModeDiscrete:  120,
	ModeBatch:     1200,
	ModeVideo:     1200,
	ModeStreaming: 1200,
}

// modeLimit resolves a mode name (case-insensitive) to its duration
// limit in seconds.
func modeLimit(mode string) (float64, error) {
	limit, ok := modeMaxSeconds[strings.ToUpper(mode)]
	if !ok {
		return 0, ErrUnknownMode
	}
	return limit, nil
}
