package ingest

import (
	"strconv"
	"strings"
)

// parseStdoutLine extracts a (frame_number, capture_time) pair from an agent
// stdout line of the form "FRAME_DATA:<uint>:<float>". Any other line
// (interleaved log text) returns ok=false and is silently ignored by the
// caller — it is a log line, not a parse error.
func parseStdoutLine(line string) (frameNumber uint64, captureTime float64, ok bool) {
	const prefix = "FRAME_DATA:"
	if !strings.HasPrefix(line, prefix) {
		return 0, 0, false
	}
	rest := line[len(prefix):]
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	ct, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return n, ct, true
}

// parseMarkersLine extracts a (frame_number, capture_time) pair from a
// markers-file data line: "<uint> <float>" after whitespace splitting.
// Header lines (prefixed with non-digit text like "Starting", "CONFIG",
// "COMMAND", "ERROR", "MEDIA_DEVICE") return ok=false.
func parseMarkersLine(line string) (frameNumber uint64, captureTime float64, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	ct, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return n, ct, true
}
