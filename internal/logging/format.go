package logging

import (
	"bytes"
	"encoding/json"
	"time"
)

// RFC3339NanoFixed is a fixed-width variant of time.RFC3339Nano so log lines
// sort and align consistently regardless of how many trailing fractional
// digits a particular timestamp happens to need.
const RFC3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

// DurationFormat converts a time.Duration field into a JSON-friendly
// representation for a log entry.
type DurationFormat func(time.Duration) interface{}

// DurationFormatSeconds renders a duration as fractional seconds, matching
// how most log aggregators expect numeric duration fields.
func DurationFormatSeconds(d time.Duration) interface{} {
	return d.Seconds()
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	// json.Encoder.Encode appends a trailing newline; strip it so the field
	// value doesn't itself break the log line.
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return b, nil
}
