// Package logging adapts logrus entries the way the bridge needs: non-scalar
// field values are JSON-encoded rather than relying on %v, durations are
// rendered as fractional seconds, and an active OpenTelemetry span (if any)
// is attached as trace/span id fields.
package logging

import (
	"bytes"
	"reflect"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const nullString = "null"

// Hook intercepts and formats a logrus.Entry before it is written. No
// constructor in this module (bridgecore, transport, runtimebridge) attaches
// one; it takes effect only on a logrus.Logger it has been added to.
type Hook struct {
	// EncodeAsJSON formats structs, maps, arrays, slices, and bytes.Buffer as
	// JSON. bytes.Buffer values are converted to []byte first. Default true.
	EncodeAsJSON bool

	// TimeFormat is passed to time.Time.Format for time.Time fields. An
	// empty string disables time formatting. Default RFC3339NanoFixed.
	TimeFormat string

	// DurationFormat converts time.Duration fields to a log-friendly
	// encoding. Default DurationFormatSeconds.
	DurationFormat DurationFormat

	// AddSpanContext adds trace-id/span-id fields from the span recorded on
	// the entry's context, if any.
	AddSpanContext bool

	// EncodeError, when false (the default), makes the hook skip the
	// logrus.ErrorKey field and every error-valued field. When true they go
	// through the same rewrite as other fields, where an error value is
	// still left as-is because isScalarKind counts error as a scalar.
	EncodeError bool
}

var _ logrus.Hook = &Hook{}

// NewHook returns a Hook configured with this module's defaults.
func NewHook() *Hook {
	return &Hook{
		EncodeAsJSON:   true,
		TimeFormat:     RFC3339NanoFixed,
		DurationFormat: DurationFormatSeconds,
		AddSpanContext: true,
	}
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(e *logrus.Entry) error {
	h.rewriteFields(e)
	if h.AddSpanContext {
		h.addSpanContext(e)
	}
	return nil
}

// rewriteFields walks e.Data once and replaces each value with its logged
// form, skipping entirely if neither time formatting nor JSON encoding is
// enabled.
func (h *Hook) rewriteFields(e *logrus.Entry) {
	if h.TimeFormat == "" && !h.EncodeAsJSON {
		return
	}
	for key, val := range e.Data {
		if !h.EncodeError && isErrorField(key, val) {
			continue
		}
		if replacement, changed := h.rewriteOne(val); changed {
			e.Data[key] = replacement
		}
	}
}

func isErrorField(key string, val interface{}) bool {
	if key == logrus.ErrorKey {
		return true
	}
	_, ok := val.(error)
	return ok
}

// rewriteOne produces the value that should replace val in the log entry,
// or reports changed=false when val should be left untouched.
func (h *Hook) rewriteOne(val interface{}) (replacement interface{}, changed bool) {
	if t, ok := val.(time.Time); ok {
		if h.TimeFormat == "" {
			return nil, false
		}
		return t.Format(h.TimeFormat), true
	}

	if !h.EncodeAsJSON {
		return nil, false
	}

	if d, ok := val.(time.Duration); ok {
		if h.DurationFormat == nil {
			return nil, false
		}
		if enc := h.DurationFormat(d); enc != nil {
			return enc, true
		}
		return nil, false
	}

	switch buf := val.(type) {
	case bytes.Buffer:
		val = buf.Bytes()
	case *bytes.Buffer:
		val = buf.Bytes()
	}

	if isScalarKind(val) {
		return nil, false
	}

	rv := reflect.Indirect(reflect.ValueOf(val))
	if !rv.IsValid() {
		return nullString, true
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Array, reflect.Slice:
	default:
		return nil, false
	}

	b, err := encode(val)
	if err != nil {
		// The caller only has room for one replacement value per field;
		// an encode error is folded into the string itself rather than
		// written to a second "-error" field.
		return nullString + ": " + err.Error(), true
	}
	return string(b), true
}

// isScalarKind reports whether val is a type logrus already formats well on
// its own (bool/string/numeric/error/uintptr), so no JSON pass is needed.
func isScalarKind(val interface{}) bool {
	switch val.(type) {
	case bool, string, error, uintptr,
		int8, int16, int32, int64, int,
		uint8, uint32, uint64, uint,
		float32, float64:
		return true
	default:
		return false
	}
}

func (h *Hook) addSpanContext(e *logrus.Entry) {
	if e.Context == nil {
		return
	}
	spanCtx := trace.SpanContextFromContext(e.Context)
	if !spanCtx.IsValid() {
		return
	}
	e.Data[TraceID] = spanCtx.TraceID().String()
	e.Data[SpanID] = spanCtx.SpanID().String()
}
