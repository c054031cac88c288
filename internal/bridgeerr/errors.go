// Package bridgeerr defines the bridge's error taxonomy (spec §7): one Go
// type per failure kind so callers can type-switch or errors.As instead of
// parsing message strings.
package bridgeerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// maxStderrTailRunes bounds how much of the stderr tail is echoed into an
// error message; the ring buffer itself is bounded independently in
// bridgecore.
const maxStderrTailRunes = 8 * 1024

// ProtocolError represents a wire violation: invalid JSON, wrong
// discriminator, unknown id, oversize line, missing fields, or a response
// carrying both/neither of result and error. Fatal: the bridge that raised
// it is no longer usable.
type ProtocolError struct {
	Summary    string
	StderrTail string
	Snippet    string
	cause      error
}

func NewProtocolError(summary string, cause error) *ProtocolError {
	return &ProtocolError{Summary: summary, cause: cause}
}

func (e *ProtocolError) Error() string {
	msg := e.Summary
	if e.Snippet != "" {
		msg += fmt.Sprintf("\nPayload snippet: %s", truncate(e.Snippet, 256))
	}
	if e.StderrTail != "" {
		msg += fmt.Sprintf("\nstderr tail:\n%s", truncate(e.StderrTail, maxStderrTailRunes))
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.cause }

// WithStderrTail returns a copy of e carrying the given stderr tail.
func (e *ProtocolError) WithStderrTail(tail string) *ProtocolError {
	cp := *e
	cp.StderrTail = tail
	return &cp
}

// WithSnippet returns a copy of e carrying a bounded payload snippet, used
// for oversize-line and parse-failure reports (spec §7).
func (e *ProtocolError) WithSnippet(snippet string) *ProtocolError {
	cp := *e
	cp.Snippet = snippet
	return &cp
}

// TimeoutError represents a locally-fired request timer. Non-fatal: the
// bridge remains usable.
type TimeoutError struct {
	ID         int64
	TimeoutMs  int64
	StderrTail string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("request %d timed out after %dms", e.ID, e.TimeoutMs)
	if e.StderrTail != "" {
		msg += fmt.Sprintf("\nstderr tail:\n%s", truncate(e.StderrTail, maxStderrTailRunes))
	}
	return msg
}

// DisposedError is returned for any operation attempted on a disposed
// bridge.
type DisposedError struct {
	Op string
}

func (e *DisposedError) Error() string {
	return fmt.Sprintf("bridge is disposed: %s", e.Op)
}

// ExecutionError represents a worker-reported Python exception. It carries
// Python's own exception taxonomy rather than collapsing it to a string.
type ExecutionError struct {
	Type       string
	Message    string
	Traceback  string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Traceback != "" {
		msg += "\n" + e.Traceback
	}
	return msg
}

// CodecPhase distinguishes where a CodecError originated.
type CodecPhase string

const (
	PhaseEncode CodecPhase = "encode"
	PhaseDecode CodecPhase = "decode"
)

// CodecError represents a local encode/decode failure: BigInt, a circular
// graph, a non-finite float under strict mode, or a missing Arrow decoder
// for an arrow-encoded envelope with no json fallback. Non-fatal: only the
// individual call fails.
type CodecError struct {
	Phase     CodecPhase
	ValueType string
	Path      string
	Reason    string
	cause     error
}

func NewCodecError(phase CodecPhase, valueType, reason string, cause error) *CodecError {
	return &CodecError{Phase: phase, ValueType: valueType, Reason: reason, cause: cause}
}

func (e *CodecError) Error() string {
	msg := fmt.Sprintf("codec %s failed for %s: %s", e.Phase, e.ValueType, e.Reason)
	if e.Path != "" {
		msg += fmt.Sprintf(" (at %s)", e.Path)
	}
	return msg
}

func (e *CodecError) Unwrap() error { return e.cause }

// Wrap is a thin re-export of pkg/errors.Wrap so callers in this module
// don't need a second import for the common "add context, keep cause" case.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[len(r)-maxRunes:])
}
