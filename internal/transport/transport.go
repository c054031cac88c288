// Package transport defines the seam between bridgecore's RPC correlation
// and how a frame actually reaches the worker: an owned subprocess's stdio
// pipes, or a stateless HTTP endpoint.
package transport

import (
	"context"

	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

// Transport delivers one request frame and returns its matching response
// frame, or an error if the frame could not be delivered or no response
// arrived in time. Implementations must be safe for concurrent use
// by multiple in-flight Send calls.
type Transport interface {
	// Init prepares the transport for use: spawning a subprocess for stdio,
	// or validating configuration for HTTP. The meta handshake is not part
	// of Init; runtimebridge.New performs it through Send. Send must not be
	// called before Init returns successfully.
	Init(ctx context.Context) error

	// Dispose releases any owned resources (subprocess, connections). It is
	// safe to call more than once.
	Dispose(ctx context.Context) error

	// IsReady reports whether the transport believes it can currently
	// accept Send calls. It does not guarantee the next Send will succeed.
	IsReady() bool

	// Send delivers frame and waits for its response. ctx cancellation
	// aborts the wait (not necessarily the underlying I/O). StdioTransport
	// then returns ctx.Err() and applies no deadline of its own from
	// timeoutMs. HttpTransport also applies timeoutMs (when > 0) as a
	// deadline and reports either abort as a *bridgeerr.TimeoutError.
	Send(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error)
}

// StderrSource is implemented by transports that expose a side channel of
// worker stderr output (stdio). Bridgecore uses this to feed its bounded
// stderr tail buffer (spec §7: "error messages include a tail of the
// worker's stderr").
type StderrSource interface {
	OnStderr(func(chunk []byte))
}

// ProcessWatcher is implemented by transports backed by a long-lived
// subprocess so bridgecore can notice an unsolicited exit even with no
// request in flight.
type ProcessWatcher interface {
	Done() <-chan struct{}
	Err() error
}
