// Package bridgecore implements the transport-agnostic half of the bridge
// (spec §5 "BridgeCore"): request id allocation, the pending-request table,
// per-request timers, the timed-out-id tracker, the stderr tail buffer, and
// fatal-state discipline. It knows nothing about subprocesses, pipes, or
// HTTP; it only talks to a transport.Transport.
package bridgecore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
	"github.com/bbopen/tywrap-sub003/internal/logging"
	"github.com/bbopen/tywrap-sub003/internal/protocol"
	"github.com/bbopen/tywrap-sub003/internal/transport"
)

// defaultTimeoutMs is used when a caller doesn't specify one.
const defaultTimeoutMs = 30_000

// tracer names spans the same way the teacher's internal/otelutil wraps
// bridge RPCs: one span per request, child of whatever span the caller's
// ctx already carries.
var tracer = otel.Tracer("github.com/bbopen/tywrap-sub003/internal/bridgecore")

// Core correlates requests to responses over a transport.Transport. One
// Core owns exactly one transport; to fan out across multiple workers, a
// caller composes multiple Cores (see the runtimebridge worker pool).
type Core struct {
	transport transport.Transport
	log       *logrus.Entry

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingCall
	closed  bool
	fatal   error
	waitCh  chan struct{}

	timedOut *timedOutTracker
	stderr   *stderrRing

	onFatal func(error)
}

// Option configures a Core at construction.
type Option func(*Core)

// WithFatalCallback registers a callback invoked exactly once, the first
// time Core transitions into the fatal state, regardless of cause (spec §7:
// "the bridge notifies its owner so a supervising pool can react").
func WithFatalCallback(fn func(error)) Option {
	return func(c *Core) { c.onFatal = fn }
}

// New returns a Core driving t. Start must be called before Send.
func New(t transport.Transport, log *logrus.Entry, opts ...Option) *Core {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Core{
		transport: t,
		log:       log,
		pending:   make(map[int64]*pendingCall),
		waitCh:    make(chan struct{}),
		timedOut:  newTimedOutTracker(),
		stderr:    newStderrRing(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if src, ok := t.(transport.StderrSource); ok {
		src.OnStderr(c.stderr.Write)
	}
	return c
}

// Start initializes the underlying transport and begins watching it for an
// unsolicited exit.
func (c *Core) Start(ctx context.Context) error {
	if err := c.transport.Init(ctx); err != nil {
		return bridgeerr.NewProtocolError("transport initialization failed", err)
	}
	if pw, ok := c.transport.(transport.ProcessWatcher); ok {
		go c.watchProcess(pw)
	}
	return nil
}

func (c *Core) watchProcess(pw transport.ProcessWatcher) {
	select {
	case <-pw.Done():
		if err := pw.Err(); err != nil {
			c.kill(bridgeerr.NewProtocolError("worker process exited unexpectedly", err).WithStderrTail(c.stderr.Tail()))
		}
	case <-c.waitCh:
	}
}

// Send allocates an id, builds a request frame for method/params, and
// blocks until a response arrives, the per-request timer fires, or ctx is
// done. timeoutMs == 0 disables the per-request timer entirely (spec §5:
// "timeoutMs = 0 disables the timer"); a negative value is treated as
// defaultTimeoutMs.
func (c *Core) Send(ctx context.Context, method protocol.Method, params interface{}, timeoutMs int64) (*protocol.ResponseFrame, error) {
	if timeoutMs < 0 {
		timeoutMs = defaultTimeoutMs
	}

	ctx, span := tracer.Start(ctx, "bridgecore.Send",
		trace.WithAttributes(attribute.String("bridge.method", method.String())),
	)
	defer span.End()

	c.mu.Lock()
	if c.closed {
		err := c.fatal
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "bridge already closed")
		if err != nil {
			return nil, err
		}
		return nil, &bridgeerr.DisposedError{Op: method.String()}
	}
	id := c.nextID
	c.nextID++
	activityID := uuid.NewString()
	span.SetAttributes(
		attribute.Int64("bridge.request_id", id),
		attribute.String("bridge.activity_id", activityID),
	)
	callCtx, cancel := context.WithCancel(ctx)
	c.pending[id] = &pendingCall{id: id, method: method, cancel: cancel}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		cancel()
	}()

	frame, err := protocol.NewRequestFrame(id, method, params)
	if err != nil {
		cerr := bridgeerr.NewCodecError(bridgeerr.PhaseEncode, fmt.Sprintf("%T", params), err.Error(), err)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		return nil, cerr
	}

	log := c.log.WithContext(ctx).WithFields(logrus.Fields{
		logging.RequestID: id,
		logging.Method:    method.String(),
		logging.Timeout:   timeoutMs,
		logging.ActivityID: activityID,
	})
	log.Debug("bridge send")

	var timerC <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timerC = timer.C
	}

	type result struct {
		resp *protocol.ResponseFrame
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		resp, sendErr := c.transport.Send(callCtx, frame, timeoutMs)
		resultCh <- result{resp, sendErr}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			resp, err := c.handleSendError(id, timeoutMs, r.err)
			recordSpanErr(span, err)
			return resp, err
		}
		resp, err := c.handleResponse(log, id, r.resp)
		recordSpanErr(span, err)
		return resp, err

	case <-timerC:
		c.timedOut.Add(id, timeoutMs)
		cancel()
		log.Warn("bridge request timed out")
		err := &bridgeerr.TimeoutError{ID: id, TimeoutMs: timeoutMs, StderrTail: c.stderr.Tail()}
		recordSpanErr(span, err)
		return nil, err

	case <-ctx.Done():
		c.timedOut.Add(id, timeoutMs)
		cancel()
		log.Warn("bridge request aborted")
		err := &bridgeerr.TimeoutError{ID: id, TimeoutMs: timeoutMs, StderrTail: c.stderr.Tail()}
		recordSpanErr(span, err)
		return nil, err
	}
}

// recordSpanErr marks span failed for any error except an execution error,
// which is a normal Python-level outcome rather than a bridge fault.
func recordSpanErr(span trace.Span, err error) {
	if err == nil {
		return
	}
	var execErr *bridgeerr.ExecutionError
	if errors.As(err, &execErr) {
		span.SetStatus(codes.Error, execErr.Error())
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (c *Core) handleResponse(log *logrus.Entry, id int64, resp *protocol.ResponseFrame) (*protocol.ResponseFrame, error) {
	if resp == nil {
		err := bridgeerr.NewProtocolError(fmt.Sprintf("transport returned no response and no error for request %d", id), nil).WithStderrTail(c.stderr.Tail())
		c.kill(err)
		return nil, err
	}
	if resp.ID != id {
		err := bridgeerr.NewProtocolError(fmt.Sprintf("response id %d does not match request id %d", resp.ID, id), nil).WithStderrTail(c.stderr.Tail())
		c.kill(err)
		return nil, err
	}
	if verr := resp.Validate(); verr != nil {
		err := bridgeerr.NewProtocolError(verr.Error(), nil).WithStderrTail(c.stderr.Tail())
		c.kill(err)
		return nil, err
	}
	if resp.Error != nil {
		log.WithField("errorType", resp.Error.Type).Debug("bridge execution error")
		return resp, &bridgeerr.ExecutionError{Type: resp.Error.Type, Message: resp.Error.Message, Traceback: resp.Error.Traceback}
	}
	log.Debug("bridge recv")
	return resp, nil
}

func (c *Core) handleSendError(id int64, timeoutMs int64, err error) (*protocol.ResponseFrame, error) {
	c.mu.Lock()
	closed, fatal := c.closed, c.fatal
	c.mu.Unlock()
	if closed {
		// Kill or Dispose cancelled this request while it was in flight.
		if fatal != nil {
			return nil, fatal
		}
		return nil, &bridgeerr.DisposedError{Op: fmt.Sprintf("request %d", id)}
	}
	var timeoutErr *bridgeerr.TimeoutError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &timeoutErr) {
		// An external abort is observationally equivalent to a timeout
		// (spec §5/§4.3): the caller gets the same error shape either way.
		c.timedOut.Add(id, timeoutMs)
		return nil, &bridgeerr.TimeoutError{ID: id, TimeoutMs: timeoutMs, StderrTail: c.stderr.Tail()}
	}
	var execErr *bridgeerr.ExecutionError
	if errors.As(err, &execErr) {
		return nil, execErr
	}
	perr := bridgeerr.NewProtocolError(fmt.Sprintf("transport send failed for request %d: %s", id, err.Error()), err).WithStderrTail(c.stderr.Tail())
	c.kill(perr)
	return nil, perr
}

// Kill forcibly transitions Core into the fatal state: all currently
// pending Send calls are unblocked with err (or a generic disposed error if
// err is nil), and every subsequent Send is rejected without reaching the
// transport (spec §7: "a fatal error rejects all pending requests and
// refuses new ones").
func (c *Core) Kill(err error) {
	c.kill(err)
}

func (c *Core) kill(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.fatal = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, p := range pending {
		p.cancel()
	}
	close(c.waitCh)

	if err != nil {
		c.log.WithError(err).Error("bridge entering fatal state")
	} else {
		c.log.Debug("bridge disposing")
	}
	if c.onFatal != nil {
		c.onFatal(err)
	}
}

// IsFatal reports whether Core has entered the fatal state.
func (c *Core) IsFatal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FatalErr returns the error that triggered the fatal state, if any.
func (c *Core) FatalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Dispose kills Core (if not already fatal) with a disposed marker and
// releases the underlying transport.
func (c *Core) Dispose(ctx context.Context) error {
	c.kill(nil)
	return c.transport.Dispose(ctx)
}
