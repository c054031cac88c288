// Package runtimebridge is the public facade (spec §4.5): it turns Call,
// Instantiate, CallMethod, DisposeInstance, and Dispose into protocol
// frames sent through a bridgecore.Core, and validates the worker's
// handshake the way a connection setup step would (grounded on the
// teacher's negotiate-then-ready guest connection sequence).
package runtimebridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bbopen/tywrap-sub003/internal/bridgecore"
	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
	"github.com/bbopen/tywrap-sub003/internal/codec"
	"github.com/bbopen/tywrap-sub003/internal/protocol"
	"github.com/bbopen/tywrap-sub003/internal/transport"
)

// defaultTimeoutMs matches bridgecore's own default and is used for every
// call, the initial meta handshake included, when Config.TimeoutMs is nil.
const defaultTimeoutMs = 30_000

// Config configures a Bridge.
type Config struct {
	// TimeoutMs is the default per-call timeout in milliseconds. nil uses
	// defaultTimeoutMs (30s); a pointer to 0 disables the timer entirely
	// (spec §5: "timeoutMs = 0 disables the timer"). The indirection exists
	// only so the zero Config{} value ("unset") is distinguishable from a
	// caller explicitly asking for no timeout.
	TimeoutMs *int64
	// CodecOptions configures strictness/leniency of value encode/decode.
	CodecOptions codec.Options
	// Log receives structured bridge log entries; nil uses the standard
	// logger.
	Log *logrus.Entry
}

// Bridge is one worker connection: one bridgecore.Core over one transport.
type Bridge struct {
	core  *bridgecore.Core
	codec *codec.Codec
	cfg   Config
	log   *logrus.Entry

	id string // a stable correlation id for this bridge's own log lines
}

// New starts t, performs the meta handshake, and returns a ready Bridge.
func New(ctx context.Context, t transport.Transport, cfg Config) (*Bridge, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	bridgeID := uuid.NewString()
	log = log.WithField("bridgeId", bridgeID)

	b := &Bridge{
		codec: codec.New(cfg.CodecOptions),
		cfg:   cfg,
		log:   log,
		id:    bridgeID,
	}
	b.core = bridgecore.New(t, log)

	if err := b.core.Start(ctx); err != nil {
		return nil, err
	}

	if err := b.handshake(ctx); err != nil {
		_ = b.core.Dispose(ctx)
		return nil, err
	}

	return b, nil
}

func (b *Bridge) handshake(ctx context.Context) error {
	resp, err := b.core.Send(ctx, protocol.MethodMeta, protocol.MetaParams{}, b.timeoutMs())
	if err != nil {
		return err
	}
	var info protocol.BridgeInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return bridgeerr.NewProtocolError("malformed meta response", err)
	}
	if err := info.ValidateHandshake(); err != nil {
		b.core.Kill(err)
		return err
	}
	b.log.WithFields(logrus.Fields{
		"pythonVersion": info.PythonVersion,
		"pid":           info.PID,
	}).Debug("bridge handshake complete")
	return nil
}

func (b *Bridge) timeoutMs() int64 {
	if b.cfg.TimeoutMs == nil {
		return defaultTimeoutMs
	}
	return *b.cfg.TimeoutMs
}

// Call invokes module.functionName(*args, **kwargs) and returns its decoded
// result.
func (b *Bridge) Call(ctx context.Context, module, functionName string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := b.preflight(args, kwargs); err != nil {
		return nil, err
	}
	resp, err := b.core.Send(ctx, protocol.MethodCall, protocol.CallParams{
		Module: module, FunctionName: functionName, Args: args, Kwargs: kwargs,
	}, b.timeoutMs())
	if err != nil {
		return nil, err
	}
	return b.codec.DecodeResult(resp.Result)
}

// Instantiate constructs module.className(*args, **kwargs) on the worker
// and returns the opaque instance handle.
func (b *Bridge) Instantiate(ctx context.Context, module, className string, args []interface{}, kwargs map[string]interface{}) (string, error) {
	if err := b.preflight(args, kwargs); err != nil {
		return "", err
	}
	resp, err := b.core.Send(ctx, protocol.MethodInstantiate, protocol.InstantiateParams{
		Module: module, ClassName: className, Args: args, Kwargs: kwargs,
	}, b.timeoutMs())
	if err != nil {
		return "", err
	}
	var handle string
	if err := json.Unmarshal(resp.Result, &handle); err != nil {
		return "", bridgeerr.NewProtocolError(fmt.Sprintf("instantiate did not return a string handle: %s", err), err)
	}
	return handle, nil
}

// CallMethod invokes handle.methodName(*args, **kwargs) on the worker.
func (b *Bridge) CallMethod(ctx context.Context, handle, methodName string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := b.preflight(args, kwargs); err != nil {
		return nil, err
	}
	resp, err := b.core.Send(ctx, protocol.MethodCallMethod, protocol.CallMethodParams{
		Handle: handle, MethodName: methodName, Args: args, Kwargs: kwargs,
	}, b.timeoutMs())
	if err != nil {
		return nil, err
	}
	return b.codec.DecodeResult(resp.Result)
}

// DisposeInstance releases the worker-side object behind handle. Calling it
// twice for the same handle is not an error (spec §8 "handle lifecycle").
func (b *Bridge) DisposeInstance(ctx context.Context, handle string) error {
	_, err := b.core.Send(ctx, protocol.MethodDisposeInstance, protocol.DisposeInstanceParams{Handle: handle}, b.timeoutMs())
	return err
}

// Dispose tears down the bridge: outstanding calls are rejected and the
// underlying transport (and its worker process, for stdio) is released. A
// disposed Bridge is permanently unusable (spec §4.5).
func (b *Bridge) Dispose(ctx context.Context) error {
	return b.core.Dispose(ctx)
}

// IsFatal reports whether the bridge has entered the fatal state, whether
// from a protocol violation, a transport failure, or Dispose.
func (b *Bridge) IsFatal() bool { return b.core.IsFatal() }

func (b *Bridge) preflight(args []interface{}, kwargs map[string]interface{}) error {
	if _, err := b.codec.EncodeRequest(args); err != nil {
		return err
	}
	if kwargs == nil {
		return nil
	}
	_, err := b.codec.EncodeRequest(kwargs)
	return err
}
