package bridgecore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

// fakeTransport is a hand-rolled transport.Transport double. Send is driven
// by a per-test function so each test controls exactly how the worker
// "responds".
type fakeTransport struct {
	sendFn   func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error)
	stderrFn func([]byte)
	disposed bool
}

func (f *fakeTransport) Init(ctx context.Context) error    { return nil }
func (f *fakeTransport) Dispose(ctx context.Context) error  { f.disposed = true; return nil }
func (f *fakeTransport) IsReady() bool                      { return !f.disposed }
func (f *fakeTransport) OnStderr(fn func(chunk []byte))      { f.stderrFn = fn }
func (f *fakeTransport) Send(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
	return f.sendFn(ctx, frame, timeoutMs)
}

func Test_Send_ReturnsResult(t *testing.T) {
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		return &protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: frame.ID, Result: []byte(`42`)}, nil
	}}
	c := New(ft, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{Module: "math", FunctionName: "sqrt"}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Result) != "42" {
		t.Errorf("result = %s, want 42", resp.Result)
	}
}

func Test_Send_ExecutionError_IsNonFatal(t *testing.T) {
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		return &protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: frame.ID, Error: &protocol.ErrorPayload{Type: "ValueError", Message: "bad value"}}, nil
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())

	_, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 1000)
	var execErr *bridgeerr.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *bridgeerr.ExecutionError, got %T (%v)", err, err)
	}
	if c.IsFatal() {
		t.Error("an execution error must not put the bridge into the fatal state")
	}
}

func Test_Send_MismatchedResponseID_IsFatal(t *testing.T) {
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		return &protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: frame.ID + 1, Result: []byte(`1`)}, nil
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())

	_, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 1000)
	var protoErr *bridgeerr.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *bridgeerr.ProtocolError, got %T (%v)", err, err)
	}
	if !c.IsFatal() {
		t.Error("a response id mismatch must put the bridge into the fatal state")
	}
}

func Test_Send_TransportError_IsFatalAndRejectsFurtherSends(t *testing.T) {
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		return nil, errors.New("broken pipe")
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())

	_, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 1000)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !c.IsFatal() {
		t.Fatal("a transport error must put the bridge into the fatal state")
	}

	_, err = c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 1000)
	var fatalErr *bridgeerr.ProtocolError
	if !errors.As(err, &fatalErr) {
		t.Fatalf("expected the fatal *bridgeerr.ProtocolError after fatal state, got %T (%v)", err, err)
	}
}

func Test_Send_LocalTimeout_ReturnsTimeoutError(t *testing.T) {
	block := make(chan struct{})
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())
	defer close(block)

	_, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 20)
	var timeoutErr *bridgeerr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *bridgeerr.TimeoutError, got %T (%v)", err, err)
	}
	if c.IsFatal() {
		t.Error("a local timeout must not put the bridge into the fatal state")
	}
}

func Test_Send_ZeroTimeout_DisablesSpontaneousTimeout(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		<-release
		return &protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: frame.ID, Result: []byte(`1`)}, nil
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 0)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("expected no spontaneous timeout with timeoutMs=0, got %v", err)
	case <-time.After(150 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send never returned after release")
	}
}

func Test_Kill_RejectsPendingSends(t *testing.T) {
	started := make(chan struct{})
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 60_000)
		done <- err
	}()

	<-started
	killErr := errors.New("worker process exited")
	c.Kill(killErr)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected the pending Send to unblock with an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Kill did not unblock a pending Send")
	}
}

func Test_Dispose_DisposesTransport(t *testing.T) {
	ft := &fakeTransport{sendFn: func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
		return &protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: frame.ID, Result: []byte(`null`)}, nil
	}}
	c := New(ft, nil)
	_ = c.Start(context.Background())

	if err := c.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if !ft.disposed {
		t.Error("expected the underlying transport to be disposed")
	}
	if !c.IsFatal() {
		t.Error("Dispose must leave the core in a closed state")
	}
}
