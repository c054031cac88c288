package bridgecore

import (
	"context"
	"errors"
	"testing"

	gomock "go.uber.org/mock/gomock"

	"github.com/bbopen/tywrap-sub003/internal/protocol"
	"github.com/bbopen/tywrap-sub003/internal/transport/transportmock"
)

// Test_Send_CallSequencing uses the gomock-generated MockTransport (rather
// than a hand-rolled fake) to assert the exact Init -> Send -> Dispose call
// order and argument shape Core drives a transport through, the kind of
// sequencing assertion gomock expresses more directly than a fake's ad hoc
// bookkeeping.
func Test_Send_CallSequencing(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := transportmock.NewMockTransport(ctrl)

	gomock.InOrder(
		mt.EXPECT().Init(gomock.Any()).Return(nil),
		mt.EXPECT().Send(gomock.Any(), gomock.Any(), int64(1000)).DoAndReturn(
			func(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
				if frame.Method != protocol.MethodCall {
					t.Errorf("unexpected method %s", frame.Method)
				}
				return &protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: frame.ID, Result: []byte(`7`)}, nil
			},
		),
		mt.EXPECT().Dispose(gomock.Any()).Return(nil),
	)

	c := New(mt, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{Module: "math", FunctionName: "double"}, 1000)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(resp.Result) != "7" {
		t.Errorf("result = %s, want 7", resp.Result)
	}

	if err := c.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
}

// Test_Send_StopsCallingTransportAfterFatal asserts Send is called exactly
// once even though the caller issues two requests, because the first one
// puts Core into the fatal state.
func Test_Send_StopsCallingTransportAfterFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := transportmock.NewMockTransport(ctrl)

	mt.EXPECT().Init(gomock.Any()).Return(nil)
	// Exactly one Send call is expected: a transport-level failure puts Core
	// into the fatal state, so a second Send must be rejected locally
	// without ever reaching the transport. gomock enforces this itself —
	// an unexpected second call fails the test via ctrl's reporter.
	mt.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("broken pipe")).Times(1)

	c := New(mt, nil)
	_ = c.Start(context.Background())

	_, err1 := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 1000)
	if err1 == nil {
		t.Fatal("expected the first send to fail")
	}
	if !c.IsFatal() {
		t.Fatal("expected a transport-level send failure to put Core into the fatal state")
	}
	_, err2 := c.Send(context.Background(), protocol.MethodCall, protocol.CallParams{}, 1000)
	if err2 == nil {
		t.Fatal("expected the second send to also fail, without reaching the transport")
	}
}
