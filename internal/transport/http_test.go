package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

func Test_HttpTransport_Send_RoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.RequestFrame
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("server: decode request: %v", err)
		}
		resp := protocol.ResponseFrame{Protocol: protocol.ID, ProtocolVersion: protocol.Version, ID: req.ID, Result: []byte(`"ok"`)}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	tr := NewHttpTransport(HttpConfig{URL: srv.URL})
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer tr.Dispose(context.Background())

	frame, err := protocol.NewRequestFrame(1, protocol.MethodCall, protocol.CallParams{Module: "m", FunctionName: "f"})
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	resp, err := tr.Send(context.Background(), frame, 1000)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 1 || string(resp.Result) != `"ok"` {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func Test_HttpTransport_Send_NonSuccessStatus_IsExecutionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	tr := NewHttpTransport(HttpConfig{URL: srv.URL})
	_ = tr.Init(context.Background())
	defer tr.Dispose(context.Background())

	frame, _ := protocol.NewRequestFrame(1, protocol.MethodCall, protocol.CallParams{})
	_, err := tr.Send(context.Background(), frame, 1000)
	execErr, ok := err.(*bridgeerr.ExecutionError)
	if !ok {
		t.Fatalf("expected *bridgeerr.ExecutionError, got %T (%v)", err, err)
	}
	if execErr.Type != "HTTP_500" {
		t.Errorf("type = %q, want HTTP_500", execErr.Type)
	}
}

func Test_HttpTransport_Init_RejectsInvalidHeader(t *testing.T) {
	tr := NewHttpTransport(HttpConfig{URL: "http://example.invalid", Header: http.Header{"X-Bad\x00": []string{"v"}}})
	if err := tr.Init(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid header field name")
	}
}

func Test_HttpTransport_Send_ContextCancel_ReturnsTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewHttpTransport(HttpConfig{URL: srv.URL})
	_ = tr.Init(context.Background())
	defer tr.Dispose(context.Background())

	frame, _ := protocol.NewRequestFrame(1, protocol.MethodCall, protocol.CallParams{})
	_, err := tr.Send(context.Background(), frame, 20)
	var timeoutErr *bridgeerr.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *bridgeerr.TimeoutError (abort is observationally equivalent to timeout), got %T (%v)", err, err)
	}
	if timeoutErr.ID != 1 {
		t.Errorf("ID = %d, want 1", timeoutErr.ID)
	}
}
