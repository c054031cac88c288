package protocol

import (
	"encoding/json"
	"testing"
)

func Test_NewRequestFrame_EncodesHeader(t *testing.T) {
	f, err := NewRequestFrame(1, MethodCall, CallParams{Module: "math", FunctionName: "sqrt", Args: []interface{}{9}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Protocol != ID {
		t.Fatalf("expected protocol %q, got %q", ID, f.Protocol)
	}
	if f.ProtocolVersion != Version {
		t.Fatalf("expected protocolVersion %d, got %d", Version, f.ProtocolVersion)
	}
	if f.ID != 1 {
		t.Fatalf("expected id 1, got %d", f.ID)
	}

	var params CallParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		t.Fatalf("params did not round-trip: %v", err)
	}
	if params.Module != "math" || params.FunctionName != "sqrt" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func Test_ResponseFrame_Validate_RejectsBoth(t *testing.T) {
	r := ResponseFrame{Protocol: ID, ID: 1, Result: json.RawMessage("3"), Error: &ErrorPayload{Type: "ValueError"}}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error when both result and error are set")
	}
}

func Test_ResponseFrame_Validate_RejectsNeither(t *testing.T) {
	r := ResponseFrame{Protocol: ID, ID: 1}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error when neither result nor error is set")
	}
}

func Test_ResponseFrame_Validate_RejectsWrongProtocol(t *testing.T) {
	r := ResponseFrame{Protocol: "other/1", ID: 1, Result: json.RawMessage("3")}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for mismatched protocol discriminator")
	}
}

func Test_ResponseFrame_Validate_AcceptsResultOnly(t *testing.T) {
	r := ResponseFrame{Protocol: ID, ID: 1, Result: json.RawMessage("3")}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func Test_BridgeInfo_ValidateHandshake(t *testing.T) {
	good := BridgeInfo{Protocol: ID, ProtocolVersion: Version, Bridge: ExpectedBridgeKind}
	if err := good.ValidateHandshake(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []BridgeInfo{
		{Protocol: "other/1", ProtocolVersion: Version, Bridge: ExpectedBridgeKind},
		{Protocol: ID, ProtocolVersion: Version + 1, Bridge: ExpectedBridgeKind},
		{Protocol: ID, ProtocolVersion: Version, Bridge: "node-subprocess"},
	}
	for i, c := range cases {
		if err := c.ValidateHandshake(); err == nil {
			t.Fatalf("case %d: expected handshake to fail closed, got nil error", i)
		}
	}
}

func Test_Method_Valid(t *testing.T) {
	for _, m := range []Method{MethodCall, MethodInstantiate, MethodCallMethod, MethodDisposeInstance, MethodMeta} {
		if !m.Valid() {
			t.Fatalf("expected %q to be valid", m)
		}
	}
	if Method("bogus").Valid() {
		t.Fatal("expected unknown method to be invalid")
	}
}
