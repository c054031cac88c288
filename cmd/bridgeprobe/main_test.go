package main

import "testing"

func Test_moduleFunction_SplitsOnColon(t *testing.T) {
	module, name, err := moduleFunction("math:sqrt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if module != "math" || name != "sqrt" {
		t.Errorf("got (%q, %q), want (math, sqrt)", module, name)
	}
}

func Test_moduleFunction_RejectsMissingColon(t *testing.T) {
	if _, _, err := moduleFunction("math.sqrt"); err == nil {
		t.Error("expected an error for a spec with no colon")
	}
}

func Test_moduleFunction_RejectsEmptyHalf(t *testing.T) {
	for _, spec := range []string{":sqrt", "math:", ":"} {
		if _, _, err := moduleFunction(spec); err == nil {
			t.Errorf("expected an error for spec %q", spec)
		}
	}
}

func Test_parseArgs_EmptyStringIsNoArgs(t *testing.T) {
	args, err := parseArgs("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args != nil {
		t.Errorf("got %v, want nil", args)
	}
}

func Test_parseArgs_ParsesJSONArray(t *testing.T) {
	args, err := parseArgs(`[1, "two", true]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 3 {
		t.Fatalf("got %d args, want 3", len(args))
	}
	if args[0].(float64) != 1 || args[1].(string) != "two" || args[2].(bool) != true {
		t.Errorf("unexpected parsed args: %+v", args)
	}
}

func Test_parseArgs_RejectsNonArrayJSON(t *testing.T) {
	if _, err := parseArgs(`{"a": 1}`); err == nil {
		t.Error("expected an error for a JSON object instead of an array")
	}
}
