// Package codec implements the value codec (spec §4.2): JSON encoding of
// host-side request payloads with pre-flight safety checks, and decoding of
// tagged value envelopes on the way back, with an optional registered Arrow
// fast path and a JSON fallback.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
)

// Options configures one Codec instance. The zero value is the permissive
// default: non-finite floats are allowed through, and an envelope the codec
// cannot fully materialize (no Arrow decoder, no json fallback) is an error
// rather than a silent pass-through.
type Options struct {
	// StrictFloats rejects NaN/±Infinity both at encode time and, because a
	// binary decoder can introduce them, after decode (spec §4.2 "Post-decode
	// validation").
	StrictFloats bool

	// Lenient returns the raw envelope object instead of erroring when a
	// tagged envelope can't be fully decoded (spec §4.2: "unless the codec is
	// configured for lenient pass-through").
	Lenient bool
}

// Codec is the pure (no I/O) encode/decode pair used by runtimebridge. It holds
// no mutable state itself; the only process-wide mutable state is the
// optional Arrow decoder registered via RegisterArrowDecoder.
type Codec struct {
	opts Options
}

// New returns a Codec configured with opts.
func New(opts Options) *Codec {
	return &Codec{opts: opts}
}

// EncodeRequest serializes v to JSON after a pre-flight walk that rejects
// values JSON cannot represent. On error, nothing is written anywhere:
// runtimebridge runs it over a call's args and kwargs before handing the
// request to bridgecore, so a rejected value never reaches transport.Send
// (spec §8: "if serialization throws, transport.send is not invoked").
func (c *Codec) EncodeRequest(v interface{}) ([]byte, error) {
	if err := c.preflight(v, "$", make(map[uintptr]bool)); err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, bridgeerr.NewCodecError(bridgeerr.PhaseEncode, fmt.Sprintf("%T", v), err.Error(), err)
	}
	return b, nil
}

// preflight walks v looking for values JSON cannot represent: functions,
// channels, complex numbers, *big.Int/big.Int (the Go analogue of a
// JavaScript BigInt argument), and reference cycles. Cycle tracking uses the
// pointer identity of maps/slices/pointers being visited on the current
// path, mirroring how a JS serializer tracks object identity.
func (c *Codec) preflight(v interface{}, path string, seen map[uintptr]bool) error {
	if v == nil {
		return nil
	}
	if bi, ok := v.(big.Int); ok {
		return bridgeerr.NewCodecError(bridgeerr.PhaseEncode, "big.Int", "JSON serialization failed: BigInt is not representable in JSON (value "+bi.String()+")", nil)
	}
	if bi, ok := v.(*big.Int); ok {
		return bridgeerr.NewCodecError(bridgeerr.PhaseEncode, "*big.Int", "JSON serialization failed: BigInt is not representable in JSON (value "+bi.String()+")", nil)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128:
		return bridgeerr.NewCodecError(bridgeerr.PhaseEncode, rv.Kind().String(), fmt.Sprintf("JSON serialization failed: %s is not representable in JSON", rv.Kind()), nil)

	case reflect.Float32, reflect.Float64:
		if c.opts.StrictFloats {
			f := rv.Float()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return bridgeerr.NewCodecError(bridgeerr.PhaseEncode, "float64", "non-finite number at "+path, nil)
			}
		}
		return nil

	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return bridgeerr.NewCodecError(bridgeerr.PhaseEncode, rv.Type().String(), "JSON serialization failed: circular reference at "+path, nil)
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		switch rv.Kind() {
		case reflect.Ptr:
			return c.preflight(rv.Elem().Interface(), path, seen)
		case reflect.Slice:
			for i := 0; i < rv.Len(); i++ {
				if err := c.preflight(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i), seen); err != nil {
					return err
				}
			}
		case reflect.Map:
			for _, k := range rv.MapKeys() {
				childPath := fmt.Sprintf("%s.%v", path, k.Interface())
				if err := c.preflight(rv.MapIndex(k).Interface(), childPath, seen); err != nil {
					return err
				}
			}
		}
		return nil

	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			f := rv.Type().Field(i)
			if !f.IsExported() {
				continue
			}
			childPath := fmt.Sprintf("%s.%s", path, f.Name)
			if err := c.preflight(rv.Field(i).Interface(), childPath, seen); err != nil {
				return err
			}
		}
		return nil

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return c.preflight(rv.Elem().Interface(), path, seen)

	default:
		return nil
	}
}

// DecodeResult decodes a response's raw "result" payload into a Go value
// tree, dispatching tagged envelopes to their typed form and recursing
// through plain JSON otherwise (spec §4.2 "Decode").
func (c *Codec) DecodeResult(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, bridgeerr.NewCodecError(bridgeerr.PhaseDecode, "result", err.Error(), err)
	}
	decoded, err := c.decodeNode(tree)
	if err != nil {
		return nil, err
	}
	if c.opts.StrictFloats {
		if err := scanNonFinite(decoded, "$"); err != nil {
			return nil, err
		}
	}
	return decoded, nil
}

func (c *Codec) decodeNode(node interface{}) (interface{}, error) {
	switch n := node.(type) {
	case map[string]interface{}:
		if tag, ok := n[tagKey].(string); ok {
			return c.decodeEnvelope(tag, n)
		}
		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			dv, err := c.decodeNode(v)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			dv, err := c.decodeNode(v)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil

	default:
		return node, nil
	}
}

// scanNonFinite re-walks an already-decoded tree looking for NaN/±Infinity
// that a binary (Arrow) decoder may have introduced (spec §4.2 "Post-decode
// validation").
func scanNonFinite(node interface{}, path string) error {
	switch n := node.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return bridgeerr.NewCodecError(bridgeerr.PhaseDecode, "float64", "non-finite number at "+path, nil)
		}
	case map[string]interface{}:
		for k, v := range n {
			if err := scanNonFinite(v, path+"."+k); err != nil {
				return err
			}
		}
	case []interface{}:
		for i, v := range n {
			if err := scanNonFinite(v, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case *NDArray:
		return scanNonFinite(n.Data, path+".data")
	case DataFrame:
		return scanNonFinite(n.Data, path+".data")
	case Series:
		return scanNonFinite(n.Data, path+".data")
	case *Tensor:
		if n.Value != nil {
			return scanNonFinite(n.Value.Data, path+".value.data")
		}
	}
	return nil
}
