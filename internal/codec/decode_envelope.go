package codec

import (
	"fmt"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
)

// decodeEnvelope materializes one tagged value envelope (spec §3). n is the
// raw JSON object including the __tywrap__ discriminator.
func (c *Codec) decodeEnvelope(tag string, n map[string]interface{}) (interface{}, error) {
	switch tag {
	case tagNDArray:
		return c.decodeNDArray(n)
	case tagPandasDataFrame:
		base, err := c.decodeNDArray(n)
		if err != nil {
			return nil, err
		}
		return DataFrame{NDArray: *base}, nil
	case tagPandasSeries:
		base, err := c.decodeNDArray(n)
		if err != nil {
			return nil, err
		}
		return Series{NDArray: *base}, nil
	case tagScipySparse:
		return c.decodeSparse(n)
	case tagTorchTensor:
		return c.decodeTensor(n)
	case tagSklearnEstimator:
		return c.decodeEstimator(n)
	default:
		return c.rawFallback(tag, n, nil)
	}
}

func (c *Codec) decodeNDArray(n map[string]interface{}) (*NDArray, error) {
	encoding, _ := n["encoding"].(string)
	shape := intSlice(n["shape"])
	dtype, _ := n["dtype"].(string)
	version := intField(n["codecVersion"])

	switch encoding {
	case EncodingJSON, "":
		data, err := c.decodeNode(n["data"])
		if err != nil {
			return nil, err
		}
		return &NDArray{Encoding: EncodingJSON, Data: data, Shape: shape, DType: dtype, CodecVersion: version}, nil

	case EncodingArrow:
		bytesField, ok := n["bytes"].(string)
		if !ok {
			if raw, err := c.rawFallback(tagNDArray, n, fmt.Errorf("arrow envelope missing binary bytes field")); err == nil {
				if rv, ok := raw.(*RawEnvelope); ok {
					return &NDArray{Encoding: EncodingArrow, Data: rv, Shape: shape, DType: dtype, CodecVersion: version}, nil
				}
			}
			return nil, bridgeerr.NewCodecError(bridgeerr.PhaseDecode, "ndarray", "arrow envelope missing binary bytes field", nil)
		}
		dec := currentArrowDecoder()
		if dec == nil {
			if jsonFallback, ok := n["data"]; ok {
				data, err := c.decodeNode(jsonFallback)
				if err != nil {
					return nil, err
				}
				return &NDArray{Encoding: EncodingJSON, Data: data, Shape: shape, DType: dtype, CodecVersion: version}, nil
			}
			if c.opts.Lenient {
				return &NDArray{Encoding: EncodingArrow, Data: &RawEnvelope{Tag: tagNDArray, Data: n}, Shape: shape, DType: dtype, CodecVersion: version}, nil
			}
			return nil, bridgeerr.NewCodecError(bridgeerr.PhaseDecode, "ndarray", "no Arrow decoder registered and no json fallback present", nil)
		}
		value, err := dec(tagNDArray, []byte(bytesField), n)
		if err != nil {
			return nil, bridgeerr.NewCodecError(bridgeerr.PhaseDecode, "ndarray", err.Error(), err)
		}
		return &NDArray{Encoding: EncodingArrow, Data: value, Shape: shape, DType: dtype, CodecVersion: version}, nil

	default:
		return nil, bridgeerr.NewCodecError(bridgeerr.PhaseDecode, "ndarray", "unknown encoding "+encoding, nil)
	}
}

func (c *Codec) decodeSparse(n map[string]interface{}) (*SparseMatrix, error) {
	format, _ := n["format"].(string)
	data, err := c.decodeNode(n["data"])
	if err != nil {
		return nil, err
	}
	indices, err := c.decodeNode(n["indices"])
	if err != nil {
		return nil, err
	}
	indptr, err := c.decodeNode(n["indptr"])
	if err != nil {
		return nil, err
	}
	return &SparseMatrix{
		Format:       format,
		Data:         data,
		Indices:      indices,
		Indptr:       indptr,
		Shape:        intSlice(n["shape"]),
		CodecVersion: intField(n["codecVersion"]),
	}, nil
}

func (c *Codec) decodeTensor(n map[string]interface{}) (*Tensor, error) {
	device, _ := n["device"].(string)
	dtype, _ := n["dtype"].(string)

	var value *NDArray
	if raw, ok := n["value"].(map[string]interface{}); ok {
		decoded, err := c.decodeEnvelope(tagNDArray, withTag(raw))
		if err != nil {
			return nil, err
		}
		if nd, ok := decoded.(*NDArray); ok {
			value = nd
		}
	} else {
		data, err := c.decodeNode(n["data"])
		if err != nil {
			return nil, err
		}
		value = &NDArray{Encoding: EncodingJSON, Data: data, Shape: intSlice(n["shape"]), DType: dtype}
	}

	return &Tensor{
		Value:        value,
		Shape:        intSlice(n["shape"]),
		DType:        dtype,
		Device:       device,
		CodecVersion: intField(n["codecVersion"]),
	}, nil
}

func (c *Codec) decodeEstimator(n map[string]interface{}) (*Estimator, error) {
	className, _ := n["className"].(string)
	module, _ := n["module"].(string)
	version, _ := n["version"].(string)

	params := map[string]interface{}{}
	if raw, ok := n["params"].(map[string]interface{}); ok {
		decoded, err := c.decodeNode(raw)
		if err != nil {
			return nil, err
		}
		if m, ok := decoded.(map[string]interface{}); ok {
			params = m
		}
	}

	return &Estimator{
		ClassName:    className,
		Module:       module,
		Version:      version,
		Params:       params,
		CodecVersion: intField(n["codecVersion"]),
	}, nil
}

func (c *Codec) rawFallback(tag string, n map[string]interface{}, cause error) (interface{}, error) {
	if !c.opts.Lenient && cause != nil {
		return nil, bridgeerr.NewCodecError(bridgeerr.PhaseDecode, tag, cause.Error(), cause)
	}
	return &RawEnvelope{Tag: tag, Data: n}, nil
}

func withTag(n map[string]interface{}) map[string]interface{} {
	if _, ok := n[tagKey]; ok {
		return n
	}
	out := make(map[string]interface{}, len(n)+1)
	for k, v := range n {
		out[k] = v
	}
	out[tagKey] = tagNDArray
	return out
}

func intSlice(v interface{}) []int {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(arr))
	for _, e := range arr {
		out = append(out, intField(e))
	}
	return out
}

func intField(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
