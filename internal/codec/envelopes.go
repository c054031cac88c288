package codec

// tagKey is the discriminator field name every tagged value envelope
// carries (spec §3 "Value envelopes").
const tagKey = "__tywrap__"

// Envelope tag names.
const (
	tagNDArray          = "ndarray"
	tagPandasDataFrame  = "pandas.dataframe"
	tagPandasSeries     = "pandas.series"
	tagScipySparse      = "scipy.sparse"
	tagTorchTensor      = "torch.tensor"
	tagSklearnEstimator = "sklearn.estimator"
)

// Encoding names carried by ndarray/dataframe/series/tensor envelopes.
const (
	EncodingJSON  = "json"
	EncodingArrow = "arrow"
)

// NDArray is the decoded form of a "ndarray" envelope, and is reused
// structurally for "pandas.dataframe"/"pandas.series" (spec: "as above,
// columnar") since their wire shape is identical.
type NDArray struct {
	Encoding     string
	Data         interface{} // JSON data, or the Arrow decoder's output (a *RawEnvelope in lenient mode) when Encoding == "arrow"
	Shape        []int
	DType        string
	CodecVersion int
}

// DataFrame is the decoded form of a "pandas.dataframe" envelope.
type DataFrame struct{ NDArray }

// Series is the decoded form of a "pandas.series" envelope.
type Series struct{ NDArray }

// SparseMatrix is the decoded form of a "scipy.sparse" envelope.
type SparseMatrix struct {
	Format       string
	Data         interface{}
	Indices      interface{}
	Indptr       interface{}
	Shape        []int
	CodecVersion int
}

// Tensor is the decoded form of a "torch.tensor" envelope.
type Tensor struct {
	Value        *NDArray
	Shape        []int
	DType        string
	Device       string
	CodecVersion int
}

// Estimator is the decoded form of a "sklearn.estimator" envelope.
type Estimator struct {
	ClassName    string
	Module       string
	Version      string
	Params       map[string]interface{}
	CodecVersion int
}

// RawEnvelope is returned for an unrecognized __tywrap__ tag (forward
// compatibility, spec §3: "Unknown tags decode to the raw object"). In
// lenient mode it is also used as the Data of an arrow-encoded NDArray the
// codec could not fully materialize (no bytes field, or no registered
// decoder and no json fallback).
type RawEnvelope struct {
	Tag  string
	Data map[string]interface{}
}
