package codec

import "sync"

// ArrowDecoderFunc converts a binary columnar payload into a decoded Go
// value. payload holds the bytes of the envelope's "bytes" string field as
// received, and meta is the whole envelope object, its __tywrap__ tag and
// "bytes" field included. It is the single seam between this
// codec and any Arrow library a caller wants to bring in (spec §4.2/§9: "a
// single, process-wide, optional hook").
type ArrowDecoderFunc func(tag string, payload []byte, meta map[string]interface{}) (interface{}, error)

var (
	arrowMu      sync.RWMutex
	arrowDecoder ArrowDecoderFunc
)

// RegisterArrowDecoder installs the process-wide Arrow decoder. Passing nil
// is equivalent to ClearArrowDecoder.
func RegisterArrowDecoder(fn ArrowDecoderFunc) {
	arrowMu.Lock()
	defer arrowMu.Unlock()
	arrowDecoder = fn
}

// ClearArrowDecoder removes the process-wide Arrow decoder, e.g. for test
// isolation between cases that register different fakes.
func ClearArrowDecoder() {
	arrowMu.Lock()
	defer arrowMu.Unlock()
	arrowDecoder = nil
}

// ArrowAvailable reports whether an Arrow decoder is currently registered.
func ArrowAvailable() bool {
	arrowMu.RLock()
	defer arrowMu.RUnlock()
	return arrowDecoder != nil
}

func currentArrowDecoder() ArrowDecoderFunc {
	arrowMu.RLock()
	defer arrowMu.RUnlock()
	return arrowDecoder
}
