// Package protocol defines the wire schema shared by the host and the
// Python worker: frame envelopes, method names, per-method params, and the
// BridgeInfo handshake payload.
package protocol

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// ID is the fixed protocol discriminator carried on every frame.
const ID = "tywrap/1"

// Version is the protocol version this module speaks. Bump it whenever the
// frame envelope or method set changes in a way that is not purely additive.
const Version = 1

// LibraryVersion is this module's own release version. BridgeInfo has a
// matching optional bridgeLibraryVersion field, which this module does not
// fill in itself. It is validated as well-formed semver at init time so a typo
// here fails fast in CI rather than silently shipping a malformed version string.
const LibraryVersion = "0.1.0"

func init() {
	if _, err := semver.Parse(LibraryVersion); err != nil {
		panic(fmt.Sprintf("protocol: LibraryVersion %q is not valid semver: %v", LibraryVersion, err))
	}
}
