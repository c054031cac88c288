// Package registry holds the single process-wide slot that generated
// wrapper modules consult to find the active runtime bridge (spec §4.6). It
// deliberately does not own the bridge it holds: Clear releases the slot
// without disposing anything, leaving lifetime management to whoever built
// the bridge in the first place.
package registry

import (
	"errors"
	"sync"

	"github.com/bbopen/tywrap-sub003/runtimebridge"
)

// ErrNotConfigured is returned by Resolve when no bridge has been Set.
var ErrNotConfigured = errors.New("No runtime bridge configured")

var (
	mu     sync.RWMutex
	active *runtimebridge.Bridge
)

// Set installs bridge as the active runtime bridge. A nil bridge clears the
// slot, same as calling Clear.
func Set(bridge *runtimebridge.Bridge) {
	mu.Lock()
	active = bridge
	mu.Unlock()
}

// Resolve returns the active bridge, or ErrNotConfigured if the slot is
// empty. Generated wrapper code calls this once per operation rather than
// caching the result, so tests can swap bridges between calls.
func Resolve() (*runtimebridge.Bridge, error) {
	mu.RLock()
	defer mu.RUnlock()
	if active == nil {
		return nil, ErrNotConfigured
	}
	return active, nil
}

// MustResolve is like Resolve but panics on an empty slot, matching the
// generated wrapper ABI's "throws" contract (spec §4.6) for callers that
// have already established a bridge is required to proceed.
func MustResolve() *runtimebridge.Bridge {
	b, err := Resolve()
	if err != nil {
		panic(err)
	}
	return b
}

// Clear empties the slot. It does not dispose the previously active bridge.
func Clear() {
	mu.Lock()
	active = nil
	mu.Unlock()
}
