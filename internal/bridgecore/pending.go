package bridgecore

import (
	"sync"
	"time"

	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

// pendingCall tracks one in-flight logical request. cancel aborts the
// goroutine racing transport.Send against core's own timer.
type pendingCall struct {
	id     int64
	method protocol.Method
	cancel func()
}

// timedOutTracker remembers ids bridgecore has already given up on. Entries
// expire after max(1000ms, 2×timeoutMs) (spec §7) so the map can't grow
// unbounded across a long-lived bridge. Core only records ids here and does
// not call Contains; a response that arrives after the fact is dropped by
// StdioTransport, which finds no waiter left for its id.
type timedOutTracker struct {
	mu      sync.Mutex
	expires map[int64]time.Time
}

func newTimedOutTracker() *timedOutTracker {
	return &timedOutTracker{expires: make(map[int64]time.Time)}
}

func (t *timedOutTracker) Add(id int64, timeoutMs int64) {
	grace := time.Duration(timeoutMs) * time.Millisecond * 2
	if grace < time.Second {
		grace = time.Second
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires[id] = time.Now().Add(grace)
	t.pruneLocked()
}

// Contains reports whether id was recently timed out and hasn't aged out of
// the grace window yet.
func (t *timedOutTracker) Contains(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.expires[id]
	if !ok {
		return false
	}
	return time.Now().Before(exp)
}

func (t *timedOutTracker) pruneLocked() {
	now := time.Now()
	for id, exp := range t.expires {
		if now.After(exp) {
			delete(t.expires, id)
		}
	}
}
