package runtimebridge

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bbopen/tywrap-sub003/internal/transport"
)

// PoolPolicy selects how Pool distributes calls across its workers.
type PoolPolicy int

const (
	// RoundRobin cycles through workers in order.
	RoundRobin PoolPolicy = iota
	// LeastPending routes to whichever worker currently has the fewest
	// in-flight calls.
	LeastPending
)

// NewWorkerTransport builds a fresh transport for one pool slot; Pool calls
// it once at startup per slot and again each time that slot's bridge enters
// the fatal state.
type NewWorkerTransport func(ctx context.Context) (transport.Transport, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Size    int
	Policy  PoolPolicy
	Config  Config
	NewTransport NewWorkerTransport

	// RespawnTimeout bounds how long Pool retries respawning a fatally
	// failed worker before giving up on that slot permanently. Zero means
	// retry indefinitely, matching the teacher's own io_npipe.go backoff
	// convention ("a 0 timeout as infinite, which is ideal").
	RespawnTimeout time.Duration

	Log *logrus.Entry
}

type worker struct {
	mu      sync.Mutex
	bridge  *Bridge
	pending int
	dead    bool
}

// Pool fans calls out across N independent Bridges, each an independent
// worker subprocess, respawning any that fail fatally (spec §5: "a pool
// variant fans out requests across multiple workers using round-robin or
// least-pending; each worker is an independent BridgeCore").
type Pool struct {
	cfg PoolConfig
	log *logrus.Entry

	mu      sync.Mutex
	workers []*worker
	next    int
}

// NewPool starts cfg.Size workers and returns once all have completed their
// handshake (or the context is done).
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	p := &Pool{cfg: cfg, log: log, workers: make([]*worker, cfg.Size)}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Size; i++ {
		i := i
		g.Go(func() error {
			w, err := p.spawn(gctx, i)
			if err != nil {
				return err
			}
			p.workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) spawn(ctx context.Context, slot int) (*worker, error) {
	t, err := p.cfg.NewTransport(ctx)
	if err != nil {
		return nil, err
	}
	log := p.log.WithField("poolSlot", slot)
	cfg := p.cfg.Config
	cfg.Log = log

	b, err := New(ctx, t, cfg)
	if err != nil {
		return nil, err
	}
	w := &worker{bridge: b}
	return w, nil
}

// respawn replaces a dead slot's bridge, retrying with exponential backoff
// until it succeeds or RespawnTimeout elapses (0 = retry forever).
func (p *Pool) respawn(slot int) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = p.cfg.RespawnTimeout

	for {
		w, err := p.spawn(context.Background(), slot)
		if err == nil {
			p.mu.Lock()
			p.workers[slot] = w
			p.mu.Unlock()
			return
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			p.log.WithError(err).WithField("poolSlot", slot).Error("giving up respawning worker")
			return
		}
		p.log.WithError(err).WithField("poolSlot", slot).Warn("worker respawn failed, retrying")
		time.Sleep(wait)
	}
}

func (p *Pool) pick() (*worker, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.cfg.Policy {
	case LeastPending:
		best := -1
		bestPending := int(^uint(0) >> 1)
		for i, w := range p.workers {
			w.mu.Lock()
			ok := !w.dead && w.pending < bestPending
			pending := w.pending
			w.mu.Unlock()
			if ok {
				best = i
				bestPending = pending
			}
		}
		if best < 0 {
			return nil, -1
		}
		return p.workers[best], best

	default: // RoundRobin
		n := len(p.workers)
		for i := 0; i < n; i++ {
			idx := (p.next + i) % n
			w := p.workers[idx]
			w.mu.Lock()
			dead := w.dead
			w.mu.Unlock()
			if !dead {
				p.next = (idx + 1) % n
				return w, idx
			}
		}
		return nil, -1
	}
}

// Call routes to one worker's Bridge.Call, respawning that worker in the
// background if the call reveals it has gone fatal.
func (p *Pool) Call(ctx context.Context, module, functionName string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	w, slot := p.pick()
	if w == nil {
		return nil, errNoHealthyWorker
	}
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.pending--
		w.mu.Unlock()
	}()

	result, err := w.bridge.Call(ctx, module, functionName, args, kwargs)
	p.reapIfFatal(w, slot)
	return result, err
}

func (p *Pool) reapIfFatal(w *worker, slot int) {
	if !w.bridge.IsFatal() {
		return
	}
	w.mu.Lock()
	alreadyDead := w.dead
	w.dead = true
	w.mu.Unlock()
	if alreadyDead {
		return
	}
	go p.respawn(slot)
}

// Dispose disposes every worker.
func (p *Pool) Dispose(ctx context.Context) error {
	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.bridge.Dispose(gctx)
		})
	}
	return g.Wait()
}

var errNoHealthyWorker = &noHealthyWorkerError{}

type noHealthyWorkerError struct{}

func (*noHealthyWorkerError) Error() string { return "runtimebridge: no healthy worker available in pool" }
