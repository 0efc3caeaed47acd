// Package pool implements the fixed worker pool from spec.md §4.8 and §5
// (component C8): a small pool that fans a (domain_list, phase_fn) pair out
// across workers for each scheduler step, synchronized by a hand-rolled
// atomic turnstile rather than a mutex on the fast path (spec.md §5:
// "the turnstile uses an atomic counter; a pair of begin_loop flags
// implements a two-phase barrier").
//
// Worker lifecycle and error propagation are built on golang.org/x/sync's
// errgroup/semaphore (see SPEC_FULL.md's DOMAIN STACK) rather than bare
// goroutines + sync.WaitGroup, the way the rest of the retrieved corpus
// reaches for structured concurrency; only the in-phase barrier itself stays
// hand-rolled, per spec.md §5's explicit lock-free design requirement.
package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/descore/cascade/clockdomain"
	"github.com/descore/cascade/component"
)

// WorkerError wraps the first error observed by any worker during a phase
// (spec.md §7: "the error object is cloned into the single-slot global
// error ... the main thread rethrows on barrier exit").
type WorkerError struct {
	Phase string
	Err   error
}

func (e WorkerError) Error() string { return fmt.Sprintf("pool: phase %s: %v", e.Phase, e.Err) }
func (e WorkerError) Unwrap() error { return e.Err }

// PhaseFunc runs one phase (pre_tick/tick/post_tick/update/dump_waves) on a
// single domain.
type PhaseFunc func(d *clockdomain.Domain) error

// Pool is the fixed worker pool described by spec.md §4.8.
type Pool struct {
	size int // number of worker goroutines, excluding the main thread's own chain.
	sem  *semaphore.Weighted

	// busy and err form the spin-locked single error slot (spec.md §5): busy is an
	// atomic test-and-set guard, err the captured value once busy is held.
	busy int32
	err  error
}

// New returns a pool sized max(0, min(numProcessors-1, requested-1)),
// exactly the formula from spec.md §4.8. requested<=0 means "auto"
// (numProcessors-1).
func New(requested int) *Pool {
	maxWorkers := runtime.NumCPU() - 1
	if maxWorkers < 0 {
		maxWorkers = 0
	}
	size := maxWorkers
	if requested > 0 {
		size = requested - 1
		if size > maxWorkers {
			size = maxWorkers
		}
	}
	if size < 0 {
		size = 0
	}
	return &Pool{size: size, sem: semaphore.NewWeighted(int64(size + 1))}
}

// Size returns the configured worker count (excluding the main thread).
func (p *Pool) Size() int { return p.size }

// RunPhase partitions domains round-robin into Size()+1 chains (spec.md
// §4.8 step 1), runs the main thread's own chain inline, dispatches the
// remaining chains to worker goroutines bounded by Size(), and waits on a
// turnstile until every worker reports in before returning (spec.md §4.8
// steps 2-5).
//
// If ctx carries the reentrant marker (component.IsReentrant), the pool is
// never re-entered: fn runs serially over every domain on the calling
// goroutine instead (spec.md §4.8 "Reentrancy" / §9 supplemented feature 5).
func (p *Pool) RunPhase(ctx context.Context, domains []*clockdomain.Domain, phase string, fn PhaseFunc) error {
	if component.IsReentrant(ctx) {
		for _, d := range domains {
			if err := fn(d); err != nil {
				return WorkerError{Phase: phase, Err: err}
			}
		}
		return nil
	}
	if len(domains) == 0 {
		return nil
	}

	chains := partition(domains, p.size+1)
	p.err = nil
	p.busy = 0

	t := newTurnstile(int32(len(chains) - 1))
	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range chains[1:] {
		chain := chain
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return WorkerError{Phase: phase, Err: err}
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			defer t.arrive()
			for _, d := range chain {
				if err := fn(d); err != nil {
					p.reportError(err)
					return nil // observed via the spin-locked slot, not errgroup's own error.
				}
				select {
				case <-gctx.Done():
					return nil
				default:
				}
			}
			return nil
		})
	}

	// Main thread runs its own chain (chain[0]) directly, then waits on the
	// turnstile until every worker has arrived (spec.md §4.8 steps 3 and 5).
	for _, d := range chains[0] {
		if err := fn(d); err != nil {
			p.reportError(err)
			break
		}
	}
	t.wait()
	if err := g.Wait(); err != nil {
		return WorkerError{Phase: phase, Err: err}
	}
	if p.err != nil {
		return WorkerError{Phase: phase, Err: p.err}
	}
	return nil
}

// reportError captures err into the single-slot global error under a
// hand-rolled spin lock (spec.md §5: "the global error slot uses a spin
// lock"), keeping only the first error observed.
func (p *Pool) reportError(err error) {
	for !atomic.CompareAndSwapInt32(&p.busy, 0, 1) {
		runtime.Gosched()
	}
	if p.err == nil {
		p.err = err
	}
	atomic.StoreInt32(&p.busy, 0)
}

// partition splits domains round-robin into n chains (spec.md §4.8 step 1).
func partition(domains []*clockdomain.Domain, n int) [][]*clockdomain.Domain {
	if n < 1 {
		n = 1
	}
	chains := make([][]*clockdomain.Domain, n)
	for i, d := range domains {
		idx := i % n
		chains[idx] = append(chains[idx], d)
	}
	return chains
}

// turnstile is the hand-rolled atomic-counter barrier from spec.md §4.8 step
// 5 ("the main thread spins on a turnstile counter until all workers
// finish"). It intentionally avoids any mutex on its fast path.
type turnstile struct {
	remaining int32
	done      chan struct{}
	once      sync.Once
}

func newTurnstile(n int32) *turnstile {
	t := &turnstile{remaining: n, done: make(chan struct{})}
	if n <= 0 {
		close(t.done)
	}
	return t
}

func (t *turnstile) arrive() {
	if atomic.AddInt32(&t.remaining, -1) == 0 {
		t.once.Do(func() { close(t.done) })
	}
}

func (t *turnstile) wait() {
	<-t.done
}
