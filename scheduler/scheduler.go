// Package scheduler implements the global scheduler from spec.md §4.7
// (component C7): an ordered view of domains keyed by next_edge that
// decides which domains tick on the next step, fans the five-phase cycle
// out across the thread pool, and advances simulated time.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/clockdomain"
	"github.com/descore/cascade/pool"
)

// TimeoutError is raised when wall-clock execution exceeds the configured
// Timeout parameter (spec.md §6 "cascade.Timeout", §7 "always raised by the
// main thread between scheduler steps").
type TimeoutError struct {
	Elapsed time.Duration
	Limit   time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("scheduler: elapsed %s exceeds timeout %s", e.Elapsed, e.Limit)
}

// FinishError is raised when simulated time reaches the configured Finish
// parameter (spec.md §6 "cascade.Finish ... cleanly exits the process").
// Callers that treat Finish as expected, clean termination should match it
// with errors.As rather than treat it as a failure.
type FinishError struct {
	SimTime clock.PS
}

func (e FinishError) Error() string {
	return fmt.Sprintf("scheduler: reached Finish at sim_time=%d", e.SimTime)
}

// Stats is the out-of-scope statistics-aggregation collaborator (spec.md
// §1); package metrics supplies the one concrete, Prometheus-backed
// implementation. The zero value (nil) disables instrumentation.
type Stats interface {
	EdgeTicked(domainID uint32, rising bool)
	StepDuration(d time.Duration)
}

// Checkpointer is the out-of-scope archive collaborator invoked at each
// configured checkpoint interval (spec.md §6 "maybe take a checkpoint");
// package archive supplies the concrete implementation.
type Checkpointer interface {
	Checkpoint(simTime clock.PS, domains []*clockdomain.Domain) error
}

// Scheduler is the global scheduler (spec.md §4.7, component C7).
type Scheduler struct {
	domains []*clockdomain.Domain
	pool    *pool.Pool
	stats   Stats
	ckpt    Checkpointer

	ckptInterval clock.PS
	lastCkpt     clock.PS

	timeout time.Duration
	finish  clock.PS
	started time.Time
}

// New returns a scheduler driving domains with the given worker pool.
func New(domains []*clockdomain.Domain, p *pool.Pool) *Scheduler {
	return &Scheduler{domains: domains, pool: p}
}

// SetStats installs the statistics collaborator.
func (s *Scheduler) SetStats(stats Stats) { s.stats = stats }

// SetCheckpoint installs the archive collaborator and the checkpoint
// interval (spec.md §6 "cascade.CheckpointInterval"). interval<=0 disables
// checkpointing.
func (s *Scheduler) SetCheckpoint(ckpt Checkpointer, interval clock.PS) {
	s.ckpt = ckpt
	s.ckptInterval = interval
}

// SetTimeout installs the wall-clock Timeout parameter (0 disables it).
func (s *Scheduler) SetTimeout(d time.Duration) { s.timeout = d }

// SetFinish installs the simulated-time Finish parameter (0 disables it).
func (s *Scheduler) SetFinish(finish clock.PS) { s.finish = finish }

var phaseFuncs = []struct {
	name string
	fn   pool.PhaseFunc
}{
	{"pre_tick", func(d *clockdomain.Domain) error { d.PreTick(); return nil }},
	{"tick", func(d *clockdomain.Domain) error { return d.Tick() }},
	{"post_tick", func(d *clockdomain.Domain) error { return d.PostTick() }},
	{"update", nil}, // bound per-call below, since Update needs ctx.
	{"dump_waves", func(d *clockdomain.Domain) error { d.DumpWaves(); return nil }},
}

// RunSimulation runs spec.md §4.7's main loop until simulated time reaches
// runUntil:
//
//	while head.next_edge < run_until:
//	    sim_time = head.next_edge
//	    enforce Timeout and Finish
//	    maybe take a checkpoint
//	    bucket = detach head
//	    tick_domains(bucket)
//	    for d in bucket: d.update_next_edge(); reinsert(d)
func (s *Scheduler) RunSimulation(ctx context.Context, runUntil clock.PS) error {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	for {
		next, ok := s.nextEdge()
		if !ok || next >= runUntil {
			return nil
		}
		if err := s.step(ctx, next); err != nil {
			return err
		}
	}
}

// RunSingleTick runs spec.md §4.7's loop stopped at the very next rising
// edge across all domains (or the next edge of any kind if none is rising,
// matching run_single_tick's role as the Verilog-bridge pump primitive).
func (s *Scheduler) RunSingleTick(ctx context.Context) error {
	next, ok := s.nextEdge()
	if !ok {
		return nil
	}
	return s.step(ctx, next)
}

func (s *Scheduler) step(ctx context.Context, simTime clock.PS) error {
	stepStart := time.Now()
	if s.timeout > 0 {
		elapsed := stepStart.Sub(s.started)
		if elapsed > s.timeout {
			return TimeoutError{Elapsed: elapsed, Limit: s.timeout}
		}
	}
	if s.finish > 0 && simTime >= s.finish {
		return FinishError{SimTime: simTime}
	}
	if s.ckpt != nil && s.ckptInterval > 0 && simTime-s.lastCkpt >= s.ckptInterval {
		if err := s.ckpt.Checkpoint(simTime, s.domains); err != nil {
			return fmt.Errorf("scheduler: checkpoint at sim_time=%d: %w", simTime, err)
		}
		s.lastCkpt = simTime
	}

	bucket := s.bucketAt(simTime)
	if err := s.tickDomains(ctx, bucket); err != nil {
		return err
	}
	for _, d := range bucket {
		d.AdvanceEdge()
		if s.stats != nil {
			s.stats.EdgeTicked(d.ID, !d.Rising) // Rising now reflects the *next* edge.
		}
	}
	if s.stats != nil {
		s.stats.StepDuration(time.Since(stepStart))
	}
	return nil
}

// tickDomains runs the five-phase cycle across bucket (spec.md §4.6),
// fanning each phase out across the thread pool in turn.
func (s *Scheduler) tickDomains(ctx context.Context, bucket []*clockdomain.Domain) error {
	for _, phase := range phaseFuncs {
		fn := phase.fn
		if phase.name == "update" {
			fn = func(d *clockdomain.Domain) error { return d.Update(ctx) }
		}
		if err := s.pool.RunPhase(ctx, bucket, phase.name, fn); err != nil {
			return err
		}
	}
	return nil
}

// nextEdge returns the smallest NextEdge among domains that self-advance
// (Source or Divided); Manual domains are excluded since they only advance
// via ManualTick, and Disabled domains never advance.
func (s *Scheduler) nextEdge() (clock.PS, bool) {
	found := false
	var min clock.PS
	for _, d := range s.domains {
		if !d.IsTicking() {
			continue
		}
		if !found || d.NextEdge < min {
			min = d.NextEdge
			found = true
		}
	}
	return min, found
}

// bucketAt returns every self-advancing domain whose NextEdge falls within
// its own ClockRounding of simTime, forming the "same-tick" group processed
// atomically (spec.md §3, §4.7). simTime is itself the smallest such
// NextEdge (from nextEdge), so this also catches domains whose edge is a
// few ps off from it due to rounding rather than relying solely on
// roundEdge having already snapped every edge to an identical value.
func (s *Scheduler) bucketAt(simTime clock.PS) []*clockdomain.Domain {
	var bucket []*clockdomain.Domain
	for _, d := range s.domains {
		if d.IsTicking() && withinRounding(d.NextEdge, simTime, d.Rounding()) {
			bucket = append(bucket, d)
		}
	}
	sort.Slice(bucket, func(i, j int) bool { return bucket[i].ID < bucket[j].ID })
	return bucket
}

// withinRounding reports whether a and b differ by no more than rounding ps.
// rounding <= 0 degenerates to exact equality.
func withinRounding(a, b, rounding clock.PS) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= rounding
}

// ManualTick implements spec.md §4.7's "Manual clock tick": ticks domain at
// simTime, then walks every Divided domain whose Generator is domain,
// processing each one's pending rising edges up to simTime in order so
// downstream divided domains observe the right number of edges even though
// their ultimate ancestor is externally driven.
func (s *Scheduler) ManualTick(ctx context.Context, domain *clockdomain.Domain, simTime clock.PS) error {
	if err := domain.ManualTick(simTime); err != nil {
		return err
	}
	bucket := []*clockdomain.Domain{domain}
	if err := s.tickDomains(ctx, bucket); err != nil {
		return err
	}
	domain.AdvanceEdge()

	dependents := s.dependentsOf(domain)
	for _, dep := range dependents {
		for dep.NextEdge <= simTime {
			if err := s.tickDomains(ctx, []*clockdomain.Domain{dep}); err != nil {
				return err
			}
			dep.AdvanceEdge()
		}
	}
	return nil
}

func (s *Scheduler) dependentsOf(gen *clockdomain.Domain) []*clockdomain.Domain {
	var out []*clockdomain.Domain
	for _, d := range s.domains {
		if d.Generator == gen {
			out = append(out, d)
		}
	}
	return out
}

// Domains returns the scheduler's full domain list, in registration order.
func (s *Scheduler) Domains() []*clockdomain.Domain { return s.domains }
