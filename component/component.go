// Package component defines the collaborator contract components must
// satisfy to be driven by the scheduler core (spec.md §6), plus the handful
// of out-of-scope collaborator interfaces the core only calls through:
// waveform dumping and the Verilog co-simulation bridge. This mirrors the
// teacher's irq.Sender/io.Port8-style "narrow interface, caller owns
// plumbing" convention, generalised from single-bit IRQ/IO lines to the
// full update/tick contract.
package component

import "context"

// Component is the update/tick collaborator every registered component must
// implement (spec.md §6).
type Component interface {
	// Tick is invoked during phase 2 if the component is registered as
	// tickable and IsActive() is true.
	Tick() error
	// Update is invoked during phase 4 for each update record belonging to
	// this component.
	Update(ctx *UpdateCtx) error
	// IsActive reports whether Update/Tick should run this cycle; inactive
	// components still have their sticky-trigger range evaluated.
	IsActive() bool
	// Activate and Deactivate toggle the active bit.
	Activate()
	Deactivate()
}

// UpdateCtx is the opaque per-call context passed to Update, replacing the
// original's thread-local t_currentUpdate/t_currentClockDomain globals
// (spec.md §9 "Re-architect by passing an opaque UpdateCtx reference to
// every update() call").
type UpdateCtx struct {
	// DomainID identifies the clock domain driving this update.
	DomainID uint32
	// RecordIndex is this update record's position in the domain's trigger
	// table, letting component code look up its own record.
	RecordIndex int
	// NumTicks is the domain's rising-edge counter at the time of this call.
	NumTicks uint64
	// Ctx threads cancellation and the reentrant-manual-tick flag (see
	// package pool) through to component code without a global.
	Ctx context.Context
}

// reentrantKey is the context.Context key package pool sets to signal that
// the calling goroutine is already inside a phase, so a component-triggered
// ManualTick must not re-enter the thread pool (spec.md §4.8 last bullet).
type reentrantKey struct{}

// WithReentrant marks ctx as already running inside a scheduler phase.
func WithReentrant(ctx context.Context) context.Context {
	return context.WithValue(ctx, reentrantKey{}, true)
}

// IsReentrant reports whether ctx was marked by WithReentrant.
func IsReentrant(ctx context.Context) bool {
	v, _ := ctx.Value(reentrantKey{}).(bool)
	return v
}

// WaveSink is the out-of-scope waveform/trace collaborator (spec.md §1,§4.6
// phase 5): the core calls it once per edge with a signal name and its
// current bytes; any VCD-like writer can be plugged in by the host.
type WaveSink interface {
	DumpSignal(name string, value []byte, fallingEdge bool)
}

// NopWaveSink discards every sample; the default when no sink is supplied.
type NopWaveSink struct{}

// DumpSignal implements WaveSink.
func (NopWaveSink) DumpSignal(string, []byte, bool) {}

// VerilogBridge is the out-of-scope co-simulation collaborator (spec.md
// §6): on each edge the scheduler reports the domain's current edge
// polarity; the bridge forces registered Verilog clock ports to that value
// and may request RunSingleTick.
type VerilogBridge interface {
	ForceClock(domainID uint32, rising bool)
	PumpSingleTick() bool
}
