package clockdomain

import (
	"context"
	"fmt"

	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/component"
)

// PreTick is phase 1 of spec.md §4.6: on a rising edge, rotate port storage's
// delay frames before tick() runs.
func (d *Domain) PreTick() {
	if d.Rising {
		d.Storage.PreTick()
	}
}

// Tick is phase 2: on a rising edge, invoke each tickable component's Tick()
// if it is active, then let port storage latch registered outputs.
func (d *Domain) Tick() error {
	if !d.Rising {
		return nil
	}
	for _, c := range d.Components {
		if !c.IsActive() {
			continue
		}
		if err := c.Tick(); err != nil {
			return fmt.Errorf("domain %q: component tick: %w", d.Name, err)
		}
	}
	d.Storage.Tick()
	return nil
}

// PostTick is phase 3, run on every edge: invalidate N/Pulse ports and, on a
// rising edge only, advance the synchronous ring and drain its now-current
// slot. Waveform samples are emitted by DumpWaves (phase 5), not here.
func (d *Domain) PostTick() error {
	d.Storage.PostTick()
	if !d.Rising {
		return nil
	}
	if err := d.Ring.Advance(); err != nil {
		return fmt.Errorf("domain %q: ring advance: %w", d.Name, err)
	}
	return nil
}

// Update is phase 4, run only on a rising edge: drain events scheduled for
// NumTicks, then walk the trigger table running each active component's
// Update and its trailing triggers, and each inactive component's sticky
// range instead.
func (d *Domain) Update(ctx context.Context) error {
	if !d.Rising {
		return nil
	}
	if err := d.Events.DrainDue(clock.PS(d.NumTicks)); err != nil {
		return fmt.Errorf("domain %q: event drain: %w", d.Name, err)
	}
	if err := d.Table.EvalTriggers(d.Table.Head(), d.Ring); err != nil {
		return fmt.Errorf("domain %q: head trigger eval: %w", d.Name, err)
	}
	for _, rec := range d.Table.Records[1:] {
		if rec.Component == nil {
			continue
		}
		if !rec.Component.IsActive() {
			if err := d.Table.EvalSticky(rec, d.Ring); err != nil {
				return fmt.Errorf("domain %q: record %d sticky eval: %w", d.Name, rec.Index, err)
			}
			continue
		}
		uc := &component.UpdateCtx{DomainID: d.ID, RecordIndex: rec.Index, NumTicks: d.NumTicks, Ctx: ctx}
		if err := rec.Component.Update(uc); err != nil {
			return fmt.Errorf("domain %q: record %d update: %w", d.Name, rec.Index, err)
		}
		if err := d.Table.EvalTriggers(rec, d.Ring); err != nil {
			return fmt.Errorf("domain %q: record %d trigger eval: %w", d.Name, rec.Index, err)
		}
	}
	return nil
}

// DumpWaves is phase 5: emit per-signal samples for every port, skipping
// every non-clock signal on a falling edge (spec.md §4.6: "for falling
// edges dump only clock signals").
func (d *Domain) DumpWaves() {
	for _, name := range d.Storage.Names() {
		p := d.Storage.Port(name)
		if !d.Rising && !isClockSignal(name) {
			continue
		}
		d.waveSink.DumpSignal(name, p.Value(), !d.Rising)
	}
}

func isClockSignal(name string) bool {
	return len(name) >= 5 && name[len(name)-5:] == "clock"
}

// RunEdge runs all five phases for the domain's current edge (rising or
// falling), in spec.md §4.6 order, then advances the domain to its next
// edge. Falling edges run only phases 3 and 5, per spec.md §4.6: "Falling
// edges run phases 3 and 5 only."
func (d *Domain) RunEdge(ctx context.Context) error {
	d.PreTick()
	if err := d.Tick(); err != nil {
		return err
	}
	if err := d.PostTick(); err != nil {
		return err
	}
	if err := d.Update(ctx); err != nil {
		return err
	}
	d.DumpWaves()
	d.AdvanceEdge()
	return nil
}
