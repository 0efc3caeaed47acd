package clockdomain

import "github.com/descore/cascade/clock"

// ManualTick implements spec.md §4.7's "Manual clock tick": the first
// invocation establishes the domain's effective offset from simTime; every
// subsequent invocation fires the domain's next rising edge at simTime and
// recomputes the effective period as (simTime-offset)/NumTicks, which lets
// dependent Divided domains (scheduler.Scheduler walks Generator==d) project
// their own next edges even though this domain is externally driven.
func (d *Domain) ManualTick(simTime clock.PS) error {
	if d.Kind != clock.KindManual {
		return ConfigError{Domain: d.Name, Reason: "ManualTick called on a non-manual domain"}
	}
	if !d.manualSet {
		d.manualOffset = simTime
		d.manualSet = true
		d.PrevTick = simTime
	} else {
		d.Period = d.EffectivePeriod(simTime)
	}
	d.NextEdge = simTime
	d.Rising = true
	return nil
}

// EffectivePeriod returns the domain's measured period given the edges
// observed so far and the new tick time simTime (spec.md §4.7: "measures
// the effective period as (current_time - offset) / num_ticks"). Returns
// zero before any edge has measured a period.
func (d *Domain) EffectivePeriod(simTime clock.PS) clock.PS {
	if !d.manualSet || d.NumTicks == 0 {
		return 0
	}
	return (simTime - d.manualOffset) / clock.PS(d.NumTicks)
}

// ManualOffset returns the effective offset established by the first
// ManualTick call, and false if ManualTick has never been called.
func (d *Domain) ManualOffset() (clock.PS, bool) {
	return d.manualOffset, d.manualSet
}
