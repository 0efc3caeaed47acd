// Package trigger implements the flat update/trigger table (spec.md §4.2,
// component C2) and the sticky-trigger set (component C3).
//
// The original C++ encodes UpdateRecord/TriggerRecord inline in one byte
// buffer with embedded pointers and uses "address order" for the sticky
// set's deterministic iteration. Per spec.md §9's design note this is
// re-architected here as a slice of *UpdateRecord each carrying its own
// []*TriggerRecord, with a monotonically-assigned TriggerID standing in for
// "address order" (identical ordering guarantee, no unsafe pointers).
package trigger

import (
	"fmt"
	"sort"

	"github.com/descore/cascade/component"
	"github.com/descore/cascade/port"
	"github.com/descore/cascade/syncring"
)

// TriggerID is a creation-order identifier standing in for the original's
// pointer-address ordering key.
type TriggerID uint64

// LayoutError is a configuration error raised while building the table
// (spec.md §7).
type LayoutError struct {
	Reason string
}

func (e LayoutError) Error() string { return fmt.Sprintf("trigger table: %s", e.Reason) }

// TargetKind enumerates what a firing trigger activates (spec.md §3
// "UpdateRecord"): a component, another trigger (chained relay), or a FIFO
// slot.
type TargetKind int

const (
	TargetUnimplemented TargetKind = iota
	TargetComponent
	TargetTrigger
	TargetFifo
	TargetMax
)

// Target is the tagged union a TriggerRecord activates on firing.
type Target struct {
	Kind        TargetKind
	RecordIndex int // valid when Kind == TargetComponent: index into Table.Records.
	Trigger     TriggerID
	Fifo        syncring.Fifo
}

// UpdateRecord is one unit of combinational work (spec.md §3). Records[0] in
// a Table is always the head sentinel: no Component, evaluated before any
// other record every cycle (spec.md §4.2).
type UpdateRecord struct {
	Index     int
	Component component.Component
	Triggers  []*TriggerRecord
	minID     TriggerID
	maxID     TriggerID
	hasRange  bool
}

// TriggerRecord is one activation edge from a port value change to a
// target (spec.md §3).
type TriggerRecord struct {
	ID          TriggerID
	Port        *port.Port
	Fast        bool // 1-byte, active-high, non-latch fast path.
	Delay       int  // cycles before the target fires, 0 == immediate.
	ActiveLow   bool
	Latch       bool
	Active      bool // last-evaluated, polarity-applied condition (diagnostic).
	rawNonZero  bool // last-evaluated raw (pre-ActiveLow) byte-nonzero state, used to edge-detect Latch triggers.
	Target      Target
	RecordIndex int
}

// Config describes a trigger to add via Table.AddTrigger.
type Config struct {
	Port      *port.Port
	Fast      bool
	Delay     int
	ActiveLow bool
	Latch     bool
	Sticky    bool
	Target    Target
}

// Table is the flat update/trigger table plus its sticky-trigger set
// (spec.md §4.2).
type Table struct {
	Records []*UpdateRecord
	byID    map[TriggerID]*TriggerRecord
	sticky  *StickySet
	nextID  TriggerID
}

// NewTable returns a table containing only the head sentinel record.
func NewTable() *Table {
	t := &Table{byID: make(map[TriggerID]*TriggerRecord), sticky: newStickySet()}
	t.Records = append(t.Records, &UpdateRecord{Index: 0})
	return t
}

// Head returns the head sentinel record (spec.md §4.2).
func (t *Table) Head() *UpdateRecord { return t.Records[0] }

// AddRecord appends a new update record for comp and returns it. Caller is
// responsible for ensuring records are appended in dependency (topological)
// order, per spec.md §8 invariant 6.
func (t *Table) AddRecord(comp component.Component) *UpdateRecord {
	r := &UpdateRecord{Index: len(t.Records), Component: comp}
	t.Records = append(t.Records, r)
	return r
}

// AddTrigger attaches a trigger to rec (pass Table.Head() for head-sentinel
// assignment per spec.md §4.2's three head-sentinel rules).
func (t *Table) AddTrigger(rec *UpdateRecord, cfg Config) (*TriggerRecord, error) {
	if cfg.Port == nil {
		return nil, LayoutError{Reason: "trigger must reference a port"}
	}
	if cfg.Target.Kind <= TargetUnimplemented || cfg.Target.Kind >= TargetMax {
		return nil, LayoutError{Reason: "trigger target must be a valid kind"}
	}
	tr := &TriggerRecord{
		ID:          t.nextID,
		Port:        cfg.Port,
		Fast:        cfg.Fast,
		Delay:       cfg.Delay,
		ActiveLow:   cfg.ActiveLow,
		Latch:       cfg.Latch,
		Target:      cfg.Target,
		RecordIndex: rec.Index,
	}
	t.nextID++
	rec.Triggers = append(rec.Triggers, tr)
	if !rec.hasRange {
		rec.minID, rec.maxID = tr.ID, tr.ID
		rec.hasRange = true
	} else {
		if tr.ID < rec.minID {
			rec.minID = tr.ID
		}
		if tr.ID > rec.maxID {
			rec.maxID = tr.ID
		}
	}
	t.byID[tr.ID] = tr
	if cfg.Sticky {
		t.sticky.Add(tr)
	}
	return tr, nil
}

// EvalTriggers evaluates every trigger attached to rec, in attachment order,
// against ring for delayed dispatch. Called after an active component's
// Update runs (spec.md §4.6 phase 4, "evaluate the trailing trigger
// records").
func (t *Table) EvalTriggers(rec *UpdateRecord, ring *syncring.Ring) error {
	for _, tr := range rec.Triggers {
		if err := t.Eval(tr, ring); err != nil {
			return err
		}
	}
	return nil
}

// EvalSticky evaluates only the sticky triggers attached to rec (its own
// TriggerID range), used when rec's component is inactive and therefore its
// Update (and full trigger sweep) is skipped, but its sticky triggers must
// still be re-checked every cycle (spec.md §4.2: "The update loop iterates
// sticky.range(current_record..next_record) for each skipped component").
func (t *Table) EvalSticky(rec *UpdateRecord, ring *syncring.Ring) error {
	if !rec.hasRange {
		return nil
	}
	for _, tr := range t.sticky.Range(rec.minID, rec.maxID) {
		if err := t.Eval(tr, ring); err != nil {
			return err
		}
	}
	return nil
}

// EvalAllSticky evaluates every trigger currently in the sticky set, in
// deterministic ID order (spec.md §8 invariant 5), independent of which
// records were skipped. clockdomain's update loop does not call it: it
// evaluates the head sentinel with EvalTriggers and skipped records with
// EvalSticky.
func (t *Table) EvalAllSticky(ring *syncring.Ring) error {
	for _, tr := range t.sticky.All() {
		if err := t.Eval(tr, ring); err != nil {
			return err
		}
	}
	return nil
}

// Eval implements eval_trigger from spec.md §4.2.
//
// Latch triggers edge-detect on the untransformed byte-nonzero transition
// rather than on the ActiveLow-adjusted level: spec.md §9's "ambiguous
// behaviour" note directs implementers to treat S4 (§8) as ground truth
// ("fire once when the writer transitions the port to non-zero, not again
// until it re-transitions") over a more general polarity rule, so ActiveLow
// on a Latch trigger affects only the reported Active/diagnostic polarity,
// never which edge fires. See DESIGN.md for this Open Question's
// resolution.
func (t *Table) Eval(tr *TriggerRecord, ring *syncring.Ring) error {
	val := tr.Port.Value()
	var rawNonZero bool
	if tr.Fast {
		rawNonZero = len(val) > 0 && val[0] != 0
	} else {
		allZero := true
		for _, b := range val {
			if b != 0 {
				allZero = false
				break
			}
		}
		rawNonZero = !allZero
	}
	level := rawNonZero
	if tr.ActiveLow {
		level = !level
	}

	var fire bool
	if tr.Latch {
		prevRaw := tr.rawNonZero
		fire = rawNonZero && !prevRaw
		// A latch trigger joins the sticky set when its port returns to zero
		// and is not removed again, so sticky sweeps observe both transitions.
		if !rawNonZero && prevRaw {
			t.sticky.Add(tr)
		}
		tr.rawNonZero = rawNonZero
	} else {
		fire = level
	}
	tr.Active = level

	if !fire {
		return nil
	}
	if tr.Delay > 0 {
		captured := append([]byte(nil), val...)
		return ring.ScheduleTrigger(tr.Delay, &firing{table: t, target: tr.Target, captured: captured, ring: ring})
	}
	return t.dispatch(tr.Target, ring)
}

// SeedFiring schedules tr's target to fire at ring slot `delay`, carrying
// captured rather than re-reading tr.Port (spec.md §4.5 reset(): "pre-seeds
// ring slots at every delay offset 1..Delay so state held before reset is
// observed"). Unlike Eval, it bypasses edge/level detection entirely: the
// caller has already decided the pre-reset value meets the active
// condition, and a single reset must seed every slot 1..Delay independently
// so the value is observed regardless of which slot a consumer reads first.
func (t *Table) SeedFiring(tr *TriggerRecord, ring *syncring.Ring, delay int, captured []byte) error {
	if delay <= 0 {
		return t.dispatch(tr.Target, ring)
	}
	return ring.ScheduleTrigger(delay, &firing{table: t, target: tr.Target, captured: captured, ring: ring})
}

// firing is the syncring.Entry a delayed trigger schedules; firing later
// dispatches the captured target without re-checking the port condition,
// matching spec.md §5's guarantee that delayed synchronous firings never
// re-observe a later-written value.
type firing struct {
	table    *Table
	target   Target
	captured []byte
	ring     *syncring.Ring
}

func (f *firing) Fire() error { return f.table.dispatch(f.target, f.ring) }

// FiringSnapshot is the serializable form of one pending delayed firing
// (spec.md §6 body: "ring_slots ... triggers"). Fifo targets are never
// produced by this table (Config never sets Target.Kind == TargetFifo), so
// they are not represented here; Snapshot returns an error if one somehow
// is.
type FiringSnapshot struct {
	TargetKind  TargetKind
	RecordIndex int
	Trigger     TriggerID
	Captured    []byte
}

// Snapshotter is implemented by syncring.Entry values this package can
// serialize; trigger.firing is the only Entry kind this module produces.
type Snapshotter interface {
	Snapshot() (FiringSnapshot, error)
}

// Snapshot implements Snapshotter.
func (f *firing) Snapshot() (FiringSnapshot, error) {
	if f.target.Kind == TargetFifo {
		return FiringSnapshot{}, LayoutError{Reason: "cannot checkpoint a pending firing targeting a FIFO"}
	}
	return FiringSnapshot{
		TargetKind:  f.target.Kind,
		RecordIndex: f.target.RecordIndex,
		Trigger:     f.target.Trigger,
		Captured:    append([]byte(nil), f.captured...),
	}, nil
}

// RestoreFiring reconstructs a pending delayed firing from a snapshot taken
// by Snapshot, bound to t and ring (used by package archive to repopulate a
// restored domain's sync ring).
func (t *Table) RestoreFiring(snap FiringSnapshot, ring *syncring.Ring) syncring.Entry {
	return &firing{
		table:    t,
		target:   Target{Kind: snap.TargetKind, RecordIndex: snap.RecordIndex, Trigger: snap.Trigger},
		captured: snap.Captured,
		ring:     ring,
	}
}

func (t *Table) dispatch(target Target, ring *syncring.Ring) error {
	switch target.Kind {
	case TargetComponent:
		if target.RecordIndex < 0 || target.RecordIndex >= len(t.Records) {
			return LayoutError{Reason: "trigger target record index out of range"}
		}
		rec := t.Records[target.RecordIndex]
		if rec.Component != nil {
			rec.Component.Activate()
		}
		return nil
	case TargetTrigger:
		sub, ok := t.byID[target.Trigger]
		if !ok {
			return LayoutError{Reason: "trigger target references unknown trigger id"}
		}
		return t.dispatch(sub.Target, ring)
	case TargetFifo:
		if target.Fifo == nil {
			return LayoutError{Reason: "trigger target fifo is nil"}
		}
		return target.Fifo.Push()
	default:
		return LayoutError{Reason: "unimplemented trigger target kind"}
	}
}

// Sticky exposes the table's sticky-trigger set (read-only use from the
// scheduler/domain layer, e.g. for deadlock diagnostics).
func (t *Table) Sticky() *StickySet { return t.sticky }

// StickySet is the ordered set of triggers re-evaluated every cycle because
// their port has multiple writers, is latched, or is active-low on a Pulse
// port (spec.md §4.2, glossary "Sticky trigger"). Iteration is always in
// TriggerID order, standing in for the original's address order
// (spec.md §8 invariant 5).
type StickySet struct {
	ids     []TriggerID // kept sorted ascending.
	members map[TriggerID]*TriggerRecord
}

func newStickySet() *StickySet {
	return &StickySet{members: make(map[TriggerID]*TriggerRecord)}
}

// Add inserts tr into the sticky set if not already present.
func (s *StickySet) Add(tr *TriggerRecord) {
	if _, ok := s.members[tr.ID]; ok {
		return
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= tr.ID })
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = tr.ID
	s.members[tr.ID] = tr
}

// Remove drops tr from the sticky set if present.
func (s *StickySet) Remove(tr *TriggerRecord) {
	if _, ok := s.members[tr.ID]; !ok {
		return
	}
	delete(s.members, tr.ID)
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= tr.ID })
	if i < len(s.ids) && s.ids[i] == tr.ID {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
}

// Contains reports sticky-set membership.
func (s *StickySet) Contains(tr *TriggerRecord) bool {
	_, ok := s.members[tr.ID]
	return ok
}

// Range returns every sticky trigger with ID in [lo, hi], in ID order.
func (s *StickySet) Range(lo, hi TriggerID) []*TriggerRecord {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= lo })
	var out []*TriggerRecord
	for ; i < len(s.ids) && s.ids[i] <= hi; i++ {
		out = append(out, s.members[s.ids[i]])
	}
	return out
}

// All returns every sticky trigger in deterministic ID order.
func (s *StickySet) All() []*TriggerRecord {
	out := make([]*TriggerRecord, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.members[id])
	}
	return out
}

// Len returns the number of triggers currently sticky.
func (s *StickySet) Len() int { return len(s.ids) }
