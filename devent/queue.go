// Package devent implements the per-domain discrete event queue from
// spec.md §4.4 (component C5): a tick-keyed multimap with insertion order
// preserved within a tick, and dedup-on-reset via Event.Equals.
package devent

import (
	"fmt"
	"sort"

	"github.com/descore/cascade/clock"
)

// Event is an opaque, owning object fired when its scheduled tick arrives.
// Equals is used only while deduplicating events scheduled during a reset
// (spec.md §4.4).
type Event interface {
	Fire() error
	Equals(other Event) bool
}

// Queue is a tick -> []Event multimap, ordered by tick, preserving insertion
// order within a tick (spec.md §4.4: "BTreeMap<tick, Vec<Event>>-equivalent").
type Queue struct {
	byTick map[clock.PS][]Event
	ticks  []clock.PS // kept sorted; Schedule inserts in order.
}

// NewQueue returns an empty event queue.
func NewQueue() *Queue {
	return &Queue{byTick: make(map[clock.PS][]Event)}
}

// Schedule appends ev at the given tick. If dedup is true (used only during
// Resetting, per spec.md §4.4), an existing event at that tick satisfying
// Equals is left in place instead of appending a duplicate.
func (q *Queue) Schedule(tick clock.PS, ev Event, dedup bool) {
	if dedup {
		for _, existing := range q.byTick[tick] {
			if existing.Equals(ev) {
				return
			}
		}
	}
	if _, ok := q.byTick[tick]; !ok {
		i := sort.Search(len(q.ticks), func(i int) bool { return q.ticks[i] >= tick })
		q.ticks = append(q.ticks, 0)
		copy(q.ticks[i+1:], q.ticks[i:])
		q.ticks[i] = tick
	}
	q.byTick[tick] = append(q.byTick[tick], ev)
}

// DrainDue fires and removes every event scheduled at exactly tick, in
// insertion order, as done "at the top of update()" before any combinational
// update runs (spec.md §4.4/§4.6 phase 4).
func (q *Queue) DrainDue(tick clock.PS) error {
	events, ok := q.byTick[tick]
	if !ok {
		return nil
	}
	delete(q.byTick, tick)
	i := sort.Search(len(q.ticks), func(i int) bool { return q.ticks[i] >= tick })
	if i < len(q.ticks) && q.ticks[i] == tick {
		q.ticks = append(q.ticks[:i], q.ticks[i+1:]...)
	}
	for _, e := range events {
		if err := e.Fire(); err != nil {
			return fmt.Errorf("event at tick %d: %w", tick, err)
		}
	}
	return nil
}

// NextTick returns the smallest scheduled tick still pending, and false if
// the queue is empty.
func (q *Queue) NextTick() (clock.PS, bool) {
	if len(q.ticks) == 0 {
		return 0, false
	}
	return q.ticks[0], true
}

// Len returns the total number of pending events across all ticks.
func (q *Queue) Len() int {
	n := 0
	for _, evs := range q.byTick {
		n += len(evs)
	}
	return n
}

// Reset clears every pending event, per spec.md §4.5 reset().
func (q *Queue) Reset() {
	q.byTick = make(map[clock.PS][]Event)
	q.ticks = nil
}
