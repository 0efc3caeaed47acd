package trigger

import (
	"context"
	"testing"

	"github.com/descore/cascade/component"
	"github.com/descore/cascade/port"
	"github.com/descore/cascade/syncring"
)

type fakeComponent struct {
	active  bool
	updated int
}

func (c *fakeComponent) Tick() error                           { return nil }
func (c *fakeComponent) Update(ctx *component.UpdateCtx) error { c.updated++; return nil }
func (c *fakeComponent) IsActive() bool                        { return c.active }
func (c *fakeComponent) Activate()                             { c.active = true }
func (c *fakeComponent) Deactivate()                            { c.active = false }

var _ context.Context = context.Background()

func newPortStorage(t *testing.T, name string, kind port.Kind, size, delay int) (*port.Storage, *port.Port) {
	t.Helper()
	s := port.NewStorage()
	if err := s.AddPort(port.Desc{Name: name, Kind: kind, Size: size, Delay: delay}); err != nil {
		t.Fatalf("AddPort: %v", err)
	}
	if err := s.InitPorts(); err != nil {
		t.Fatalf("InitPorts: %v", err)
	}
	return s, s.Port(name)
}

func TestFastTriggerActivatesComponentImmediately(t *testing.T) {
	_, p := newPortStorage(t, "p", port.KindWired, 1, 0)
	table := NewTable()
	target := &fakeComponent{}
	rec := table.AddRecord(target)
	_, err := table.AddTrigger(table.Head(), Config{
		Port: p, Fast: true,
		Target: Target{Kind: TargetComponent, RecordIndex: rec.Index},
	})
	if err != nil {
		t.Fatalf("AddTrigger: %v", err)
	}
	ring := syncring.NewRing(4)

	p.Write([]byte{0x00})
	if err := table.EvalTriggers(table.Head(), ring); err != nil {
		t.Fatalf("EvalTriggers: %v", err)
	}
	if target.active {
		t.Fatal("component activated on zero value")
	}

	p.Write([]byte{0x01})
	if err := table.EvalTriggers(table.Head(), ring); err != nil {
		t.Fatalf("EvalTriggers: %v", err)
	}
	if !target.active {
		t.Fatal("component not activated on non-zero value")
	}
}

func TestDelayedTriggerFiresAfterRingAdvance(t *testing.T) {
	_, p := newPortStorage(t, "p", port.KindWired, 1, 0)
	table := NewTable()
	target := &fakeComponent{}
	rec := table.AddRecord(target)
	_, err := table.AddTrigger(table.Head(), Config{
		Port: p, Fast: true, Delay: 2,
		Target: Target{Kind: TargetComponent, RecordIndex: rec.Index},
	})
	if err != nil {
		t.Fatalf("AddTrigger: %v", err)
	}
	ring := syncring.NewRing(4)
	p.Write([]byte{0x01})
	if err := table.EvalTriggers(table.Head(), ring); err != nil {
		t.Fatalf("EvalTriggers: %v", err)
	}
	if target.active {
		t.Fatal("component activated before delay elapsed")
	}
	ring.Advance()
	if target.active {
		t.Fatal("component activated one cycle too early")
	}
	ring.Advance()
	if !target.active {
		t.Fatal("component not activated after delay elapsed")
	}
}

// TestActiveLowLatchFiresOnceOnTransition exercises scenario S4 from
// spec.md §8: a LATCH port held at 0 with an active-low trigger fires once
// when the writer transitions the port to non-zero, and not again until it
// re-transitions.
func TestActiveLowLatchFiresOnceOnTransition(t *testing.T) {
	_, p := newPortStorage(t, "latchport", port.KindLatch, 1, 0)
	table := NewTable()
	target := &fakeComponent{}
	rec := table.AddRecord(target)
	_, err := table.AddTrigger(table.Head(), Config{
		Port: p, Fast: false, ActiveLow: true, Latch: true, Sticky: true,
		Target: Target{Kind: TargetComponent, RecordIndex: rec.Index},
	})
	if err != nil {
		t.Fatalf("AddTrigger: %v", err)
	}
	ring := syncring.NewRing(4)

	evalOnce := func() bool {
		target.active = false
		if err := table.EvalAllSticky(ring); err != nil {
			t.Fatalf("EvalAllSticky: %v", err)
		}
		return target.active
	}

	p.Write([]byte{0x00})
	if evalOnce() {
		t.Fatal("fired while held at 0, want no firing until a transition to non-zero")
	}
	if evalOnce() {
		t.Fatal("fired again while still held at 0")
	}

	p.Write([]byte{0x01})
	if !evalOnce() {
		t.Fatal("did not fire on the 0 -> non-zero transition")
	}

	p.Write([]byte{0x01}) // held non-zero: must not refire.
	if evalOnce() {
		t.Fatal("refired while held non-zero without a re-transition")
	}

	p.Write([]byte{0x00}) // back to 0: no firing (latch only fires on rising transition).
	if evalOnce() {
		t.Fatal("fired on the non-zero -> 0 transition, want only 0 -> non-zero to fire")
	}

	p.Write([]byte{0x01}) // re-transitions: should fire once more.
	if !evalOnce() {
		t.Fatal("did not refire after re-transitioning to non-zero")
	}
}

func TestEvalStickyOnlyCoversRecordRange(t *testing.T) {
	s := port.NewStorage()
	if err := s.AddPort(port.Desc{Name: "a", Kind: port.KindWired, Size: 1}); err != nil {
		t.Fatalf("AddPort(a): %v", err)
	}
	if err := s.AddPort(port.Desc{Name: "b", Kind: port.KindWired, Size: 1}); err != nil {
		t.Fatalf("AddPort(b): %v", err)
	}
	if err := s.InitPorts(); err != nil {
		t.Fatalf("InitPorts: %v", err)
	}
	pa, pb := s.Port("a"), s.Port("b")

	table := NewTable()
	c1, c2 := &fakeComponent{}, &fakeComponent{}
	rec1 := table.AddRecord(c1)
	rec2 := table.AddRecord(c2)
	if _, err := table.AddTrigger(rec1, Config{Port: pa, Fast: true, Sticky: true, Target: Target{Kind: TargetComponent, RecordIndex: rec1.Index}}); err != nil {
		t.Fatalf("AddTrigger(rec1): %v", err)
	}
	if _, err := table.AddTrigger(rec2, Config{Port: pb, Fast: true, Sticky: true, Target: Target{Kind: TargetComponent, RecordIndex: rec2.Index}}); err != nil {
		t.Fatalf("AddTrigger(rec2): %v", err)
	}
	ring := syncring.NewRing(4)
	pa.Write([]byte{0x01})
	pb.Write([]byte{0x01})

	if err := table.EvalSticky(rec1, ring); err != nil {
		t.Fatalf("EvalSticky(rec1): %v", err)
	}
	if !c1.active || c2.active {
		t.Errorf("EvalSticky(rec1): c1.active=%v c2.active=%v, want true,false", c1.active, c2.active)
	}
}
