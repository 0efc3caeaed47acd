// Package port implements PortStorage (spec.md §4.1, component C1): the
// owner of all inter-component signal memory, its per-cycle delay/shadow
// frames, and the cross-domain "owner" diagnostic.
//
// The shadow-register pattern below is grounded directly on the teacher's
// pia6532.Chip: every output register there (portAOutput, portADDR, timer,
// ...) is paired with a shadowXxx field that TickDone() copies into the live
// field, giving writers-during-tick a value that only becomes visible to
// readers on the following cycle. PortStorage generalises that one-writer,
// one-shadow pattern to an arbitrary configured Delay per port.
package port

import (
	"fmt"
	"sort"
)

// Kind enumerates the port connection variants relevant to ordering
// (spec.md §3).
type Kind int

const (
	KindUnimplemented Kind = iota
	KindWired              // Forwarding alias to a variable; same-cycle visibility.
	KindSynchronous        // Registered with a configured Delay, optionally cross-phase.
	KindSlowQ              // Cross-domain, head-sentinel evaluated.
	KindPatched            // Cross-domain, head-sentinel evaluated.
	KindFifo               // Push/pop queue port.
	KindLatch              // Retains last written value until rewritten.
	KindPulse              // Reads zero on any cycle with no writer.
	KindMax
)

func (k Kind) String() string {
	switch k {
	case KindWired:
		return "wired"
	case KindSynchronous:
		return "synchronous"
	case KindSlowQ:
		return "slowq"
	case KindPatched:
		return "patched"
	case KindFifo:
		return "fifo"
	case KindLatch:
		return "latch"
	case KindPulse:
		return "pulse"
	default:
		return "unimplemented"
	}
}

// LayoutError is raised by Storage.InitPorts/AddPort for a malformed port
// description; a configuration error per spec.md §7.
type LayoutError struct {
	Port   string
	Reason string
}

func (e LayoutError) Error() string {
	return fmt.Sprintf("port %q: %s", e.Port, e.Reason)
}

// Desc is the port description supplied by a component before InitPorts
// (spec.md §6 "Port description").
type Desc struct {
	Name string
	Kind Kind
	Size int // bytes; must be >=1.
	// Delay is the number of source-domain cycles a Synchronous port's
	// write is held before becoming visible to Delayed(); 0 means a
	// same-domain "fake register" (spec.md §9) resolved here rather than
	// via a separate shadow port.
	Delay int
	// Shadow marks an intra-domain synchronous path with Delay==0 that
	// nonetheless needs a private copy rather than aliasing Wired storage
	// (spec.md §9 "Fake registers"): resolved explicitly instead of being
	// synthesised implicitly the way the original C++ does.
	Shadow bool
	// CrossDomain marks SlowQ/Patched ports, whose triggers are always
	// assigned to the head sentinel (spec.md §4.2).
	CrossDomain bool
}

// Port is one typed memory cell owned by exactly one Storage.
type Port struct {
	Desc    Desc
	ring    [][]byte
	depth   int
	writeAt int
	written bool // set by Write, cleared by rotate, Storage.PostTick and Storage.Reset; drives Pulse zeroing.
	offset  int  // byte offset of this port within the owning Storage's region.
}

// Value returns the current (same-cycle) frame: what a Wired reader, or the
// writer itself, observes.
func (p *Port) Value() []byte { return p.ring[p.writeAt] }

// Delayed returns the frame visible exactly Desc.Delay cycles after a write,
// i.e. what a Synchronous reader of this port observes this cycle.
func (p *Port) Delayed() []byte {
	return p.ring[(p.writeAt+1)%p.depth]
}

// Write stores data into the currently-writable frame. Multiple writers in
// one update are only valid for sticky/latch ports per spec.md §3; Storage
// does not itself arbitrate that (the trigger table does, see package
// trigger).
func (p *Port) Write(data []byte) {
	copy(p.ring[p.writeAt], data)
	p.written = true
}

// rotate advances the delay ring by one rising edge. Called by
// Storage.PreTick for every Synchronous port once per rising edge, before
// tick() runs — so this cycle's write lands in what becomes, after the next
// rotate, the 1-cycle-old frame, and so on out to Desc.Delay.
func (p *Port) rotate() {
	p.writeAt = (p.writeAt + 1) % p.depth
	p.written = false
}

func newPort(d Desc, offset int) (*Port, error) {
	if d.Name == "" {
		return nil, LayoutError{Port: d.Name, Reason: "port must have a non-empty name"}
	}
	if d.Size < 1 {
		return nil, LayoutError{Port: d.Name, Reason: "size must be >=1"}
	}
	if d.Kind <= KindUnimplemented || d.Kind >= KindMax {
		return nil, LayoutError{Port: d.Name, Reason: "unimplemented or invalid kind"}
	}
	if d.Delay < 0 || d.Delay > 255 {
		return nil, LayoutError{Port: d.Name, Reason: "delay must be in [0,255] on the fast path"}
	}
	depth := d.Delay + 1
	ring := make([][]byte, depth)
	for i := range ring {
		ring[i] = make([]byte, d.Size)
	}
	return &Port{Desc: d, ring: ring, depth: depth, offset: offset}, nil
}

// Storage owns the raw byte region for every port in one domain
// (spec.md §4.1, C1).
type Storage struct {
	ports     map[string]*Port
	order     []string
	region    int // total bytes laid out so far by AddPort.
	finalized bool
}

// NewStorage returns an empty port storage region.
func NewStorage() *Storage {
	return &Storage{ports: make(map[string]*Port)}
}

// AddPort registers a port description before InitPorts.
func (s *Storage) AddPort(d Desc) error {
	if s.finalized {
		return LayoutError{Port: d.Name, Reason: "cannot add ports after InitPorts"}
	}
	if _, ok := s.ports[d.Name]; ok {
		return LayoutError{Port: d.Name, Reason: "duplicate port name"}
	}
	p, err := newPort(d, s.region)
	if err != nil {
		return err
	}
	s.ports[d.Name] = p
	s.order = append(s.order, d.Name)
	s.region += d.Size * p.depth
	return nil
}

// InitPorts closes port registration; port bytes and delay shadow copies
// are already allocated by AddPort. Ports must all have been added first. It is idempotent-safe to call
// once per domain during the Initializing state transition (spec.md §4.5).
func (s *Storage) InitPorts() error {
	s.finalized = true
	return nil
}

// FinalizeCopies resolves cross-domain synchronous reads to their shadow
// frames after every domain has initialised. In this Go re-architecture
// cross-domain reads are modeled as ordinary Synchronous ports with
// Desc.CrossDomain set, so FinalizeCopies is a validation pass: any
// CrossDomain port must have Delay>=1 or be SlowQ/Patched, matching the
// ordering guarantee in spec.md §5.
func (s *Storage) FinalizeCopies() error {
	for _, name := range s.order {
		p := s.ports[name]
		if p.Desc.CrossDomain && p.Desc.Kind == KindSynchronous && p.Desc.Delay < 1 {
			return LayoutError{Port: name, Reason: "cross-domain synchronous port needs delay>=1 or a SlowQ/Patched connection"}
		}
	}
	return nil
}

// PreTick rotates delay frames for every Synchronous port. Called once per
// rising edge, before tick() (spec.md §4.6 phase 1).
func (s *Storage) PreTick() {
	for _, name := range s.order {
		p := s.ports[name]
		if p.Desc.Kind == KindSynchronous {
			p.rotate()
		}
	}
}

// PostTick invalidates N-ports and zeroes Pulse ports that saw no writer
// this cycle (spec.md §4.1, §4.6 phase 3). The original treats "invalidate
// N-ports" and "zero Pulse ports" as the same operation; this
// implementation folds them together since spec.md never further
// distinguishes an N-port from a Pulse port.
func (s *Storage) PostTick() {
	for _, name := range s.order {
		p := s.ports[name]
		if p.Desc.Kind == KindPulse && !p.written {
			for i := range p.ring[p.writeAt] {
				p.ring[p.writeAt][i] = 0
			}
		}
		p.written = false
	}
}

// Tick is a no-op placeholder kept distinct from PreTick/PostTick so callers
// match the five-phase cycle's naming 1:1; port storage has no work at
// phase 2 beyond what components do via their own Tick().
func (s *Storage) Tick() {}

// IsOwner reports whether name is a port registered in this Storage. Used
// only for diagnostics (spec.md §4.1), mirroring memory.Bank's DatabusVal
// parent-chain idea from the teacher but narrowed to membership, not value.
func (s *Storage) IsOwner(name string) bool {
	_, ok := s.ports[name]
	return ok
}

// Port returns the named port, or nil if it isn't registered.
func (s *Storage) Port(name string) *Port {
	return s.ports[name]
}

// Reset zeroes all frames of every port, per spec.md §4.5 reset().
func (s *Storage) Reset() {
	for _, name := range s.order {
		p := s.ports[name]
		for _, frame := range p.ring {
			for i := range frame {
				frame[i] = 0
			}
		}
		p.writeAt = 0
		p.written = false
	}
}

// Names returns port names in deterministic (sorted) order, used by archive
// serialisation so save/load order never depends on map iteration.
func (s *Storage) Names() []string {
	names := make([]string, 0, len(s.ports))
	for n := range s.ports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot captures every port's full ring state for archiving
// (spec.md §6 checkpoint format, "ports").
type Snapshot struct {
	Name    string
	WriteAt int
	Frames  [][]byte
}

// Save returns a deterministic, deep-copied snapshot of every port.
func (s *Storage) Save() []Snapshot {
	names := s.Names()
	out := make([]Snapshot, 0, len(names))
	for _, n := range names {
		p := s.ports[n]
		frames := make([][]byte, len(p.ring))
		for i, f := range p.ring {
			frames[i] = append([]byte(nil), f...)
		}
		out = append(out, Snapshot{Name: n, WriteAt: p.writeAt, Frames: frames})
	}
	return out
}

// Restore reloads port state previously produced by Save. Ports must already
// be registered with matching Size/Delay (they are not recreated).
func (s *Storage) Restore(snaps []Snapshot) error {
	for _, snap := range snaps {
		p, ok := s.ports[snap.Name]
		if !ok {
			return LayoutError{Port: snap.Name, Reason: "unknown port on restore"}
		}
		if len(snap.Frames) != p.depth {
			return LayoutError{Port: snap.Name, Reason: "ring depth mismatch on restore"}
		}
		for i, f := range snap.Frames {
			if len(f) != len(p.ring[i]) {
				return LayoutError{Port: snap.Name, Reason: "frame size mismatch on restore"}
			}
			copy(p.ring[i], f)
		}
		p.writeAt = snap.WriteAt
	}
	return nil
}
