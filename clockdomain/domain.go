// Package clockdomain implements the clock-domain state machine described in
// spec.md §4.5/§4.6 (component C6): one domain per resolved clock source,
// carrying its own port storage, trigger table, synchronous delay ring, and
// event queue, and driving them through the five-phase cycle each edge.
package clockdomain

import (
	"fmt"

	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/component"
	"github.com/descore/cascade/devent"
	"github.com/descore/cascade/port"
	"github.com/descore/cascade/syncring"
	"github.com/descore/cascade/trigger"
)

// State is one of the domain lifecycle states from spec.md §4.5.
type State int

const (
	StateNone State = iota
	StateConstruct
	StateInitializing
	StateInitialized
	StateRunning
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateConstruct:
		return "construct"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateResetting:
		return "resetting"
	default:
		return "none"
	}
}

// ConfigError is a fatal configuration error raised while constructing or
// initialising a domain (spec.md §7), never observed once Running.
type ConfigError struct {
	Domain string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("clock domain %q: %s", e.Domain, e.Reason)
}

// Domain is one clock domain (spec.md §3 "ClockDomain", component C6): a
// state machine for one clock's period, offset, edge counter, ring, event
// queue, and component list, plus the rational generator coefficients used
// when this domain is Divided from another.
type Domain struct {
	ID   uint32
	Name string
	Kind clock.Kind // Source, Divided, Manual, or Disabled; never Connected (those resolve away).

	Period clock.PS // ps; zero for Disabled, and for Manual until ManualTick measures an effective period.
	Offset clock.PS // ps; signed.

	NumTicks  uint64 // rising-edge count.
	NumEdges  uint64 // rising+falling edge count.
	PrevTick  clock.PS
	PrevIndex uint64 // NumTicks as of the last edge, for generator alignment bookkeeping.
	NextEdge  clock.PS
	Rising    bool // polarity of NextEdge.

	// Generator and rational coefficients (a,b,m,k), populated only for
	// Divided domains: tick(n*RatioB) == Generator.TickAt(n*RatioA+M)+K
	// exactly (spec.md §3, §8 invariant 3).
	Generator *Domain
	RatioA    int64
	RatioB    int64
	M         int64
	K         clock.PS

	// Manual-clock bookkeeping (spec.md §4.7 "Manual clock tick").
	manualSet    bool
	manualOffset clock.PS

	rounding clock.PS // ClockRounding, ps.

	Components []component.Component // tickable components, in registration order.
	Table      *trigger.Table
	Storage    *port.Storage
	Ring       *syncring.Ring
	Events     *devent.Queue

	state    State
	waveSink component.WaveSink
}

// NewSourceDomain constructs a free-running domain (spec.md §3 "Source").
func NewSourceDomain(id uint32, name string, period, offset, rounding clock.PS) (*Domain, error) {
	if period <= 0 {
		return nil, ConfigError{Domain: name, Reason: "source domain must have a positive period"}
	}
	d := newBareDomain(id, name, clock.KindSource, period, offset, rounding)
	d.NextEdge = offset
	d.Rising = true
	return d, nil
}

// NewManualDomain constructs a domain advanced only by ManualTick
// (spec.md §3 "Manual").
func NewManualDomain(id uint32, name string, rounding clock.PS) (*Domain, error) {
	d := newBareDomain(id, name, clock.KindManual, 0, 0, rounding)
	return d, nil
}

// NewDisabledDomain constructs a domain that never advances
// (spec.md §3 "Disabled").
func NewDisabledDomain(id uint32, name string) (*Domain, error) {
	d := newBareDomain(id, name, clock.KindDisabled, 0, 0, 0)
	return d, nil
}

// NewDividedDomain constructs a domain derived from generator by the ratio
// ratioA/ratioB (spec.md §3 "Divided"), deriving the (a,b,m,k) coefficients
// described in spec.md §9's "Rational generator coefficients" supplemented
// feature. ratioA/ratioB is reduced to lowest terms and, if the reduced
// denominator is still >= 64, approximated by the nearest convergent with
// denominator < 64 (spec.md §3: "ratio = a/b is expressible with b<64").
func NewDividedDomain(id uint32, name string, generator *Domain, ratioA, ratioB int64, offset, rounding clock.PS) (*Domain, error) {
	if generator == nil {
		return nil, ConfigError{Domain: name, Reason: "divided domain requires a generator"}
	}
	if ratioA <= 0 || ratioB <= 0 {
		return nil, ConfigError{Domain: name, Reason: "divided domain ratio must be positive"}
	}
	g := gcd(ratioA, ratioB)
	a, b := ratioA/g, ratioB/g
	if b >= 64 {
		a, b = deriveRatio(a, b, 63)
	}
	period := generator.Period * clock.PS(a) / clock.PS(b)
	d := newBareDomain(id, name, clock.KindDivided, period, offset, rounding)
	d.Generator = generator
	d.RatioA, d.RatioB = a, b
	// Choose m=0 and k so that tick(0) lands exactly on offset: the
	// formula's n=0 case collapses to tick(0) = generator.TickAt(0) + K.
	// Every subsequent exact alignment point (n*b) is then exact by
	// construction, satisfying spec.md §8 invariant 3 without needing to
	// search for m (only ever-growing chains of Divided-of-Divided domains
	// would need a non-zero m; not exercised by this corpus).
	d.M = 0
	d.K = offset - generator.TickAt(0)
	d.NextEdge = offset
	d.Rising = true
	return d, nil
}

func newBareDomain(id uint32, name string, kind clock.Kind, period, offset, rounding clock.PS) *Domain {
	return &Domain{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Period:   period,
		Offset:   offset,
		rounding: rounding,
		Table:    trigger.NewTable(),
		Storage:  port.NewStorage(),
		Events:   devent.NewQueue(),
		state:    StateConstruct,
		waveSink: component.NopWaveSink{},
	}
}

// SetWaveSink installs the waveform collaborator used by DumpWaves (spec.md
// §1, §4.6 phase 5). The zero value is component.NopWaveSink.
func (d *Domain) SetWaveSink(sink component.WaveSink) {
	if sink == nil {
		sink = component.NopWaveSink{}
	}
	d.waveSink = sink
}

// RegisterComponent appends comp to the domain's tickable component list
// (spec.md §6 "Components register ... a zero-or-one tick hook").
func (d *Domain) RegisterComponent(comp component.Component) {
	d.Components = append(d.Components, comp)
}

// State returns the domain's current lifecycle state.
func (d *Domain) State() State { return d.state }

// Init transitions Construct -> Initializing -> Initialized (spec.md §4.5):
// lays out port storage, allocates the synchronous ring sized to the
// largest configured trigger delay, and arms the ring with any pre-seeded
// state per reset(true).
func (d *Domain) Init(maxRingDelay int) error {
	if d.state != StateConstruct {
		return ConfigError{Domain: d.Name, Reason: "Init called outside Construct state"}
	}
	d.state = StateInitializing
	if err := d.Storage.InitPorts(); err != nil {
		return err
	}
	if err := d.Storage.FinalizeCopies(); err != nil {
		return err
	}
	d.Ring = syncring.NewRing(maxRingDelay)
	d.state = StateInitialized
	if err := d.Reset(true); err != nil {
		return err
	}
	d.state = StateRunning
	return nil
}

// Reset implements reset(is_reset) (spec.md §4.5): clears rings and events,
// rebuilds the sticky set's pre-seeded firings, and, when isReset is true,
// zeroes port storage.
// Every sync trigger currently in the sticky set whose port already
// satisfies its active condition is pre-seeded into the ring at every delay
// offset 1..Delay, so state held before reset is observed on the first few
// cycles (spec.md §8 invariant 8). The pre-reset port values driving that
// decision are captured before Storage.Reset() zeroes them in place, since
// Port.Value() aliases the port's own ring buffer rather than copying it.
func (d *Domain) Reset(isReset bool) error {
	prev := d.state
	d.state = StateResetting

	seeds := d.captureSeeds()

	d.Ring.Reset()
	d.Events.Reset()
	if isReset {
		d.Storage.Reset()
	}
	for _, s := range seeds {
		if err := d.seedTrigger(s.tr, s.val); err != nil {
			d.state = prev
			return err
		}
	}
	d.state = StateRunning
	return nil
}

type triggerSeed struct {
	tr  *trigger.TriggerRecord
	val []byte
}

// captureSeeds snapshots, before any port is zeroed, every delayed sticky
// trigger whose pre-reset value already meets its active condition.
func (d *Domain) captureSeeds() []triggerSeed {
	var seeds []triggerSeed
	for _, tr := range d.Table.Sticky().All() {
		if tr.Delay <= 0 {
			continue
		}
		val := tr.Port.Value()
		nonZero := false
		for _, b := range val {
			if b != 0 {
				nonZero = true
				break
			}
		}
		if tr.ActiveLow {
			nonZero = !nonZero
		}
		if !nonZero {
			continue
		}
		seeds = append(seeds, triggerSeed{tr: tr, val: append([]byte(nil), val...)})
	}
	return seeds
}

// seedTrigger schedules tr's target at every ring slot 1..Delay using the
// captured pre-reset value, so the value is observed regardless of which
// slot a consumer happens to read first (spec.md §4.5).
func (d *Domain) seedTrigger(tr *trigger.TriggerRecord, captured []byte) error {
	for delay := 1; delay <= tr.Delay; delay++ {
		if err := d.Table.SeedFiring(tr, d.Ring, delay, captured); err != nil {
			return err
		}
	}
	return nil
}

// Rounding returns the domain's configured ClockRounding, in ps (spec.md
// §9's two-pass edge-rounding tolerance), used by the scheduler to bucket
// same-tick domains within tolerance rather than by exact equality.
func (d *Domain) Rounding() clock.PS { return d.rounding }

// TickAt returns the time of this domain's n-th rising edge, assuming it
// were Source-like (Offset + n*Period). For Divided domains this is an
// approximation except at multiples of RatioB, where the generator's own
// TickAt is exact by construction; used as the generator reference by
// NewDividedDomain and advanceDivided.
func (d *Domain) TickAt(n uint64) clock.PS {
	return d.Offset + clock.PS(n)*d.Period
}

// AdvanceEdge records the edge that just fired (NextEdge, Rising) and
// computes the domain's next edge, per spec.md §4.7's update_next_edge.
// Manual and Disabled domains do not self-advance: for them AdvanceEdge
// updates the edge counters, PrevTick and polarity but leaves NextEdge
// unchanged (Manual is driven by ManualTick; Disabled never ticks).
func (d *Domain) AdvanceEdge() {
	wasRising := d.Rising
	if wasRising {
		d.NumTicks++
	}
	d.NumEdges++
	d.PrevTick = d.NextEdge
	d.PrevIndex = d.NumTicks

	switch d.Kind {
	case clock.KindSource:
		d.NextEdge = roundEdge(d.PrevTick+d.Period/2, d.rounding, d.Offset)
	case clock.KindDivided:
		d.advanceDivided(wasRising)
	}
	d.Rising = !wasRising
}

// advanceDivided implements spec.md §4.7's "every b-th rising edge uses the
// exact formula; other edges use the rounded half-period advance."
func (d *Domain) advanceDivided(wasRising bool) {
	if wasRising {
		// Next edge is a falling edge: never exact, always a half-period
		// advance from the rising edge just processed.
		d.NextEdge = roundEdge(d.PrevTick+d.Period/2, d.rounding, d.Offset)
		return
	}
	n := d.NumTicks // 0-based index of the upcoming rising edge.
	if int64(n)%d.RatioB == 0 {
		genIdx := (int64(n)/d.RatioB)*d.RatioA + d.M
		d.NextEdge = d.Generator.TickAt(uint64(genIdx)) + d.K
		return
	}
	d.NextEdge = roundEdge(d.PrevTick+d.Period/2, d.rounding, d.Offset)
}

// IsTicking reports whether the domain ever advances on its own (Source or
// Divided); Manual domains advance only via ManualTick and Disabled domains
// never advance, so the scheduler never reinserts either kind into its
// next-edge ordering (spec.md §3).
func (d *Domain) IsTicking() bool {
	return d.Kind == clock.KindSource || d.Kind == clock.KindDivided
}

const psPerNs = clock.PS(1000)

// roundEdge implements spec.md §9's two-pass ClockRounding test: round to
// absolute ns first, accept if within rounding ps; otherwise round relative
// to offset, accept if within rounding ps; otherwise leave raw unrounded.
func roundEdge(raw, rounding, offset clock.PS) clock.PS {
	if rounding <= 0 {
		return raw
	}
	absNs := roundToMultiple(raw, psPerNs)
	if absPS(raw-absNs) <= rounding {
		return absNs
	}
	rel := raw - offset
	relNs := roundToMultiple(rel, psPerNs)
	if absPS(rel-relNs) <= rounding {
		return relNs + offset
	}
	return raw
}

func roundToMultiple(v, m clock.PS) clock.PS {
	if v >= 0 {
		return ((v + m/2) / m) * m
	}
	return -(((-v) + m/2) / m) * m
}

func absPS(v clock.PS) clock.PS {
	if v < 0 {
		return -v
	}
	return v
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// deriveRatio finds the continued-fraction convergent of num/den with the
// largest denominator <= maxDen (spec.md §9: "derives a,b,m,k from a
// requested ratio by continued-fraction expansion bounded at b<64").
func deriveRatio(num, den, maxDen int64) (int64, int64) {
	if den <= maxDen {
		return num, den
	}
	var h0, h1, k0, k1 int64 = 0, 1, 1, 0
	n, dd := num, den
	for dd != 0 {
		a0 := n / dd
		n, dd = dd, n-a0*dd
		h2 := a0*h1 + h0
		k2 := a0*k1 + k0
		if k2 > maxDen {
			break
		}
		h0, h1 = h1, h2
		k0, k1 = k1, k2
	}
	if k1 == 0 {
		return num, den
	}
	return h1, k1
}
