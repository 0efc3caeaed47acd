package clockdomain

import (
	"github.com/descore/cascade/clock"
)

// BuildDomains constructs one Domain per clock in g that is not a pure
// Connected alias (spec.md §3: "every clock resolves to exactly one source
// or generator"), wiring each Divided domain to its already-built
// Generator. It calls Graph.Resolve first, so a malformed or cyclic
// connection graph fails here, before any Domain exists, per spec.md §7's
// "configuration errors are fatal at init time" -- this is supplemented
// feature 1's cycle detection, exercised from the construction path rather
// than left as a library-only utility.
func BuildDomains(g *clock.Graph, rounding clock.PS) ([]*Domain, error) {
	if _, err := g.Resolve(); err != nil {
		return nil, err
	}

	built := make(map[string]*Domain, len(g.Clocks()))
	var order []string
	var nextID uint32 = 1

	var build func(name string, seen map[string]bool) (*Domain, error)
	build = func(name string, seen map[string]bool) (*Domain, error) {
		if d, ok := built[name]; ok {
			return d, nil
		}
		if seen[name] {
			return nil, clock.ConfigError{Clock: name, Reason: "cycle detected in connection graph"}
		}
		seen[name] = true

		c, ok := g.Lookup(name)
		if !ok {
			return nil, clock.ConfigError{Clock: name, Reason: "unknown clock"}
		}

		var d *Domain
		var err error
		switch c.Kind {
		case clock.KindConnected:
			if c.Target == "" {
				return nil, clock.ConfigError{Clock: name, Reason: "connected clock has no target"}
			}
			return build(c.Target, seen)
		case clock.KindSource:
			d, err = NewSourceDomain(nextID, name, c.Period, c.Offset, rounding)
		case clock.KindManual:
			d, err = NewManualDomain(nextID, name, rounding)
		case clock.KindDisabled:
			d, err = NewDisabledDomain(nextID, name)
		case clock.KindDivided:
			if c.Generator == "" {
				return nil, clock.ConfigError{Clock: name, Reason: "divided clock has no generator"}
			}
			var gen *Domain
			gen, err = build(c.Generator, seen)
			if err != nil {
				return nil, err
			}
			d, err = NewDividedDomain(nextID, name, gen, c.RatioA, c.RatioB, c.Offset, rounding)
		default:
			return nil, clock.ConfigError{Clock: name, Reason: "unimplemented clock kind"}
		}
		if err != nil {
			return nil, err
		}
		nextID++
		built[name] = d
		order = append(order, name)
		return d, nil
	}

	for _, c := range g.Clocks() {
		if _, err := build(c.Name, make(map[string]bool)); err != nil {
			return nil, err
		}
	}

	domains := make([]*Domain, 0, len(order))
	for _, name := range order {
		domains = append(domains, built[name])
	}
	return domains, nil
}
