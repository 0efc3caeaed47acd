package clockdomain

import (
	"testing"

	"github.com/descore/cascade/clock"
)

// TestBuildDomainsWiresDividedGenerator exercises the builder path for a
// source feeding a divided domain through a connect() alias, confirming the
// divided domain's Generator is the resolved source, not the alias.
func TestBuildDomainsWiresDividedGenerator(t *testing.T) {
	g := clock.NewGraph()
	if err := g.Add(&clock.Clock{Name: "osc", Kind: clock.KindSource, Period: 1000}); err != nil {
		t.Fatalf("Add(osc): %v", err)
	}
	if err := g.Add(&clock.Clock{Name: "osc_alias", Kind: clock.KindConnected, Target: "osc"}); err != nil {
		t.Fatalf("Add(osc_alias): %v", err)
	}
	if err := g.Add(&clock.Clock{Name: "half", Kind: clock.KindDivided, Generator: "osc_alias", RatioA: 1, RatioB: 2}); err != nil {
		t.Fatalf("Add(half): %v", err)
	}

	domains, err := BuildDomains(g, 5)
	if err != nil {
		t.Fatalf("BuildDomains: %v", err)
	}
	if len(domains) != 2 {
		t.Fatalf("len(domains) = %d, want 2 (osc, half; osc_alias is a pure alias)", len(domains))
	}
	var half *Domain
	for _, d := range domains {
		if d.Name == "half" {
			half = d
		}
	}
	if half == nil {
		t.Fatal("no domain named \"half\" built")
	}
	if half.Generator == nil || half.Generator.Name != "osc" {
		t.Fatalf("half.Generator = %v, want the \"osc\" domain (resolved through osc_alias)", half.Generator)
	}
}

// TestBuildDomainsRejectsCycle exercises spec.md §3's acyclic-graph
// invariant from the construction path, not just Graph.Resolve in
// isolation.
func TestBuildDomainsRejectsCycle(t *testing.T) {
	g := clock.NewGraph()
	if err := g.Add(&clock.Clock{Name: "a", Kind: clock.KindDivided, Generator: "b", RatioA: 1, RatioB: 1}); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if err := g.Add(&clock.Clock{Name: "b", Kind: clock.KindDivided, Generator: "a", RatioA: 1, RatioB: 1}); err != nil {
		t.Fatalf("Add(b): %v", err)
	}
	if _, err := BuildDomains(g, 5); err == nil {
		t.Fatal("BuildDomains accepted a cyclic connection graph")
	}
}
