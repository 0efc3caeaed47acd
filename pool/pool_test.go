package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/descore/cascade/clockdomain"
	"github.com/descore/cascade/component"
)

func newTestDomains(t *testing.T, n int) []*clockdomain.Domain {
	t.Helper()
	out := make([]*clockdomain.Domain, n)
	for i := 0; i < n; i++ {
		d, err := clockdomain.NewSourceDomain(uint32(i), "d", 1000, 0, 5)
		if err != nil {
			t.Fatalf("NewSourceDomain: %v", err)
		}
		if err := d.Init(0); err != nil {
			t.Fatalf("Init: %v", err)
		}
		out[i] = d
	}
	return out
}

func TestRunPhaseVisitsEveryDomain(t *testing.T) {
	p := New(2)
	domains := newTestDomains(t, 7)
	var seen int32
	err := p.RunPhase(context.Background(), domains, "test", func(d *clockdomain.Domain) error {
		atomic.AddInt32(&seen, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if got := atomic.LoadInt32(&seen); got != int32(len(domains)) {
		t.Fatalf("visited %d domains, want %d", got, len(domains))
	}
}

func TestRunPhasePropagatesFirstError(t *testing.T) {
	p := New(4)
	domains := newTestDomains(t, 5)
	wantErr := errors.New("boom")
	err := p.RunPhase(context.Background(), domains, "test", func(d *clockdomain.Domain) error {
		if d.ID == 2 {
			return wantErr
		}
		return nil
	})
	if err == nil {
		t.Fatal("RunPhase returned nil, want an error")
	}
	var werr WorkerError
	if !errors.As(err, &werr) {
		t.Fatalf("error = %v, want a WorkerError", err)
	}
	if !errors.Is(werr, wantErr) && werr.Err.Error() != wantErr.Error() {
		t.Fatalf("wrapped error = %v, want %v", werr.Err, wantErr)
	}
}

func TestRunPhaseReentrantRunsSerially(t *testing.T) {
	p := New(4)
	domains := newTestDomains(t, 3)
	ctx := component.WithReentrant(context.Background())
	var order []uint32
	err := p.RunPhase(ctx, domains, "test", func(d *clockdomain.Domain) error {
		order = append(order, d.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if len(order) != len(domains) {
		t.Fatalf("visited %d domains, want %d", len(order), len(domains))
	}
	for i, id := range order {
		if id != uint32(i) {
			t.Fatalf("reentrant order = %v, want strictly sequential ids", order)
		}
	}
}

func TestNewSizeFormula(t *testing.T) {
	p := New(1)
	if got := p.Size(); got != 0 {
		t.Fatalf("New(1).Size() = %d, want 0 (requested-1)", got)
	}
}
