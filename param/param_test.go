package param

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newLoaded(t *testing.T, args []string) Params {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("fs.Parse: %v", err)
	}
	v := viper.New()
	p, err := Load(v, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	p := newLoaded(t, nil)
	if p.NumThreads != 0 {
		t.Errorf("NumThreads = %d, want 0", p.NumThreads)
	}
	if p.CheckpointName != "cascade-%d.ckpt" {
		t.Errorf("CheckpointName = %q, want default pattern", p.CheckpointName)
	}
	if p.SafeCheckpoint {
		t.Error("SafeCheckpoint = true, want false by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	p := newLoaded(t, []string{
		"--numthreads=4",
		"--timeout=5s",
		"--finish=100000",
		"--safecheckpoint",
	})
	if p.NumThreads != 4 {
		t.Errorf("NumThreads = %d, want 4", p.NumThreads)
	}
	if p.Timeout != 5*time.Second {
		t.Errorf("Timeout = %s, want 5s", p.Timeout)
	}
	if p.Finish != 100000 {
		t.Errorf("Finish = %d, want 100000", p.Finish)
	}
	if !p.SafeCheckpoint {
		t.Error("SafeCheckpoint = false, want true")
	}
}

func TestValidateRejectsNegatives(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"numthreads", Params{NumThreads: -1, CheckpointName: "x"}},
		{"clockrounding", Params{ClockRounding: -1, CheckpointName: "x"}},
		{"finish", Params{Finish: -1, CheckpointName: "x"}},
		{"checkpointname", Params{CheckpointName: ""}},
		{"tracestoptime", Params{CheckpointName: "x", TraceStartTime: 100, TraceStopTime: 50}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.p); err == nil {
				t.Fatalf("Validate(%+v) = nil, want an error", tc.p)
			}
		})
	}
}

func TestValidateAcceptsZeroTraceStop(t *testing.T) {
	p := Params{CheckpointName: "x", TraceStartTime: 100, TraceStopTime: 0}
	if err := Validate(p); err != nil {
		t.Fatalf("Validate: %v, want nil (0 means unbounded)", err)
	}
}
