// Package param exposes the cascade.* run-time parameter surface (spec.md
// §6) through viper, bound to a cobra command's pflag set the way the
// broader Go ecosystem wires CLI flags through to a layered config (flags,
// env, defaults) — grounded on the spf13/cobra + spf13/viper + spf13/pflag
// manifests retrieved alongside the teacher repo, since the teacher itself
// only needed bare stdlib flag for its handful of command-line switches.
package param

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/descore/cascade/clock"
)

// Keys for the ten cascade.* parameters (spec.md §6).
const (
	KeyNumThreads         = "cascade.numthreads"
	KeyClockRounding      = "cascade.clockrounding"
	KeyDefaultClockPeriod = "cascade.defaultclockperiod"
	KeyTimeout            = "cascade.timeout"
	KeyFinish             = "cascade.finish"
	KeyCheckpointInterval = "cascade.checkpointinterval"
	KeyCheckpointName     = "cascade.checkpointname"
	KeySafeCheckpoint     = "cascade.safecheckpoint"
	KeyTraceStartTime     = "cascade.tracestarttime"
	KeyTraceStopTime      = "cascade.tracestoptime"
)

// ValidationError is raised by Validate when a loaded value violates a
// parameter's documented constraint (spec.md §6).
type ValidationError struct {
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("param: %s: %s", e.Key, e.Reason)
}

// Params is the resolved, validated view of the cascade.* surface.
type Params struct {
	NumThreads         int
	ClockRounding      clock.PS
	DefaultClockPeriod clock.PS
	Timeout            time.Duration
	Finish             clock.PS
	CheckpointInterval clock.PS
	CheckpointName     string
	SafeCheckpoint     bool
	TraceStartTime     clock.PS
	TraceStopTime      clock.PS
}

// RegisterFlags adds the cascade.* flags to fs with their spec.md §6
// defaults, suitable for binding to a cobra command's Flags()/PersistentFlags.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("numthreads", 0, "worker pool size; 0 selects numProcessors-1 automatically")
	fs.Int64("clockrounding", 0, "ps; edges within this tolerance of a requested time are treated as exact")
	fs.Int64("defaultclockperiod", 0, "ps; applied to domains that omit an explicit period")
	fs.Duration("timeout", 0, "wall-clock execution budget; 0 disables it")
	fs.Int64("finish", 0, "sim_time, in ps, at which RunSimulation stops cleanly; 0 disables it")
	fs.Int64("checkpointinterval", 0, "ps between automatic checkpoints; 0 disables them")
	fs.String("checkpointname", "cascade-%d.ckpt", "checkpoint file name pattern; %d is substituted with sim_time")
	fs.Bool("safecheckpoint", false, "write/verify a rolling checksum alongside every checkpoint field")
	fs.Int64("tracestarttime", 0, "ps; waveform dumping begins at this sim_time")
	fs.Int64("tracestoptime", 0, "ps; waveform dumping ends at this sim_time (0 means unbounded)")
}

// Load binds fs into v under the cascade.* prefix and returns the validated
// result (spec.md §6's constraints on each parameter).
func Load(v *viper.Viper, fs *pflag.FlagSet) (Params, error) {
	if err := v.BindPFlag(KeyNumThreads, fs.Lookup("numthreads")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyClockRounding, fs.Lookup("clockrounding")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyDefaultClockPeriod, fs.Lookup("defaultclockperiod")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyTimeout, fs.Lookup("timeout")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyFinish, fs.Lookup("finish")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyCheckpointInterval, fs.Lookup("checkpointinterval")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyCheckpointName, fs.Lookup("checkpointname")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeySafeCheckpoint, fs.Lookup("safecheckpoint")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyTraceStartTime, fs.Lookup("tracestarttime")); err != nil {
		return Params{}, err
	}
	if err := v.BindPFlag(KeyTraceStopTime, fs.Lookup("tracestoptime")); err != nil {
		return Params{}, err
	}

	p := Params{
		NumThreads:         v.GetInt(KeyNumThreads),
		ClockRounding:      clock.PS(v.GetInt64(KeyClockRounding)),
		DefaultClockPeriod: clock.PS(v.GetInt64(KeyDefaultClockPeriod)),
		Timeout:            v.GetDuration(KeyTimeout),
		Finish:             clock.PS(v.GetInt64(KeyFinish)),
		CheckpointInterval: clock.PS(v.GetInt64(KeyCheckpointInterval)),
		CheckpointName:     v.GetString(KeyCheckpointName),
		SafeCheckpoint:     v.GetBool(KeySafeCheckpoint),
		TraceStartTime:     clock.PS(v.GetInt64(KeyTraceStartTime)),
		TraceStopTime:      clock.PS(v.GetInt64(KeyTraceStopTime)),
	}
	if err := Validate(p); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the constraints spec.md §6 documents for each parameter.
func Validate(p Params) error {
	if p.NumThreads < 0 {
		return ValidationError{Key: KeyNumThreads, Reason: "must be >= 0"}
	}
	if p.ClockRounding < 0 {
		return ValidationError{Key: KeyClockRounding, Reason: "must be >= 0"}
	}
	if p.DefaultClockPeriod < 0 {
		return ValidationError{Key: KeyDefaultClockPeriod, Reason: "must be >= 0"}
	}
	if p.Timeout < 0 {
		return ValidationError{Key: KeyTimeout, Reason: "must be >= 0"}
	}
	if p.Finish < 0 {
		return ValidationError{Key: KeyFinish, Reason: "must be >= 0"}
	}
	if p.CheckpointInterval < 0 {
		return ValidationError{Key: KeyCheckpointInterval, Reason: "must be >= 0"}
	}
	if p.CheckpointName == "" {
		return ValidationError{Key: KeyCheckpointName, Reason: "must not be empty"}
	}
	if p.TraceStartTime < 0 {
		return ValidationError{Key: KeyTraceStartTime, Reason: "must be >= 0"}
	}
	if p.TraceStopTime != 0 && p.TraceStopTime < p.TraceStartTime {
		return ValidationError{Key: KeyTraceStopTime, Reason: "must be 0 or >= tracestarttime"}
	}
	return nil
}
