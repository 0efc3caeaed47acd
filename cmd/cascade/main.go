// Command cascade runs the clock-domain scheduler core, the Go equivalent
// of the teacher's vcs command: a cobra-driven entry point that parses
// flags, stands up an http pprof/metrics server in the background, and
// drives the simulation loop to completion or to a configured Finish time.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/descore/cascade/archive"
	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/clockdomain"
	"github.com/descore/cascade/component"
	"github.com/descore/cascade/metrics"
	"github.com/descore/cascade/param"
	"github.com/descore/cascade/pool"
	"github.com/descore/cascade/port"
	"github.com/descore/cascade/scheduler"
	"github.com/descore/cascade/telemetry"
)

var (
	httpAddr       string
	checkpointLoad string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cascade",
		Short: "Run the cascade clock-domain scheduler core",
		RunE:  runCascade,
	}
	root.PersistentFlags().StringVar(&httpAddr, "http", "localhost:6061", "address for the pprof/metrics http server")
	root.PersistentFlags().StringVar(&checkpointLoad, "load_checkpoint", "", "path to a checkpoint file to restore before running")
	param.RegisterFlags(root.Flags())
	root.Flags().Int64("run_until", 1_000_000, "sim_time, in ps, to run the demo scenario until")
	return root
}

func runCascade(cmd *cobra.Command, args []string) error {
	v := viper.New()
	p, err := param.Load(v, cmd.Flags())
	if err != nil {
		return fmt.Errorf("cascade: loading parameters: %w", err)
	}
	runUntil, err := cmd.Flags().GetInt64("run_until")
	if err != nil {
		return err
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("cascade: building logger: %w", err)
	}
	defer zlog.Sync()
	log := telemetry.New(zlog)

	stats := metrics.NewCollector(prometheus.DefaultRegisterer)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("serving pprof/metrics on %s", httpAddr)
		if err := http.ListenAndServe(httpAddr, nil); err != nil {
			log.Error("http server exited: %v", err)
		}
	}()

	domains, err := demoScenario(p)
	if err != nil {
		return fmt.Errorf("cascade: building demo scenario: %w", err)
	}

	if checkpointLoad != "" {
		if err := archive.LoadFile(checkpointLoad, domains); err != nil {
			return fmt.Errorf("cascade: loading checkpoint: %w", err)
		}
		log.Info("restored checkpoint from %s", checkpointLoad)
	}

	s := scheduler.New(domains, pool.New(p.NumThreads))
	s.SetStats(stats)
	s.SetTimeout(p.Timeout)
	s.SetFinish(p.Finish)
	if p.CheckpointInterval > 0 {
		s.SetCheckpoint(archive.FileCheckpointer{NamePattern: p.CheckpointName, SafeMode: p.SafeCheckpoint}, p.CheckpointInterval)
	}

	monitor := telemetry.NewDeadlockMonitor(log, func() []string { return nil })
	go monitor.Start()
	defer monitor.Stop()

	ctx := context.Background()
	if err := s.RunSimulation(ctx, clock.PS(runUntil)); err != nil {
		var finishErr scheduler.FinishError
		if errors.As(err, &finishErr) {
			log.Info("reached Finish at sim_time=%d", int64(finishErr.SimTime))
			return nil
		}
		return fmt.Errorf("cascade: running simulation: %w", err)
	}
	return nil
}

// demoScenario builds the Adder walkthrough from spec.md §8 scenario S1, the
// smallest complete end-to-end wiring of a domain, two input ports and a
// combinational adder component. The domain itself is resolved from a
// clock.Graph rather than constructed directly, so the cycle-detecting
// connect-chain resolver (clockdomain.BuildDomains, supplemented feature 1)
// runs on every invocation, not just in its own unit tests.
func demoScenario(p param.Params) ([]*clockdomain.Domain, error) {
	period := p.DefaultClockPeriod
	if period <= 0 {
		period = 1000
	}
	g := clock.NewGraph()
	if err := g.Add(&clock.Clock{Name: "demo", Kind: clock.KindSource, Period: period}); err != nil {
		return nil, err
	}
	domains, err := clockdomain.BuildDomains(g, p.ClockRounding)
	if err != nil {
		return nil, err
	}
	d := domains[0]
	for _, name := range []string{"a", "b", "sum"} {
		if err := d.Storage.AddPort(port.Desc{Name: name, Kind: port.KindWired, Size: 2}); err != nil {
			return nil, err
		}
	}
	if err := d.Init(0); err != nil {
		return nil, err
	}
	adder := &adderComponent{
		a:   d.Storage.Port("a"),
		b:   d.Storage.Port("b"),
		sum: d.Storage.Port("sum"),
	}
	adder.Activate()
	d.Table.AddRecord(adder)
	return domains, nil
}

type adderComponent struct {
	a, b, sum *port.Port
	active    bool
}

func (c *adderComponent) Tick() error { return nil }
func (c *adderComponent) Update(*component.UpdateCtx) error {
	av := uint32(c.a.Value()[0])<<8 | uint32(c.a.Value()[1])
	bv := uint32(c.b.Value()[0])<<8 | uint32(c.b.Value()[1])
	sum := av + bv
	c.sum.Write([]byte{byte(sum >> 8), byte(sum)})
	return nil
}
func (c *adderComponent) IsActive() bool { return c.active }
func (c *adderComponent) Activate()      { c.active = true }
func (c *adderComponent) Deactivate()    { c.active = false }
