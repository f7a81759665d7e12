package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/omn-routing/core"
	"github.com/signalsfoundry/omn-routing/internal/logging"
	"github.com/signalsfoundry/omn-routing/internal/observability"
)

const (
	scenarioKey    = "scenario"
	durationKey    = "duration"
	seedKey        = "seed"
	realTimeKey    = "real-time"
	metricsAddrKey = "metrics-addr"
	traceKey       = "trace"
	zoneSizeKey    = "zone-size"
)

type runConfig struct {
	Scenario    string
	Duration    time.Duration
	Seed        uint64
	SeedSet     bool
	RealTime    bool
	MetricsAddr string
	Trace       string
	ZoneSize    float64
}

func addRunFlags(flags *pflag.FlagSet) {
	flags.String(scenarioKey, "", "Path to a YAML scenario (required)")
	flags.Duration(durationKey, 0, "Simulated duration; overrides the scenario's duration")
	flags.Uint64(seedKey, 0, "Random seed; overrides the scenario's seed")
	flags.Bool(realTimeKey, false, "Pace ticks on the wall clock")
	flags.String(metricsAddrKey, "", "HTTP address for Prometheus /metrics; empty disables it")
	flags.String(traceKey, "", "Trace exporter (stdout or otlp); overrides OMN_TRACING_* settings")
	flags.Float64(zoneSizeKey, observability.DefaultZoneSize, "Grid cell side in metres for contact and reception location metrics")
}

func parseRunFlags(flags *pflag.FlagSet) (*runConfig, error) {
	cfg := &runConfig{}
	var err error
	if cfg.Scenario, err = flags.GetString(scenarioKey); err != nil {
		return nil, err
	}
	if cfg.Scenario == "" {
		return nil, fmt.Errorf("--%s is required", scenarioKey)
	}
	if cfg.Duration, err = flags.GetDuration(durationKey); err != nil {
		return nil, err
	}
	if cfg.Duration < 0 {
		return nil, fmt.Errorf("--%s must not be negative", durationKey)
	}
	if cfg.Seed, err = flags.GetUint64(seedKey); err != nil {
		return nil, err
	}
	cfg.SeedSet = flags.Changed(seedKey)
	if cfg.RealTime, err = flags.GetBool(realTimeKey); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString(metricsAddrKey); err != nil {
		return nil, err
	}
	if cfg.Trace, err = flags.GetString(traceKey); err != nil {
		return nil, err
	}
	if cfg.ZoneSize, err = flags.GetFloat64(zoneSizeKey); err != nil {
		return nil, err
	}
	if !(cfg.ZoneSize > 0) {
		return nil, fmt.Errorf("--%s must be positive", zoneSizeKey)
	}
	return cfg, nil
}

func runCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a scenario and prints the delivery report",
		Args:  cobra.NoArgs,
		RunE:  runFunc,
	}
	addRunFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, _ []string) error {
	cfg, err := parseRunFlags(c.Flags())
	if err != nil {
		return err
	}
	ctx := c.Context()
	log := loggerFrom(c)

	sc, err := loadScenario(cfg.Scenario)
	if err != nil {
		return err
	}
	if cfg.SeedSet {
		sc.Seed = cfg.Seed
	}
	if cfg.RealTime {
		sc.RealTime = true
	}
	duration := sc.Duration
	if cfg.Duration > 0 {
		duration = cfg.Duration
	}
	if duration == 0 {
		log.Warn(ctx, "no duration configured; running until interrupted")
	}

	tracing := observability.TracingConfigFromEnv()
	if cfg.Trace != "" {
		tracing.Enabled = true
		tracing.Exporter = cfg.Trace
	}
	tracing.Writer = c.ErrOrStderr()
	tracing.Attributes = []attribute.KeyValue{
		attribute.String("omn.scenario", cfg.Scenario),
		attribute.Int64("omn.seed", int64(sc.Seed)),
	}
	shutdown, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewRoutingCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	collector.SetZoneSize(cfg.ZoneSize)

	sim, err := sc.Build(core.Options{
		Logger:   log,
		Metrics:  collector,
		Recorder: collector,
	})
	if err != nil {
		return err
	}
	collector.SetHosts(len(sim.Hosts()))

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info(ctx, "starting simulation",
		logging.String("scenario", cfg.Scenario),
		logging.Int("hosts", len(sim.Hosts())),
		logging.String("duration", duration.String()),
		logging.Any("seed", sc.Seed),
	)
	stats, err := sim.Run(ctx, duration)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn(ctx, "simulation interrupted; reporting partial results",
			logging.Float("sim_time", sim.Now()))
	}
	return stats.Report(c.OutOrStdout())
}

func loadScenario(path string) (*core.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()

	sc, err := core.LoadScenario(f)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	return sc, nil
}

func serveMetrics(addr string, collector *observability.RoutingCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
