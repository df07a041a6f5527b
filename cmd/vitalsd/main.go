package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/vitalsd/internal/alert"
	"codeberg.org/mutker/vitalsd/internal/analyzer"
	"codeberg.org/mutker/vitalsd/internal/baseline"
	"codeberg.org/mutker/vitalsd/internal/collector"
	"codeberg.org/mutker/vitalsd/internal/config"
	"codeberg.org/mutker/vitalsd/internal/errors"
	"codeberg.org/mutker/vitalsd/internal/history"
	"codeberg.org/mutker/vitalsd/internal/logger"
	"codeberg.org/mutker/vitalsd/internal/monitor"
	"codeberg.org/mutker/vitalsd/internal/pid"
	"codeberg.org/mutker/vitalsd/internal/regression"
	"codeberg.org/mutker/vitalsd/internal/server"
	"codeberg.org/mutker/vitalsd/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.PIDFile).Msg("Failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	runErr := run(ctx, cfg)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("vitalsd stopped with error")
	}
	cancel()
	cleanup(cfg)

	if runErr != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Default()

	store, err := history.NewService(ctx, cfg.History, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close history store")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel, err := telemetry.New(cfg.Telemetry, reg)
	if err != nil {
		return err
	}

	baselines := baseline.New(cfg.Baseline, log, baseline.WithPersister(store))
	if err := baselines.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load persisted baselines, starting empty")
	}
	if err := baselines.StartSweeper(); err != nil {
		return err
	}
	defer baselines.StopSweeper()

	beacons := collector.NewBeaconSource()
	var collectorOpts []collector.Option
	var senderOpts []alert.SenderOption
	if tel != nil {
		collectorOpts = append(collectorOpts, collector.WithRecorder(tel))
		senderOpts = append(senderOpts, alert.WithObserver(tel))
	}
	coll := collector.New(cfg.Collector, log, []collector.Source{beacons}, collectorOpts...)

	mon := monitor.New(cfg.Monitor, monitor.Deps{
		Collector:   coll,
		Analyzer:    analyzer.New(cfg.Analyzer),
		Baselines:   baselines,
		Detector:    regression.New(cfg.Regression),
		Checker:     alert.NewChecker(),
		Sender:      alert.NewSender(cfg.Alert, alert.NewSink(cfg.Alert, log), log, senderOpts...),
		AlertConfig: cfg.Alert,
		History:     store,
		Telemetry:   tel,
	}, log)

	if cfg.Monitor.AutoStart {
		if err := mon.Start(ctx); err != nil {
			return err
		}
	}
	defer mon.Stop()

	var serverOpts []server.Option
	if tel != nil {
		serverOpts = append(serverOpts, server.WithMetrics(cfg.Telemetry.Path, tel.Handler()))
	}
	srv := server.New(cfg.Server, mon, beacons, log, serverOpts...)

	logger.Info().
		Str("listen", cfg.Server.Listen).
		Bool("monitoring", mon.IsActive()).
		Bool("history", cfg.History.Enabled).
		Bool("telemetry", tel != nil).
		Msg("vitalsd started")

	return srv.Run(ctx)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(cfg *config.Config) {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
