// Shrike - Ensemble anomaly detection for security telemetry.
// Copyright (c) 2025 opensource.security
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-security/shrike/internal/api"
	"github.com/opensource-security/shrike/internal/bus"
	"github.com/opensource-security/shrike/internal/datagen"
	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ensemble"
	"github.com/opensource-security/shrike/internal/features"
	"github.com/opensource-security/shrike/internal/featurestore"
	"github.com/opensource-security/shrike/internal/ingest"
	"github.com/opensource-security/shrike/internal/metrics"
	"github.com/opensource-security/shrike/internal/modelstore"
	"github.com/opensource-security/shrike/internal/trainer"
	"github.com/opensource-security/shrike/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: shrike <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the HTTP API server")
	fmt.Fprintln(os.Stderr, "  train     Fit the enabled detectors on an event file")
	fmt.Fprintln(os.Stderr, "  detect    Score an event file with the trained ensemble")
	fmt.Fprintln(os.Stderr, "  generate  Write a synthetic labeled event file")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")

	var run func(cfg *domain.Config, fs *flag.FlagSet) error
	switch command {
	case "serve":
		run = runServe
	case "train":
		input := fs.String("input", "", "event file (.json, .ndjson or .csv)")
		run = func(cfg *domain.Config, fs *flag.FlagSet) error {
			return runTrain(cfg, *input)
		}
	case "detect":
		input := fs.String("input", "", "event file (.json, .ndjson or .csv)")
		run = func(cfg *domain.Config, fs *flag.FlagSet) error {
			return runDetect(cfg, *input)
		}
	case "generate":
		out := fs.String("out", "events.json", "output file")
		normal := fs.Int("normal", 200, "normal sessions")
		attacks := fs.Int("attacks", 20, "attack sessions")
		seed := fs.Int64("seed", 42, "generator seed")
		run = func(cfg *domain.Config, fs *flag.FlagSet) error {
			return runGenerate(*out, *normal, *attacks, *seed)
		}
	default:
		usage()
	}
	fs.Parse(os.Args[2:])

	cfg := domain.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = domain.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shrike: %v\n", err)
			os.Exit(1)
		}
	}

	setupLogger(cfg.Logging)

	if err := run(cfg, fs); err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// stack holds every initialized component for one command invocation.
type stack struct {
	store    domain.FeatureStore
	models   *modelstore.Store
	engineer *features.Engineer
	trainer  *trainer.Trainer
	ensemble *ensemble.Ensemble
	bus      domain.EventBus
}

func buildStack(cfg *domain.Config) (*stack, error) {
	store, err := featurestore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feature store: %w", err)
	}
	slog.Info("feature store initialized", "driver", cfg.Store.Driver)

	models, err := modelstore.New(cfg.Models)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize model store: %w", err)
	}

	engineer, err := features.NewEngineer(cfg.Features, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize feature engineer: %w", err)
	}

	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize ensemble: %w", err)
	}

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	return &stack{
		store:    store,
		models:   models,
		engineer: engineer,
		trainer:  trainer.New(cfg.Models, models),
		ensemble: ens,
		bus:      busImpl,
	}, nil
}

func (s *stack) close() {
	s.bus.Close()
	s.store.Close()
}

func runServe(cfg *domain.Config, _ *flag.FlagSet) error {
	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Register previously trained detectors; a fresh install starts
	// with an empty registry and serves degraded verdicts until POST
	// /train runs.
	trained, err := s.trainer.Load(ctx)
	if err != nil {
		return err
	}
	s.ensemble.LoadModels(trained)
	slog.Info("detectors loaded", "count", len(trained))

	// Optional async worker: score event batches published on the bus
	// without going through the HTTP API.
	var asyncWorker *worker.Worker
	if os.Getenv("SHRIKE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(s.bus, s.engineer, s.ensemble, s.store)
		if err := asyncWorker.Start(worker.Config{SaveFeatures: true}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	srv := api.NewServer(cfg.Server, s.engineer, s.ensemble, s.trainer, s.models, s.store, s.bus, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shrike shutdown complete")
	return nil
}

func runTrain(cfg *domain.Config, input string) error {
	if input == "" {
		return fmt.Errorf("train requires -input")
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	tbl, err := ingest.LoadFile(input)
	if err != nil {
		return err
	}
	slog.Info("events loaded", "file", input, "rows", tbl.Len())

	f, err := s.engineer.Transform(tbl)
	if err != nil {
		return err
	}

	ctx := context.Background()
	trained, err := s.trainer.TrainAll(ctx, f.Matrix(), tbl.Labels())
	if err != nil {
		return err
	}

	for name := range trained {
		fmt.Printf("trained %s\n", name)
	}
	return nil
}

func runDetect(cfg *domain.Config, input string) error {
	if input == "" {
		return fmt.Errorf("detect requires -input")
	}

	s, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := context.Background()
	trained, err := s.trainer.Load(ctx)
	if err != nil {
		return err
	}
	s.ensemble.LoadModels(trained)

	tbl, err := ingest.LoadFile(input)
	if err != nil {
		return err
	}

	f, err := s.engineer.Transform(tbl)
	if err != nil {
		return err
	}

	verdicts, err := s.ensemble.Detect(ctx, f.Matrix())
	if err != nil {
		return err
	}

	anomalies := verdicts.AnomalyCount()
	fmt.Printf("run %s: %d/%d rows anomalous (models: %v)\n",
		verdicts.RunID, anomalies, tbl.Len(), verdicts.Models)

	labels := tbl.Labels()
	if labels != nil {
		report, err := metrics.Evaluate(verdicts.IsAnomaly, labels)
		if err != nil {
			return err
		}
		fmt.Printf("precision %.3f  recall %.3f  f1 %.3f  accuracy %.3f\n",
			report.Precision, report.Recall, report.F1, report.Accuracy)
	}
	return nil
}

func runGenerate(out string, normal, attacks int, seed int64) error {
	tbl := datagen.New(seed).Generate(normal, attacks)
	if err := datagen.WriteJSON(out, tbl); err != nil {
		return err
	}
	slog.Info("synthetic events written",
		"file", out,
		"rows", tbl.Len(),
		"normal_sessions", normal,
		"attack_sessions", attacks,
	)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  SHRIKE - ensemble anomaly detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detect       - Score a batch of events")
	fmt.Println("    POST /train        - Fit the enabled detectors")
	fmt.Println("    GET  /models       - List registered and stored models")
	fmt.Println("    GET  /featuresets  - List persisted feature sets")
	fmt.Println("    GET  /health       - Health check")
	fmt.Println("    GET  /ready        - Readiness check")
	fmt.Println()
}
