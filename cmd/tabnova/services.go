package main

import (
	"fmt"
	"os"

	"github.com/goodtune/tabnova/internal/aggregator"
	"github.com/goodtune/tabnova/internal/backend"
	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/events"
	"github.com/goodtune/tabnova/internal/monitor"
	"github.com/goodtune/tabnova/internal/pipeline"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/storage/redis"
	"github.com/goodtune/tabnova/internal/storage/sqlite"
	"github.com/goodtune/tabnova/internal/usage"
	"github.com/rs/zerolog"
)

// services is the wired object graph shared by the daemon and the CLI
type services struct {
	store    storage.Store
	tracker  *usage.Tracker
	backend  *backend.Client
	shields  *shield.Manager
	monitor  *monitor.Service
	pipeline *pipeline.Pipeline
}

func newServices(cfg *config.Config, logger zerolog.Logger) (*services, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc, err := wireServices(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

func wireServices(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*services, error) {
	clk := clock.RealClock{}
	tracker := usage.NewTracker(store.Usage(), clk, logger)

	agg, err := aggregator.New(store.Events(), store.Apps(), tracker, cfg.Usage.DedupCacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize aggregator: %w", err)
	}

	decider, err := shield.LoadDecider(cfg.Shield.PolicyFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load shield policy: %w", err)
	}

	shields := shield.NewManager(shield.NewLogEnforcer(logger), store.Apps(), decider, logger)
	client := backend.New(cfg.Backend, cfg.Device, logger)

	monitorService := monitor.NewService(
		store.Apps(),
		monitor.NewLogScheduler(logger),
		shields,
		tracker,
		client,
		monitor.Config{
			DefaultLimitMinutes: cfg.Usage.DefaultLimitMinutes,
			StepMinutes:         cfg.Usage.ThresholdStepMinutes,
			PlanMode:            events.PlanMode(cfg.Usage.ThresholdPlan),
		},
		logger,
	)

	p := pipeline.New(store.Events(), agg, tracker, shields, client, pipeline.Config{
		EventLogCapacity: cfg.Usage.EventLogCapacity,
		ReportMode:       cfg.Usage.ReportMode,
		PollInterval:     config.ParseDuration(cfg.Usage.PollInterval, 0),
		ReportTimeout:    config.ParseDuration(cfg.Backend.Timeout, 0),
	}, logger)

	return &services{
		store:    store,
		tracker:  tracker,
		backend:  client,
		shields:  shields,
		monitor:  monitorService,
		pipeline: p,
	}, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	case "sqlite":
		return sqlite.Open(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be redis or sqlite)", storageType)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// cliLogger is the quiet logger used by one-shot commands
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
}

// loadCLI loads configuration and wires services for a one-shot command
func loadCLI() (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newServices(cfg, cliLogger())
}
