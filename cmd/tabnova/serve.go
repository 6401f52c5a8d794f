package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/goodtune/tabnova/internal/api"
	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/systemd"
	"github.com/goodtune/tabnova/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tabnova daemon",
	Long:  `Start the Tabnova daemon: event pipeline, daily rollover, local API and metrics endpoints.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Tabnova")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	svc, err := newServices(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("report_mode", cfg.Usage.ReportMode).
		Msg("Storage initialized")

	// Only clear shields at rollover when configured; a nil interface
	// keeps them across midnight.
	var clearer usage.ShieldClearer
	if cfg.Shield.ClearOnRollover {
		clearer = svc.shields
	}

	resetScheduler, err := usage.NewResetScheduler(
		svc.tracker,
		cfg.Usage.DailyResetTime,
		cfg.Usage.RetentionDays,
		clearer,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Reset Scheduler: %w", err)
	}
	resetScheduler.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := svc.pipeline.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Pipeline stopped with error")
		}
	}()
	go func() {
		defer wg.Done()
		systemd.RunWatchdog(ctx, logger)
	}()

	apiServer := api.NewServer(api.Config{
		ListenAddr: cfg.Server.APIAddress,
		Token:      cfg.Server.APIToken,
	}, api.Deps{
		Store:    svc.store,
		Tracker:  svc.tracker,
		Pipeline: svc.pipeline,
		Monitor:  svc.monitor,
		Shields:  svc.shields,
	}, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("api", cfg.Server.APIAddress).
		Str("metrics", cfg.Server.MetricsAddress).
		Msg("Tabnova startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	waitForShutdown(svc.shields, logger)

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	resetScheduler.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	cancel()
	wg.Wait()

	if err := svc.pipeline.Wait(); err != nil {
		logger.Warn().Err(err).Msg("Some usage reports failed before shutdown")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Tabnova stopped")

	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM, reloading the shield
// policy on every SIGHUP.
func waitForShutdown(shields *shield.Manager, logger zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			return
		}

		rd, ok := shields.Decider().(*shield.RegoDecider)
		if !ok {
			logger.Info().Msg("SIGHUP received, no shield policy file configured")
			continue
		}

		logger.Info().Msg("SIGHUP received, reloading shield policy...")
		if err := rd.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload shield policy")
		}
	}
}
