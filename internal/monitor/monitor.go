// Package monitor manages which applications are monitored and with
// which daily limits.
package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/tabnova/internal/backend"
	"github.com/goodtune/tabnova/internal/events"
	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/usage"
	"github.com/rs/zerolog"
)

// Scheduler is the host monitoring interface. One app is scheduled per
// monitoring session so every threshold event names exactly one package.
type Scheduler interface {
	StartMonitoring(ctx context.Context, packageID string, token []byte, plan []events.Threshold) error
	StopMonitoring(ctx context.Context, packageID string, token []byte) error
}

// ApplicationSource provides the server-side application list
type ApplicationSource interface {
	FetchApplications(ctx context.Context) ([]backend.Application, error)
}

// Config holds monitoring settings
type Config struct {
	DefaultLimitMinutes int
	StepMinutes         int
	PlanMode            events.PlanMode
}

// Service starts, stops and reconfigures monitoring
type Service struct {
	apps      storage.AppStore
	scheduler Scheduler
	shields   *shield.Manager
	tracker   *usage.Tracker
	source    ApplicationSource
	config    Config
	logger    zerolog.Logger
}

// NewService creates a monitoring service
func NewService(apps storage.AppStore, scheduler Scheduler, shields *shield.Manager, tracker *usage.Tracker, source ApplicationSource, cfg Config, logger zerolog.Logger) *Service {
	if cfg.DefaultLimitMinutes <= 0 {
		cfg.DefaultLimitMinutes = backend.DefaultLimitMinutes
	}
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = events.FallbackMinutes
	}
	if cfg.PlanMode == "" {
		cfg.PlanMode = events.PlanStep
	}

	return &Service{
		apps:      apps,
		scheduler: scheduler,
		shields:   shields,
		tracker:   tracker,
		source:    source,
		config:    cfg,
		logger:    logger.With().Str("component", "monitor").Logger(),
	}
}

// Plan returns the threshold schedule for a limit
func (s *Service) Plan(limit int) []events.Threshold {
	return events.Plan(limit, s.config.StepMinutes, s.config.PlanMode)
}

// Start begins monitoring an app. A non-positive limit uses the default.
// Starting an already monitored app reschedules it and keeps its shield.
func (s *Service) Start(ctx context.Context, app storage.MonitoredApp) (*storage.MonitoredApp, error) {
	if app.PackageID == "" {
		return nil, fmt.Errorf("package id is required")
	}
	if app.DailyLimitMinutes <= 0 {
		app.DailyLimitMinutes = s.config.DefaultLimitMinutes
	}

	existing, err := s.apps.Get(ctx, app.PackageID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		app.MonitoringSince = s.tracker.Clock().Now()
		app.Shielded = false
	case err != nil:
		return nil, fmt.Errorf("failed to load monitored app: %w", err)
	default:
		app.MonitoringSince = existing.MonitoringSince
		app.Shielded = existing.Shielded
		if len(app.Token) == 0 {
			app.Token = existing.Token
		}
		if app.DisplayName == "" {
			app.DisplayName = existing.DisplayName
		}
	}

	if err := s.scheduler.StartMonitoring(ctx, app.PackageID, app.Token, s.Plan(app.DailyLimitMinutes)); err != nil {
		return nil, fmt.Errorf("failed to start monitoring %s: %w", app.PackageID, err)
	}

	if err := s.apps.Upsert(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to store monitored app: %w", err)
	}

	s.refreshGauge(ctx)
	s.logger.Info().
		Str("package", app.PackageID).
		Int("limit", app.DailyLimitMinutes).
		Msg("Monitoring started")

	// Usage already over the new limit shields right away
	if err := s.evaluate(ctx, app.PackageID); err != nil {
		return &app, err
	}

	return s.apps.Get(ctx, app.PackageID)
}

// Stop ends monitoring of an app and removes its shield. Stopping an app
// that is not monitored is a no-op.
func (s *Service) Stop(ctx context.Context, packageID string) error {
	app, err := s.apps.Get(ctx, packageID)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug().Str("package", packageID).Msg("Stop requested for unmonitored package")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load monitored app: %w", err)
	}

	if _, err := s.shields.Unblock(ctx, packageID); err != nil {
		return err
	}

	if err := s.scheduler.StopMonitoring(ctx, packageID, app.Token); err != nil {
		return fmt.Errorf("failed to stop monitoring %s: %w", packageID, err)
	}

	if err := s.apps.Delete(ctx, packageID); err != nil {
		return err
	}

	s.refreshGauge(ctx)
	s.logger.Info().Str("package", packageID).Msg("Monitoring stopped")

	return nil
}

// SetLimit changes the daily limit and restarts monitoring with the new
// plan. A limit raised above today's usage removes the shield; one at or
// below it shields.
func (s *Service) SetLimit(ctx context.Context, packageID string, limit int) (*storage.MonitoredApp, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid daily limit: %d", limit)
	}

	app, err := s.apps.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}

	if app.DailyLimitMinutes == limit {
		return app, nil
	}

	used, err := s.tracker.GetUsage(ctx, packageID, s.tracker.Today())
	if err != nil {
		return nil, err
	}

	previous := app.DailyLimitMinutes
	app.DailyLimitMinutes = limit

	if err := s.scheduler.StopMonitoring(ctx, packageID, app.Token); err != nil {
		return nil, fmt.Errorf("failed to stop monitoring %s: %w", packageID, err)
	}
	if err := s.scheduler.StartMonitoring(ctx, packageID, app.Token, s.Plan(limit)); err != nil {
		return nil, fmt.Errorf("failed to restart monitoring %s: %w", packageID, err)
	}

	if err := s.apps.Upsert(ctx, *app); err != nil {
		return nil, fmt.Errorf("failed to store monitored app: %w", err)
	}

	s.logger.Info().
		Str("package", packageID).
		Int("previous_limit", previous).
		Int("limit", limit).
		Int("minutes", used).
		Msg("Daily limit changed")

	if _, err := s.shields.LimitChanged(ctx, packageID, limit, used); err != nil {
		return nil, err
	}
	if err := s.evaluate(ctx, packageID); err != nil {
		return nil, err
	}

	return s.apps.Get(ctx, packageID)
}

// SyncFromServer applies server-side limits to monitored apps and returns
// the packages whose limit changed.
func (s *Service) SyncFromServer(ctx context.Context) ([]string, error) {
	remote, err := s.source.FetchApplications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applications: %w", err)
	}

	byPackage := make(map[string]backend.Application, len(remote))
	for _, app := range remote {
		byPackage[app.PackageName] = app
	}

	local, err := s.apps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored apps: %w", err)
	}

	var changed []string
	var errs []error
	for _, app := range local {
		server, ok := byPackage[app.PackageID]
		if !ok {
			continue
		}

		if server.DisplayText != "" && server.DisplayText != app.DisplayName {
			app.DisplayName = server.DisplayText
			if err := s.apps.Upsert(ctx, app); err != nil {
				errs = append(errs, err)
				continue
			}
		}

		if server.DailyLimitMinutes == app.DailyLimitMinutes {
			continue
		}

		if _, err := s.SetLimit(ctx, app.PackageID, server.DailyLimitMinutes); err != nil {
			s.logger.Error().Err(err).Str("package", app.PackageID).Msg("Failed to apply server limit")
			errs = append(errs, err)
			continue
		}
		changed = append(changed, app.PackageID)
	}

	s.logger.Info().
		Int("server_apps", len(remote)).
		Int("monitored_apps", len(local)).
		Int("limits_changed", len(changed)).
		Msg("Synchronised limits from server")

	return changed, errors.Join(errs...)
}

func (s *Service) evaluate(ctx context.Context, packageID string) error {
	used, err := s.tracker.GetUsage(ctx, packageID, s.tracker.Today())
	if err != nil {
		return err
	}
	_, err = s.shields.Evaluate(ctx, packageID, used, storage.EventThreshold)
	return err
}

func (s *Service) refreshGauge(ctx context.Context) {
	apps, err := s.apps.List(ctx)
	if err != nil {
		return
	}
	metrics.MonitoredApps.Set(float64(len(apps)))
}

// LogScheduler logs scheduling requests. The host bridge reads plans from
// the local API.
type LogScheduler struct {
	logger zerolog.Logger
}

// NewLogScheduler creates a log-only scheduler
func NewLogScheduler(logger zerolog.Logger) *LogScheduler {
	return &LogScheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// StartMonitoring implements Scheduler
func (l *LogScheduler) StartMonitoring(_ context.Context, packageID string, _ []byte, plan []events.Threshold) error {
	l.logger.Info().Str("package", packageID).Int("thresholds", len(plan)).Msg("Monitoring scheduled")
	return nil
}

// StopMonitoring implements Scheduler
func (l *LogScheduler) StopMonitoring(_ context.Context, packageID string, _ []byte) error {
	l.logger.Info().Str("package", packageID).Msg("Monitoring unscheduled")
	return nil
}
