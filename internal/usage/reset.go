package usage

import (
	"context"
	"time"

	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/rs/zerolog"
)

// ShieldClearer removes every active shield
type ShieldClearer interface {
	ClearAll(ctx context.Context) (int, error)
}

// ResetScheduler runs the daily rollover: retention purge and, optionally,
// clearing shields left over from the previous day.
type ResetScheduler struct {
	tracker       *Tracker
	resetTime     time.Time // Time of day to reset (only hour and minute are used)
	retentionDays int
	shields       ShieldClearer // nil keeps shields across midnight
	logger        zerolog.Logger
	stopChan      chan struct{}
	doneChan      chan struct{}
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(tracker *Tracker, resetTime string, retentionDays int, shields ShieldClearer, logger zerolog.Logger) (*ResetScheduler, error) {
	// Parse reset time (HH:MM format)
	parsedTime, err := time.Parse("15:04", resetTime)
	if err != nil {
		return nil, err
	}

	rs := &ResetScheduler{
		tracker:       tracker,
		resetTime:     parsedTime,
		retentionDays: retentionDays,
		shields:       shields,
		logger:        logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}

	return rs, nil
}

// Start begins the reset scheduler
func (rs *ResetScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("reset_time", rs.resetTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Bool("clear_shields", rs.shields != nil).
		Msg("Daily usage reset scheduler started")
}

// Stop stops the reset scheduler and waits for the loop to exit
func (rs *ResetScheduler) Stop() {
	close(rs.stopChan)
	<-rs.doneChan
	rs.logger.Info().Msg("Daily usage reset scheduler stopped")
}

// run is the main scheduler loop
func (rs *ResetScheduler) run() {
	defer close(rs.doneChan)

	for {
		nextReset := rs.calculateNextReset()
		waitDuration := nextReset.Sub(rs.tracker.clock.Now())

		rs.logger.Info().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
			rs.performReset(context.Background())
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

// calculateNextReset calculates the next reset time
func (rs *ResetScheduler) calculateNextReset() time.Time {
	now := rs.tracker.clock.Now()

	todayReset := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.resetTime.Hour(), rs.resetTime.Minute(), 0, 0,
		now.Location(),
	)

	// If we've already passed today's reset time, schedule for tomorrow
	if !now.Before(todayReset) {
		return todayReset.AddDate(0, 0, 1)
	}

	return todayReset
}

// performReset performs the daily rollover.
// Records are keyed by date, so the new day starts at zero without
// touching yesterday's data; only retention removes anything.
func (rs *ResetScheduler) performReset(ctx context.Context) {
	rs.logger.Info().Str("date", rs.tracker.Today()).Msg("Performing daily usage reset")

	metrics.UsageMinutes.Reset()

	if _, err := rs.tracker.PurgeOlderThan(ctx, rs.retentionDays); err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clean up old daily usage data")
	}

	if rs.shields == nil {
		return
	}

	cleared, err := rs.shields.ClearAll(ctx)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to clear shields on rollover")
		return
	}

	rs.logger.Info().Int("shields_cleared", cleared).Msg("Shields cleared for the new day")
}
