package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultRetentionDays is how long daily records are kept
const DefaultRetentionDays = 7

// Tracker is the persistent per-package, per-date usage store
type Tracker struct {
	usageStore storage.UsageStore
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewTracker creates a new usage tracker
func NewTracker(usageStore storage.UsageStore, clk clock.Clock, logger zerolog.Logger) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Tracker{
		usageStore: usageStore,
		clock:      clk,
		logger:     logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// Clock returns the tracker's clock
func (t *Tracker) Clock() clock.Clock {
	return t.clock
}

// Today returns the current local calendar date
func (t *Tracker) Today() string {
	return clock.Today(t.clock)
}

// RecordUsage sets today's cumulative total for a package.
// The stored value is replaced, never incremented. A total lower than the
// stored one is ignored and reported as an unchanged update.
func (t *Tracker) RecordUsage(ctx context.Context, packageID string, totalMinutes int) (Update, error) {
	return t.RecordUsageOn(ctx, packageID, t.Today(), totalMinutes)
}

// RecordUsageOn sets the cumulative total for a package on a given date
func (t *Tracker) RecordUsageOn(ctx context.Context, packageID, date string, totalMinutes int) (Update, error) {
	if packageID == "" {
		return Update{}, fmt.Errorf("package id is required")
	}
	if totalMinutes < 0 {
		return Update{}, fmt.Errorf("invalid cumulative minutes: %d", totalMinutes)
	}

	previous, current, err := t.usageStore.SetDailyUsage(ctx, packageID, date, totalMinutes, t.clock.Now())
	if err != nil {
		return Update{}, fmt.Errorf("failed to record usage: %w", err)
	}

	update := Update{PackageID: packageID, Date: date, Previous: previous, Current: current}

	if current != totalMinutes {
		t.logger.Debug().
			Str("package", packageID).
			Str("date", date).
			Int("minutes", totalMinutes).
			Int("previous_minutes", previous).
			Msg("Ignoring lower cumulative total")
		return update, nil
	}

	if date == t.Today() {
		metrics.UsageMinutes.WithLabelValues(packageID).Set(float64(current))
	}

	t.logger.Debug().
		Str("package", packageID).
		Str("date", date).
		Int("minutes", current).
		Int("previous_minutes", previous).
		Msg("Usage recorded")

	return update, nil
}

// GetUsage returns the cumulative minutes for a package on a date, 0 when absent
func (t *Tracker) GetUsage(ctx context.Context, packageID, date string) (int, error) {
	record, err := t.usageStore.GetDailyUsage(ctx, packageID, date)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return record.CumulativeMinutes, nil
}

// TodayUsage returns every record for the current date
func (t *Tracker) TodayUsage(ctx context.Context) ([]storage.UsageRecord, error) {
	records, err := t.usageStore.ListDailyUsage(ctx, t.Today())
	if err != nil {
		return nil, fmt.Errorf("failed to list today's usage: %w", err)
	}
	return records, nil
}

// PurgeOlderThan removes records not updated within the given number of days
func (t *Tracker) PurgeOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}

	cutoff := t.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := t.usageStore.DeleteUsageUpdatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage: %w", err)
	}

	metrics.UsageRecordsPurged.Add(float64(deleted))
	t.logger.Info().
		Int("records_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Old usage records purged")

	return deleted, nil
}
