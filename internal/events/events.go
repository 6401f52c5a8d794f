// Package events builds threshold events and the threshold schedules
// handed to the monitoring host.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
)

// LegacyPrefix starts every event name emitted by older host bridges.
const LegacyPrefix = "TabnovaEMM."

// FallbackMinutes is used when a legacy name carries no usable minute count.
const FallbackMinutes = 5

// StrideBlocks is the number of equal blocks in a stride plan.
const StrideBlocks = 12

// PlanMode selects how thresholds are spread below the daily limit.
type PlanMode string

const (
	PlanStep   PlanMode = "step"
	PlanStride PlanMode = "stride"
)

// NewThreshold returns a plain threshold crossing.
func NewThreshold(packageID string, minutes int, at time.Time) storage.ThresholdEvent {
	return storage.ThresholdEvent{
		PackageID:         packageID,
		CumulativeMinutes: minutes,
		OccurredAt:        at,
		Kind:              storage.EventThreshold,
	}
}

// NewLimitReached returns the crossing of the daily limit.
func NewLimitReached(packageID string, minutes int, at time.Time) storage.ThresholdEvent {
	return storage.ThresholdEvent{
		PackageID:         packageID,
		CumulativeMinutes: minutes,
		OccurredAt:        at,
		Kind:              storage.EventLimitReached,
	}
}

// Validate checks an event before it is appended to the log.
func Validate(ev storage.ThresholdEvent) error {
	if ev.PackageID == "" {
		return fmt.Errorf("package id is required")
	}
	if ev.CumulativeMinutes < 0 {
		return fmt.Errorf("invalid cumulative minutes: %d", ev.CumulativeMinutes)
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	switch ev.Kind {
	case storage.EventThreshold, storage.EventLimitReached:
	default:
		return fmt.Errorf("invalid event kind: %q", ev.Kind)
	}
	return nil
}

// LegacyName renders the event name an older host bridge would emit,
// e.g. "TabnovaEMM.com.example.app.threshold.5min".
func LegacyName(packageID string, kind storage.EventKind, minutes int) string {
	segment := "threshold"
	if kind == storage.EventLimitReached {
		segment = "limitReached"
	}
	return fmt.Sprintf("%s%s.%s.%dmin", LegacyPrefix, packageID, segment, minutes)
}

// ParseLegacyName decodes an event name emitted by an older host bridge.
// An unparseable minute suffix falls back to FallbackMinutes. A limit name
// without a minute suffix yields a LimitReached event with zero minutes,
// which callers resolve to the app's configured limit.
func ParseLegacyName(name string, at time.Time) (storage.ThresholdEvent, error) {
	rest, ok := strings.CutPrefix(name, LegacyPrefix)
	if !ok {
		return storage.ThresholdEvent{}, fmt.Errorf("unrecognised event name: %q", name)
	}

	parts := strings.Split(rest, ".")

	// Find the last kind marker; bundle ids contain dots themselves.
	idx := -1
	for i := len(parts) - 1; i > 0; i-- {
		if isKindSegment(parts[i]) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return storage.ThresholdEvent{}, fmt.Errorf("event name has no threshold marker: %q", name)
	}

	packageID := strings.Join(parts[:idx], ".")
	kind := storage.EventThreshold
	if parts[idx] != "threshold" {
		kind = storage.EventLimitReached
	}

	suffix := strings.Join(parts[idx+1:], ".")
	minutes := 0
	switch {
	case suffix == "" && kind == storage.EventLimitReached:
	case suffix == "":
		minutes = FallbackMinutes
	default:
		minutes = parseMinutes(suffix)
	}

	return storage.ThresholdEvent{
		PackageID:         packageID,
		CumulativeMinutes: minutes,
		OccurredAt:        at,
		Kind:              kind,
	}, nil
}

func isKindSegment(s string) bool {
	switch s {
	case "threshold", "limit", "limitReached":
		return true
	}
	return false
}

func parseMinutes(suffix string) int {
	digits := strings.TrimSuffix(strings.ToLower(suffix), "min")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return FallbackMinutes
	}
	return n
}

// Threshold is one scheduled crossing in a plan.
type Threshold struct {
	Minutes int               `json:"minutes"`
	Kind    storage.EventKind `json:"kind"`
}

// Plan returns the thresholds to schedule for a daily limit: crossings
// strictly below the limit as Threshold, then the limit as LimitReached.
func Plan(limit, step int, mode PlanMode) []Threshold {
	if limit <= 0 {
		return nil
	}

	if mode == PlanStride {
		step = (limit + StrideBlocks - 1) / StrideBlocks
	}
	if step <= 0 {
		step = FallbackMinutes
	}

	plan := make([]Threshold, 0, limit/step+1)
	for m := step; m < limit; m += step {
		plan = append(plan, Threshold{Minutes: m, Kind: storage.EventThreshold})
	}
	plan = append(plan, Threshold{Minutes: limit, Kind: storage.EventLimitReached})

	return plan
}

// ResolveLimit fills in the minutes of a LimitReached event that carries
// none with the app's configured daily limit. Unknown apps are left as is.
func ResolveLimit(ctx context.Context, apps storage.AppStore, ev storage.ThresholdEvent) (storage.ThresholdEvent, error) {
	if ev.Kind != storage.EventLimitReached || ev.CumulativeMinutes != 0 {
		return ev, nil
	}

	app, err := apps.Get(ctx, ev.PackageID)
	if errors.Is(err, storage.ErrNotFound) {
		return ev, nil
	}
	if err != nil {
		return ev, fmt.Errorf("failed to load monitored app: %w", err)
	}

	ev.CumulativeMinutes = app.DailyLimitMinutes
	return ev, nil
}
