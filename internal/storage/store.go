package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
// The store is the only channel between the host-bridge process and the
// daemon, so every implementation must be visible across processes.
type Store interface {
	Close() error
	Usage() UsageStore
	Events() EventLog
	Apps() AppStore
}

// UsageStore manages per-package daily usage totals.
type UsageStore interface {
	// SetDailyUsage stores minutes as the cumulative total for the
	// package on date. Totals never decrease within a date: a smaller
	// value leaves the record untouched. Returns the previous and the
	// resulting stored total.
	SetDailyUsage(ctx context.Context, packageID, date string, minutes int, at time.Time) (previous, current int, err error)
	GetDailyUsage(ctx context.Context, packageID, date string) (*UsageRecord, error)
	ListDailyUsage(ctx context.Context, date string) ([]UsageRecord, error)
	DeleteUsageUpdatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// EventLog is a bounded, append-only mailbox of threshold events.
type EventLog interface {
	// Append adds an event, dropping the oldest entries beyond capacity.
	Append(ctx context.Context, event ThresholdEvent, capacity int) error
	// Drain returns all retained events in append order without removing them.
	Drain(ctx context.Context) ([]ThresholdEvent, error)
	// Watch signals whenever another writer appends an event.
	// The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan struct{}, error)
	// Checkpoint returns the newest event folded for a package, or
	// ErrNotFound when nothing has been folded yet.
	Checkpoint(ctx context.Context, packageID string) (*ThresholdEvent, error)
	// SetCheckpoint records event as the newest folded event of its package.
	SetCheckpoint(ctx context.Context, event ThresholdEvent) error
}

// AppStore manages the monitored application registry and shield state.
type AppStore interface {
	Upsert(ctx context.Context, app MonitoredApp) error
	Get(ctx context.Context, packageID string) (*MonitoredApp, error)
	List(ctx context.Context) ([]MonitoredApp, error)
	// Delete removes the app. Deleting an unknown app is not an error.
	Delete(ctx context.Context, packageID string) error
	SetShielded(ctx context.Context, packageID string, shielded bool) error
	ListShielded(ctx context.Context) ([]string, error)
}
