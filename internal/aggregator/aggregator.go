// Package aggregator folds the shared threshold event log into daily usage
// totals exactly once per event.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/usage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultDedupCacheSize bounds the in-memory set of processed events
const DefaultDedupCacheSize = 4096

// PackageUpdate is the new total of one package and date after a drain cycle
type PackageUpdate struct {
	usage.Update
	// LimitReached is set when a new event of today crossed the configured limit
	LimitReached bool
	Latest       storage.ThresholdEvent
}

// Result is the outcome of one drain cycle
type Result struct {
	NewEvents []storage.ThresholdEvent
	Updates   []PackageUpdate
}

// dayKey groups events by package and local calendar date
type dayKey struct {
	pkg  string
	date string
}

// Aggregator deduplicates threshold events and records cumulative totals.
// The cache maps each processed event to the number of copies accounted
// for; the persisted checkpoint covers events folded before a restart.
type Aggregator struct {
	events  storage.EventLog
	apps    storage.AppStore
	tracker *usage.Tracker
	seen    *lru.Cache[storage.DedupKey, int]
	logger  zerolog.Logger
	mu      sync.Mutex
}

// New creates an aggregator with a dedup cache of the given size
func New(events storage.EventLog, apps storage.AppStore, tracker *usage.Tracker, cacheSize int, logger zerolog.Logger) (*Aggregator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDedupCacheSize
	}

	seen, err := lru.New[storage.DedupKey, int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	return &Aggregator{
		events:  events,
		apps:    apps,
		tracker: tracker,
		seen:    seen,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}, nil
}

// Seen reports whether an event has already been processed
func (a *Aggregator) Seen(ev storage.ThresholdEvent) bool {
	return a.seen.Contains(ev.DedupKey())
}

// Process runs one drain cycle. Each package and date with new events gets
// its total set to its latest event of that date (by occurrence time, later
// log position wins ties). Only today's updates can carry LimitReached.
func (a *Aggregator) Process(ctx context.Context) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics.DrainCycles.Inc()
	result := &Result{}

	apps, err := a.apps.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitored apps: %w", err)
	}
	if len(apps) == 0 {
		a.logger.Warn().Msg("No monitored applications, skipping threshold events")
		return result, nil
	}

	limits := make(map[string]int, len(apps))
	for _, app := range apps {
		limits[app.PackageID] = app.DailyLimitMinutes
	}

	logged, err := a.events.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to drain event log: %w", err)
	}

	checkpoints, err := a.loadCheckpoints(ctx, apps)
	if err != nil {
		return nil, err
	}

	today := a.tracker.Today()
	loc := a.tracker.Clock().Now().Location()

	latest := make(map[dayKey]storage.ThresholdEvent)
	copies := make(map[storage.DedupKey]int)
	distinct := make([]storage.ThresholdEvent, 0, len(logged))

	for _, ev := range logged {
		key := ev.DedupKey()
		if _, ok := limits[ev.PackageID]; !ok {
			if !a.seen.Contains(key) {
				a.seen.Add(key, 1)
				a.logger.Debug().Str("package", ev.PackageID).Msg("Ignoring event for unmonitored package")
			}
			continue
		}

		day := dayKey{pkg: ev.PackageID, date: dateOf(ev, loc)}
		if cur, ok := latest[day]; !ok || !ev.OccurredAt.Before(cur.OccurredAt) {
			latest[day] = ev
		}

		copies[key]++
		if copies[key] == 1 {
			distinct = append(distinct, ev)
		}
	}

	pending := make(map[dayKey][]storage.DedupKey)
	limitReached := make(map[string]bool)
	duplicates := 0

	for _, ev := range distinct {
		key := ev.DedupKey()
		n := copies[key]

		if accounted, ok := a.seen.Get(key); ok {
			if n > accounted {
				duplicates += n - accounted
				a.seen.Add(key, n)
			}
			continue
		}
		duplicates += n - 1

		if cp, ok := checkpoints[ev.PackageID]; ok && covered(ev, cp, loc) {
			a.seen.Add(key, n)
			a.logger.Debug().
				Str("package", ev.PackageID).
				Time("occurred_at", ev.OccurredAt).
				Msg("Skipping event folded before restart")
			continue
		}

		day := dayKey{pkg: ev.PackageID, date: dateOf(ev, loc)}
		pending[day] = append(pending[day], key)
		result.NewEvents = append(result.NewEvents, ev)

		if day.date == today && reachesLimit(ev, limits[ev.PackageID]) {
			limitReached[ev.PackageID] = true
		}
	}

	if duplicates > 0 {
		metrics.EventsDuplicate.Add(float64(duplicates))
	}

	days := make([]dayKey, 0, len(pending))
	for day := range pending {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].pkg != days[j].pkg {
			return days[i].pkg < days[j].pkg
		}
		return days[i].date < days[j].date
	})

	var firstErr error
	for _, day := range days {
		ev := latest[day]
		update, err := a.tracker.RecordUsageOn(ctx, day.pkg, day.date, ev.CumulativeMinutes)
		if err != nil {
			// Leave the events unseen so the next cycle retries them
			a.logger.Error().Err(err).Str("package", day.pkg).Str("date", day.date).Msg("Failed to fold threshold events")
			result.NewEvents = removeDay(result.NewEvents, day, loc)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, key := range pending[day] {
			a.seen.Add(key, copies[key])
		}
		a.advanceCheckpoint(ctx, checkpoints, ev)

		result.Updates = append(result.Updates, PackageUpdate{
			Update:       update,
			LimitReached: day.date == today && limitReached[day.pkg],
			Latest:       ev,
		})

		a.logger.Info().
			Str("package", day.pkg).
			Str("date", day.date).
			Int("minutes", update.Current).
			Int("previous_minutes", update.Previous).
			Int("new_events", len(pending[day])).
			Msg("Usage updated from threshold events")
	}

	return result, firstErr
}

// loadCheckpoints reads the persisted checkpoint of every monitored package
func (a *Aggregator) loadCheckpoints(ctx context.Context, apps []storage.MonitoredApp) (map[string]storage.ThresholdEvent, error) {
	checkpoints := make(map[string]storage.ThresholdEvent, len(apps))
	for _, app := range apps {
		cp, err := a.events.Checkpoint(ctx, app.PackageID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint for %s: %w", app.PackageID, err)
		}
		checkpoints[app.PackageID] = *cp
	}
	return checkpoints, nil
}

// advanceCheckpoint persists ev when it is newer than the package checkpoint
func (a *Aggregator) advanceCheckpoint(ctx context.Context, checkpoints map[string]storage.ThresholdEvent, ev storage.ThresholdEvent) {
	if cp, ok := checkpoints[ev.PackageID]; ok && !newer(ev, cp) {
		return
	}

	if err := a.events.SetCheckpoint(ctx, ev); err != nil {
		// The in-memory cache still covers this process
		a.logger.Warn().Err(err).Str("package", ev.PackageID).Msg("Failed to store checkpoint")
		return
	}
	checkpoints[ev.PackageID] = ev
}

// covered reports whether ev was folded before the checkpoint was written.
// Events of an earlier day than the checkpoint belong to a closed day.
func covered(ev, cp storage.ThresholdEvent, loc *time.Location) bool {
	if ev.OccurredAt.After(cp.OccurredAt) {
		return false
	}
	if dateOf(ev, loc) != dateOf(cp, loc) {
		return true
	}
	return ev.CumulativeMinutes <= cp.CumulativeMinutes
}

func newer(ev, cp storage.ThresholdEvent) bool {
	if !ev.OccurredAt.Equal(cp.OccurredAt) {
		return ev.OccurredAt.After(cp.OccurredAt)
	}
	return ev.CumulativeMinutes > cp.CumulativeMinutes
}

// reachesLimit reports whether a LimitReached event is at or above the
// limit currently configured; a stale crossing of a raised limit is not.
func reachesLimit(ev storage.ThresholdEvent, limit int) bool {
	return ev.Kind == storage.EventLimitReached && limit > 0 && ev.CumulativeMinutes >= limit
}

func dateOf(ev storage.ThresholdEvent, loc *time.Location) string {
	return ev.OccurredAt.In(loc).Format(clock.DateLayout)
}

func removeDay(evs []storage.ThresholdEvent, day dayKey, loc *time.Location) []storage.ThresholdEvent {
	out := evs[:0]
	for _, ev := range evs {
		if ev.PackageID != day.pkg || dateOf(ev, loc) != day.date {
			out = append(out, ev)
		}
	}
	return out
}
