// Package pipeline connects the event log, the aggregator, shield
// decisions and usage reporting.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/tabnova/internal/aggregator"
	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/events"
	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/usage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Report modes
const (
	ModeEvent = "event"
	ModeBatch = "batch"
)

// DefaultDispatchLimit bounds concurrent report dispatches
const DefaultDispatchLimit = 4

// Reporter sends usage to the backend
type Reporter interface {
	ReportUsage(ctx context.Context, packageID, date string, minutes int) error
	ReportBatch(ctx context.Context, records []storage.UsageRecord) error
}

// Config holds pipeline settings
type Config struct {
	EventLogCapacity int
	ReportMode       string
	PollInterval     time.Duration
	DispatchLimit    int
	ReportTimeout    time.Duration
}

// Pipeline processes threshold events. Reports run in the background and
// never delay event handling.
type Pipeline struct {
	events     storage.EventLog
	aggregator *aggregator.Aggregator
	tracker    *usage.Tracker
	shields    *shield.Manager
	reporter   Reporter
	config     Config
	logger     zerolog.Logger

	group   *errgroup.Group
	pending sync.WaitGroup
}

// New creates a pipeline
func New(eventLog storage.EventLog, agg *aggregator.Aggregator, tracker *usage.Tracker, shields *shield.Manager, reporter Reporter, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.EventLogCapacity <= 0 {
		cfg.EventLogCapacity = 50
	}
	if cfg.ReportMode == "" {
		cfg.ReportMode = ModeEvent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.DispatchLimit <= 0 {
		cfg.DispatchLimit = DefaultDispatchLimit
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 30 * time.Second
	}

	group := new(errgroup.Group)
	group.SetLimit(cfg.DispatchLimit)

	return &Pipeline{
		events:     eventLog,
		aggregator: agg,
		tracker:    tracker,
		shields:    shields,
		reporter:   reporter,
		config:     cfg,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		group:      group,
	}
}

// Append validates an event and adds it to the shared log
func (p *Pipeline) Append(ctx context.Context, ev storage.ThresholdEvent) error {
	if err := events.Validate(ev); err != nil {
		return err
	}

	if err := p.events.Append(ctx, ev, p.config.EventLogCapacity); err != nil {
		return fmt.Errorf("failed to append threshold event: %w", err)
	}

	metrics.EventsReceived.WithLabelValues(string(ev.Kind)).Inc()
	p.logger.Debug().
		Str("package", ev.PackageID).
		Int("minutes", ev.CumulativeMinutes).
		Str("event_kind", string(ev.Kind)).
		Msg("Threshold event appended")

	return nil
}

// HandleEvent appends an event and runs one drain cycle
func (p *Pipeline) HandleEvent(ctx context.Context, ev storage.ThresholdEvent) (*aggregator.Result, error) {
	if err := p.Append(ctx, ev); err != nil {
		return nil, err
	}
	return p.Cycle(ctx)
}

// Cycle drains the event log once, applies shield decisions and queues
// reports for what is new.
func (p *Pipeline) Cycle(ctx context.Context) (*aggregator.Result, error) {
	result, err := p.aggregator.Process(ctx)
	if result == nil {
		return nil, err
	}
	if err != nil {
		p.logger.Error().Err(err).Msg("Drain cycle completed with errors")
	}

	today := p.tracker.Today()
	var earlier []storage.UsageRecord
	for _, update := range result.Updates {
		// Past days are reported but never shielded
		if update.Date != today {
			earlier = append(earlier, update.Record())
			continue
		}

		kind := storage.EventThreshold
		if update.LimitReached {
			kind = storage.EventLimitReached
		}
		if _, serr := p.shields.Evaluate(ctx, update.PackageID, update.Current, kind); serr != nil {
			p.logger.Error().Err(serr).Str("package", update.PackageID).Msg("Shield evaluation failed")
		}
	}

	if len(result.NewEvents) == 0 {
		return result, err
	}

	if p.config.ReportMode == ModeBatch {
		p.dispatch(func(ctx context.Context) error {
			return p.reportBatch(ctx, earlier)
		})
		return result, err
	}

	newEvents := result.NewEvents
	p.dispatch(func(ctx context.Context) error {
		var firstErr error
		for _, ev := range newEvents {
			date := ev.OccurredAt.In(p.tracker.Clock().Now().Location()).Format(clock.DateLayout)
			if rerr := p.reporter.ReportUsage(ctx, ev.PackageID, date, ev.CumulativeMinutes); rerr != nil {
				p.logger.Error().Err(rerr).
					Str("package", ev.PackageID).
					Int("minutes", ev.CumulativeMinutes).
					Msg("Failed to report usage")
				if firstErr == nil {
					firstErr = rerr
				}
			}
		}
		return firstErr
	})

	return result, err
}

// Resync reports every record of today in one request
func (p *Pipeline) Resync(ctx context.Context) error {
	return p.reportBatch(ctx, nil)
}

// reportBatch reports today's records after the given earlier-day records
func (p *Pipeline) reportBatch(ctx context.Context, earlier []storage.UsageRecord) error {
	today, err := p.tracker.TodayUsage(ctx)
	if err != nil {
		return err
	}
	records := append(append([]storage.UsageRecord(nil), earlier...), today...)

	if err := p.reporter.ReportBatch(ctx, records); err != nil {
		p.logger.Error().Err(err).Int("records", len(records)).Msg("Failed to report usage batch")
		return err
	}
	return nil
}

// dispatch queues fn on the report group without blocking the caller
func (p *Pipeline) dispatch(fn func(ctx context.Context) error) {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.group.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), p.config.ReportTimeout)
			defer cancel()
			return fn(ctx)
		})
	}()
}

// Wait blocks until every queued report has finished
func (p *Pipeline) Wait() error {
	p.pending.Wait()
	return p.group.Wait()
}

// Run drains the log on every wakeup from the shared namespace and on every
// poll interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	wake, err := p.events.Watch(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Event log notifications unavailable, polling only")
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("poll_interval", p.config.PollInterval).
		Str("report_mode", p.config.ReportMode).
		Msg("Pipeline started")

	p.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Pipeline stopped")
			return nil
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			p.runCycle(ctx)
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

func (p *Pipeline) runCycle(ctx context.Context) {
	if _, err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error().Err(err).Msg("Drain cycle failed")
	}
}
