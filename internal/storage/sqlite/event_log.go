package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
)

type eventLog struct {
	db       *sql.DB
	interval time.Duration
}

// Append inserts an event and trims the table to capacity
func (l *eventLog) Append(ctx context.Context, event storage.ThresholdEvent, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid event log capacity: %d", capacity)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threshold_events (package_id, cumulative_minutes, occurred_at, kind)
		VALUES (?, ?, ?, ?)
	`, event.PackageID, event.CumulativeMinutes, toUnixNano(event.OccurredAt), string(event.Kind))
	if err != nil {
		return fmt.Errorf("failed to append threshold event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM threshold_events
		WHERE id NOT IN (SELECT id FROM threshold_events ORDER BY id DESC LIMIT ?)
	`, capacity)
	if err != nil {
		return fmt.Errorf("failed to trim threshold events: %w", err)
	}

	return tx.Commit()
}

// Drain returns every retained event, oldest first
func (l *eventLog) Drain(ctx context.Context) ([]storage.ThresholdEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT package_id, cumulative_minutes, occurred_at, kind
		FROM threshold_events
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]storage.ThresholdEvent, 0)
	for rows.Next() {
		var event storage.ThresholdEvent
		var occurred int64
		var kind string
		if err := rows.Scan(&event.PackageID, &event.CumulativeMinutes, &occurred, &kind); err != nil {
			return nil, err
		}
		event.OccurredAt = fromUnixNano(occurred)
		event.Kind = storage.EventKind(kind)
		events = append(events, event)
	}

	return events, rows.Err()
}

// Checkpoint returns the newest folded event of a package
func (l *eventLog) Checkpoint(ctx context.Context, packageID string) (*storage.ThresholdEvent, error) {
	event := storage.ThresholdEvent{PackageID: packageID}
	var occurred int64
	var kind string

	err := l.db.QueryRowContext(ctx, `
		SELECT cumulative_minutes, occurred_at, kind
		FROM threshold_checkpoints WHERE package_id = ?
	`, packageID).Scan(&event.CumulativeMinutes, &occurred, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	event.OccurredAt = fromUnixNano(occurred)
	event.Kind = storage.EventKind(kind)
	return &event, nil
}

// SetCheckpoint stores the newest folded event of a package
func (l *eventLog) SetCheckpoint(ctx context.Context, event storage.ThresholdEvent) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO threshold_checkpoints (package_id, cumulative_minutes, occurred_at, kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(package_id) DO UPDATE SET
			cumulative_minutes = excluded.cumulative_minutes,
			occurred_at = excluded.occurred_at,
			kind = excluded.kind
	`, event.PackageID, event.CumulativeMinutes, toUnixNano(event.OccurredAt), string(event.Kind))
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// Watch polls the newest event id and signals when it moves
func (l *eventLog) Watch(ctx context.Context) (<-chan struct{}, error) {
	last, err := l.latestID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read event log position: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				id, err := l.latestID(ctx)
				if err != nil || id == last {
					continue
				}
				last = id
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}

func (l *eventLog) latestID(ctx context.Context) (int64, error) {
	var id int64
	err := l.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM threshold_events`).Scan(&id)
	return id, err
}
