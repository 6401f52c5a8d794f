package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
)

type usageStore struct {
	db *sql.DB
}

// SetDailyUsage stores the cumulative total inside one write transaction
func (s *usageStore) SetDailyUsage(ctx context.Context, packageID, date string, minutes int, at time.Time) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous int
	err = tx.QueryRowContext(ctx,
		`SELECT cumulative_minutes FROM daily_usage WHERE package_id = ? AND date = ?`,
		packageID, date,
	).Scan(&previous)

	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, 0, fmt.Errorf("failed to read daily usage: %w", err)
	}

	if exists && minutes < previous {
		return previous, previous, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_usage (package_id, date, cumulative_minutes, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(package_id, date) DO UPDATE SET
			cumulative_minutes = excluded.cumulative_minutes,
			last_updated = excluded.last_updated
	`, packageID, date, minutes, toUnixNano(at))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write daily usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit daily usage: %w", err)
	}

	return previous, minutes, nil
}

// GetDailyUsage retrieves daily usage for a specific package and date
func (s *usageStore) GetDailyUsage(ctx context.Context, packageID, date string) (*storage.UsageRecord, error) {
	record := storage.UsageRecord{PackageID: packageID, Date: date}
	var updated int64

	err := s.db.QueryRowContext(ctx,
		`SELECT cumulative_minutes, last_updated FROM daily_usage WHERE package_id = ? AND date = ?`,
		packageID, date,
	).Scan(&record.CumulativeMinutes, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.LastUpdated = fromUnixNano(updated)
	return &record, nil
}

// ListDailyUsage returns all daily usage entries for a specific date
func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT package_id, cumulative_minutes, last_updated
		FROM daily_usage
		WHERE date = ?
		ORDER BY package_id
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]storage.UsageRecord, 0)
	for rows.Next() {
		record := storage.UsageRecord{Date: date}
		var updated int64
		if err := rows.Scan(&record.PackageID, &record.CumulativeMinutes, &updated); err != nil {
			return nil, err
		}
		record.LastUpdated = fromUnixNano(updated)
		records = append(records, record)
	}

	return records, rows.Err()
}

// DeleteUsageUpdatedBefore removes records whose last update predates cutoff
func (s *usageStore) DeleteUsageUpdatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM daily_usage WHERE last_updated < ?`, toUnixNano(cutoff))
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
