package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	setDailyUsage    = redis.NewScript(setDailyUsageScript)
	deleteStaleUsage = redis.NewScript(deleteStaleUsageScript)
)

type usageStore struct {
	client *redis.Client
	keys   keys
}

// SetDailyUsage atomically stores the cumulative total for a package and date
func (s *usageStore) SetDailyUsage(ctx context.Context, packageID, date string, minutes int, at time.Time) (int, int, error) {
	usageKey := s.keys.key(keyDailyAppUsage)

	res, err := setDailyUsage.Run(ctx, s.client, []string{usageKey},
		storage.UsageKey(packageID, date),
		packageID,
		date,
		minutes,
		at.Format(time.RFC3339Nano),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to set daily usage: %w", err)
	}

	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result: %v", res)
	}

	return int(res[0]), int(res[1]), nil
}

// GetDailyUsage retrieves daily usage for a specific package and date
func (s *usageStore) GetDailyUsage(ctx context.Context, packageID, date string) (*storage.UsageRecord, error) {
	raw, err := s.client.HGet(ctx, s.keys.key(keyDailyAppUsage), storage.UsageKey(packageID, date)).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return parseUsageRecord(raw)
}

// ListDailyUsage returns all daily usage entries for a specific date
func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	all, err := s.client.HGetAll(ctx, s.keys.key(keyDailyAppUsage)).Result()
	if err != nil {
		return nil, err
	}

	suffix := "_" + date
	records := make([]storage.UsageRecord, 0)
	for field, raw := range all {
		if !strings.HasSuffix(field, suffix) {
			continue
		}

		record, err := parseUsageRecord(raw)
		if err != nil {
			continue
		}
		records = append(records, *record)
	}

	sortRecords(records)
	return records, nil
}

// DeleteUsageUpdatedBefore removes records whose last update predates cutoff.
// Records refreshed by another process after they were read are kept.
func (s *usageStore) DeleteUsageUpdatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	usageKey := s.keys.key(keyDailyAppUsage)

	all, err := s.client.HGetAll(ctx, usageKey).Result()
	if err != nil {
		return 0, err
	}

	stale := make([]interface{}, 0)
	for field, raw := range all {
		record, err := parseUsageRecord(raw)
		// Unreadable entries are unrecoverable, sweep them too
		if err != nil || record.LastUpdated.Before(cutoff) {
			stale = append(stale, field, raw)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	deleted, err := deleteStaleUsage.Run(ctx, s.client, []string{usageKey}, stale...).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale usage: %w", err)
	}

	return deleted, nil
}
