package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	store, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestUsageStore_SetDailyUsage(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	usage := store.Usage()
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	prev, cur, err := usage.SetDailyUsage(ctx, "com.example.app", "2024-01-15", 5, at)
	require.NoError(t, err)
	assert.Equal(t, 0, prev)
	assert.Equal(t, 5, cur)

	// Totals replace, they do not add
	prev, cur, err = usage.SetDailyUsage(ctx, "com.example.app", "2024-01-15", 15, at.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, prev)
	assert.Equal(t, 15, cur)

	// A smaller total never lowers the record
	prev, cur, err = usage.SetDailyUsage(ctx, "com.example.app", "2024-01-15", 10, at.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 15, prev)
	assert.Equal(t, 15, cur)

	record, err := usage.GetDailyUsage(ctx, "com.example.app", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 15, record.CumulativeMinutes)
	assert.True(t, record.LastUpdated.Equal(at.Add(10*time.Minute)))

	_, err = usage.GetDailyUsage(ctx, "com.example.app", "2024-01-16")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUsageStore_ListAndPurge(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	usage := store.Usage()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	_, _, err := usage.SetDailyUsage(ctx, "com.b.app", "2024-01-15", 20, now)
	require.NoError(t, err)
	_, _, err = usage.SetDailyUsage(ctx, "com.a.app", "2024-01-15", 5, now)
	require.NoError(t, err)
	_, _, err = usage.SetDailyUsage(ctx, "com.a.app", "2024-01-07", 30, now.AddDate(0, 0, -8))
	require.NoError(t, err)
	_, _, err = usage.SetDailyUsage(ctx, "com.a.app", "2024-01-09", 30, now.AddDate(0, 0, -6))
	require.NoError(t, err)

	records, err := usage.ListDailyUsage(ctx, "2024-01-15")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "com.a.app", records[0].PackageID)
	assert.Equal(t, "com.b.app", records[1].PackageID)

	deleted, err := usage.DeleteUsageUpdatedBefore(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = usage.GetDailyUsage(ctx, "com.a.app", "2024-01-07")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = usage.GetDailyUsage(ctx, "com.a.app", "2024-01-09")
	assert.NoError(t, err)
}

func TestEventLog_AppendAndDrain(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	log := store.Events()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		err := log.Append(ctx, storage.ThresholdEvent{
			PackageID:         "com.example.app",
			CumulativeMinutes: i * 5,
			OccurredAt:        base.Add(time.Duration(i) * time.Minute),
			Kind:              storage.EventThreshold,
		}, 3)
		require.NoError(t, err)
	}

	events, err := log.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 15, events[0].CumulativeMinutes)
	assert.Equal(t, 25, events[2].CumulativeMinutes)
	assert.True(t, events[2].OccurredAt.Equal(base.Add(5*time.Minute)))
	assert.Equal(t, storage.EventThreshold, events[2].Kind)

	// Drain does not consume
	again, err := log.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 3)

	err = log.Append(ctx, storage.ThresholdEvent{PackageID: "x"}, 0)
	assert.Error(t, err)
}

func TestEventLog_Watch(t *testing.T) {
	store := setupTestDB(t)
	store.SetWatchInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake, err := store.Events().Watch(ctx)
	require.NoError(t, err)

	err = store.Events().Append(context.Background(), storage.ThresholdEvent{
		PackageID:         "com.example.app",
		CumulativeMinutes: 5,
		OccurredAt:        time.Now(),
		Kind:              storage.EventThreshold,
	}, 50)
	require.NoError(t, err)

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("expected wakeup after append")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-wake
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestEventLog_Checkpoint(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	log := store.Events()
	at := time.Date(2024, 1, 15, 10, 5, 0, 0, time.UTC)

	_, err := log.Checkpoint(ctx, "com.example.app")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, log.SetCheckpoint(ctx, storage.ThresholdEvent{
		PackageID:         "com.example.app",
		CumulativeMinutes: 5,
		OccurredAt:        at,
		Kind:              storage.EventThreshold,
	}))
	require.NoError(t, log.SetCheckpoint(ctx, storage.ThresholdEvent{
		PackageID:         "com.example.app",
		CumulativeMinutes: 10,
		OccurredAt:        at.Add(5 * time.Minute),
		Kind:              storage.EventLimitReached,
	}))

	cp, err := log.Checkpoint(ctx, "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, 10, cp.CumulativeMinutes)
	assert.True(t, cp.OccurredAt.Equal(at.Add(5*time.Minute)))
	assert.Equal(t, storage.EventLimitReached, cp.Kind)
}

func TestAppStore_Lifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	apps := store.Apps()
	since := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

	err := apps.Upsert(ctx, storage.MonitoredApp{
		PackageID:         "com.example.game",
		DisplayName:       "Game",
		DailyLimitMinutes: 30,
		Token:             []byte{0x01, 0x02},
		MonitoringSince:   since,
	})
	require.NoError(t, err)

	err = apps.Upsert(ctx, storage.MonitoredApp{PackageID: "com.example.chat", DailyLimitMinutes: 10})
	require.NoError(t, err)

	app, err := apps.Get(ctx, "com.example.game")
	require.NoError(t, err)
	assert.Equal(t, "Game", app.DisplayName)
	assert.Equal(t, 30, app.DailyLimitMinutes)
	assert.Equal(t, []byte{0x01, 0x02}, app.Token)
	assert.True(t, app.MonitoringSince.Equal(since))
	assert.False(t, app.Shielded)

	// Upsert without a token keeps the stored handle
	app.DailyLimitMinutes = 45
	app.Token = nil
	require.NoError(t, apps.Upsert(ctx, *app))
	app, err = apps.Get(ctx, "com.example.game")
	require.NoError(t, err)
	assert.Equal(t, 45, app.DailyLimitMinutes)
	assert.Equal(t, []byte{0x01, 0x02}, app.Token)

	list, err := apps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "com.example.chat", list[0].PackageID)

	require.NoError(t, apps.SetShielded(ctx, "com.example.game", true))
	shielded, err := apps.ListShielded(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.game"}, shielded)

	require.NoError(t, apps.Delete(ctx, "com.example.game"))
	require.NoError(t, apps.Delete(ctx, "com.example.game"))

	_, err = apps.Get(ctx, "com.example.game")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	shielded, err = apps.ListShielded(ctx)
	require.NoError(t, err)
	assert.Empty(t, shielded)

	assert.Error(t, apps.Upsert(ctx, storage.MonitoredApp{}))
}
