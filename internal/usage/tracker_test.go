package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tabnova.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func newTestTracker(t *testing.T) (*Tracker, *clock.TestClock) {
	t.Helper()

	clk := &clock.TestClock{CurrentTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)}
	return NewTracker(openTestStore(t).Usage(), clk, zerolog.Nop()), clk
}

func TestTracker_RecordUsageReplaces(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	update, err := tracker.RecordUsage(ctx, "com.example.app", 5)
	require.NoError(t, err)
	assert.Equal(t, Update{PackageID: "com.example.app", Date: "2024-01-15", Previous: 0, Current: 5}, update)
	assert.True(t, update.Changed())

	update, err = tracker.RecordUsage(ctx, "com.example.app", 10)
	require.NoError(t, err)
	assert.Equal(t, 5, update.Previous)
	assert.Equal(t, 10, update.Current)

	got, err := tracker.GetUsage(ctx, "com.example.app", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestTracker_RecordUsageNeverDecreases(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "com.example.app", 20)
	require.NoError(t, err)

	update, err := tracker.RecordUsage(ctx, "com.example.app", 15)
	require.NoError(t, err)
	assert.Equal(t, 20, update.Previous)
	assert.Equal(t, 20, update.Current)
	assert.False(t, update.Changed())
}

func TestTracker_RecordUsageValidation(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "", 5)
	assert.Error(t, err)

	_, err = tracker.RecordUsage(ctx, "com.example.app", -1)
	assert.Error(t, err)
}

func TestTracker_GetUsageMissingIsZero(t *testing.T) {
	tracker, _ := newTestTracker(t)

	got, err := tracker.GetUsage(context.Background(), "com.unknown.app", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestTracker_NewDayStartsAtZero(t *testing.T) {
	tracker, clk := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "com.example.app", 45)
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)

	records, err := tracker.TodayUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	update, err := tracker.RecordUsage(ctx, "com.example.app", 5)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-16", update.Date)
	assert.Equal(t, 0, update.Previous)
	assert.Equal(t, 5, update.Current)

	yesterday, err := tracker.GetUsage(ctx, "com.example.app", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 45, yesterday)
}

func TestTracker_PurgeOlderThan(t *testing.T) {
	tracker, clk := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "com.old.app", 30)
	require.NoError(t, err)

	clk.Advance(2 * 24 * time.Hour)
	_, err = tracker.RecordUsage(ctx, "com.recent.app", 30)
	require.NoError(t, err)

	clk.Advance(6 * 24 * time.Hour)

	deleted, err := tracker.PurgeOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	got, err := tracker.GetUsage(ctx, "com.old.app", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = tracker.GetUsage(ctx, "com.recent.app", "2024-01-17")
	require.NoError(t, err)
	assert.Equal(t, 30, got)
}

type fakeClearer struct {
	calls int
	err   error
}

func (f *fakeClearer) ClearAll(ctx context.Context) (int, error) {
	f.calls++
	return 2, f.err
}

func TestResetScheduler_CalculateNextReset(t *testing.T) {
	tracker, clk := newTestTracker(t)

	tests := []struct {
		name      string
		resetTime string
		now       time.Time
		want      time.Time
	}{
		{
			name:      "later today",
			resetTime: "23:30",
			now:       time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local),
			want:      time.Date(2024, 1, 15, 23, 30, 0, 0, time.Local),
		},
		{
			name:      "midnight tomorrow",
			resetTime: "00:00",
			now:       time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local),
			want:      time.Date(2024, 1, 16, 0, 0, 0, 0, time.Local),
		},
		{
			name:      "exactly at reset time",
			resetTime: "10:00",
			now:       time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local),
			want:      time.Date(2024, 1, 16, 10, 0, 0, 0, time.Local),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk.Set(tt.now)
			rs, err := NewResetScheduler(tracker, tt.resetTime, 7, nil, zerolog.Nop())
			require.NoError(t, err)

			got := rs.calculateNextReset()
			if !got.Equal(tt.want) {
				t.Errorf("calculateNextReset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResetScheduler_InvalidTime(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := NewResetScheduler(tracker, "25:99", 7, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestResetScheduler_PerformReset(t *testing.T) {
	tracker, clk := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordUsage(ctx, "com.old.app", 30)
	require.NoError(t, err)
	clk.Advance(8 * 24 * time.Hour)

	t.Run("keeps shields by default", func(t *testing.T) {
		rs, err := NewResetScheduler(tracker, "00:00", 7, nil, zerolog.Nop())
		require.NoError(t, err)
		rs.performReset(ctx)

		got, err := tracker.GetUsage(ctx, "com.old.app", "2024-01-15")
		require.NoError(t, err)
		assert.Equal(t, 0, got)
	})

	t.Run("clears shields when configured", func(t *testing.T) {
		clearer := &fakeClearer{}
		rs, err := NewResetScheduler(tracker, "00:00", 7, clearer, zerolog.Nop())
		require.NoError(t, err)
		rs.performReset(ctx)
		assert.Equal(t, 1, clearer.calls)
	})

	t.Run("clear failure is logged", func(t *testing.T) {
		clearer := &fakeClearer{err: errors.New("shield api unavailable")}
		rs, err := NewResetScheduler(tracker, "00:00", 7, clearer, zerolog.Nop())
		require.NoError(t, err)
		rs.performReset(ctx)
		assert.Equal(t, 1, clearer.calls)
	})
}

func TestResetScheduler_StartStop(t *testing.T) {
	tracker, _ := newTestTracker(t)

	rs, err := NewResetScheduler(tracker, "00:00", 7, nil, zerolog.Nop())
	require.NoError(t, err)

	rs.Start()
	rs.Stop()
}
