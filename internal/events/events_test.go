package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
	"github.com/goodtune/tabnova/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestConstructors(t *testing.T) {
	ev := NewThreshold("com.example.app", 5, testTime)
	assert.Equal(t, storage.EventThreshold, ev.Kind)
	assert.Equal(t, 5, ev.CumulativeMinutes)
	require.NoError(t, Validate(ev))

	ev = NewLimitReached("com.example.app", 30, testTime)
	assert.Equal(t, storage.EventLimitReached, ev.Kind)
	require.NoError(t, Validate(ev))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   storage.ThresholdEvent
	}{
		{"missing package", NewThreshold("", 5, testTime)},
		{"negative minutes", NewThreshold("com.example.app", -5, testTime)},
		{"missing time", NewThreshold("com.example.app", 5, time.Time{})},
		{"unknown kind", storage.ThresholdEvent{PackageID: "a", CumulativeMinutes: 1, OccurredAt: testTime, Kind: "bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.ev))
		})
	}
}

func TestParseLegacyName(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantPackage string
		wantMinutes int
		wantKind    storage.EventKind
		wantErr     bool
	}{
		{"threshold", "TabnovaEMM.com.example.app.threshold.15min", "com.example.app", 15, storage.EventThreshold, false},
		{"unparseable suffix falls back", "TabnovaEMM.com.example.app.threshold.abcmin", "com.example.app", 5, storage.EventThreshold, false},
		{"missing suffix falls back", "TabnovaEMM.com.example.app.threshold", "com.example.app", 5, storage.EventThreshold, false},
		{"limit reached with minutes", "TabnovaEMM.com.example.app.limitReached.30min", "com.example.app", 30, storage.EventLimitReached, false},
		{"limit without minutes", "TabnovaEMM.com.example.app.limit", "com.example.app", 0, storage.EventLimitReached, false},
		{"bundle containing marker word", "TabnovaEMM.com.threshold.app.threshold.10min", "com.threshold.app", 10, storage.EventThreshold, false},
		{"wrong prefix", "Other.com.example.app.threshold.5min", "", 0, "", true},
		{"no marker", "TabnovaEMM.com.example.app", "", 0, "", true},
		{"marker without package", "TabnovaEMM.threshold.5min", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseLegacyName(tt.input, testTime)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPackage, ev.PackageID)
			assert.Equal(t, tt.wantMinutes, ev.CumulativeMinutes)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.True(t, ev.OccurredAt.Equal(testTime))
		})
	}
}

func TestLegacyNameRoundTrip(t *testing.T) {
	name := LegacyName("com.example.app", storage.EventLimitReached, 45)
	assert.Equal(t, "TabnovaEMM.com.example.app.limitReached.45min", name)

	ev, err := ParseLegacyName(name, testTime)
	require.NoError(t, err)
	assert.Equal(t, NewLimitReached("com.example.app", 45, testTime), ev)
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		step  int
		mode  PlanMode
		want  []int
	}{
		{"step below limit", 20, 5, PlanStep, []int{5, 10, 15, 20}},
		{"limit not multiple of step", 12, 5, PlanStep, []int{5, 10, 12}},
		{"limit smaller than step", 3, 5, PlanStep, []int{3}},
		{"stride of 60", 60, 0, PlanStride, []int{5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60}},
		{"stride rounds up", 30, 0, PlanStride, []int{3, 6, 9, 12, 15, 18, 21, 24, 27, 30}},
		{"stride minimum one", 5, 0, PlanStride, []int{1, 2, 3, 4, 5}},
		{"zero step falls back", 10, 0, PlanStep, []int{5, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Plan(tt.limit, tt.step, tt.mode)
			got := make([]int, 0, len(plan))
			for i, th := range plan {
				got = append(got, th.Minutes)
				if i == len(plan)-1 {
					assert.Equal(t, storage.EventLimitReached, th.Kind)
				} else {
					assert.Equal(t, storage.EventThreshold, th.Kind)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Nil(t, Plan(0, 5, PlanStep))
}

func TestResolveLimit(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Apps().Upsert(ctx, storage.MonitoredApp{PackageID: "com.example.game", DailyLimitMinutes: 25}))

	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	ev, err := ResolveLimit(ctx, store.Apps(), NewLimitReached("com.example.game", 0, at))
	require.NoError(t, err)
	assert.Equal(t, 25, ev.CumulativeMinutes)

	// Explicit minutes are kept
	ev, err = ResolveLimit(ctx, store.Apps(), NewLimitReached("com.example.game", 30, at))
	require.NoError(t, err)
	assert.Equal(t, 30, ev.CumulativeMinutes)

	// Threshold events are never rewritten
	ev, err = ResolveLimit(ctx, store.Apps(), NewThreshold("com.example.game", 0, at))
	require.NoError(t, err)
	assert.Equal(t, 0, ev.CumulativeMinutes)

	ev, err = ResolveLimit(ctx, store.Apps(), NewLimitReached("com.unknown", 0, at))
	require.NoError(t, err)
	assert.Equal(t, 0, ev.CumulativeMinutes)
}
