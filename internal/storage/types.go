package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventKind distinguishes plain threshold crossings from limit crossings.
type EventKind string

const (
	EventThreshold    EventKind = "threshold"
	EventLimitReached EventKind = "limit_reached"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the kind.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := EventKind(strings.ToLower(strings.TrimSpace(s)))
	switch normalized {
	case EventThreshold, EventLimitReached:
		*k = normalized
		return nil
	case "limitreached", "limit":
		*k = EventLimitReached
		return nil
	default:
		return fmt.Errorf("invalid event kind: %s (must be threshold or limit_reached)", s)
	}
}

// UsageRecord is the cumulative usage of one package on one calendar date.
type UsageRecord struct {
	PackageID         string    `json:"package_id"`
	Date              string    `json:"date"`
	CumulativeMinutes int       `json:"cumulative_minutes"`
	LastUpdated       time.Time `json:"last_updated"`
}

// UsageKey returns the dailyAppUsage field name for a package and date.
func UsageKey(packageID, date string) string {
	return packageID + "_" + date
}

// ThresholdEvent is a raw threshold notification from the monitoring host.
// CumulativeMinutes is the total for the monitoring window, not a delta.
type ThresholdEvent struct {
	PackageID         string    `json:"package_id"`
	CumulativeMinutes int       `json:"cumulative_minutes"`
	OccurredAt        time.Time `json:"occurred_at"`
	Kind              EventKind `json:"kind"`
}

// DedupKey identifies re-deliveries of the same event.
type DedupKey struct {
	PackageID  string
	OccurredAt int64
	Minutes    int
}

// DedupKey returns the composite identity of the event.
func (e ThresholdEvent) DedupKey() DedupKey {
	return DedupKey{
		PackageID:  e.PackageID,
		OccurredAt: e.OccurredAt.UnixNano(),
		Minutes:    e.CumulativeMinutes,
	}
}

// String renders the key for logs.
func (k DedupKey) String() string {
	return k.PackageID + "@" + strconv.FormatInt(k.OccurredAt, 10) + "#" + strconv.Itoa(k.Minutes)
}

// MonitoredApp is an application selected for screen-time monitoring.
type MonitoredApp struct {
	PackageID         string    `json:"package_id"`
	DisplayName       string    `json:"display_name,omitempty"`
	DailyLimitMinutes int       `json:"daily_limit_minutes"`
	Shielded          bool      `json:"shielded"`
	Token             []byte    `json:"token,omitempty"` // opaque host monitoring handle
	MonitoringSince   time.Time `json:"monitoring_since"`
}
