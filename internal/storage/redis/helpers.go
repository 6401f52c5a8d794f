package redis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
)

// tokenMapping is the appTokenMappings entry kept alongside the opaque token
type tokenMapping struct {
	DisplayName     string    `json:"display_name,omitempty"`
	MonitoringSince time.Time `json:"monitoring_since"`
}

// parseUsageRecord converts a dailyAppUsage hash value to UsageRecord
func parseUsageRecord(raw string) (*storage.UsageRecord, error) {
	if raw == "" {
		return nil, storage.ErrNotFound
	}

	var record storage.UsageRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to parse usage record: %w", err)
	}

	return &record, nil
}

// parseThresholdEvent converts a thresholdEvents list entry to ThresholdEvent
func parseThresholdEvent(raw string) (*storage.ThresholdEvent, error) {
	var event storage.ThresholdEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("failed to parse threshold event: %w", err)
	}

	if event.PackageID == "" {
		return nil, fmt.Errorf("threshold event without package_id")
	}

	return &event, nil
}

// parseLimit converts a monitoredApplications hash value to minutes
func parseLimit(raw string) (int, error) {
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse limit %q: %w", raw, err)
	}
	return limit, nil
}

// parseTokenMapping converts an appTokenMappings hash value
func parseTokenMapping(raw string) tokenMapping {
	var mapping tokenMapping
	if raw == "" {
		return mapping
	}
	// Older entries may hold a bare display name
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		mapping.DisplayName = raw
	}
	return mapping
}

// sortRecords orders usage records by package for stable listings
func sortRecords(records []storage.UsageRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].PackageID < records[j].PackageID
	})
}
