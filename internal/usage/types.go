package usage

import (
	"github.com/goodtune/tabnova/internal/storage"
)

// Update is the outcome of recording a cumulative total
type Update struct {
	PackageID string
	Date      string
	Previous  int
	Current   int
}

// Changed reports whether the stored total moved
func (u Update) Changed() bool {
	return u.Current != u.Previous
}

// Record returns the update as a usage record (without timestamp)
func (u Update) Record() storage.UsageRecord {
	return storage.UsageRecord{
		PackageID:         u.PackageID,
		Date:              u.Date,
		CumulativeMinutes: u.Current,
	}
}
