package backend

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultLimitMinutes applies when the server sends no usable daily limit
const DefaultLimitMinutes = 10

// Application is one entry of the server's application list
type Application struct {
	PackageName       string `json:"package_name"`
	DisplayText       string `json:"display_text,omitempty"`
	DailyLimitMinutes int    `json:"daily_limit_minutes"`
	UsedMinutes       int    `json:"used_minutes"`
}

// UnmarshalJSON tolerates the limit fields arriving as string, number or null
func (a *Application) UnmarshalJSON(data []byte) error {
	var raw struct {
		PackageName          string          `json:"package_name"`
		DisplayText          string          `json:"display_text"`
		DailyLimitTimeNumber json.RawMessage `json:"dailyLimitTimeNumber"`
		UsedLimit            json.RawMessage `json:"usedLimit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.PackageName = raw.PackageName
	a.DisplayText = raw.DisplayText
	a.DailyLimitMinutes = NormalizeLimit(raw.DailyLimitTimeNumber)

	used, ok := parseFlexibleInt(raw.UsedLimit)
	if !ok || used < 0 {
		used = 0
	}
	a.UsedMinutes = used

	return nil
}

// NormalizeLimit decodes dailyLimitTimeNumber. Absent, null, zero, negative
// and unparseable values all yield DefaultLimitMinutes.
func NormalizeLimit(raw json.RawMessage) int {
	n, ok := parseFlexibleInt(raw)
	if !ok || n <= 0 {
		return DefaultLimitMinutes
	}
	return n
}

func parseFlexibleInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}

	switch val := v.(type) {
	case float64:
		return int(math.Round(val)), true
	case string:
		s := strings.TrimSpace(val)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(math.Round(f)), true
		}
	}
	return 0, false
}

type applicationList struct {
	Applications []Application `json:"applications"`
}

// ApplicationUsage is one usage line of a report
type ApplicationUsage struct {
	PackageName  string `json:"packageName"`
	Date         string `json:"date"`
	CreatedOn    string `json:"createdOn"`
	TimeInMinute int    `json:"timeInMinute"`
}

// UsageReport is the body of POST /application/usage/create
type UsageReport struct {
	Email             string             `json:"email"`
	ProfileID         string             `json:"profileId"`
	SerialNumber      string             `json:"serialNumber"`
	BatteryPercentage int                `json:"batteryPercentage"`
	AppVersion        string             `json:"appVersion"`
	ApplicationUsages []ApplicationUsage `json:"applicationUsages"`
}

type apiResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
}
