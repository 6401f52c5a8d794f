package api

import (
	"net/http"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// UsageHandler handles usage queries.
type UsageHandler struct {
	tracker *usage.Tracker
	logger  zerolog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(tracker *usage.Tracker, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{
		tracker: tracker,
		logger:  logger.With().Str("handler", "usage").Logger(),
	}
}

// Today returns every usage record of the current date.
func (h *UsageHandler) Today(w http.ResponseWriter, r *http.Request) {
	records, err := h.tracker.TodayUsage(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get today's usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    h.tracker.Today(),
		"records": records,
		"count":   len(records),
	})
}

// Get returns the usage of one package on one date.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pkg := vars["package"]
	date := vars["date"]

	if _, err := time.Parse(clock.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format, expected YYYY-MM-DD")
		return
	}

	minutes, err := h.tracker.GetUsage(r.Context(), pkg, date)
	if err != nil {
		h.logger.Error().Err(err).Str("package", pkg).Str("date", date).Msg("Failed to get usage")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"package_id":         pkg,
		"date":               date,
		"cumulative_minutes": minutes,
	})
}
