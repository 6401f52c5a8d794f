package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/events"
	"github.com/goodtune/tabnova/internal/pipeline"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/rs/zerolog"
)

// EventRequest is a threshold notification from the host bridge. Either the
// structured fields or a legacy Name are set.
type EventRequest struct {
	PackageID         string            `json:"package_id"`
	CumulativeMinutes int               `json:"cumulative_minutes"`
	OccurredAt        *time.Time        `json:"occurred_at,omitempty"`
	Kind              storage.EventKind `json:"kind,omitempty"`
	Name              string            `json:"name,omitempty"`
}

// EventResponse summarises the drain cycle triggered by an event.
type EventResponse struct {
	Accepted  bool                  `json:"accepted"`
	NewEvents int                   `json:"new_events"`
	Updates   []storage.UsageRecord `json:"updates"`
}

// EventHandler handles threshold event requests.
type EventHandler struct {
	pipeline *pipeline.Pipeline
	log      storage.EventLog
	apps     storage.AppStore
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(p *pipeline.Pipeline, log storage.EventLog, apps storage.AppStore, clk clock.Clock, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		pipeline: p,
		log:      log,
		apps:     apps,
		clock:    clk,
		logger:   logger.With().Str("handler", "events").Logger(),
	}
}

// Create appends an event and runs a drain cycle.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	at := h.clock.Now()
	if req.OccurredAt != nil {
		at = *req.OccurredAt
	}

	var ev storage.ThresholdEvent
	if req.Name != "" {
		parsed, err := events.ParseLegacyName(req.Name, at)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ev = parsed
	} else {
		kind := req.Kind
		if kind == "" {
			kind = storage.EventThreshold
		}
		ev = storage.ThresholdEvent{
			PackageID:         req.PackageID,
			CumulativeMinutes: req.CumulativeMinutes,
			OccurredAt:        at,
			Kind:              kind,
		}
	}

	ev, err := events.ResolveLimit(ctx, h.apps, ev)
	if err != nil {
		h.logger.Error().Err(err).Str("package", ev.PackageID).Msg("Failed to resolve limit event")
		writeError(w, http.StatusInternalServerError, "Failed to load monitored app")
		return
	}

	if err := events.Validate(ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.pipeline.HandleEvent(ctx, ev)
	if result == nil {
		h.logger.Error().Err(err).Str("package", ev.PackageID).Msg("Failed to handle threshold event")
		writeError(w, http.StatusInternalServerError, "Failed to handle threshold event")
		return
	}

	resp := EventResponse{
		Accepted:  true,
		NewEvents: len(result.NewEvents),
		Updates:   make([]storage.UsageRecord, 0, len(result.Updates)),
	}
	for _, u := range result.Updates {
		resp.Updates = append(resp.Updates, u.Record())
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// List returns the retained event log.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	logged, err := h.log.Drain(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read event log")
		writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": logged,
		"count":  len(logged),
	})
}
