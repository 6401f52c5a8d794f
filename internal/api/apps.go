package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/tabnova/internal/monitor"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// AppRequest selects an app for monitoring. Token is base64 in JSON.
type AppRequest struct {
	PackageID         string `json:"package_id"`
	DisplayName       string `json:"display_name,omitempty"`
	DailyLimitMinutes int    `json:"daily_limit_minutes"`
	Token             []byte `json:"token,omitempty"`
}

// LimitRequest changes the daily limit of an app.
type LimitRequest struct {
	DailyLimitMinutes int `json:"daily_limit_minutes"`
}

// AppHandler handles monitored app requests.
type AppHandler struct {
	apps    storage.AppStore
	monitor *monitor.Service
	shields *shield.Manager
	logger  zerolog.Logger
}

// NewAppHandler creates a new app handler.
func NewAppHandler(apps storage.AppStore, m *monitor.Service, shields *shield.Manager, logger zerolog.Logger) *AppHandler {
	return &AppHandler{
		apps:    apps,
		monitor: m,
		shields: shields,
		logger:  logger.With().Str("handler", "apps").Logger(),
	}
}

// List returns all monitored apps.
func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.apps.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list monitored apps")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve monitored apps")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"apps":  apps,
		"count": len(apps),
	})
}

// Get returns one monitored app.
func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]

	app, err := h.apps.Get(r.Context(), pkg)
	if err != nil {
		h.writeLookupError(w, pkg, err)
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// Create starts monitoring an app.
func (h *AppHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req AppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.PackageID == "" {
		writeError(w, http.StatusBadRequest, "Package ID is required")
		return
	}
	if req.DailyLimitMinutes < 0 {
		writeError(w, http.StatusBadRequest, "Daily limit must not be negative")
		return
	}

	app, err := h.monitor.Start(r.Context(), storage.MonitoredApp{
		PackageID:         req.PackageID,
		DisplayName:       req.DisplayName,
		DailyLimitMinutes: req.DailyLimitMinutes,
		Token:             req.Token,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("package", req.PackageID).Msg("Failed to start monitoring")
		writeError(w, http.StatusInternalServerError, "Failed to start monitoring")
		return
	}

	writeJSON(w, http.StatusCreated, app)
}

// SetLimit changes the daily limit of an app.
func (h *AppHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]

	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DailyLimitMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "Daily limit must be positive")
		return
	}

	app, err := h.monitor.SetLimit(r.Context(), pkg, req.DailyLimitMinutes)
	if err != nil {
		h.writeLookupError(w, pkg, err)
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// Delete stops monitoring an app. Unknown apps succeed.
func (h *AppHandler) Delete(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]

	if err := h.monitor.Stop(r.Context(), pkg); err != nil {
		h.logger.Error().Err(err).Str("package", pkg).Msg("Failed to stop monitoring")
		writeError(w, http.StatusInternalServerError, "Failed to stop monitoring")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unblock removes the shield of an app.
func (h *AppHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]

	changed, err := h.shields.Unblock(r.Context(), pkg)
	if err != nil {
		h.logger.Error().Err(err).Str("package", pkg).Msg("Failed to unblock app")
		writeError(w, http.StatusInternalServerError, "Failed to unblock app")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"package_id": pkg,
		"unblocked":  changed,
	})
}

// Plan returns the thresholds the host must schedule for an app.
func (h *AppHandler) Plan(w http.ResponseWriter, r *http.Request) {
	pkg := mux.Vars(r)["package"]

	app, err := h.apps.Get(r.Context(), pkg)
	if err != nil {
		h.writeLookupError(w, pkg, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"package_id":          pkg,
		"daily_limit_minutes": app.DailyLimitMinutes,
		"thresholds":          h.monitor.Plan(app.DailyLimitMinutes),
	})
}

func (h *AppHandler) writeLookupError(w http.ResponseWriter, pkg string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "App not monitored")
		return
	}
	h.logger.Error().Err(err).Str("package", pkg).Msg("Failed to load monitored app")
	writeError(w, http.StatusInternalServerError, "Failed to retrieve monitored app")
}
