package api

import (
	"net/http"

	"github.com/goodtune/tabnova/internal/monitor"
	"github.com/goodtune/tabnova/internal/pipeline"
	"github.com/rs/zerolog"
)

// SyncHandler handles server synchronisation requests.
type SyncHandler struct {
	monitor  *monitor.Service
	pipeline *pipeline.Pipeline
	logger   zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(m *monitor.Service, p *pipeline.Pipeline, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		monitor:  m,
		pipeline: p,
		logger:   logger.With().Str("handler", "sync").Logger(),
	}
}

// Sync applies the server's application limits.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	changed, err := h.monitor.SyncFromServer(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Limit sync failed")
		writeBackendError(w, err)
		return
	}

	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changed": changed,
		"count":   len(changed),
	})
}

// Resync reports every record of today in one batch.
func (h *SyncHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Resync(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Usage resync failed")
		writeBackendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
