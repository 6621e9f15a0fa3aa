package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-gateway/internal/proxy"
)

// defaultLogLimit caps a /logs response when no limit is given.
const defaultLogLimit = 100

// LogsHandler serves recent request records. Requests reach it already
// authenticated with service scope "logs".
type LogsHandler struct {
	registry *proxy.SessionRegistry
	logger   zerolog.Logger
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(registry *proxy.SessionRegistry, logger zerolog.Logger) *LogsHandler {
	return &LogsHandler{
		registry: registry,
		logger:   logger.With().Str("handler", "logs").Logger(),
	}
}

type logsResponse struct {
	Records []proxy.LogRecord `json:"records"`
	Count   int               `json:"count"`
}

// Recent returns up to ?limit= completed request records, newest first.
func (h *LogsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records := h.registry.Recent(limit)
	if records == nil {
		records = []proxy.LogRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(logsResponse{Records: records, Count: len(records)}); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode logs response")
	}
}
