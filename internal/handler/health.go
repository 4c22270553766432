package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthStore is the storage surface the health check needs.
type HealthStore interface {
	Ping(ctx context.Context) error
	CountTokens(ctx context.Context) (int, error)
}

type HealthHandler struct {
	store     HealthStore
	startTime time.Time
}

func NewHealthHandler(s HealthStore) *HealthHandler {
	return &HealthHandler{store: s, startTime: time.Now()}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	TotalTokens   int    `json:"total_tokens"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("database ping failed")
		RespondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:        "unhealthy",
			Version:       "1.0.0",
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		})
		return
	}

	total, err := h.store.CountTokens(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to count access tokens")
		total = 0
	}

	RespondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       "1.0.0",
		TotalTokens:   total,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}
