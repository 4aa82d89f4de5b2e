package api

import (
	"net/http"
	"time"
)

// StatsProvider exposes coordinator state for operators.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	provider  StatsProvider
	startedAt time.Time
}

// NewStatsHandler creates a stats handler. Uptime is measured from this call.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, startedAt: time.Now()}
}

// HandleStats writes the provider's stats plus process uptime in seconds.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	stats := make(map[string]interface{})
	for k, v := range h.provider.GetStats() {
		stats[k] = v
	}
	stats["uptimeSeconds"] = int64(time.Since(h.startedAt).Seconds())
	writeJSON(w, http.StatusOK, stats)
}
