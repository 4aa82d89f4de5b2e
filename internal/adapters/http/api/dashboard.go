package api

import (
	"context"
	"net/http"

	"github.com/okian/vitalrisk/internal/domain/accuracy"
	"github.com/okian/vitalrisk/internal/domain/model"
)

// DashboardDependencies defines the read operations behind the dashboard.
type DashboardDependencies interface {
	GetOverview(ctx context.Context) (model.Overview, error)
	GetPredictionsVsActual(ctx context.Context) ([]model.PredictionOutcome, error)
}

// DashboardHandler serves dashboard aggregates and the embedded page.
type DashboardHandler struct {
	deps DashboardDependencies
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(deps DashboardDependencies) *DashboardHandler {
	return &DashboardHandler{deps: deps}
}

type predictionsVsActualResponse struct {
	Predictions []model.PredictionOutcome `json:"predictions"`
	Summary     accuracy.Summary          `json:"summary"`
}

// HandlePage handles GET /dashboard requests with an HTML page that polls
// the overview endpoint.
func (h *DashboardHandler) HandlePage(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, dashboardFS, "dashboard.html")
}

// HandleOverview handles GET /dashboard/overview requests.
func (h *DashboardHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.deps.GetOverview(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// HandlePredictionsVsActual handles GET /dashboard/predictions-vs-actual requests.
func (h *DashboardHandler) HandlePredictionsVsActual(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.deps.GetPredictionsVsActual(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	accuracy.Annotate(pairs)
	writeJSON(w, http.StatusOK, predictionsVsActualResponse{
		Predictions: pairs,
		Summary:     accuracy.Summarize(pairs),
	})
}
