// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	PatientDependencies
	VitalsDependencies
	PredictionDependencies
	DashboardDependencies
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	patientsHandler    *PatientsHandler
	vitalsHandler      *VitalsHandler
	predictionsHandler *PredictionsHandler
	dashboardHandler   *DashboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(statsProvider),
		patientsHandler:    NewPatientsHandler(deps),
		vitalsHandler:      NewVitalsHandler(deps),
		predictionsHandler: NewPredictionsHandler(deps),
		dashboardHandler:   NewDashboardHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /readyz", MetricsMiddleware(s.healthHandler.HandleReady, "readyz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /patients", MetricsMiddleware(s.patientsHandler.HandleRegister, "patients"))
	mux.HandleFunc("GET /patients", MetricsMiddleware(s.patientsHandler.HandleList, "patients"))
	mux.HandleFunc("GET /patients/{id}", MetricsMiddleware(s.patientsHandler.HandleGet, "patient"))
	mux.HandleFunc("PUT /patients/{id}/conditions", MetricsMiddleware(s.patientsHandler.HandleUpdateConditions, "patient_conditions"))
	mux.HandleFunc("GET /patients/{id}/history", MetricsMiddleware(s.patientsHandler.HandleHistory, "patient_history"))

	mux.HandleFunc("POST /vitals", MetricsMiddleware(s.vitalsHandler.HandleIngest, "vitals"))
	mux.HandleFunc("GET /predictions/{id}", MetricsMiddleware(s.predictionsHandler.HandleGet, "prediction"))
	mux.HandleFunc("PUT /predictions/{id}/outcome", MetricsMiddleware(s.predictionsHandler.HandleRecordOutcome, "prediction_outcome"))

	mux.HandleFunc("GET /dashboard", s.dashboardHandler.HandlePage)
	mux.HandleFunc("GET /dashboard/overview", MetricsMiddleware(s.dashboardHandler.HandleOverview, "dashboard_overview"))
	mux.HandleFunc("GET /dashboard/predictions-vs-actual", MetricsMiddleware(s.dashboardHandler.HandlePredictionsVsActual, "dashboard_predictions_vs_actual"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates a core error kind into a status and code.
// Store failures are logged and reported without their cause.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrAlreadySet):
		writeError(w, http.StatusConflict, "already_set", err)
	case errors.Is(err, model.ErrStoreUnavailable):
		logger.Get().Named("api").Error(ctx, "store unavailable", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", nil)
	default:
		logger.Get().Named("api").Error(ctx, "unexpected error", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, fmt.Errorf("invalid JSON body: %w", err))
	}
	return nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, op, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, WrapKind(op, ErrBadRequest, fmt.Errorf("%s must be a positive integer", name))
	}
	return n, nil
}
