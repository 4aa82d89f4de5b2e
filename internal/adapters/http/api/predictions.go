package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/vitalrisk/internal/domain/model"
)

// PredictionDependencies defines the prediction lookup and outcome tracking
// operations.
type PredictionDependencies interface {
	GetPrediction(ctx context.Context, id string) (model.Prediction, error)
	RecordOutcome(ctx context.Context, predictionID string, outcome model.Outcome) (model.Prediction, error)
}

// PredictionsHandler handles prediction outcome requests.
type PredictionsHandler struct {
	deps PredictionDependencies
}

// NewPredictionsHandler creates a new predictions handler.
func NewPredictionsHandler(deps PredictionDependencies) *PredictionsHandler {
	return &PredictionsHandler{deps: deps}
}

type outcomeRequest struct {
	ActualOutcome *int `json:"actual_outcome"`
}

// HandleGet handles GET /predictions/{id} requests.
func (h *PredictionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.GetPrediction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleRecordOutcome handles PUT /predictions/{id}/outcome requests.
func (h *PredictionsHandler) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	const op = "api.record_outcome"
	var req outcomeRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if req.ActualOutcome == nil {
		writeServiceError(r.Context(), w, WrapKind(op, ErrBadRequest, errors.New("missing actual_outcome")))
		return
	}

	p, err := h.deps.RecordOutcome(r.Context(), r.PathValue("id"), model.Outcome(*req.ActualOutcome))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
