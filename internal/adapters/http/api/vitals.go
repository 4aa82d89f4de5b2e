package api

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/vitalrisk/internal/domain/model"
)

// VitalsDependencies defines the ingestion operation.
type VitalsDependencies interface {
	Ingest(ctx context.Context, in model.VitalsInput) (model.IngestResult, error)
}

// VitalsHandler handles vitals submissions.
type VitalsHandler struct {
	deps VitalsDependencies
}

// NewVitalsHandler creates a new vitals handler.
func NewVitalsHandler(deps VitalsDependencies) *VitalsHandler {
	return &VitalsHandler{deps: deps}
}

// ingestResponse is the body returned for POST /vitals.
type ingestResponse struct {
	PredictionID string             `json:"prediction_id"`
	VitalsID     string             `json:"vitals_id"`
	PatientID    string             `json:"patient_id"`
	RiskScore    float64            `json:"risk_score"`
	RiskLevel    model.RiskCategory `json:"risk_level"`
	Factors      []string           `json:"contributing_factors"`
	RecordedAt   time.Time          `json:"recorded_at"`
	Duplicate    bool               `json:"duplicate"`
}

// HandleIngest handles POST /vitals requests. A replayed event_id answers
// 200 with the original prediction instead of 201.
func (h *VitalsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_vitals"
	var req model.VitalsInput
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	res, err := h.deps.Ingest(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, ingestResponse{
		PredictionID: res.Prediction.ID,
		VitalsID:     res.Prediction.VitalsID,
		PatientID:    res.Prediction.PatientID,
		RiskScore:    res.Prediction.RiskScore,
		RiskLevel:    res.Prediction.RiskCategory,
		Factors:      res.Prediction.Factors,
		RecordedAt:   res.RecordedAt,
		Duplicate:    res.Duplicate,
	})
}
