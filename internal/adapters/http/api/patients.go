package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/vitalrisk/internal/domain/model"
)

// PatientDependencies defines the patient operations the handlers use.
type PatientDependencies interface {
	RegisterPatient(ctx context.Context, in model.PatientInput) (model.Patient, error)
	ListPatients(ctx context.Context) ([]model.Patient, error)
	GetPatient(ctx context.Context, id string) (model.Patient, error)
	UpdateConditions(ctx context.Context, id string, conditions []string) (model.Patient, error)
	GetPatientHistory(ctx context.Context, patientID string, limit int) ([]model.HistoryEntry, error)
}

// PatientsHandler handles patient registry requests.
type PatientsHandler struct {
	deps PatientDependencies
}

// NewPatientsHandler creates a new patients handler.
func NewPatientsHandler(deps PatientDependencies) *PatientsHandler {
	return &PatientsHandler{deps: deps}
}

type conditionsRequest struct {
	Conditions *[]string `json:"medical_conditions"`
}

type patientsResponse struct {
	Patients []model.Patient `json:"patients"`
	Count    int             `json:"count"`
}

type historyResponse struct {
	PatientID string               `json:"patient_id"`
	History   []model.HistoryEntry `json:"history"`
	Count     int                  `json:"count"`
}

// HandleRegister handles POST /patients requests.
func (h *PatientsHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_patient"
	var req model.PatientInput
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	p, err := h.deps.RegisterPatient(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleList handles GET /patients requests.
func (h *PatientsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	patients, err := h.deps.ListPatients(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, patientsResponse{Patients: patients, Count: len(patients)})
}

// HandleGet handles GET /patients/{id} requests.
func (h *PatientsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.GetPatient(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpdateConditions handles PUT /patients/{id}/conditions requests.
func (h *PatientsHandler) HandleUpdateConditions(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_conditions"
	var req conditionsRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if req.Conditions == nil {
		writeServiceError(r.Context(), w, WrapKind(op, ErrBadRequest, errors.New("missing medical_conditions")))
		return
	}
	p, err := h.deps.UpdateConditions(r.Context(), r.PathValue("id"), *req.Conditions)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleHistory handles GET /patients/{id}/history?limit=N requests.
func (h *PatientsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.patient_history"
	limit, err := queryInt(r, op, "limit")
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	id := r.PathValue("id")
	history, err := h.deps.GetPatientHistory(r.Context(), id, limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{PatientID: id, History: history, Count: len(history)})
}
