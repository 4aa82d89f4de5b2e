// Package repository persists patients, vitals records and predictions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/metrics"
)

// Store provides read/write access to persisted state. Every method is
// atomic; a failed call leaves no partial writes behind.
type Store interface {
	// CreatePatient inserts p. Returns ErrDuplicate if the id is taken.
	CreatePatient(ctx context.Context, p model.Patient) error
	// GetPatient returns ErrNotFound for an unknown id.
	GetPatient(ctx context.Context, id string) (model.Patient, error)
	// ListPatients returns all patients ordered by id.
	ListPatients(ctx context.Context) ([]model.Patient, error)
	// UpdatePatientConditions replaces the patient's conditions.
	UpdatePatientConditions(ctx context.Context, id string, conditions []string) (model.Patient, error)

	// SaveReading writes rec and pred in one transaction. When rec carries an
	// event id that is already stored, nothing is written and the existing
	// prediction is returned with existing set. Returns ErrNotFound when the
	// patient does not exist.
	SaveReading(ctx context.Context, rec model.VitalsRecord, pred model.Prediction) (saved model.Prediction, existing bool, err error)

	// PatientHistory returns up to limit readings with their predictions,
	// most recent first.
	PatientHistory(ctx context.Context, patientID string, limit int) ([]model.HistoryEntry, error)
	// Overview aggregates counts and the risk histogram from one snapshot.
	Overview(ctx context.Context) (model.Overview, error)
	// PredictionsWithOutcomes lists every prediction, newest first.
	PredictionsWithOutcomes(ctx context.Context) ([]model.PredictionOutcome, error)

	// GetPrediction returns ErrNotFound for an unknown id.
	GetPrediction(ctx context.Context, id string) (model.Prediction, error)
	// SetOutcome records the outcome once. Returns ErrAlreadySet when an
	// outcome exists and ErrNotFound for an unknown id.
	SetOutcome(ctx context.Context, id string, outcome model.Outcome, at time.Time) (model.Prediction, error)

	Ping(ctx context.Context) error
	Close() error
}

// observe records latency for one store operation and counts failures.
// Lookups that miss and write-once conflicts are answers, not failures.
func observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadySet) && !errors.Is(err, ErrDuplicate) {
		metrics.RecordStoreError(op)
	}
}
