package model

import (
	"math"
	"time"
)

// RiskCategory is the banding of a risk score.
type RiskCategory string

// Risk categories, ordered by severity.
const (
	RiskLow    RiskCategory = "Low"
	RiskMedium RiskCategory = "Medium"
	RiskHigh   RiskCategory = "High"
)

// Band boundaries; each band includes its lower bound.
const (
	MediumRiskFloor = 0.30
	HighRiskFloor   = 0.70
)

// Categories lists every category in severity order.
var Categories = []RiskCategory{RiskLow, RiskMedium, RiskHigh}

// Categorize maps a score onto its risk band. NaN is treated as High.
func Categorize(score float64) RiskCategory {
	switch {
	case math.IsNaN(score):
		return RiskHigh
	case score < MediumRiskFloor:
		return RiskLow
	case score < HighRiskFloor:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Valid reports whether c is one of the known categories.
func (c RiskCategory) Valid() bool {
	return c == RiskLow || c == RiskMedium || c == RiskHigh
}

// Outcome is the clinically observed result for a prediction.
type Outcome int

// Outcome values.
const (
	OutcomeStable       Outcome = 0
	OutcomeDeteriorated Outcome = 1
)

// Valid reports whether o is a recognized outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeStable || o == OutcomeDeteriorated
}

// Prediction is the risk assessment of exactly one vitals record.
// ActualOutcome is write-once.
type Prediction struct {
	ID                string       `json:"prediction_id"`
	VitalsID          string       `json:"vitals_id"`
	PatientID         string       `json:"patient_id"`
	RiskScore         float64      `json:"risk_score"`
	RiskCategory      RiskCategory `json:"risk_level"`
	Factors           []string     `json:"contributing_factors"`
	CreatedAt         time.Time    `json:"created_at"`
	ActualOutcome     *Outcome     `json:"actual_outcome"`
	OutcomeRecordedAt *time.Time   `json:"outcome_recorded_at,omitempty"`
}

// IngestResult is what Ingest hands back to the producer.
type IngestResult struct {
	Prediction Prediction `json:"prediction"`
	RecordedAt time.Time  `json:"recorded_at"`
	Duplicate  bool       `json:"duplicate"`
}

// HistoryEntry pairs a stored reading with its prediction.
type HistoryEntry struct {
	Vitals     VitalsRecord `json:"vitals"`
	Prediction Prediction   `json:"prediction"`
}

// Overview is the dashboard aggregate over all stored data.
type Overview struct {
	TotalPatients    int                  `json:"total_patients"`
	TotalReadings    int                  `json:"total_data_points"`
	TotalPredictions int                  `json:"total_predictions"`
	RiskDistribution map[RiskCategory]int `json:"risk_distribution"`
	LastUpdated      time.Time            `json:"last_updated"`
}

// NewOverview returns an overview with every category present at zero.
func NewOverview() Overview {
	dist := make(map[RiskCategory]int, len(Categories))
	for _, c := range Categories {
		dist[c] = 0
	}
	return Overview{RiskDistribution: dist}
}

// Verdict labels one prediction against its outcome.
type Verdict string

const (
	VerdictCorrect   Verdict = "Correct"
	VerdictIncorrect Verdict = "Incorrect"
	VerdictPending   Verdict = "Pending"
)

// PredictionOutcome pairs a prediction with its recorded outcome, if any.
type PredictionOutcome struct {
	Prediction    Prediction `json:"prediction"`
	RecordedAt    time.Time  `json:"recorded_at"`
	ActualOutcome *Outcome   `json:"actual_outcome"`
	Accuracy      Verdict    `json:"accuracy,omitempty"`
}

// PredictionEvent is published to the live feed after a reading commits.
type PredictionEvent struct {
	PredictionID string       `json:"prediction_id"`
	VitalsID     string       `json:"vitals_id"`
	PatientID    string       `json:"patient_id"`
	RiskScore    float64      `json:"risk_score"`
	RiskCategory RiskCategory `json:"risk_level"`
	Factors      []string     `json:"contributing_factors"`
	RecordedAt   time.Time    `json:"recorded_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// EventFor builds the feed event for a committed prediction.
func EventFor(p Prediction, recordedAt time.Time) PredictionEvent {
	return PredictionEvent{
		PredictionID: p.ID,
		VitalsID:     p.VitalsID,
		PatientID:    p.PatientID,
		RiskScore:    p.RiskScore,
		RiskCategory: p.RiskCategory,
		Factors:      p.Factors,
		RecordedAt:   recordedAt,
		CreatedAt:    p.CreatedAt,
	}
}
