package simulator

import (
	"time"

	"github.com/okian/vitalrisk/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	NumPatients int           // Number of simulated patients
	Readings    int           // Readings per patient
	Interval    time.Duration // Pause between reading rounds
	Workers     int           // Number of concurrent submitters
	Timeout     time.Duration // HTTP request timeout
	Retries     int           // Transport-level retries per request
	Crisis      bool          // Send a crisis burst for the first patient
	Seed        uint64        // Seed for the vitals generator; zero picks one from the clock
	Verbose     bool          // Log every submission
}

// Stats holds run statistics.
type Stats struct {
	PatientsRegistered int
	PatientsExisting   int
	PatientsFailed     int
	ReadingsGenerated  int
	ReadingsSubmitted  int
	ReadingsAccepted   int
	ReadingsDuplicate  int
	ReadingsFailed     int
	CrisisReadings     int
	RiskLevels         map[model.RiskCategory]int
	Overview           *model.Overview
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

func newStats() *Stats {
	levels := make(map[model.RiskCategory]int, len(model.Categories))
	for _, c := range model.Categories {
		levels[c] = 0
	}
	return &Stats{RiskLevels: levels, StartTime: time.Now()}
}

// ingestAck is the subset of the ingest response the simulator reads.
type ingestAck struct {
	PredictionID string             `json:"prediction_id"`
	RiskScore    float64            `json:"risk_score"`
	RiskLevel    model.RiskCategory `json:"risk_level"`
	Duplicate    bool               `json:"duplicate"`
}

// apiError mirrors the service's error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
