package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// PostgreSQL error codes mapped to store sentinels.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgInvalidText         = "22P02"
)

const (
	defaultStoreTimeout = 2 * time.Second
	defaultMaxOpen      = 20
	defaultMaxIdle      = 5
)

const (
	patientCols    = `patient_id, name, age, date_of_birth, gender, blood_type, medical_conditions, created_at`
	vitalsCols     = `v.id, v.event_id, v.patient_id, v.device_id, v.recorded_at, v.ingested_at, v.heart_rate, v.systolic, v.diastolic, v.temperature, v.spo2, v.respiratory_rate, v.activity_level`
	predictionCols = `p.id, p.vitals_id, p.patient_id, p.risk_score, p.risk_category, p.factors, p.created_at, p.actual_outcome, p.outcome_recorded_at`
)

// PostgresStore implements Store on PostgreSQL through lib/pq.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	maxOpen int
	maxIdle int
	log     logger.Logger
}

// OpenPostgres connects to dsn, sizes the pool and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %w", ErrUnavailable, err)
	}
	s := NewPostgresStore(db, opts...)
	db.SetMaxOpenConns(s.maxOpen)
	db.SetMaxIdleConns(s.maxIdle)

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:      db,
		timeout: defaultStoreTimeout,
		maxOpen: defaultMaxOpen,
		maxIdle: defaultMaxIdle,
		log:     logger.Get().Named("postgres"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return classify("migrate", err)
	}
	s.log.Info(ctx, "schema applied")
	return nil
}

func (s *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// classify maps driver errors onto store sentinels. Anything unrecognized
// is reported as ErrUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgForeignKeyViolation, pgInvalidText:
			return fmt.Errorf("%w: %s: %s", ErrNotFound, op, pqErr.Message)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s: %s", ErrDuplicate, op, pqErr.Message)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) CreatePatient(ctx context.Context, p model.Patient) (err error) {
	defer func(start time.Time) { observe("create_patient", start, err) }(time.Now())
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO patients (`+patientCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, nullInt(p.Age), nullTime(p.DateOfBirth), p.Gender, p.BloodType, pq.Array(p.Conditions), p.CreatedAt,
	)
	return classify("create_patient", err)
}

func (s *PostgresStore) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, id)
	p, err := scanPatient(row)
	if err != nil {
		return model.Patient{}, classify("get_patient", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPatients(ctx context.Context) ([]model.Patient, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+patientCols+` FROM patients ORDER BY patient_id`)
	if err != nil {
		return nil, classify("list_patients", err)
	}
	defer rows.Close()

	out := []model.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, classify("list_patients", err)
		}
		out = append(out, p)
	}
	return out, classify("list_patients", rows.Err())
}

func (s *PostgresStore) UpdatePatientConditions(ctx context.Context, id string, conditions []string) (model.Patient, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`UPDATE patients SET medical_conditions = $2 WHERE patient_id = $1 RETURNING `+patientCols,
		id, pq.Array(conditions),
	)
	p, err := scanPatient(row)
	if err != nil {
		return model.Patient{}, classify("update_patient", err)
	}
	return p, nil
}

func (s *PostgresStore) SaveReading(ctx context.Context, rec model.VitalsRecord, pred model.Prediction) (saved model.Prediction, existing bool, err error) {
	defer func(start time.Time) { observe("save_reading", start, err) }(time.Now())
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Prediction{}, false, classify("save_reading", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var vitalsID string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO vitals_records (id, event_id, patient_id, device_id, recorded_at, ingested_at,
			heart_rate, systolic, diastolic, temperature, spo2, respiratory_rate, activity_level, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		rec.ID, nullString(rec.EventID), rec.PatientID, nullString(rec.DeviceID), rec.RecordedAt, rec.IngestedAt,
		rec.HeartRate, rec.Systolic, rec.Diastolic, rec.Temperature, rec.SpO2, rec.RespiratoryRate, rec.ActivityLevel,
		payloadOf(rec),
	).Scan(&vitalsID)
	if errors.Is(err, sql.ErrNoRows) {
		// event_id conflict: answer with the prediction already stored for it.
		row := tx.QueryRowContext(ctx,
			`SELECT `+predictionCols+` FROM predictions p
			JOIN vitals_records v ON v.id = p.vitals_id
			WHERE v.event_id = $1`, rec.EventID)
		prior, err := scanPrediction(row)
		if err != nil {
			return model.Prediction{}, false, classify("save_reading", err)
		}
		if prior.PatientID != rec.PatientID {
			return model.Prediction{}, false, fmt.Errorf("%w: %s", ErrEventConflict, rec.EventID)
		}
		return prior, true, nil
	}
	if err != nil {
		return model.Prediction{}, false, classify("save_reading", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO predictions (id, vitals_id, patient_id, risk_score, risk_category, factors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pred.ID, vitalsID, pred.PatientID, pred.RiskScore, string(pred.RiskCategory), pq.Array(pred.Factors), pred.CreatedAt,
	)
	if err != nil {
		return model.Prediction{}, false, classify("save_reading", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Prediction{}, false, classify("save_reading", err)
	}
	return pred, false, nil
}

func (s *PostgresStore) PatientHistory(ctx context.Context, patientID string, limit int) ([]model.HistoryEntry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vitalsCols+`, `+predictionCols+`
		FROM vitals_records v
		JOIN predictions p ON p.vitals_id = v.id
		WHERE v.patient_id = $1
		ORDER BY v.recorded_at DESC, v.ingested_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, classify("patient_history", err)
	}
	defer rows.Close()

	out := []model.HistoryEntry{}
	for rows.Next() {
		var (
			v       vitalsRow
			p       predictionRow
			factors pq.StringArray
		)
		if err := rows.Scan(append(v.dest(), p.dest(&factors)...)...); err != nil {
			return nil, classify("patient_history", err)
		}
		out = append(out, model.HistoryEntry{Vitals: v.record(), Prediction: p.prediction(factors)})
	}
	return out, classify("patient_history", rows.Err())
}

func (s *PostgresStore) Overview(ctx context.Context) (model.Overview, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return model.Overview{}, classify("overview", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	o := model.NewOverview()
	var last sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM patients),
		(SELECT COUNT(*) FROM vitals_records),
		(SELECT COUNT(*) FROM predictions),
		GREATEST(
			(SELECT MAX(created_at) FROM patients),
			(SELECT MAX(created_at) FROM predictions),
			(SELECT MAX(outcome_recorded_at) FROM predictions))`,
	).Scan(&o.TotalPatients, &o.TotalReadings, &o.TotalPredictions, &last)
	if err != nil {
		return model.Overview{}, classify("overview", err)
	}
	if last.Valid {
		o.LastUpdated = last.Time.UTC()
	}

	rows, err := tx.QueryContext(ctx, `SELECT risk_category, COUNT(*) FROM predictions GROUP BY risk_category`)
	if err != nil {
		return model.Overview{}, classify("overview", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return model.Overview{}, classify("overview", err)
		}
		o.RiskDistribution[model.RiskCategory(category)] = n
	}
	if err := rows.Err(); err != nil {
		return model.Overview{}, classify("overview", err)
	}
	return o, nil
}

func (s *PostgresStore) PredictionsWithOutcomes(ctx context.Context) ([]model.PredictionOutcome, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+predictionCols+`, v.recorded_at
		FROM predictions p
		JOIN vitals_records v ON v.id = p.vitals_id
		ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, classify("predictions_with_outcomes", err)
	}
	defer rows.Close()

	out := []model.PredictionOutcome{}
	for rows.Next() {
		var (
			p          predictionRow
			factors    pq.StringArray
			recordedAt time.Time
		)
		if err := rows.Scan(append(p.dest(&factors), &recordedAt)...); err != nil {
			return nil, classify("predictions_with_outcomes", err)
		}
		pred := p.prediction(factors)
		out = append(out, model.PredictionOutcome{
			Prediction:    pred,
			RecordedAt:    recordedAt.UTC(),
			ActualOutcome: pred.ActualOutcome,
		})
	}
	return out, classify("predictions_with_outcomes", rows.Err())
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (model.Prediction, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+predictionCols+` FROM predictions p WHERE p.id = $1`, id)
	p, err := scanPrediction(row)
	if err != nil {
		return model.Prediction{}, classify("get_prediction", err)
	}
	return p, nil
}

func (s *PostgresStore) SetOutcome(ctx context.Context, id string, outcome model.Outcome, at time.Time) (saved model.Prediction, err error) {
	defer func(start time.Time) { observe("set_outcome", start, err) }(time.Now())
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`UPDATE predictions AS p
		SET actual_outcome = $2, outcome_recorded_at = $3
		WHERE p.id = $1 AND p.actual_outcome IS NULL
		RETURNING `+predictionCols,
		id, int(outcome), at.UTC())
	saved, err = scanPrediction(row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Prediction{}, classify("set_outcome", err)
	}

	// Nothing updated: either the prediction is unknown or already resolved.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM predictions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return model.Prediction{}, classify("set_outcome", err)
	}
	if !exists {
		return model.Prediction{}, fmt.Errorf("%w: prediction %s", ErrNotFound, id)
	}
	return model.Prediction{}, fmt.Errorf("%w: prediction %s", ErrAlreadySet, id)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPatient(row rowScanner) (model.Patient, error) {
	var (
		p          model.Patient
		age        sql.NullInt64
		dob        sql.NullTime
		conditions pq.StringArray
	)
	if err := row.Scan(&p.ID, &p.Name, &age, &dob, &p.Gender, &p.BloodType, &conditions, &p.CreatedAt); err != nil {
		return model.Patient{}, err
	}
	if age.Valid {
		a := int(age.Int64)
		p.Age = &a
	}
	if dob.Valid {
		d := dob.Time.UTC()
		p.DateOfBirth = &d
	}
	p.Conditions = append([]string{}, conditions...)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanPrediction(row rowScanner) (model.Prediction, error) {
	var (
		p       predictionRow
		factors pq.StringArray
	)
	if err := row.Scan(p.dest(&factors)...); err != nil {
		return model.Prediction{}, err
	}
	return p.prediction(factors), nil
}

// predictionRow holds the nullable columns of a predictions row.
type predictionRow struct {
	pred       model.Prediction
	category   string
	outcome    sql.NullInt64
	resolvedAt sql.NullTime
}

func (r *predictionRow) dest(factors *pq.StringArray) []any {
	return []any{
		&r.pred.ID, &r.pred.VitalsID, &r.pred.PatientID, &r.pred.RiskScore, &r.category,
		factors, &r.pred.CreatedAt, &r.outcome, &r.resolvedAt,
	}
}

func (r *predictionRow) prediction(factors pq.StringArray) model.Prediction {
	p := r.pred
	p.RiskCategory = model.RiskCategory(r.category)
	p.Factors = append([]string{}, factors...)
	p.CreatedAt = p.CreatedAt.UTC()
	if r.outcome.Valid {
		o := model.Outcome(r.outcome.Int64)
		p.ActualOutcome = &o
	}
	if r.resolvedAt.Valid {
		t := r.resolvedAt.Time.UTC()
		p.OutcomeRecordedAt = &t
	}
	return p
}

// vitalsRow holds the nullable columns of a vitals_records row.
type vitalsRow struct {
	rec               model.VitalsRecord
	eventID, deviceID sql.NullString

	hr, sys, dia, temp, spo2, resp, activity sql.NullFloat64
}

func (r *vitalsRow) dest() []any {
	return []any{
		&r.rec.ID, &r.eventID, &r.rec.PatientID, &r.deviceID, &r.rec.RecordedAt, &r.rec.IngestedAt,
		&r.hr, &r.sys, &r.dia, &r.temp, &r.spo2, &r.resp, &r.activity,
	}
}

func (r *vitalsRow) record() model.VitalsRecord {
	v := r.rec
	v.EventID = r.eventID.String
	v.DeviceID = r.deviceID.String
	v.RecordedAt = v.RecordedAt.UTC()
	v.IngestedAt = v.IngestedAt.UTC()
	v.HeartRate = floatPtr(r.hr)
	v.Systolic = floatPtr(r.sys)
	v.Diastolic = floatPtr(r.dia)
	v.Temperature = floatPtr(r.temp)
	v.SpO2 = floatPtr(r.spo2)
	v.RespiratoryRate = floatPtr(r.resp)
	v.ActivityLevel = floatPtr(r.activity)
	return v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func payloadOf(rec model.VitalsRecord) string {
	if len(rec.Payload) == 0 {
		return "{}"
	}
	return string(rec.Payload)
}
