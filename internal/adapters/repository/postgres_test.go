package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/logger"
)

var predictionColumns = []string{
	"id", "vitals_id", "patient_id", "risk_score", "risk_category", "factors", "created_at", "actual_outcome", "outcome_recorded_at",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	require.NoError(t, logger.Init())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := NewPostgresStore(db, WithTimeout(time.Second))
	return db, mock, store
}

func sampleReading() (model.VitalsRecord, model.Prediction) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := model.VitalsRecord{
		ID:         "4b0c6f0e-1111-4c1e-9a57-000000000001",
		EventID:    "evt-1",
		PatientID:  "PAT001",
		RecordedAt: now,
		IngestedAt: now,
		HeartRate:  model.Float(160),
		SpO2:       model.Float(85),
		Payload:    []byte(`{"patient_id":"PAT001"}`),
	}
	pred := model.Prediction{
		ID:           "4b0c6f0e-2222-4c1e-9a57-000000000001",
		VitalsID:     rec.ID,
		PatientID:    rec.PatientID,
		RiskScore:    0.65,
		RiskCategory: model.RiskMedium,
		Factors:      []string{"Severe tachycardia (heart rate 160 bpm)", "Critically low oxygen saturation (85%)"},
		CreatedAt:    now,
	}
	return rec, pred
}

func TestSaveReading_Success(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	rec, pred := sampleReading()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals_records`).
		WithArgs(rec.ID, "evt-1", "PAT001", nil, rec.RecordedAt, rec.IngestedAt,
			160.0, nil, nil, nil, 85.0, nil, nil, string(rec.Payload)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(rec.ID))
	mock.ExpectExec(`INSERT INTO predictions`).
		WithArgs(pred.ID, rec.ID, "PAT001", 0.65, "Medium", sqlmock.AnyArg(), pred.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	saved, existing, err := store.SaveReading(context.Background(), rec, pred)

	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, pred.ID, saved.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReading_PredictionFailureRollsBack(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	rec, pred := sampleReading()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(rec.ID))
	mock.ExpectExec(`INSERT INTO predictions`).
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	_, _, err := store.SaveReading(context.Background(), rec, pred)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReading_UnknownPatient(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	rec, pred := sampleReading()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals_records`).
		WillReturnError(&pq.Error{Code: pgForeignKeyViolation, Message: "violates foreign key constraint"})
	mock.ExpectRollback()

	_, _, err := store.SaveReading(context.Background(), rec, pred)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReading_DuplicateEvent(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	rec, pred := sampleReading()
	earlier := rec.RecordedAt.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`WHERE v.event_id = \$1`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows(predictionColumns).
			AddRow("pred-original", "vitals-original", "PAT001", 0.65, "Medium", "{\"Low heart rate (45 bpm)\"}", earlier, nil, nil))
	mock.ExpectRollback()

	saved, existing, err := store.SaveReading(context.Background(), rec, pred)

	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, "pred-original", saved.ID)
	assert.Equal(t, []string{"Low heart rate (45 bpm)"}, saved.Factors)
	assert.Nil(t, saved.ActualOutcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReading_EventOwnedByOtherPatient(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	rec, pred := sampleReading()
	rec.PatientID, pred.PatientID = "PAT002", "PAT002"

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO vitals_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`WHERE v.event_id = \$1`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows(predictionColumns).
			AddRow("pred-original", "vitals-original", "PAT001", 0.65, "Medium", "{}", rec.RecordedAt, nil, nil))
	mock.ExpectRollback()

	_, existing, err := store.SaveReading(context.Background(), rec, pred)

	assert.ErrorIs(t, err, ErrEventConflict)
	assert.False(t, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetOutcome(t *testing.T) {
	at := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("first write succeeds", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`UPDATE predictions AS p`).
			WithArgs("pred-1", 1, at).
			WillReturnRows(sqlmock.NewRows(predictionColumns).
				AddRow("pred-1", "vitals-1", "PAT001", 0.8, "High", "{}", at.Add(-time.Hour), int64(1), at))

		saved, err := store.SetOutcome(context.Background(), "pred-1", model.OutcomeDeteriorated, at)

		require.NoError(t, err)
		require.NotNil(t, saved.ActualOutcome)
		assert.Equal(t, model.OutcomeDeteriorated, *saved.ActualOutcome)
		assert.Equal(t, at, *saved.OutcomeRecordedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second write is rejected", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`UPDATE predictions AS p`).
			WillReturnRows(sqlmock.NewRows(predictionColumns))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("pred-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := store.SetOutcome(context.Background(), "pred-1", model.OutcomeStable, at)

		assert.ErrorIs(t, err, ErrAlreadySet)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown prediction", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`UPDATE predictions AS p`).
			WillReturnRows(sqlmock.NewRows(predictionColumns))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := store.SetOutcome(context.Background(), "missing", model.OutcomeStable, at)

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`UPDATE predictions AS p`).
			WillReturnError(&pq.Error{Code: pgInvalidText, Message: "invalid input syntax for type uuid"})

		_, err := store.SetOutcome(context.Background(), "not-a-uuid", model.OutcomeStable, at)

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOverview(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT\s+\(SELECT COUNT\(\*\) FROM patients\)`).
		WillReturnRows(sqlmock.NewRows([]string{"patients", "readings", "predictions", "last"}).AddRow(2, 5, 5, last))
	mock.ExpectQuery(`GROUP BY risk_category`).
		WillReturnRows(sqlmock.NewRows([]string{"risk_category", "count"}).
			AddRow("High", 3).
			AddRow("Low", 2))
	mock.ExpectRollback()

	o, err := store.Overview(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, o.TotalPatients)
	assert.Equal(t, 5, o.TotalReadings)
	assert.Equal(t, 5, o.TotalPredictions)
	assert.Equal(t, map[model.RiskCategory]int{model.RiskLow: 2, model.RiskMedium: 0, model.RiskHigh: 3}, o.RiskDistribution)
	assert.Equal(t, last, o.LastUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatients(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	patientColumns := []string{"patient_id", "name", "age", "date_of_birth", "gender", "blood_type", "medical_conditions", "created_at"}

	t.Run("create duplicate", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec(`INSERT INTO patients`).
			WithArgs("PAT001", "John Smith", 72, nil, "M", "A+", sqlmock.AnyArg(), created).
			WillReturnError(&pq.Error{Code: pgUniqueViolation, Message: "duplicate key value"})

		age := 72
		err := store.CreatePatient(context.Background(), model.Patient{
			ID: "PAT001", Name: "John Smith", Age: &age, Gender: "M", BloodType: "A+",
			Conditions: []string{"hypertension"}, CreatedAt: created,
		})

		assert.ErrorIs(t, err, ErrDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get existing", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT patient_id, name`).
			WithArgs("PAT001").
			WillReturnRows(sqlmock.NewRows(patientColumns).
				AddRow("PAT001", "John Smith", int64(72), nil, "M", "A+", "{hypertension,heart_disease}", created))

		p, err := store.GetPatient(context.Background(), "PAT001")

		require.NoError(t, err)
		require.NotNil(t, p.Age)
		assert.Equal(t, 72, *p.Age)
		assert.Nil(t, p.DateOfBirth)
		assert.Equal(t, []string{"hypertension", "heart_disease"}, p.Conditions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get missing", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT patient_id, name`).
			WillReturnRows(sqlmock.NewRows(patientColumns))

		_, err := store.GetPatient(context.Background(), "PAT404")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPatientHistory(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cols := append([]string{
		"id", "event_id", "patient_id", "device_id", "recorded_at", "ingested_at",
		"heart_rate", "systolic", "diastolic", "temperature", "spo2", "respiratory_rate", "activity_level",
	}, predictionColumns...)
	mock.ExpectQuery(`FROM vitals_records v`).
		WithArgs("PAT001", 10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"vitals-1", nil, "PAT001", "watch-1", at, at,
			72.0, 120.0, 80.0, nil, 98.0, nil, nil,
			"pred-1", "vitals-1", "PAT001", 0.0, "Low", "{}", at, nil, nil,
		))

	entries, err := store.PatientHistory(context.Background(), "PAT001", 10)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "watch-1", entries[0].Vitals.DeviceID)
	assert.Empty(t, entries[0].Vitals.EventID)
	assert.Nil(t, entries[0].Vitals.Temperature)
	assert.Equal(t, 72.0, *entries[0].Vitals.HeartRate)
	assert.Equal(t, model.RiskLow, entries[0].Prediction.RiskCategory)
	assert.Empty(t, entries[0].Prediction.Factors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS patients`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
