package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/vitalrisk/internal/domain/model"
)

// Write steps a failure injector can interrupt.
const (
	StepCreatePatient    = "create_patient"
	StepUpdatePatient    = "update_patient"
	StepInsertVitals     = "insert_vitals"
	StepInsertPrediction = "insert_prediction"
	StepSetOutcome       = "set_outcome"
	StepRead             = "read"
)

// FailureInjector is consulted before each step; a non-nil error aborts the
// call as if the transaction had failed.
type FailureInjector func(step string) error

// MemoryStore is an in-process Store. A single mutex makes every call one
// transaction; writes are staged and applied only after all steps succeed.
type MemoryStore struct {
	mu          sync.RWMutex
	patients    map[string]model.Patient
	vitals      map[string]model.VitalsRecord
	byEvent     map[string]string // event id -> vitals id
	predictions map[string]model.Prediction
	byVitals    map[string]string // vitals id -> prediction id
	byPatient   map[string][]string
	lastWrite   time.Time
	inject      FailureInjector
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		patients:    make(map[string]model.Patient),
		vitals:      make(map[string]model.VitalsRecord),
		byEvent:     make(map[string]string),
		predictions: make(map[string]model.Prediction),
		byVitals:    make(map[string]string),
		byPatient:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) step(name string) error {
	if s.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	if s.inject == nil {
		return nil
	}
	if err := s.inject(name); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}
	return nil
}

func (s *MemoryStore) CreatePatient(ctx context.Context, p model.Patient) (err error) {
	defer func(start time.Time) { observe("create_patient", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[p.ID]; ok {
		return fmt.Errorf("%w: patient %s", ErrDuplicate, p.ID)
	}
	if err := s.step(StepCreatePatient); err != nil {
		return err
	}
	s.patients[p.ID] = clonePatient(p)
	s.touch(p.CreatedAt)
	return nil
}

func (s *MemoryStore) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(ctx); err != nil {
		return model.Patient{}, err
	}
	p, ok := s.patients[id]
	if !ok {
		return model.Patient{}, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	return clonePatient(p), nil
}

func (s *MemoryStore) ListPatients(ctx context.Context) ([]model.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, clonePatient(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdatePatientConditions(ctx context.Context, id string, conditions []string) (model.Patient, error) {
	if err := ctx.Err(); err != nil {
		return model.Patient{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return model.Patient{}, fmt.Errorf("%w: patient %s", ErrNotFound, id)
	}
	if err := s.step(StepUpdatePatient); err != nil {
		return model.Patient{}, err
	}
	p.Conditions = append([]string(nil), conditions...)
	s.patients[id] = p
	s.touch(time.Now())
	return clonePatient(p), nil
}

func (s *MemoryStore) SaveReading(ctx context.Context, rec model.VitalsRecord, pred model.Prediction) (saved model.Prediction, existing bool, err error) {
	defer func(start time.Time) { observe("save_reading", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return model.Prediction{}, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.EventID != "" {
		if vid, ok := s.byEvent[rec.EventID]; ok {
			if owner := s.vitals[vid].PatientID; owner != rec.PatientID {
				return model.Prediction{}, false, fmt.Errorf("%w: %s", ErrEventConflict, rec.EventID)
			}
			return clonePrediction(s.predictions[s.byVitals[vid]]), true, nil
		}
	}
	if _, ok := s.patients[rec.PatientID]; !ok {
		return model.Prediction{}, false, fmt.Errorf("%w: patient %s", ErrNotFound, rec.PatientID)
	}
	if err := s.step(StepInsertVitals); err != nil {
		return model.Prediction{}, false, err
	}
	if err := s.step(StepInsertPrediction); err != nil {
		return model.Prediction{}, false, err
	}

	s.vitals[rec.ID] = rec
	if rec.EventID != "" {
		s.byEvent[rec.EventID] = rec.ID
	}
	s.predictions[pred.ID] = clonePrediction(pred)
	s.byVitals[rec.ID] = pred.ID
	s.byPatient[rec.PatientID] = append(s.byPatient[rec.PatientID], rec.ID)
	s.touch(pred.CreatedAt)
	return clonePrediction(pred), false, nil
}

func (s *MemoryStore) PatientHistory(ctx context.Context, patientID string, limit int) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	ids := s.byPatient[patientID]
	out := make([]model.HistoryEntry, 0, len(ids))
	for _, vid := range ids {
		out = append(out, model.HistoryEntry{
			Vitals:     s.vitals[vid],
			Prediction: clonePrediction(s.predictions[s.byVitals[vid]]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Vitals, out[j].Vitals
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.After(b.RecordedAt)
		}
		return a.IngestedAt.After(b.IngestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Overview(ctx context.Context) (model.Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(ctx); err != nil {
		return model.Overview{}, err
	}
	o := model.NewOverview()
	o.TotalPatients = len(s.patients)
	o.TotalReadings = len(s.vitals)
	o.TotalPredictions = len(s.predictions)
	for _, p := range s.predictions {
		o.RiskDistribution[p.RiskCategory]++
	}
	o.LastUpdated = s.lastWrite
	return o, nil
}

func (s *MemoryStore) PredictionsWithOutcomes(ctx context.Context) ([]model.PredictionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	out := make([]model.PredictionOutcome, 0, len(s.predictions))
	for _, p := range s.predictions {
		out = append(out, model.PredictionOutcome{
			Prediction:    clonePrediction(p),
			RecordedAt:    s.vitals[p.VitalsID].RecordedAt,
			ActualOutcome: copyOutcome(p.ActualOutcome),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Prediction, out[j].Prediction
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (s *MemoryStore) GetPrediction(ctx context.Context, id string) (model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.read(ctx); err != nil {
		return model.Prediction{}, err
	}
	p, ok := s.predictions[id]
	if !ok {
		return model.Prediction{}, fmt.Errorf("%w: prediction %s", ErrNotFound, id)
	}
	return clonePrediction(p), nil
}

func (s *MemoryStore) SetOutcome(ctx context.Context, id string, outcome model.Outcome, at time.Time) (saved model.Prediction, err error) {
	defer func(start time.Time) { observe("set_outcome", start, err) }(time.Now())
	if err := ctx.Err(); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[id]
	if !ok {
		return model.Prediction{}, fmt.Errorf("%w: prediction %s", ErrNotFound, id)
	}
	if p.ActualOutcome != nil {
		return model.Prediction{}, fmt.Errorf("%w: prediction %s", ErrAlreadySet, id)
	}
	if err := s.step(StepSetOutcome); err != nil {
		return model.Prediction{}, err
	}
	o := outcome
	recordedAt := at.UTC()
	p.ActualOutcome = &o
	p.OutcomeRecordedAt = &recordedAt
	s.predictions[id] = p
	s.touch(recordedAt)
	return clonePrediction(p), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx)
}

// Close marks the store closed; later calls fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// read must be called with s.mu held.
func (s *MemoryStore) read(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return s.step(StepRead)
}

// touch must be called with s.mu held for writing.
func (s *MemoryStore) touch(t time.Time) {
	if t.After(s.lastWrite) {
		s.lastWrite = t
	}
}

func clonePatient(p model.Patient) model.Patient {
	p.Conditions = append([]string{}, p.Conditions...)
	return p
}

func clonePrediction(p model.Prediction) model.Prediction {
	p.Factors = append([]string{}, p.Factors...)
	p.ActualOutcome = copyOutcome(p.ActualOutcome)
	if p.OutcomeRecordedAt != nil {
		t := *p.OutcomeRecordedAt
		p.OutcomeRecordedAt = &t
	}
	return p
}

func copyOutcome(o *model.Outcome) *model.Outcome {
	if o == nil {
		return nil
	}
	v := *o
	return &v
}
