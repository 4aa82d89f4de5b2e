// Package service provides the ingestion coordinator and outcome tracker
// behind the HTTP API.
package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/vitalrisk/internal/adapters/mq/queue"
	workerpool "github.com/okian/vitalrisk/internal/adapters/mq/worker"
	repository "github.com/okian/vitalrisk/internal/adapters/repository"
	"github.com/okian/vitalrisk/internal/domain/dedupe"
	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/internal/domain/scoring"
	"github.com/okian/vitalrisk/pkg/logger"
	"github.com/okian/vitalrisk/pkg/metrics"
)

// Default service configuration constants.
const (
	DefaultHistoryLimit     = 100
	defaultMaxHistoryLimit  = 1000
	defaultQueueSize        = 10000
	defaultDedupeSize       = 100000
	defaultStoreTimeout     = 2 * time.Second
	defaultShutdownDeadline = 10 * time.Second
)

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("service not started")

// ErrStopped is returned by Start once Stop has closed the store.
var ErrStopped = errors.New("service stopped")

// Service implements the API dependencies for the risk service.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	scorer    scoring.Scorer
	deduper   dedupe.Deduper
	publisher workerpool.Publisher
	queue     eventqueue.Queue
	pool      *workerpool.Pool

	// Configuration
	workerCount     int
	queueSize       int
	dedupeSize      int
	maxHistoryLimit int
	storeTimeout    time.Duration

	now   func() time.Time
	newID func() string

	// State
	started bool
	stopped bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. A memory store is used when unset.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithScorer replaces the default rule scorer.
func WithScorer(scorer scoring.Scorer) Option {
	return func(s *Service) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// WithDeduper replaces the default in-memory event id cache.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) {
		if d != nil {
			s.deduper = d
		}
	}
}

// WithPublisher enables the prediction feed.
func WithPublisher(p workerpool.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithWorkerCount sets the number of feed workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the feed queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the event id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxHistoryLimit caps the number of history entries returned per call.
func WithMaxHistoryLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxHistoryLimit = limit
		}
	}
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how record and prediction ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:       defaultQueueSize,
		dedupeSize:      defaultDedupeSize,
		maxHistoryLimit: defaultMaxHistoryLimit,
		storeTimeout:    defaultStoreTimeout,
		now:             time.Now,
		newID:           uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes the components that were not injected and starts the
// feed workers when a publisher is configured. A stopped service cannot be
// started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting risk service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using memory store")
	}
	if s.scorer == nil {
		s.scorer = scoring.NewRuleScorer()
	}
	if s.deduper == nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	}

	if s.publisher != nil {
		q := eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
		s.queue = q
		s.pool = workerpool.NewPool(s.workerCount, q, s.publisher)
		s.pool.Start(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "risk service started",
		logger.Bool("feed", s.pool != nil),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)

	return nil
}

// Stop drains the feed and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
	defer cancel()

	s.logger.Info(ctx, "stopping risk service...")

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "feed shutdown incomplete", logger.Error(err))
		}
		s.pool = nil
		s.queue = nil
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "risk service stopped")
}

// components is a consistent view of the collaborators for one call.
type components struct {
	store   repository.Store
	scorer  scoring.Scorer
	deduper dedupe.Deduper
	queue   eventqueue.Queue
}

func (s *Service) ready(op string) (components, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return components{}, model.NewError(op, model.ErrStoreUnavailable, "%v", ErrNotStarted)
	}
	return components{store: s.store, scorer: s.scorer, deduper: s.deduper, queue: s.queue}, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Ingest validates, scores and persists one reading. A reading whose
// event_id was already ingested returns the original prediction.
func (s *Service) Ingest(ctx context.Context, in model.VitalsInput) (model.IngestResult, error) {
	const op = "service.ingest"
	c, err := s.ready(op)
	if err != nil {
		return model.IngestResult{}, err
	}

	now := s.now().UTC()
	rec, err := in.Build(s.newID(), now)
	if err != nil {
		metrics.RecordIngestFailure("invalid_input")
		return model.IngestResult{}, err
	}

	patient, err := s.getPatient(ctx, c.store, op, rec.PatientID)
	if err != nil {
		metrics.RecordIngestFailure(kindLabel(err))
		return model.IngestResult{}, err
	}

	claimed := false
	if rec.EventID != "" {
		predictionID, seen := c.deduper.SeenAndRecord(ctx, rec.EventID)
		if seen && predictionID != "" {
			sctx, cancel := s.storeCtx(ctx)
			pred, err := c.store.GetPrediction(sctx, predictionID)
			cancel()
			if err == nil && pred.PatientID != rec.PatientID {
				metrics.RecordIngestFailure("invalid_input")
				return model.IngestResult{}, model.NewError(op, model.ErrInvalidInput,
					"%v: %s", repository.ErrEventConflict, rec.EventID)
			}
			if err == nil {
				metrics.RecordReadingDuplicate()
				return model.IngestResult{Prediction: pred, RecordedAt: rec.RecordedAt, Duplicate: true}, nil
			}
			s.logger.Warn(ctx, "cached prediction lookup failed",
				logger.String("event_id", rec.EventID),
				logger.Error(err),
			)
		}
		claimed = !seen
	}

	scoreStart := time.Now()
	result, err := c.scorer.Score(rec, patient.Context(rec.RecordedAt))
	metrics.RecordScoringLatency(float64(time.Since(scoreStart).Microseconds()) / 1000)
	if err != nil {
		if claimed {
			c.deduper.Unrecord(ctx, rec.EventID)
		}
		metrics.RecordIngestFailure(kindLabel(err))
		return model.IngestResult{}, err
	}

	pred := model.Prediction{
		ID:           s.newID(),
		VitalsID:     rec.ID,
		PatientID:    rec.PatientID,
		RiskScore:    result.Score,
		RiskCategory: result.Category,
		Factors:      result.Factors,
		CreatedAt:    now,
	}

	sctx, cancel := s.storeCtx(ctx)
	saved, existing, err := c.store.SaveReading(sctx, rec, pred)
	cancel()
	if err != nil {
		if claimed {
			c.deduper.Unrecord(ctx, rec.EventID)
		}
		err = storeError(op, err)
		metrics.RecordIngestFailure(kindLabel(err))
		s.logger.Error(ctx, "reading not saved",
			logger.String("patient_id", rec.PatientID),
			logger.String("event_id", rec.EventID),
			logger.Error(err),
		)
		return model.IngestResult{}, err
	}
	if rec.EventID != "" {
		c.deduper.Complete(ctx, rec.EventID, saved.ID)
	}

	if existing {
		metrics.RecordReadingDuplicate()
		return model.IngestResult{Prediction: saved, RecordedAt: rec.RecordedAt, Duplicate: true}, nil
	}

	metrics.RecordReadingIngested()
	metrics.RecordPrediction(string(saved.RiskCategory), saved.RiskScore)

	if c.queue != nil {
		if err := c.queue.Enqueue(ctx, model.EventFor(saved, rec.RecordedAt)); err != nil {
			s.logger.Debug(ctx, "prediction event dropped",
				logger.String("prediction_id", saved.ID),
				logger.Error(err),
			)
		}
	}

	s.logger.Debug(ctx, "reading ingested",
		logger.String("patient_id", rec.PatientID),
		logger.String("prediction_id", saved.ID),
		logger.Float64("risk_score", saved.RiskScore),
		logger.String("risk_level", string(saved.RiskCategory)),
	)

	return model.IngestResult{Prediction: saved, RecordedAt: rec.RecordedAt}, nil
}

// RegisterPatient validates and stores a new patient.
func (s *Service) RegisterPatient(ctx context.Context, in model.PatientInput) (model.Patient, error) {
	const op = "service.register_patient"
	c, err := s.ready(op)
	if err != nil {
		return model.Patient{}, err
	}

	p, err := in.Build(s.newID(), s.now())
	if err != nil {
		return model.Patient{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := c.store.CreatePatient(sctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Patient{}, model.NewError(op, model.ErrInvalidInput, "patient %s already exists", p.ID)
		}
		return model.Patient{}, storeError(op, err)
	}

	s.logger.Info(ctx, "patient registered", logger.String("patient_id", p.ID))
	return p, nil
}

// ListPatients returns every registered patient.
func (s *Service) ListPatients(ctx context.Context) ([]model.Patient, error) {
	const op = "service.list_patients"
	c, err := s.ready(op)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	patients, err := c.store.ListPatients(sctx)
	if err != nil {
		return nil, storeError(op, err)
	}
	metrics.UpdateTotalPatients(len(patients))
	return patients, nil
}

// GetPatient returns one patient.
func (s *Service) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	const op = "service.get_patient"
	c, err := s.ready(op)
	if err != nil {
		return model.Patient{}, err
	}
	return s.getPatient(ctx, c.store, op, id)
}

func (s *Service) getPatient(ctx context.Context, store repository.Store, op, id string) (model.Patient, error) {
	if id == "" {
		return model.Patient{}, model.NewError(op, model.ErrInvalidInput, "missing patient_id")
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := store.GetPatient(sctx, id)
	if err != nil {
		return model.Patient{}, storeError(op, err)
	}
	return p, nil
}

// UpdateConditions replaces a patient's medical conditions.
func (s *Service) UpdateConditions(ctx context.Context, id string, conditions []string) (model.Patient, error) {
	const op = "service.update_conditions"
	c, err := s.ready(op)
	if err != nil {
		return model.Patient{}, err
	}
	if id == "" {
		return model.Patient{}, model.NewError(op, model.ErrInvalidInput, "missing patient_id")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := c.store.UpdatePatientConditions(sctx, id, model.NormalizeConditions(conditions))
	if err != nil {
		return model.Patient{}, storeError(op, err)
	}
	return p, nil
}

// GetPatientHistory returns a patient's readings with their predictions, most
// recent first. A non-positive limit uses DefaultHistoryLimit.
func (s *Service) GetPatientHistory(ctx context.Context, patientID string, limit int) ([]model.HistoryEntry, error) {
	const op = "service.patient_history"
	c, err := s.ready(op)
	if err != nil {
		return nil, err
	}
	if _, err := s.getPatient(ctx, c.store, op, patientID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > s.maxHistoryLimit {
		limit = s.maxHistoryLimit
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	history, err := c.store.PatientHistory(sctx, patientID, limit)
	if err != nil {
		return nil, storeError(op, err)
	}
	return history, nil
}

// GetOverview returns dashboard totals and the risk histogram.
func (s *Service) GetOverview(ctx context.Context) (model.Overview, error) {
	const op = "service.overview"
	c, err := s.ready(op)
	if err != nil {
		return model.Overview{}, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ov, err := c.store.Overview(sctx)
	if err != nil {
		return model.Overview{}, storeError(op, err)
	}
	if ov.LastUpdated.IsZero() {
		ov.LastUpdated = s.now().UTC()
	}
	metrics.UpdateTotalPatients(ov.TotalPatients)
	return ov, nil
}

// GetPredictionsVsActual lists every prediction with its outcome, newest first.
func (s *Service) GetPredictionsVsActual(ctx context.Context) ([]model.PredictionOutcome, error) {
	const op = "service.predictions_vs_actual"
	c, err := s.ready(op)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := c.store.PredictionsWithOutcomes(sctx)
	if err != nil {
		return nil, storeError(op, err)
	}
	return out, nil
}

// GetPrediction returns one prediction.
func (s *Service) GetPrediction(ctx context.Context, id string) (model.Prediction, error) {
	const op = "service.get_prediction"
	c, err := s.ready(op)
	if err != nil {
		return model.Prediction{}, err
	}
	if id == "" {
		return model.Prediction{}, model.NewError(op, model.ErrInvalidInput, "missing prediction_id")
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := c.store.GetPrediction(sctx, id)
	if err != nil {
		return model.Prediction{}, storeError(op, err)
	}
	return p, nil
}

// RecordOutcome attaches the observed outcome to a prediction. An outcome can
// be recorded once.
func (s *Service) RecordOutcome(ctx context.Context, predictionID string, outcome model.Outcome) (model.Prediction, error) {
	const op = "service.record_outcome"
	c, err := s.ready(op)
	if err != nil {
		return model.Prediction{}, err
	}
	if predictionID == "" {
		return model.Prediction{}, model.NewError(op, model.ErrInvalidInput, "missing prediction_id")
	}
	if !outcome.Valid() {
		return model.Prediction{}, model.NewError(op, model.ErrInvalidInput, "actual_outcome must be 0 or 1, got %d", int(outcome))
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := c.store.SetOutcome(sctx, predictionID, outcome, s.now().UTC())
	if err != nil {
		return model.Prediction{}, storeError(op, err)
	}

	metrics.RecordOutcome(strconv.Itoa(int(outcome)))
	s.logger.Info(ctx, "outcome recorded",
		logger.String("prediction_id", predictionID),
		logger.Int("actual_outcome", int(outcome)),
	)
	return p, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	const op = "service.ping"
	c, err := s.ready(op)
	if err != nil {
		return err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := c.store.Ping(sctx); err != nil {
		return storeError(op, err)
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":         s.started,
		"feedEnabled":     s.publisher != nil,
		"queueSize":       s.queueSize,
		"dedupeSize":      s.dedupeSize,
		"maxHistoryLimit": s.maxHistoryLimit,
	}

	if s.started {
		stats["dedupeEntries"] = s.deduper.Size()
		if s.queue != nil {
			stats["queueLength"] = s.queue.Len(context.Background())
		}
		if s.pool != nil {
			stats["workerCount"] = s.pool.Size()
		}
	}

	return stats
}

// storeError maps a store failure onto a model error kind.
func storeError(op string, err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return model.NewError(op, model.ErrNotFound, "%v", err)
	case errors.Is(err, repository.ErrAlreadySet):
		return model.NewError(op, model.ErrAlreadySet, "%v", err)
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, repository.ErrEventConflict):
		return model.NewError(op, model.ErrInvalidInput, "%v", err)
	default:
		return model.NewError(op, model.ErrStoreUnavailable, "%v", err)
	}
}

func kindLabel(err error) string {
	switch model.KindOf(err) {
	case model.ErrInvalidInput:
		return "invalid_input"
	case model.ErrNotFound:
		return "not_found"
	case model.ErrAlreadySet:
		return "already_set"
	default:
		return "store_unavailable"
	}
}
