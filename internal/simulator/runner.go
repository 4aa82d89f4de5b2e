package simulator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/logger"
)

// ErrNoPatients is returned when no patient could be registered.
var ErrNoPatients = errors.New("no patients registered")

// normalize fills unset fields with defaults.
func (c *Config) normalize() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.NumPatients <= 0 {
		c.NumPatients = DefaultNumPatients
	}
	if c.Readings <= 0 {
		c.Readings = DefaultReadings
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.Seed == 0 {
		c.Seed = uint64(time.Now().UnixNano())
	}
}

// Run executes a full simulation: readiness check, patient registration,
// reading rounds, the optional crisis burst and the final report.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	config.normalize()
	stats := newStats()
	log := logger.Get().Named("simulator")

	log.Info(ctx, "starting vitals simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("patients", config.NumPatients),
		logger.Int("readings", config.Readings),
		logger.Duration("interval", config.Interval),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.Bool("crisis", config.Crisis))

	client := NewClient(config)
	gen := NewGenerator(config.Seed)

	// Step 1: Check service readiness
	if err := client.Ready(ctx); err != nil {
		return stats, fmt.Errorf("service readiness check failed: %w", err)
	}

	// Step 2: Register patients
	patients := registerPatients(ctx, client, gen.Patients(config.NumPatients), stats)
	if len(patients) == 0 {
		return stats, ErrNoPatients
	}

	// Step 3: Stream readings round by round
	s := newSubmitter(ctx, client, config, stats)
	for round := 0; round < config.Readings; round++ {
		if round > 0 && config.Interval > 0 {
			select {
			case <-ctx.Done():
				s.wait()
				return stats, fmt.Errorf("simulation interrupted: %w", ctx.Err())
			case <-time.After(config.Interval):
			}
		}
		for _, p := range patients {
			s.submit(ctx, gen.Reading(p))
		}
		log.Debug(ctx, "round dispatched", logger.Int("round", round+1))
	}

	// Step 4: Crisis burst, ending with a device retry of its first reading
	if config.Crisis {
		target := patients[0]
		log.Info(ctx, "sending crisis burst", logger.String("patientID", target.ID()))
		var first model.VitalsInput
		for i := 0; i < crisisBurstSize; i++ {
			r := gen.Crisis(target)
			if i == 0 {
				first = r
			}
			s.submit(ctx, r)
		}
		s.submit(ctx, first)
		stats.CrisisReadings = crisisBurstSize + 1
	}

	s.wait()
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("simulation interrupted: %w", err)
	}

	// Step 5: Report
	if ov, err := client.Overview(ctx); err != nil {
		log.Warn(ctx, "failed to fetch overview", logger.Error(err))
	} else {
		stats.Overview = ov
	}
	if sum, err := client.Accuracy(ctx); err != nil {
		log.Warn(ctx, "failed to fetch accuracy summary", logger.Error(err))
	} else {
		log.Info(ctx, "prediction accuracy",
			logger.Int("resolved", sum.Resolved),
			logger.Int("pending", sum.Pending),
			logger.Float64("accuracy", sum.AccuracyPercent))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	log.Info(ctx, "simulation completed")
	return stats, nil
}

// registerPatients registers every patient and returns those usable for
// readings.
func registerPatients(ctx context.Context, client *Client, patients []*Patient, stats *Stats) []*Patient {
	log := logger.Get().Named("simulator")
	ready := make([]*Patient, 0, len(patients))
	for _, p := range patients {
		existing, err := client.RegisterPatient(ctx, p.Input)
		switch {
		case err != nil:
			stats.PatientsFailed++
			log.Warn(ctx, "failed to register patient", logger.String("patientID", p.ID()), logger.Error(err))
			continue
		case existing:
			stats.PatientsExisting++
		default:
			stats.PatientsRegistered++
		}
		log.Info(ctx, "patient ready",
			logger.String("patientID", p.ID()),
			logger.String("profile", string(p.Profile)),
			logger.Any("conditions", p.Input.Conditions),
			logger.Bool("existing", existing))
		ready = append(ready, p)
	}
	return ready
}

// submitter fans readings out to a fixed set of workers.
type submitter struct {
	jobs    chan model.VitalsInput
	wg      sync.WaitGroup
	mu      sync.Mutex
	stats   *Stats
	verbose bool
}

func newSubmitter(ctx context.Context, client *Client, config *Config, stats *Stats) *submitter {
	s := &submitter{
		jobs:    make(chan model.VitalsInput, config.Workers*WorkerChannelMultiplier),
		stats:   stats,
		verbose: config.Verbose,
	}
	for i := 0; i < config.Workers; i++ {
		s.wg.Add(1)
		go s.work(ctx, client, i)
	}
	return s
}

// submit queues a reading; it blocks while every worker is busy.
func (s *submitter) submit(ctx context.Context, r model.VitalsInput) {
	s.mu.Lock()
	s.stats.ReadingsGenerated++
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case s.jobs <- r:
	}
}

// wait closes the queue and waits for in-flight submissions.
func (s *submitter) wait() {
	close(s.jobs)
	s.wg.Wait()
}

func (s *submitter) work(ctx context.Context, client *Client, workerID int) {
	defer s.wg.Done()
	log := logger.Get().Named("simulator").With(logger.Int("worker", workerID))

	for r := range s.jobs {
		if ctx.Err() != nil {
			continue
		}
		res, ack, err := client.SubmitReading(ctx, r)

		s.mu.Lock()
		s.stats.ReadingsSubmitted++
		switch res {
		case resultAccepted:
			s.stats.ReadingsAccepted++
			s.stats.RiskLevels[ack.RiskLevel]++
		case resultDuplicate:
			s.stats.ReadingsDuplicate++
		default:
			s.stats.ReadingsFailed++
		}
		s.mu.Unlock()

		switch {
		case err != nil:
			log.Warn(ctx, "reading rejected", logger.String("patientID", r.PatientID), logger.Error(err))
		case s.verbose:
			log.Info(ctx, "reading submitted",
				logger.String("patientID", r.PatientID),
				logger.String("eventID", r.EventID),
				logger.Float64("heartRate", *r.HeartRate),
				logger.Float64("spo2", *r.SpO2),
				logger.String("riskLevel", string(ack.RiskLevel)),
				logger.Float64("riskScore", ack.RiskScore),
				logger.Bool("duplicate", ack.Duplicate))
		}
	}
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, readingsPerSecond float64

	if stats.ReadingsSubmitted > 0 {
		ok := stats.ReadingsAccepted + stats.ReadingsDuplicate
		successRate = float64(ok) / float64(stats.ReadingsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		readingsPerSecond = float64(stats.ReadingsSubmitted) / stats.Duration.Seconds()
	}

	fields := []logger.Field{
		logger.Int("patientsRegistered", stats.PatientsRegistered),
		logger.Int("patientsExisting", stats.PatientsExisting),
		logger.Int("patientsFailed", stats.PatientsFailed),
		logger.Int("readingsGenerated", stats.ReadingsGenerated),
		logger.Int("readingsSubmitted", stats.ReadingsSubmitted),
		logger.Int("readingsAccepted", stats.ReadingsAccepted),
		logger.Int("readingsDuplicate", stats.ReadingsDuplicate),
		logger.Int("readingsFailed", stats.ReadingsFailed),
		logger.Int("highRisk", stats.RiskLevels[model.RiskHigh]),
		logger.Int("mediumRisk", stats.RiskLevels[model.RiskMedium]),
		logger.Int("lowRisk", stats.RiskLevels[model.RiskLow]),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("readingsPerSecond", readingsPerSecond),
	}
	if stats.Overview != nil {
		fields = append(fields,
			logger.Int("totalPatients", stats.Overview.TotalPatients),
			logger.Int("totalReadings", stats.Overview.TotalReadings),
			logger.Int("totalPredictions", stats.Overview.TotalPredictions))
	}
	logger.Get().Info(ctx, "final statistics", fields...)
}
