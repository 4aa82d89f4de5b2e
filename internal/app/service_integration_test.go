package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	service "github.com/okian/vitalrisk/internal/app"
	"github.com/okian/vitalrisk/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// recordingPublisher captures feed events in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PredictionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e model.PredictionEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return fmt.Sprintf("%d-0", len(p.events)), nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func critical(patientID string) model.VitalsInput {
	return model.VitalsInput{
		PatientID:   patientID,
		HeartRate:   model.Float(160),
		SpO2:        model.Float(85),
		Systolic:    model.Float(190),
		Diastolic:   model.Float(110),
		Temperature: model.Float(103),
	}
}

func healthy(patientID string) model.VitalsInput {
	return model.VitalsInput{
		PatientID:   patientID,
		HeartRate:   model.Float(75),
		SpO2:        model.Float(98),
		Systolic:    model.Float(120),
		Diastolic:   model.Float(80),
		Temperature: model.Float(98.6),
	}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service with the feed enabled", t, func() {
		pub := &recordingPublisher{}
		svc := service.New(
			service.WithPublisher(pub),
			service.WithWorkerCount(2),
			service.WithQueueSize(100),
			service.WithDedupeSize(500),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		So(svc.GetStats()["workerCount"], ShouldEqual, 2)

		_, err := svc.RegisterPatient(ctx, model.PatientInput{
			ID: "PAT001", Name: "John Smith", Age: age(70), Conditions: []string{"hypertension"},
		})
		So(err, ShouldBeNil)
		_, err = svc.RegisterPatient(ctx, model.PatientInput{ID: "PAT002", Name: "Mary Jones", Age: age(40)})
		So(err, ShouldBeNil)

		Convey("When a critical reading arrives for a senior with hypertension", func() {
			res, err := svc.Ingest(ctx, critical("PAT001"))

			Convey("Then the prediction is High with every driver named", func() {
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeFalse)
				So(res.Prediction.RiskCategory, ShouldEqual, model.RiskHigh)
				So(res.Prediction.RiskScore, ShouldEqual, 1.0)
				So(res.Prediction.Factors, ShouldContain, "Severe tachycardia (heart rate 160 bpm)")
				So(res.Prediction.Factors, ShouldContain, "Critically low oxygen saturation (85%)")
				So(res.Prediction.Factors, ShouldContain, "Hypertensive crisis (190/110 mmHg)")
				So(res.Prediction.Factors, ShouldContain, "High fever (103°F)")
			})

			Convey("And it is published to the feed", func() {
				deadline := time.Now().Add(time.Second)
				for pub.count() == 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(pub.count(), ShouldEqual, 1)
			})
		})

		Convey("When a healthy adult's reading arrives", func() {
			res, err := svc.Ingest(ctx, healthy("PAT002"))

			Convey("Then the prediction is Low with no factors", func() {
				So(err, ShouldBeNil)
				So(res.Prediction.RiskScore, ShouldEqual, 0.0)
				So(res.Prediction.RiskCategory, ShouldEqual, model.RiskLow)
				So(res.Prediction.Factors, ShouldBeEmpty)
			})
		})

		Convey("When several readings are ingested for two patients", func() {
			for i := 0; i < 3; i++ {
				_, err := svc.Ingest(ctx, critical("PAT001"))
				So(err, ShouldBeNil)
			}
			for i := 0; i < 2; i++ {
				_, err := svc.Ingest(ctx, healthy("PAT002"))
				So(err, ShouldBeNil)
			}

			Convey("Then the overview counts every one of them", func() {
				ov, err := svc.GetOverview(ctx)
				So(err, ShouldBeNil)
				So(ov.TotalPatients, ShouldEqual, 2)
				So(ov.TotalReadings, ShouldEqual, 5)
				So(ov.TotalPredictions, ShouldEqual, 5)
				sum := 0
				for _, n := range ov.RiskDistribution {
					sum += n
				}
				So(sum, ShouldEqual, 5)
				So(ov.RiskDistribution[model.RiskHigh], ShouldEqual, 3)
				So(ov.RiskDistribution[model.RiskLow], ShouldEqual, 2)
				So(ov.RiskDistribution, ShouldContainKey, model.RiskMedium)
				So(ov.LastUpdated.IsZero(), ShouldBeFalse)
			})

			Convey("Then every prediction is listed against its outcome", func() {
				pairs, err := svc.GetPredictionsVsActual(ctx)
				So(err, ShouldBeNil)
				So(len(pairs), ShouldEqual, 5)
				for _, p := range pairs {
					So(p.ActualOutcome, ShouldBeNil)
				}
			})

			Convey("Then history is newest first and honors the limit", func() {
				all, err := svc.GetPatientHistory(ctx, "PAT001", 0)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 3)
				for i := 1; i < len(all); i++ {
					So(all[i-1].Vitals.RecordedAt.Before(all[i].Vitals.RecordedAt), ShouldBeFalse)
				}
				for _, h := range all {
					So(h.Prediction.VitalsID, ShouldEqual, h.Vitals.ID)
				}

				two, err := svc.GetPatientHistory(ctx, "PAT001", 2)
				So(err, ShouldBeNil)
				So(len(two), ShouldEqual, 2)
			})
		})

		Convey("When a reading references an unknown patient", func() {
			_, err := svc.Ingest(ctx, healthy("PAT404"))

			Convey("Then it is NotFound and nothing is written", func() {
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				ov, err := svc.GetOverview(ctx)
				So(err, ShouldBeNil)
				So(ov.TotalReadings, ShouldEqual, 0)
			})
		})

		Convey("When a reading is malformed", func() {
			bad := healthy("PAT001")
			bad.HeartRate = model.Float(-5)
			_, err := svc.Ingest(ctx, bad)

			Convey("Then it is InvalidInput and nothing is written", func() {
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				ov, err := svc.GetOverview(ctx)
				So(err, ShouldBeNil)
				So(ov.TotalPredictions, ShouldEqual, 0)
			})
		})

		Convey("When the same event id is submitted twice", func() {
			in := critical("PAT001")
			in.EventID = "evt-42"
			first, err := svc.Ingest(ctx, in)
			So(err, ShouldBeNil)
			second, err := svc.Ingest(ctx, in)
			So(err, ShouldBeNil)

			Convey("Then the second call returns the original prediction", func() {
				So(second.Duplicate, ShouldBeTrue)
				So(second.Prediction.ID, ShouldEqual, first.Prediction.ID)
				ov, err := svc.GetOverview(ctx)
				So(err, ShouldBeNil)
				So(ov.TotalPredictions, ShouldEqual, 1)
			})
		})

		Convey("When a second patient's reading reuses an ingested event id", func() {
			first := critical("PAT001")
			first.EventID = "evt-shared"
			orig, err := svc.Ingest(ctx, first)
			So(err, ShouldBeNil)

			second := healthy("PAT002")
			second.EventID = "evt-shared"
			res, err := svc.Ingest(ctx, second)

			Convey("Then it is InvalidInput and no prediction leaks across patients", func() {
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				So(res.Duplicate, ShouldBeFalse)
				So(res.Prediction.ID, ShouldBeEmpty)

				hist, err := svc.GetPatientHistory(ctx, "PAT002", 10)
				So(err, ShouldBeNil)
				So(hist, ShouldBeEmpty)

				again, err := svc.Ingest(ctx, first)
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
				So(again.Prediction.ID, ShouldEqual, orig.Prediction.ID)
			})
		})

		Convey("When the dedupe cache has forgotten an event id reused by another patient", func() {
			small := service.New(service.WithDedupeSize(1))
			So(small.Start(ctx), ShouldBeNil)
			defer small.Stop()
			for _, id := range []string{"PAT001", "PAT002"} {
				_, err := small.RegisterPatient(ctx, model.PatientInput{ID: id, Name: "Patient " + id, Age: age(50)})
				So(err, ShouldBeNil)
			}
			first := critical("PAT001")
			first.EventID = "evt-old"
			_, err := small.Ingest(ctx, first)
			So(err, ShouldBeNil)
			evict := healthy("PAT001")
			evict.EventID = "evt-new"
			_, err = small.Ingest(ctx, evict)
			So(err, ShouldBeNil)

			second := healthy("PAT002")
			second.EventID = "evt-old"
			_, err = small.Ingest(ctx, second)

			Convey("Then the store still rejects it", func() {
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
				ov, err := small.GetOverview(ctx)
				So(err, ShouldBeNil)
				So(ov.TotalReadings, ShouldEqual, 2)
			})
		})

		Convey("When the same event id is submitted concurrently", func() {
			in := healthy("PAT002")
			in.EventID = "evt-race"
			const callers = 16
			ids := make([]string, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := svc.Ingest(ctx, in)
					ids[i], errs[i] = res.Prediction.ID, err
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one reading and prediction exist", func() {
				for i := range ids {
					So(errs[i], ShouldBeNil)
					So(ids[i], ShouldEqual, ids[0])
				}
				ov, err := svc.GetOverview(ctx)
				So(err, ShouldBeNil)
				So(ov.TotalReadings, ShouldEqual, 1)
				So(ov.TotalPredictions, ShouldEqual, 1)
			})
		})
	})
}
