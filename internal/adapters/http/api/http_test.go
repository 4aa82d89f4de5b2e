package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/vitalrisk/internal/adapters/http/api"
	service "github.com/okian/vitalrisk/internal/app"
	"github.com/okian/vitalrisk/internal/domain/model"
	"github.com/okian/vitalrisk/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// unavailableDeps fails every call the way a dead database would.
type unavailableDeps struct{}

var errDown = model.NewError("store", model.ErrStoreUnavailable, "dial tcp 10.0.0.5:5432: connection refused")

func (unavailableDeps) RegisterPatient(context.Context, model.PatientInput) (model.Patient, error) {
	return model.Patient{}, errDown
}
func (unavailableDeps) ListPatients(context.Context) ([]model.Patient, error) { return nil, errDown }
func (unavailableDeps) GetPatient(context.Context, string) (model.Patient, error) {
	return model.Patient{}, errDown
}
func (unavailableDeps) UpdateConditions(context.Context, string, []string) (model.Patient, error) {
	return model.Patient{}, errDown
}
func (unavailableDeps) GetPatientHistory(context.Context, string, int) ([]model.HistoryEntry, error) {
	return nil, errDown
}
func (unavailableDeps) Ingest(context.Context, model.VitalsInput) (model.IngestResult, error) {
	return model.IngestResult{}, errDown
}
func (unavailableDeps) GetPrediction(context.Context, string) (model.Prediction, error) {
	return model.Prediction{}, errDown
}
func (unavailableDeps) RecordOutcome(context.Context, string, model.Outcome) (model.Prediction, error) {
	return model.Prediction{}, errDown
}
func (unavailableDeps) GetOverview(context.Context) (model.Overview, error) {
	return model.Overview{}, errDown
}
func (unavailableDeps) GetPredictionsVsActual(context.Context) ([]model.PredictionOutcome, error) {
	return nil, errDown
}
func (unavailableDeps) Ping(context.Context) error { return errDown }

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}).Register(context.Background(), mux)
	return mux
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	decode(w, &body)
	return body.Code
}

func TestServer_Routes(t *testing.T) {
	Convey("Given an API server over a running service", t, func() {
		svc := service.New()
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		mux := newMux(svc)

		Convey("Then health, readiness and stats are served", func() {
			w := do(mux, "GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "vitalrisk_")

			w = do(mux, "GET", "/readyz", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			w = do(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
			So(w.Body.String(), ShouldContainSubstring, `"uptimeSeconds":`)
		})

		Convey("Then the dashboard page is served", func() {
			w := do(mux, "GET", "/dashboard", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `id="refresh-interval"`)
		})

		Convey("When a patient is registered", func() {
			w := do(mux, "POST", "/patients", `{"patient_id":"PAT001","name":"John Smith","age":70,"medical_conditions":["hypertension"]}`)
			So(w.Code, ShouldEqual, http.StatusCreated)

			Convey("Then it can be read back and listed", func() {
				w := do(mux, "GET", "/patients/PAT001", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var p model.Patient
				decode(w, &p)
				So(p.Name, ShouldEqual, "John Smith")

				w = do(mux, "GET", "/patients", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"count":1`)
			})

			Convey("Then registering it again is a bad request", func() {
				w := do(mux, "POST", "/patients", `{"patient_id":"PAT001","name":"Other"}`)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_input")
			})

			Convey("Then its conditions can be replaced", func() {
				w := do(mux, "PUT", "/patients/PAT001/conditions", `{"medical_conditions":["COPD"]}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"copd"`)

				w = do(mux, "PUT", "/patients/PAT001/conditions", `{}`)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("And a critical reading is submitted", func() {
				body := `{"event_id":"evt-1","patient_id":"PAT001","heart_rate":160,"spo2":85,"systolic":190,"diastolic":110,"temperature":103}`
				w := do(mux, "POST", "/vitals", body)

				Convey("Then a High prediction is created", func() {
					So(w.Code, ShouldEqual, http.StatusCreated)
					var res struct {
						PredictionID string   `json:"prediction_id"`
						RiskScore    float64  `json:"risk_score"`
						RiskLevel    string   `json:"risk_level"`
						Factors      []string `json:"contributing_factors"`
						Duplicate    bool     `json:"duplicate"`
					}
					decode(w, &res)
					So(res.RiskLevel, ShouldEqual, "High")
					So(res.RiskScore, ShouldEqual, 1.0)
					So(len(res.Factors), ShouldBeGreaterThan, 3)
					So(res.Duplicate, ShouldBeFalse)

					Convey("And replaying it returns the same prediction with 200", func() {
						w := do(mux, "POST", "/vitals", body)
						So(w.Code, ShouldEqual, http.StatusOK)
						So(w.Body.String(), ShouldContainSubstring, res.PredictionID)
						So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
					})

					Convey("And it can be fetched by id", func() {
						w := do(mux, "GET", "/predictions/"+res.PredictionID, "")
						So(w.Code, ShouldEqual, http.StatusOK)
						var p model.Prediction
						decode(w, &p)
						So(p.ID, ShouldEqual, res.PredictionID)
						So(p.RiskCategory, ShouldEqual, model.RiskHigh)
					})

					Convey("And its outcome can be recorded exactly once", func() {
						path := "/predictions/" + res.PredictionID + "/outcome"
						w := do(mux, "PUT", path, `{"actual_outcome":1}`)
						So(w.Code, ShouldEqual, http.StatusOK)

						w = do(mux, "PUT", path, `{"actual_outcome":0}`)
						So(w.Code, ShouldEqual, http.StatusConflict)
						So(errorCode(w), ShouldEqual, "already_set")

						w = do(mux, "GET", "/dashboard/predictions-vs-actual", "")
						So(w.Code, ShouldEqual, http.StatusOK)
						var pva struct {
							Predictions []model.PredictionOutcome `json:"predictions"`
							Summary     struct {
								Resolved int     `json:"resolved"`
								Accuracy float64 `json:"accuracy"`
							} `json:"summary"`
						}
						decode(w, &pva)
						So(len(pva.Predictions), ShouldEqual, 1)
						So(pva.Predictions[0].Accuracy, ShouldEqual, model.VerdictCorrect)
						So(pva.Summary.Resolved, ShouldEqual, 1)
						So(pva.Summary.Accuracy, ShouldEqual, 100.0)
					})

					Convey("And the history and overview include it", func() {
						w := do(mux, "GET", "/patients/PAT001/history?limit=5", "")
						So(w.Code, ShouldEqual, http.StatusOK)
						So(w.Body.String(), ShouldContainSubstring, `"count":1`)

						w = do(mux, "GET", "/dashboard/overview", "")
						So(w.Code, ShouldEqual, http.StatusOK)
						var ov model.Overview
						decode(w, &ov)
						So(ov.TotalPredictions, ShouldEqual, 1)
						So(ov.RiskDistribution[model.RiskHigh], ShouldEqual, 1)
						So(ov.RiskDistribution, ShouldContainKey, model.RiskLow)
					})
				})
			})
		})

		Convey("Then client errors map to the documented statuses", func() {
			cases := []struct {
				method, path, body string
				status             int
				code               string
			}{
				{"POST", "/vitals", `not json`, http.StatusBadRequest, "invalid_input"},
				{"POST", "/vitals", `{"patient_id":"PAT404","heart_rate":80}`, http.StatusNotFound, "not_found"},
				{"POST", "/vitals", `{"heart_rate":80}`, http.StatusBadRequest, "invalid_input"},
				{"GET", "/patients/PAT404", "", http.StatusNotFound, "not_found"},
				{"GET", "/patients/PAT404/history", "", http.StatusNotFound, "not_found"},
				{"GET", "/patients/PAT404/history?limit=abc", "", http.StatusBadRequest, "invalid_input"},
				{"GET", "/predictions/nope", "", http.StatusNotFound, "not_found"},
				{"PUT", "/predictions/nope/outcome", `{"actual_outcome":1}`, http.StatusNotFound, "not_found"},
				{"PUT", "/predictions/nope/outcome", `{"actual_outcome":3}`, http.StatusBadRequest, "invalid_input"},
				{"PUT", "/predictions/nope/outcome", `{}`, http.StatusBadRequest, "invalid_input"},
			}
			for _, c := range cases {
				w := do(mux, c.method, c.path, c.body)
				So(w.Code, ShouldEqual, c.status)
				So(errorCode(w), ShouldEqual, c.code)
			}

			w := do(mux, "DELETE", "/patients/PAT001", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})

	Convey("Given an API server whose store is down", t, func() {
		mux := newMux(unavailableDeps{})

		Convey("Then every data route answers 503 without leaking the cause", func() {
			for _, path := range []string{"/patients", "/dashboard/overview", "/dashboard/predictions-vs-actual", "/readyz"} {
				w := do(mux, "GET", path, "")
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(errorCode(w), ShouldEqual, "store_unavailable")
				So(w.Body.String(), ShouldNotContainSubstring, "10.0.0.5")
			}
		})
	})
}

func TestCORS(t *testing.T) {
	Convey("Given the CORS wrapper", t, func() {
		var called bool
		h := api.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}))

		Convey("When a preflight request arrives", func() {
			w := do(h, "OPTIONS", "/vitals", "")

			Convey("Then it is answered without reaching the handler", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
				So(called, ShouldBeFalse)
			})
		})

		Convey("When a normal request arrives", func() {
			w := do(h, "GET", "/patients", "")

			Convey("Then headers are added and the handler runs", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Access-Control-Allow-Methods"), ShouldContainSubstring, "PUT")
				So(called, ShouldBeTrue)
			})
		})
	})
}

func TestWrapKind(t *testing.T) {
	Convey("Given a wrapped bad request", t, func() {
		cause := errors.New("missing actual_outcome")
		err := api.WrapKind("api.record_outcome", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.record_outcome: missing actual_outcome")
		})
	})
}
