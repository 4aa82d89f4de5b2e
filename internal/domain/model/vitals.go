package model

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Temperature units accepted on input. Readings are stored in Fahrenheit.
const (
	UnitFahrenheit = "F"
	UnitCelsius    = "C"
)

// naiveTimestamp is an ISO timestamp without zone, as some producers send.
const naiveTimestamp = "2006-01-02T15:04:05.999999999"

// plausible bounds a reading must fall within to be accepted.
type bounds struct {
	name     string
	min, max float64
}

var (
	heartRateBounds   = bounds{"heart_rate", 0, 300}
	systolicBounds    = bounds{"systolic", 0, 300}
	diastolicBounds   = bounds{"diastolic", 0, 200}
	temperatureBounds = bounds{"temperature", 68, 122} // °F, i.e. 20-50 °C
	spo2Bounds        = bounds{"spo2", 0, 100}
	respRateBounds    = bounds{"respiratory_rate", 0, 100}
	activityBounds    = bounds{"activity_level", 0, 10}
)

// VitalsRecord is one normalized wearable reading. Immutable once stored.
type VitalsRecord struct {
	ID              string          `json:"id"`
	EventID         string          `json:"event_id,omitempty"`
	PatientID       string          `json:"patient_id"`
	DeviceID        string          `json:"device_id,omitempty"`
	RecordedAt      time.Time       `json:"recorded_at"`
	IngestedAt      time.Time       `json:"ingested_at"`
	HeartRate       *float64        `json:"heart_rate,omitempty"`
	Systolic        *float64        `json:"systolic,omitempty"`
	Diastolic       *float64        `json:"diastolic,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	SpO2            *float64        `json:"spo2,omitempty"`
	RespiratoryRate *float64        `json:"respiratory_rate,omitempty"`
	ActivityLevel   *float64        `json:"activity_level,omitempty"`
	Payload         json.RawMessage `json:"-"`
}

// FieldCount reports how many physiological fields the reading carries.
func (v *VitalsRecord) FieldCount() int {
	n := 0
	for _, f := range []*float64{v.HeartRate, v.Systolic, v.Diastolic, v.Temperature, v.SpO2, v.RespiratoryRate, v.ActivityLevel} {
		if f != nil {
			n++
		}
	}
	return n
}

// VitalsInput is a reading submission as received from a producer.
type VitalsInput struct {
	EventID         string   `json:"event_id,omitempty"`
	PatientID       string   `json:"patient_id"`
	DeviceID        string   `json:"device_id,omitempty"`
	RecordedAt      string   `json:"recorded_at,omitempty"`
	HeartRate       *float64 `json:"heart_rate,omitempty"`
	Systolic        *float64 `json:"systolic,omitempty"`
	Diastolic       *float64 `json:"diastolic,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TemperatureUnit string   `json:"temperature_unit,omitempty"`
	SpO2            *float64 `json:"spo2,omitempty"`
	RespiratoryRate *float64 `json:"respiratory_rate,omitempty"`
	ActivityLevel   *float64 `json:"activity_level,omitempty"`
}

// Build validates the submission and normalizes it into a record with the
// given id. Nothing is written; all validation happens here.
func (in VitalsInput) Build(id string, now time.Time) (VitalsRecord, error) {
	const op = "model.vitals_input"
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return VitalsRecord{}, NewError(op, ErrInvalidInput, "missing patient_id")
	}

	rec := VitalsRecord{
		ID:              id,
		EventID:         strings.TrimSpace(in.EventID),
		PatientID:       patientID,
		DeviceID:        strings.TrimSpace(in.DeviceID),
		IngestedAt:      now.UTC(),
		HeartRate:       copyFloat(in.HeartRate),
		Systolic:        copyFloat(in.Systolic),
		Diastolic:       copyFloat(in.Diastolic),
		SpO2:            copyFloat(in.SpO2),
		RespiratoryRate: copyFloat(in.RespiratoryRate),
		ActivityLevel:   copyFloat(in.ActivityLevel),
	}

	recordedAt, err := parseRecordedAt(in.RecordedAt, now)
	if err != nil {
		return VitalsRecord{}, NewError(op, ErrInvalidInput, "invalid recorded_at; must be RFC3339")
	}
	rec.RecordedAt = recordedAt

	if in.Temperature != nil {
		t := *in.Temperature
		switch strings.ToUpper(strings.TrimSpace(in.TemperatureUnit)) {
		case "", UnitFahrenheit:
		case UnitCelsius:
			t = CelsiusToFahrenheit(t)
		default:
			return VitalsRecord{}, NewError(op, ErrInvalidInput, "unknown temperature_unit %q", in.TemperatureUnit)
		}
		rec.Temperature = &t
	}

	if rec.FieldCount() == 0 {
		return VitalsRecord{}, NewError(op, ErrInvalidInput, "reading has no physiological fields")
	}

	checks := []struct {
		v *float64
		b bounds
	}{
		{rec.HeartRate, heartRateBounds},
		{rec.Systolic, systolicBounds},
		{rec.Diastolic, diastolicBounds},
		{rec.Temperature, temperatureBounds},
		{rec.SpO2, spo2Bounds},
		{rec.RespiratoryRate, respRateBounds},
		{rec.ActivityLevel, activityBounds},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if math.IsNaN(*c.v) || math.IsInf(*c.v, 0) || *c.v < c.b.min || *c.v > c.b.max {
			return VitalsRecord{}, NewError(op, ErrInvalidInput, "%s %v out of range [%v, %v]", c.b.name, *c.v, c.b.min, c.b.max)
		}
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return VitalsRecord{}, NewError(op, ErrInvalidInput, "unencodable payload")
	}
	rec.Payload = payload
	return rec, nil
}

// CelsiusToFahrenheit converts a temperature, rounded to one decimal.
func CelsiusToFahrenheit(c float64) float64 {
	return math.Round((c*9/5+32)*10) / 10
}

func parseRecordedAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(naiveTimestamp, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v. Handy for building readings.
func Float(v float64) *float64 { return &v }
