// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Patient demographic limits.
const (
	maxPatientAge   = 150
	dateOfBirthForm = "2006-01-02"
)

// Patient is a registered person whose readings are scored.
// Only Conditions may change after registration.
type Patient struct {
	ID          string     `json:"patient_id"`
	Name        string     `json:"name"`
	Age         *int       `json:"age,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	BloodType   string     `json:"blood_type,omitempty"`
	Conditions  []string   `json:"medical_conditions"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AgeAt returns the patient's age at t. The recorded age wins over the date
// of birth. ok is false when neither is known.
func (p Patient) AgeAt(t time.Time) (age int, ok bool) {
	if p.Age != nil {
		return *p.Age, true
	}
	if p.DateOfBirth == nil {
		return 0, false
	}
	dob := *p.DateOfBirth
	age = t.Year() - dob.Year()
	if t.Month() < dob.Month() || (t.Month() == dob.Month() && t.Day() < dob.Day()) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age, true
}

// Context extracts the attributes the scorer needs at time t.
func (p Patient) Context(t time.Time) PatientContext {
	age, ok := p.AgeAt(t)
	return PatientContext{
		PatientID:  p.ID,
		Age:        age,
		AgeKnown:   ok,
		Conditions: p.Conditions,
	}
}

// PatientContext is the patient information that can raise baseline risk.
type PatientContext struct {
	PatientID  string
	Age        int
	AgeKnown   bool
	Conditions []string
}

// PatientInput is a registration request.
type PatientInput struct {
	ID          string   `json:"patient_id"`
	Name        string   `json:"name"`
	Age         *int     `json:"age,omitempty"`
	DateOfBirth string   `json:"date_of_birth,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	BloodType   string   `json:"blood_type,omitempty"`
	Conditions  []string `json:"medical_conditions"`
}

// Build validates the input and returns the patient it describes.
// id is used when the input carries none.
func (in PatientInput) Build(id string, now time.Time) (Patient, error) {
	const op = "model.patient_input"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Patient{}, NewError(op, ErrInvalidInput, "missing name")
	}
	if pid := strings.TrimSpace(in.ID); pid != "" {
		id = pid
	}
	if id == "" {
		return Patient{}, NewError(op, ErrInvalidInput, "missing patient_id")
	}
	if in.Age != nil && (*in.Age < 0 || *in.Age > maxPatientAge) {
		return Patient{}, NewError(op, ErrInvalidInput, "age %d out of range", *in.Age)
	}

	p := Patient{
		ID:         id,
		Name:       name,
		Age:        in.Age,
		Gender:     strings.TrimSpace(in.Gender),
		BloodType:  strings.ToUpper(strings.TrimSpace(in.BloodType)),
		Conditions: NormalizeConditions(in.Conditions),
		CreatedAt:  now.UTC(),
	}
	if s := strings.TrimSpace(in.DateOfBirth); s != "" {
		dob, err := time.Parse(dateOfBirthForm, s)
		if err != nil {
			return Patient{}, NewError(op, ErrInvalidInput, "invalid date_of_birth; must be YYYY-MM-DD")
		}
		if dob.After(now) {
			return Patient{}, NewError(op, ErrInvalidInput, "date_of_birth is in the future")
		}
		p.DateOfBirth = &dob
	}
	return p, nil
}

// NormalizeConditions trims, lower-cases and de-duplicates condition names,
// keeping first-seen order. Spaces and dashes become underscores.
func NormalizeConditions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		c = strings.NewReplacer(" ", "_", "-", "_").Replace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
