// Package scoring defines the contract for computing deterioration risk from
// a vitals reading and the patient it belongs to.
package scoring

import (
	"math"
	"strconv"
	"strings"

	"github.com/okian/vitalrisk/internal/domain/model"
)

// Default scoring configuration constants. Weights are in hundredths.
const (
	defaultSeniorAge      = 65
	defaultElderlyAge     = 75
	defaultConditionScore = 5
	defaultConditionCap   = 15
	weightScale           = 100
)

// DefaultConditions are the known high-risk conditions.
var DefaultConditions = []string{
	"hypertension",
	"diabetes",
	"heart_disease",
	"heart_failure",
	"copd",
	"asthma",
	"chronic_kidney_disease",
	"sepsis",
	"cancer",
}

// Option applies a configuration option to the RuleScorer.
type Option func(*RuleScorer)

// WithAgeThresholds sets the ages at which the senior and elderly weights apply.
func WithAgeThresholds(senior, elderly int) Option {
	return func(s *RuleScorer) {
		if senior > 0 && elderly > senior {
			s.seniorAge = senior
			s.elderlyAge = elderly
		}
	}
}

// WithConditionWeights replaces the known-condition weights. cap bounds their
// combined contribution; zero keeps the current cap.
func WithConditionWeights(weights map[string]float64, conditionCap float64) Option {
	return func(s *RuleScorer) {
		s.conditions = make(map[string]int, len(weights))
		for name, w := range weights {
			if w > 0 {
				s.conditions[normalizeCondition(name)] = toHundredths(w)
			}
		}
		if conditionCap > 0 {
			s.conditionCap = toHundredths(conditionCap)
		}
	}
}

// Result contains the computed risk for one reading.
type Result struct {
	Score    float64
	Category model.RiskCategory
	Factors  []string
}

// Scorer computes a risk result from a reading and its patient. A trained
// classifier can replace RuleScorer behind this interface.
type Scorer interface {
	Score(reading model.VitalsRecord, patient model.PatientContext) (Result, error)
}

// RuleScorer implements Scorer with a fixed threshold table. It is stateless
// after construction and safe for concurrent use.
type RuleScorer struct {
	seniorAge    int
	elderlyAge   int
	conditions   map[string]int
	conditionCap int
}

// NewRuleScorer creates a rule scorer with configuration options.
func NewRuleScorer(opts ...Option) *RuleScorer {
	s := &RuleScorer{
		seniorAge:    defaultSeniorAge,
		elderlyAge:   defaultElderlyAge,
		conditions:   make(map[string]int, len(DefaultConditions)),
		conditionCap: defaultConditionCap,
	}
	for _, c := range DefaultConditions {
		s.conditions[c] = defaultConditionScore
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// tally accumulates weights in hundredths so the sum is order-independent.
type tally struct {
	total   int
	factors []string
}

func (t *tally) add(weight int, factor string) {
	t.total += weight
	t.factors = append(t.factors, factor)
}

// Score evaluates the threshold table. It fails only when the reading carries
// no physiological fields.
func (s *RuleScorer) Score(r model.VitalsRecord, p model.PatientContext) (Result, error) {
	if r.FieldCount() == 0 {
		return Result{}, model.NewError("scoring.score", model.ErrInvalidInput, "reading has no physiological fields")
	}

	t := &tally{factors: []string{}}

	if r.HeartRate != nil {
		hr := *r.HeartRate
		switch {
		case hr > 145:
			t.add(30, "Severe tachycardia (heart rate "+num(hr)+" bpm)")
		case hr > 100:
			t.add(15, "Elevated heart rate ("+num(hr)+" bpm)")
		case hr < 40:
			t.add(30, "Severe bradycardia (heart rate "+num(hr)+" bpm)")
		case hr < 50:
			t.add(15, "Low heart rate ("+num(hr)+" bpm)")
		}
	}

	if r.Systolic != nil || r.Diastolic != nil {
		sys, dia := value(r.Systolic), value(r.Diastolic)
		bp := "(" + optNum(r.Systolic) + "/" + optNum(r.Diastolic) + " mmHg)"
		switch {
		case sys > 180 || dia > 105:
			t.add(30, "Hypertensive crisis "+bp)
		case sys > 140 || dia > 90:
			t.add(15, "High blood pressure "+bp)
		case r.Systolic != nil && sys < 90:
			t.add(20, "Low blood pressure "+bp)
		}
	}

	if r.Temperature != nil {
		temp := *r.Temperature
		switch {
		case temp > 102:
			t.add(25, "High fever ("+num(temp)+"°F)")
		case temp > 100.4:
			t.add(10, "Fever ("+num(temp)+"°F)")
		case temp < 95:
			t.add(20, "Hypothermia ("+num(temp)+"°F)")
		}
	}

	if r.SpO2 != nil {
		o2 := *r.SpO2
		switch {
		case o2 < 88:
			t.add(35, "Critically low oxygen saturation ("+num(o2)+"%)")
		case o2 < 95:
			t.add(15, "Low oxygen saturation ("+num(o2)+"%)")
		}
	}

	if r.RespiratoryRate != nil {
		rr := *r.RespiratoryRate
		switch {
		case rr > 24:
			t.add(20, "Rapid breathing ("+num(rr)+" breaths/min)")
		case rr < 10:
			t.add(20, "Slow breathing ("+num(rr)+" breaths/min)")
		}
	}

	if r.ActivityLevel != nil && *r.ActivityLevel < 2.0 {
		t.add(10, "Low activity level ("+num(*r.ActivityLevel)+")")
	}

	if p.AgeKnown {
		switch {
		case p.Age >= s.elderlyAge:
			t.add(10, "Advanced age ("+strconv.Itoa(p.Age)+")")
		case p.Age >= s.seniorAge:
			t.add(5, "Age over "+strconv.Itoa(s.seniorAge)+" ("+strconv.Itoa(p.Age)+")")
		}
	}

	budget := s.conditionCap
	for _, c := range p.Conditions {
		name := normalizeCondition(c)
		w, ok := s.conditions[name]
		if !ok || budget <= 0 {
			continue
		}
		if w > budget {
			w = budget
		}
		budget -= w
		t.add(w, "Known condition: "+name)
	}

	score := clamp(float64(t.total) / weightScale)
	return Result{
		Score:    score,
		Category: model.Categorize(score),
		Factors:  t.factors,
	}, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func toHundredths(w float64) int {
	return int(math.Round(w * weightScale))
}

func normalizeCondition(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
}

func value(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optNum(f *float64) string {
	if f == nil {
		return "?"
	}
	return num(*f)
}
