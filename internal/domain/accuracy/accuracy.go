// Package accuracy summarizes how well predictions matched observed outcomes.
package accuracy

import "github.com/okian/vitalrisk/internal/domain/model"

// PositiveThreshold is the score above which a prediction counts as a
// deterioration call.
const PositiveThreshold = 0.5

// ConfusionMatrix counts resolved predictions by predicted and actual class.
type ConfusionMatrix struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Summary is the accuracy report over a set of prediction/outcome pairs.
type Summary struct {
	Resolved        int             `json:"resolved"`
	Pending         int             `json:"pending"`
	Correct         int             `json:"correct"`
	AccuracyPercent float64         `json:"accuracy"`
	Confusion       ConfusionMatrix `json:"confusion_matrix"`
}

// Label compares one prediction with its outcome using PositiveThreshold.
func Label(p model.PredictionOutcome) model.Verdict {
	if p.ActualOutcome == nil {
		return model.VerdictPending
	}
	predicted := p.Prediction.RiskScore > PositiveThreshold
	actual := *p.ActualOutcome == model.OutcomeDeteriorated
	if predicted == actual {
		return model.VerdictCorrect
	}
	return model.VerdictIncorrect
}

// Annotate sets the Accuracy label on every pair in place.
func Annotate(pairs []model.PredictionOutcome) {
	for i := range pairs {
		pairs[i].Accuracy = Label(pairs[i])
	}
}

// Summarize computes accuracy and the confusion matrix over the pairs that
// have an outcome. Pairs without one are counted as pending.
func Summarize(pairs []model.PredictionOutcome) Summary {
	var s Summary
	for _, p := range pairs {
		if p.ActualOutcome == nil {
			s.Pending++
			continue
		}
		s.Resolved++
		predicted := p.Prediction.RiskScore > PositiveThreshold
		actual := *p.ActualOutcome == model.OutcomeDeteriorated
		switch {
		case predicted && actual:
			s.Confusion.TruePositives++
		case predicted && !actual:
			s.Confusion.FalsePositives++
		case !predicted && !actual:
			s.Confusion.TrueNegatives++
		default:
			s.Confusion.FalseNegatives++
		}
	}
	s.Correct = s.Confusion.TruePositives + s.Confusion.TrueNegatives
	if s.Resolved > 0 {
		s.AccuracyPercent = float64(s.Correct) / float64(s.Resolved) * 100
	}
	return s
}
