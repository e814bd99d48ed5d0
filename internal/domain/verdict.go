package domain

import (
	"github.com/opensource-security/shrike/internal/frame"
)

// Verdicts is the result of one detection run: per-detector prediction
// and score columns plus the combined ensemble columns, one row per
// input sample, index-aligned to the input feature matrix. Created once
// per run and never mutated afterwards.
type Verdicts struct {
	// RunID identifies the detection run for reporting and bus messages.
	RunID string

	// Models lists the detectors that contributed, in deterministic
	// (sorted) order. A detector that failed during the run is absent.
	Models []string

	// Predictions and Scores hold the per-detector columns, keyed by
	// model name. Scores are min-max normalized into [0,1].
	Predictions map[string][]int
	Scores      map[string][]float64

	EnsemblePrediction []int
	EnsembleScore      []float64
	IsAnomaly          []bool

	// Degraded marks a run produced by an empty model registry. Its
	// all-normal output must not be mistaken for a genuine all-normal
	// result.
	Degraded bool
}

// Rows returns the number of samples in the verdict table.
func (v *Verdicts) Rows() int {
	return len(v.EnsemblePrediction)
}

// AnomalyCount returns the number of rows flagged anomalous.
func (v *Verdicts) AnomalyCount() int {
	n := 0
	for _, a := range v.IsAnomaly {
		if a {
			n++
		}
	}
	return n
}

// Frame renders the verdict table with its fixed column name patterns:
// {model}_prediction, {model}_score, ensemble_prediction,
// ensemble_score, is_anomaly. Boolean and label columns are encoded
// numerically so the table round-trips through the feature store.
func (v *Verdicts) Frame() *frame.Frame {
	f := frame.New(v.Rows())
	for _, name := range v.Models {
		preds := make([]float64, v.Rows())
		for i, p := range v.Predictions[name] {
			preds[i] = float64(p)
		}
		f.Set(name+"_prediction", preds)
		scores := make([]float64, v.Rows())
		copy(scores, v.Scores[name])
		f.Set(name+"_score", scores)
	}

	ensemblePred := make([]float64, v.Rows())
	for i, p := range v.EnsemblePrediction {
		ensemblePred[i] = float64(p)
	}
	f.Set("ensemble_prediction", ensemblePred)

	ensembleScore := make([]float64, v.Rows())
	copy(ensembleScore, v.EnsembleScore)
	f.Set("ensemble_score", ensembleScore)

	anomaly := make([]float64, v.Rows())
	for i, a := range v.IsAnomaly {
		if a {
			anomaly[i] = 1
		}
	}
	f.Set("is_anomaly", anomaly)

	return f
}
