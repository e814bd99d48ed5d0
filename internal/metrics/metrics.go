// Package metrics evaluates detection output against ground-truth
// labels carried by synthetic or replayed data.
package metrics

import "fmt"

// Confusion is the binary confusion matrix with anomaly as the positive
// class.
type Confusion struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Report holds the standard evaluation metrics for one detection run.
type Report struct {
	Confusion   Confusion `json:"confusion"`
	Precision   float64   `json:"precision"`
	Recall      float64   `json:"recall"`
	F1          float64   `json:"f1"`
	Accuracy    float64   `json:"accuracy"`
	AnomalyRate float64   `json:"anomaly_rate"`
}

// Evaluate compares predicted anomaly flags against labels. Empty
// denominators yield zero rather than NaN.
func Evaluate(predicted, labels []bool) (*Report, error) {
	if len(predicted) != len(labels) {
		return nil, fmt.Errorf("length mismatch: %d predictions, %d labels", len(predicted), len(labels))
	}
	if len(predicted) == 0 {
		return nil, fmt.Errorf("empty evaluation input")
	}

	var c Confusion
	flagged := 0
	for i, p := range predicted {
		if p {
			flagged++
		}
		switch {
		case p && labels[i]:
			c.TruePositives++
		case p && !labels[i]:
			c.FalsePositives++
		case !p && labels[i]:
			c.FalseNegatives++
		default:
			c.TrueNegatives++
		}
	}

	r := &Report{Confusion: c}
	if c.TruePositives+c.FalsePositives > 0 {
		r.Precision = float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
	}
	if c.TruePositives+c.FalseNegatives > 0 {
		r.Recall = float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.Accuracy = float64(c.TruePositives+c.TrueNegatives) / float64(len(predicted))
	r.AnomalyRate = float64(flagged) / float64(len(predicted))
	return r, nil
}
