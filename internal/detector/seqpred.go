package detector

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-security/shrike/internal/domain"
)

// Sequence detects anomalies by learning the order of events: a linear
// next-step predictor is fit over a sliding window of preceding rows,
// and the anomaly score is the prediction error for the actual row. The
// window weights are shared across feature columns and solved in closed
// form by least squares, so training is deterministic.
type Sequence struct {
	window          int
	scorePercentile float64

	weights   []float64
	threshold float64
	fitted    bool
}

// NewSequence creates an unfitted sequence predictor.
func NewSequence(cfg domain.SequenceConfig, scorePercentile float64) *Sequence {
	w := cfg.Window
	if w <= 0 {
		w = 10
	}
	return &Sequence{window: w, scorePercentile: scorePercentile}
}

// Kind returns the detector kind.
func (s *Sequence) Kind() string { return domain.KindSequence }

// Fit solves the window weights by least squares over every
// (window, next row) pair in the training matrix, then freezes the
// decision threshold from the training prediction errors.
func (s *Sequence) Fit(X [][]float64) error {
	if err := checkMatrix(X); err != nil {
		return err
	}
	n, d := len(X), len(X[0])
	if n <= s.window {
		return fmt.Errorf("need more than %d rows to fit a window of %d, got %d", s.window, s.window, n)
	}

	// One equation per (target row, feature column): the next value as
	// a weighted sum of the same column over the preceding window.
	rows := (n - s.window) * d
	a := mat.NewDense(rows, s.window, nil)
	b := mat.NewVecDense(rows, nil)
	r := 0
	for t := s.window; t < n; t++ {
		for j := 0; j < d; j++ {
			for i := 0; i < s.window; i++ {
				a.Set(r, i, X[t-s.window+i][j])
			}
			b.SetVec(r, X[t][j])
			r++
		}
	}

	var w mat.VecDense
	if err := w.SolveVec(a, b); err != nil {
		return fmt.Errorf("solve window weights: %w", err)
	}
	s.weights = make([]float64, s.window)
	for i := range s.weights {
		s.weights[i] = w.AtVec(i)
	}
	s.fitted = true

	scores, err := s.Score(X)
	if err != nil {
		return err
	}
	// Rows without a full preceding window score zero and would drag
	// the percentile down; freeze the threshold on the predicted rows.
	s.threshold = percentile(scores[s.window:], s.scorePercentile)
	return nil
}

// Score returns the mean squared prediction error per row. The first
// window rows of a batch have no full preceding window and score zero.
func (s *Sequence) Score(X [][]float64) ([]float64, error) {
	if !s.fitted {
		return nil, domain.ErrNotFitted
	}
	if err := checkMatrix(X); err != nil {
		return nil, err
	}

	scores := make([]float64, len(X))
	d := len(X[0])
	for t := s.window; t < len(X); t++ {
		var mse float64
		for j := 0; j < d; j++ {
			var pred float64
			for i, w := range s.weights {
				pred += w * X[t-s.window+i][j]
			}
			diff := pred - X[t][j]
			mse += diff * diff
		}
		scores[t] = mse / float64(d)
	}
	return scores, nil
}

// Predict labels rows against the frozen threshold. Rows without a full
// preceding window are always normal.
func (s *Sequence) Predict(X [][]float64) ([]int, error) {
	scores, err := s.Score(X)
	if err != nil {
		return nil, err
	}
	preds := thresholdPredict(scores, s.threshold)
	for t := 0; t < s.window && t < len(preds); t++ {
		preds[t] = domain.PredictNormal
	}
	return preds, nil
}

type sequenceState struct {
	Window          int
	ScorePercentile float64
	Weights         []float64
	Threshold       float64
}

// MarshalBinary serializes the fitted predictor.
func (s *Sequence) MarshalBinary() ([]byte, error) {
	if !s.fitted {
		return nil, domain.ErrNotFitted
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(sequenceState{
		Window:          s.window,
		ScorePercentile: s.scorePercentile,
		Weights:         s.weights,
		Threshold:       s.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a fitted predictor.
func (s *Sequence) UnmarshalBinary(data []byte) error {
	var st sequenceState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	s.window = st.Window
	s.scorePercentile = st.ScorePercentile
	s.weights = st.Weights
	s.threshold = st.Threshold
	s.fitted = true
	return nil
}
