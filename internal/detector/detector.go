// Package detector implements the anomaly detection adapters. Every
// adapter satisfies domain.Detector: anomaly scores where higher means
// more anomalous, and a decision threshold frozen at fit time from the
// training-score distribution.
package detector

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-security/shrike/internal/domain"
)

// New constructs an unfitted detector of the given kind from the models
// configuration.
func New(kind string, cfg domain.ModelsConfig) (domain.Detector, error) {
	switch kind {
	case domain.KindIsolationForest:
		return NewIsolationForest(cfg.IsolationForest, cfg.ScorePercentile), nil
	case domain.KindOneClassSVM:
		return NewOneClassSVM(cfg.OneClassSVM), nil
	case domain.KindAutoencoder:
		return NewAutoencoder(cfg.Autoencoder, cfg.ScorePercentile), nil
	case domain.KindSequence:
		return NewSequence(cfg.Sequence, cfg.ScorePercentile), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownDetector, kind)
	}
}

// percentile returns the p-th percentile of values, p in (0, 100).
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p/100, stat.Empirical, sorted, nil)
}

// checkMatrix rejects empty or ragged feature matrices.
func checkMatrix(X [][]float64) error {
	if len(X) == 0 || len(X[0]) == 0 {
		return fmt.Errorf("empty feature matrix")
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("ragged feature matrix: row %d has %d columns, want %d", i, len(row), width)
		}
	}
	return nil
}

// thresholdPredict maps scores onto prediction labels against a frozen
// threshold.
func thresholdPredict(scores []float64, threshold float64) []int {
	preds := make([]int, len(scores))
	for i, s := range scores {
		if s > threshold {
			preds[i] = domain.PredictAnomaly
		} else {
			preds[i] = domain.PredictNormal
		}
	}
	return preds
}
