package domain

import (
	"encoding"
	"errors"
)

// Detector kinds understood by the factory and the model store.
const (
	KindIsolationForest = "isolation_forest"
	KindOneClassSVM     = "one_class_svm"
	KindAutoencoder     = "autoencoder"
	KindSequence        = "sequence"
)

var (
	// ErrNotFound is returned when a persisted detector does not exist.
	ErrNotFound = errors.New("model not found")

	// ErrUnknownDetector is returned for detector kinds no adapter handles.
	ErrUnknownDetector = errors.New("unknown detector")

	// ErrNotFitted is returned when a detector is used before Fit.
	ErrNotFitted = errors.New("detector not fitted")

	// ErrNoModels is returned by Detect when the registry is empty and
	// the configuration requires a non-trivial ensemble.
	ErrNoModels = errors.New("no models loaded")
)

// Prediction labels shared by every detector.
const (
	PredictNormal  = 1
	PredictAnomaly = -1
)

// Detector is the single capability contract every anomaly model
// satisfies. It replaces the original registry of duck-typed models:
// each adapter normalizes its technique's native scoring into one
// uniform contract, so no runtime capability probing is needed.
//
// Score values are anomaly scores: higher means more anomalous,
// regardless of the underlying technique. Predict compares scores
// against the threshold frozen at fit time from the training-score
// distribution; it is never recalibrated per batch.
type Detector interface {
	// Kind identifies the adapter for persistence and configuration.
	Kind() string

	// Fit trains the detector on a feature matrix (rows = samples,
	// columns = features, all values in [0,1]).
	Fit(X [][]float64) error

	// Predict returns PredictNormal or PredictAnomaly per row.
	Predict(X [][]float64) ([]int, error)

	// Score returns one anomaly score per row, row-aligned to X.
	Score(X [][]float64) ([]float64, error)

	// Detectors round-trip through the model store as opaque artifacts.
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}
