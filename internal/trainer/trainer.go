// Package trainer fits the configured detectors on engineered feature
// matrices and persists the resulting artifacts.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-security/shrike/internal/detector"
	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/metrics"
	"github.com/opensource-security/shrike/internal/modelstore"
)

// Trainer fits detectors and persists them through the model store.
type Trainer struct {
	cfg   domain.ModelsConfig
	store *modelstore.Store
}

// New creates a trainer over the given store.
func New(cfg domain.ModelsConfig, store *modelstore.Store) *Trainer {
	return &Trainer{cfg: cfg, store: store}
}

// Train fits one detector on the feature matrix, persists it and, when
// labels are provided, logs its standalone evaluation. The detector
// name doubles as its kind.
func (t *Trainer) Train(ctx context.Context, name string, X [][]float64, labels []bool) (domain.Detector, error) {
	d, err := detector.New(name, t.cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := d.Fit(X); err != nil {
		return nil, fmt.Errorf("fit %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.store.Save(name, d); err != nil {
		return nil, err
	}

	slog.Info("detector trained",
		"model", name,
		"rows", len(X),
		"duration_ms", time.Since(start).Milliseconds())

	if labels != nil {
		t.evaluate(name, d, X, labels)
	}
	return d, nil
}

// evaluate logs the detector's standalone metrics on labeled data.
// Evaluation is informational and never fails training.
func (t *Trainer) evaluate(name string, d domain.Detector, X [][]float64, labels []bool) {
	preds, err := d.Predict(X)
	if err != nil {
		slog.Warn("training evaluation skipped", "model", name, "error", err)
		return
	}
	flagged := make([]bool, len(preds))
	for i, p := range preds {
		flagged[i] = p == domain.PredictAnomaly
	}
	report, err := metrics.Evaluate(flagged, labels)
	if err != nil {
		slog.Warn("training evaluation skipped", "model", name, "error", err)
		return
	}
	slog.Info("training evaluation",
		"model", name,
		"precision", report.Precision,
		"recall", report.Recall,
		"f1", report.F1,
		"anomaly_rate", report.AnomalyRate)
}

// TrainAll fits every enabled detector in parallel, bounded by
// MaxParallel. A detector that fails to train is logged and skipped;
// the run succeeds as long as at least one detector trains.
func (t *Trainer) TrainAll(ctx context.Context, X [][]float64, labels []bool) (map[string]domain.Detector, error) {
	names := t.cfg.Enabled
	if len(names) == 0 {
		return nil, fmt.Errorf("no detectors enabled")
	}

	maxWorkers := t.cfg.MaxParallel
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	type result struct {
		name string
		d    domain.Detector
		err  error
	}
	results := make([]result, len(names))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, name := range names {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			d, err := t.Train(ctx, name, X, labels)
			results[idx] = result{name: name, d: d, err: err}
		}(i, name)
	}
	wg.Wait()

	trained := make(map[string]domain.Detector, len(names))
	for _, r := range results {
		if r.err != nil {
			slog.Warn("detector training failed", "model", r.name, "error", r.err)
			continue
		}
		trained[r.name] = r.d
	}
	if len(trained) == 0 {
		return nil, fmt.Errorf("all %d detectors failed to train", len(names))
	}
	return trained, nil
}

// Load restores every enabled detector that has a stored artifact.
// Missing artifacts are skipped with a warning.
func (t *Trainer) Load(ctx context.Context) (map[string]domain.Detector, error) {
	loaded := make(map[string]domain.Detector, len(t.cfg.Enabled))
	for _, name := range t.cfg.Enabled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := t.store.Load(name)
		if err != nil {
			slog.Warn("model not loaded", "model", name, "error", err)
			continue
		}
		loaded[name] = d
	}
	return loaded, nil
}
