// Package ensemble combines the registered detectors into a single
// verdict per sample, by majority vote or weighted vote.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/opensource-security/shrike/internal/domain"
)

// Ensemble evaluates every registered detector over a feature matrix
// and merges their output. Registration happens at startup; Detect is
// safe for concurrent use afterwards.
type Ensemble struct {
	cfg domain.EnsembleConfig

	mu        sync.RWMutex
	detectors map[string]domain.Detector
}

// New creates an empty ensemble, validating the combination method.
func New(cfg domain.EnsembleConfig) (*Ensemble, error) {
	switch cfg.Method {
	case domain.MethodVoting, domain.MethodWeighted:
	default:
		return nil, fmt.Errorf("unknown ensemble method: %s", cfg.Method)
	}
	return &Ensemble{
		cfg:       cfg,
		detectors: make(map[string]domain.Detector),
	}, nil
}

// Register adds a fitted detector under the given name, replacing any
// previous registration.
func (e *Ensemble) Register(name string, d domain.Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detectors[name] = d
}

// LoadModels registers a batch of detectors, typically the trainer's
// Load or TrainAll output.
func (e *Ensemble) LoadModels(models map[string]domain.Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, d := range models {
		e.detectors[name] = d
	}
}

// Models returns the registered detector names, sorted.
func (e *Ensemble) Models() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.detectors))
	for name := range e.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type detectorOutput struct {
	name   string
	preds  []int
	scores []float64
	err    error
}

// Detect runs every registered detector over the feature matrix and
// combines their votes. A detector that fails is logged and excluded
// from the run rather than failing it. With no registered detectors the
// verdict is all-normal and marked degraded, unless the configuration
// requires models.
func (e *Ensemble) Detect(ctx context.Context, X [][]float64) (*domain.Verdicts, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("empty feature matrix")
	}

	e.mu.RLock()
	names := make([]string, 0, len(e.detectors))
	for name := range e.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	detectors := make([]domain.Detector, len(names))
	for i, name := range names {
		detectors[i] = e.detectors[name]
	}
	e.mu.RUnlock()

	if len(names) == 0 {
		if e.cfg.RequireModels {
			return nil, domain.ErrNoModels
		}
		slog.Warn("no models registered, returning degraded all-normal verdict")
		return e.degradedVerdict(len(X)), nil
	}

	maxWorkers := e.cfg.MaxParallel
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	outputs := make([]detectorOutput, len(names))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, name := range names {
		wg.Add(1)
		go func(idx int, name string, d domain.Detector) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outputs[idx] = e.evaluate(ctx, name, d, X)
		}(i, name, detectors[i])
	}
	wg.Wait()

	v := &domain.Verdicts{
		RunID:       uuid.NewString(),
		Predictions: make(map[string][]int),
		Scores:      make(map[string][]float64),
	}
	for _, out := range outputs {
		if out.err != nil {
			slog.Warn("detector skipped", "model", out.name, "error", out.err)
			continue
		}
		v.Models = append(v.Models, out.name)
		v.Predictions[out.name] = out.preds
		v.Scores[out.name] = normalizeScores(out.scores)
	}

	e.combine(v, len(X))
	slog.Info("detection run completed",
		"run_id", v.RunID,
		"rows", v.Rows(),
		"models", len(v.Models),
		"anomalies", v.AnomalyCount())
	return v, nil
}

func (e *Ensemble) evaluate(ctx context.Context, name string, d domain.Detector, X [][]float64) detectorOutput {
	out := detectorOutput{name: name}
	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}
	out.preds, out.err = d.Predict(X)
	if out.err != nil {
		return out
	}
	out.scores, out.err = d.Score(X)
	return out
}

// combine fills the ensemble columns from the surviving per-detector
// output. With every detector skipped the result degrades the same way
// as an empty registry.
func (e *Ensemble) combine(v *domain.Verdicts, rows int) {
	v.EnsemblePrediction = make([]int, rows)
	v.EnsembleScore = make([]float64, rows)
	v.IsAnomaly = make([]bool, rows)

	if len(v.Models) == 0 {
		for i := range v.EnsemblePrediction {
			v.EnsemblePrediction[i] = domain.PredictNormal
		}
		v.Degraded = true
		return
	}

	for i := 0; i < rows; i++ {
		var vote float64
		for _, name := range v.Models {
			p := float64(v.Predictions[name][i])
			if e.cfg.Method == domain.MethodWeighted {
				p *= e.weight(name)
			}
			vote += p
			v.EnsembleScore[i] += v.Scores[name][i]
		}
		v.EnsembleScore[i] /= float64(len(v.Models))

		// Majority-vote ties side with anomaly: a flagged sample is
		// worth a look. A zero weighted average stays normal.
		anomalous := vote < 0
		if e.cfg.Method == domain.MethodVoting {
			anomalous = vote <= 0
		}
		if anomalous {
			v.EnsemblePrediction[i] = domain.PredictAnomaly
			v.IsAnomaly[i] = true
		} else {
			v.EnsemblePrediction[i] = domain.PredictNormal
		}
	}
}

func (e *Ensemble) weight(name string) float64 {
	if w, ok := e.cfg.Weights[name]; ok {
		return w
	}
	return 1.0
}

func (e *Ensemble) degradedVerdict(rows int) *domain.Verdicts {
	v := &domain.Verdicts{
		RunID:       uuid.NewString(),
		Predictions: make(map[string][]int),
		Scores:      make(map[string][]float64),
	}
	e.combine(v, rows)
	return v
}

// normalizeScores min-max scales scores into [0,1]; a constant column
// collapses to zero.
func normalizeScores(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max == min {
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
