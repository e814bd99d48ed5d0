package ensemble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opensource-security/shrike/internal/domain"
)

// stubDetector returns canned predictions and scores.
type stubDetector struct {
	kind   string
	preds  []int
	scores []float64
	err    error
}

func (s *stubDetector) Kind() string                   { return s.kind }
func (s *stubDetector) Fit(X [][]float64) error        { return nil }
func (s *stubDetector) MarshalBinary() ([]byte, error) { return nil, nil }
func (s *stubDetector) UnmarshalBinary([]byte) error   { return nil }

func (s *stubDetector) Predict(X [][]float64) ([]int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.preds, nil
}

func (s *stubDetector) Score(X [][]float64) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func votingEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	cfg := domain.DefaultConfig().Ensemble
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

var testMatrix = [][]float64{{0.1}, {0.2}, {0.9}}

func TestNewRejectsUnknownMethod(t *testing.T) {
	cfg := domain.DefaultConfig().Ensemble
	cfg.Method = "stacking"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestVotingMajority(t *testing.T) {
	e := votingEnsemble(t)
	e.Register("a", &stubDetector{preds: []int{1, -1, -1}, scores: []float64{0, 1, 2}})
	e.Register("b", &stubDetector{preds: []int{1, 1, -1}, scores: []float64{0, 1, 2}})
	e.Register("c", &stubDetector{preds: []int{1, 1, -1}, scores: []float64{0, 1, 2}})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}

	wantPred := []int{1, 1, -1}
	wantAnomaly := []bool{false, false, true}
	for i := range wantPred {
		if v.EnsemblePrediction[i] != wantPred[i] {
			t.Errorf("row %d: prediction %d, want %d", i, v.EnsemblePrediction[i], wantPred[i])
		}
		if v.IsAnomaly[i] != wantAnomaly[i] {
			t.Errorf("row %d: is_anomaly %v, want %v", i, v.IsAnomaly[i], wantAnomaly[i])
		}
	}
	if v.Degraded {
		t.Error("verdict wrongly marked degraded")
	}
	if v.RunID == "" {
		t.Error("missing run id")
	}
}

func TestVotingTieIsAnomaly(t *testing.T) {
	e := votingEnsemble(t)
	e.Register("a", &stubDetector{preds: []int{1, -1, 1}, scores: []float64{0, 1, 2}})
	e.Register("b", &stubDetector{preds: []int{1, 1, -1}, scores: []float64{0, 1, 2}})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	// Rows 1 and 2 split one against one.
	for _, i := range []int{1, 2} {
		if v.EnsemblePrediction[i] != domain.PredictAnomaly {
			t.Errorf("row %d: tie resolved to %d, want anomaly", i, v.EnsemblePrediction[i])
		}
	}
	if v.EnsemblePrediction[0] != domain.PredictNormal {
		t.Errorf("row 0: got %d, want normal", v.EnsemblePrediction[0])
	}
}

func TestWeightedVoting(t *testing.T) {
	cfg := domain.DefaultConfig().Ensemble
	cfg.Method = domain.MethodWeighted
	cfg.Weights = map[string]float64{"heavy": 3}
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Register("heavy", &stubDetector{preds: []int{-1, 1, 1}, scores: []float64{0, 1, 2}})
	e.Register("light", &stubDetector{preds: []int{1, -1, 1}, scores: []float64{0, 1, 2}})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{-1, 1, 1}
	for i := range want {
		if v.EnsemblePrediction[i] != want[i] {
			t.Errorf("row %d: got %d, want %d", i, v.EnsemblePrediction[i], want[i])
		}
	}
}

func TestWeightedZeroSumIsNormal(t *testing.T) {
	cfg := domain.DefaultConfig().Ensemble
	cfg.Method = domain.MethodWeighted
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Equal default weights cancel exactly on every row.
	e.Register("a", &stubDetector{preds: []int{1, -1, 1}, scores: []float64{0, 1, 2}})
	e.Register("b", &stubDetector{preds: []int{-1, 1, -1}, scores: []float64{0, 1, 2}})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	for i := range testMatrix {
		if v.EnsemblePrediction[i] != domain.PredictNormal {
			t.Errorf("row %d: zero weighted sum resolved to %d, want normal", i, v.EnsemblePrediction[i])
		}
		if v.IsAnomaly[i] {
			t.Errorf("row %d: flagged anomalous on a zero weighted sum", i)
		}
	}
}

func TestScoresNormalized(t *testing.T) {
	e := votingEnsemble(t)
	e.Register("a", &stubDetector{preds: []int{1, 1, -1}, scores: []float64{10, 20, 30}})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 0.5, 1}
	for i := range want {
		if v.Scores["a"][i] != want[i] {
			t.Errorf("row %d: score %v, want %v", i, v.Scores["a"][i], want[i])
		}
		if v.EnsembleScore[i] != want[i] {
			t.Errorf("row %d: ensemble score %v, want %v", i, v.EnsembleScore[i], want[i])
		}
	}
}

func TestFailingDetectorIsSkipped(t *testing.T) {
	e := votingEnsemble(t)
	e.Register("good", &stubDetector{preds: []int{1, 1, -1}, scores: []float64{0, 1, 2}})
	e.Register("bad", &stubDetector{err: fmt.Errorf("model corrupted")})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Models) != 1 || v.Models[0] != "good" {
		t.Fatalf("models: got %v, want [good]", v.Models)
	}
	if v.EnsemblePrediction[2] != domain.PredictAnomaly {
		t.Error("surviving detector's vote lost")
	}
}

func TestAllDetectorsFailingDegrades(t *testing.T) {
	e := votingEnsemble(t)
	e.Register("bad", &stubDetector{err: fmt.Errorf("model corrupted")})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Degraded {
		t.Fatal("expected degraded verdict")
	}
	for i, p := range v.EnsemblePrediction {
		if p != domain.PredictNormal {
			t.Errorf("row %d: got %d, want normal", i, p)
		}
	}
}

func TestEmptyRegistry(t *testing.T) {
	e := votingEnsemble(t)
	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Degraded {
		t.Fatal("expected degraded verdict")
	}
	if v.AnomalyCount() != 0 {
		t.Errorf("anomalies in degraded verdict: %d", v.AnomalyCount())
	}
}

func TestRequireModels(t *testing.T) {
	cfg := domain.DefaultConfig().Ensemble
	cfg.RequireModels = true
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Detect(context.Background(), testMatrix); !errors.Is(err, domain.ErrNoModels) {
		t.Fatalf("got %v, want ErrNoModels", err)
	}
}

func TestVerdictFrameColumns(t *testing.T) {
	e := votingEnsemble(t)
	e.Register("a", &stubDetector{preds: []int{1, 1, -1}, scores: []float64{0, 1, 2}})

	v, err := e.Detect(context.Background(), testMatrix)
	if err != nil {
		t.Fatal(err)
	}
	f := v.Frame()
	for _, col := range []string{"a_prediction", "a_score", "ensemble_prediction", "ensemble_score", "is_anomaly"} {
		if !f.Has(col) {
			t.Errorf("missing column %s, have %v", col, f.Names())
		}
	}
	if f.Column("is_anomaly")[2] != 1 {
		t.Error("is_anomaly not rendered")
	}
}
