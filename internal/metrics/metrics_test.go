package metrics

import (
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	predicted := []bool{true, true, false, false, true}
	labels := []bool{true, false, false, true, true}

	r, err := Evaluate(predicted, labels)
	if err != nil {
		t.Fatal(err)
	}

	if r.Confusion.TruePositives != 2 || r.Confusion.FalsePositives != 1 ||
		r.Confusion.TrueNegatives != 1 || r.Confusion.FalseNegatives != 1 {
		t.Fatalf("confusion: %+v", r.Confusion)
	}
	if math.Abs(r.Precision-2.0/3.0) > 1e-9 {
		t.Errorf("precision: got %v", r.Precision)
	}
	if math.Abs(r.Recall-2.0/3.0) > 1e-9 {
		t.Errorf("recall: got %v", r.Recall)
	}
	if math.Abs(r.F1-2.0/3.0) > 1e-9 {
		t.Errorf("f1: got %v", r.F1)
	}
	if math.Abs(r.Accuracy-0.6) > 1e-9 {
		t.Errorf("accuracy: got %v", r.Accuracy)
	}
	if math.Abs(r.AnomalyRate-0.6) > 1e-9 {
		t.Errorf("anomaly rate: got %v", r.AnomalyRate)
	}
}

func TestEvaluateNoPositives(t *testing.T) {
	r, err := Evaluate([]bool{false, false}, []bool{false, false})
	if err != nil {
		t.Fatal(err)
	}
	if r.Precision != 0 || r.Recall != 0 || r.F1 != 0 {
		t.Fatalf("expected zero metrics, got %+v", r)
	}
	if r.Accuracy != 1 {
		t.Errorf("accuracy: got %v, want 1", r.Accuracy)
	}
}

func TestEvaluateLengthMismatch(t *testing.T) {
	if _, err := Evaluate([]bool{true}, []bool{true, false}); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestEvaluateEmpty(t *testing.T) {
	if _, err := Evaluate(nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}
