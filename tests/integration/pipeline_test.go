//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Shrike
// anomaly detection pipeline:
//
//	Events → Feature Engineering → Training → Ensemble Detection
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The tests run entirely in-process against synthetic labeled data, a
// temporary SQLite feature store and a temporary model directory. No
// external services are required.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/opensource-security/shrike/internal/datagen"
	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ensemble"
	"github.com/opensource-security/shrike/internal/features"
	"github.com/opensource-security/shrike/internal/featurestore"
	"github.com/opensource-security/shrike/internal/ingest"
	"github.com/opensource-security/shrike/internal/metrics"
	"github.com/opensource-security/shrike/internal/modelstore"
	"github.com/opensource-security/shrike/internal/trainer"
)

func testConfig(t *testing.T) *domain.Config {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Models.Dir = t.TempDir()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "features.db")
	return cfg
}

func TestPipelineEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	store, err := featurestore.New(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	models, err := modelstore.New(cfg.Models)
	if err != nil {
		t.Fatal(err)
	}
	engineer, err := features.NewEngineer(cfg.Features, store)
	if err != nil {
		t.Fatal(err)
	}

	// Train on mostly-normal traffic, then score a fresh batch with a
	// known attack fraction.
	trainTbl := datagen.New(1).Generate(150, 10)
	trainFrame, err := engineer.Transform(trainTbl)
	if err != nil {
		t.Fatal(err)
	}

	tr := trainer.New(cfg.Models, models)
	trained, err := tr.TrainAll(ctx, trainFrame.Matrix(), trainTbl.Labels())
	if err != nil {
		t.Fatal(err)
	}
	if len(trained) != len(cfg.Models.Enabled) {
		t.Fatalf("trained %d detectors, want %d", len(trained), len(cfg.Models.Enabled))
	}

	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		t.Fatal(err)
	}
	ens.LoadModels(trained)

	scoreTbl := datagen.New(2).Generate(40, 12)
	scoreFrame, err := engineer.Transform(scoreTbl)
	if err != nil {
		t.Fatal(err)
	}

	verdicts, err := ens.Detect(ctx, scoreFrame.Matrix())
	if err != nil {
		t.Fatal(err)
	}
	if verdicts.Degraded {
		t.Fatal("verdict degraded with trained models")
	}
	if len(verdicts.IsAnomaly) != scoreTbl.Len() {
		t.Fatalf("got %d verdicts for %d events", len(verdicts.IsAnomaly), scoreTbl.Len())
	}

	report, err := metrics.Evaluate(verdicts.IsAnomaly, scoreTbl.Labels())
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("precision=%.3f recall=%.3f f1=%.3f anomaly_rate=%.3f",
		report.Precision, report.Recall, report.F1, report.AnomalyRate)

	// Attack sessions run off-hours with failed logins, privilege
	// escalation and bulk transfers; the ensemble should catch most of
	// them without flagging everything.
	if report.Recall < 0.5 {
		t.Errorf("recall %.3f, want at least 0.5", report.Recall)
	}
	if report.AnomalyRate > 0.9 {
		t.Errorf("anomaly rate %.3f, detector flags almost everything", report.AnomalyRate)
	}
}

func TestPipelinePersistenceRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	store, err := featurestore.New(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	models, err := modelstore.New(cfg.Models)
	if err != nil {
		t.Fatal(err)
	}
	engineer, err := features.NewEngineer(cfg.Features, store)
	if err != nil {
		t.Fatal(err)
	}

	tbl := datagen.New(7).Generate(100, 8)
	f, err := engineer.Transform(tbl)
	if err != nil {
		t.Fatal(err)
	}

	// Features survive a store round trip without reordering.
	if err := engineer.Save(ctx, "run-1", f); err != nil {
		t.Fatal(err)
	}
	loaded, err := engineer.Load(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Equal(f, 1e-9) {
		t.Fatal("loaded features differ from saved features")
	}

	// Detectors survive a model store round trip with identical
	// predictions.
	tr := trainer.New(cfg.Models, models)
	trained, err := tr.TrainAll(ctx, f.Matrix(), nil)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := tr.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded) != len(trained) {
		t.Fatalf("reloaded %d detectors, want %d", len(reloaded), len(trained))
	}

	X := f.Matrix()
	for name, d := range trained {
		want, err := d.Predict(X)
		if err != nil {
			t.Fatal(err)
		}
		got, err := reloaded[name].Predict(X)
		if err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: prediction %d changed after reload", name, i)
			}
		}
	}
}

func TestPipelineFromGeneratedFile(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	store, err := featurestore.New(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	path := filepath.Join(t.TempDir(), "events.json")
	if err := datagen.WriteJSON(path, datagen.New(3).Generate(50, 5)); err != nil {
		t.Fatal(err)
	}

	tbl, err := ingest.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Labels() == nil {
		t.Fatal("labels lost in file round trip")
	}

	engineer, err := features.NewEngineer(cfg.Features, store)
	if err != nil {
		t.Fatal(err)
	}
	f, err := engineer.Transform(tbl)
	if err != nil {
		t.Fatal(err)
	}
	if f.Rows() != tbl.Len() {
		t.Fatalf("feature rows %d for %d events", f.Rows(), tbl.Len())
	}

	models, err := modelstore.New(cfg.Models)
	if err != nil {
		t.Fatal(err)
	}
	tr := trainer.New(cfg.Models, models)
	trained, err := tr.TrainAll(ctx, f.Matrix(), tbl.Labels())
	if err != nil {
		t.Fatal(err)
	}

	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		t.Fatal(err)
	}
	ens.LoadModels(trained)

	verdicts, err := ens.Detect(ctx, f.Matrix())
	if err != nil {
		t.Fatal(err)
	}
	if verdicts.RunID == "" {
		t.Fatal("missing run id")
	}
}
