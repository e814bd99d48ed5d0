package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-security/shrike/internal/bus"
	"github.com/opensource-security/shrike/internal/datagen"
	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ensemble"
	"github.com/opensource-security/shrike/internal/features"
	"github.com/opensource-security/shrike/internal/featurestore"
	"github.com/opensource-security/shrike/internal/modelstore"
	"github.com/opensource-security/shrike/internal/trainer"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Models.Dir = t.TempDir()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "features.db")

	store, err := featurestore.New(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	models, err := modelstore.New(cfg.Models)
	if err != nil {
		t.Fatal(err)
	}
	engineer, err := features.NewEngineer(cfg.Features, store)
	if err != nil {
		t.Fatal(err)
	}
	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		t.Fatal(err)
	}
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	tr := trainer.New(cfg.Models, models)
	return NewServer(cfg.Server, engineer, ens, tr, models, store, eventBus, "test")
}

func eventsBody(t *testing.T, normal, attacks int) *bytes.Buffer {
	t.Helper()
	tbl := datagen.New(42).Generate(normal, attacks)
	data, err := json.Marshal(tbl.Events)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(data)
}

func doRequest(t *testing.T, s *Server, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Fatalf("body: %v", resp)
	}
}

func TestReady(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDetectWithoutModelsIsDegraded(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/detect", eventsBody(t, 10, 0))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded {
		t.Error("expected degraded verdict with no models")
	}
	if resp.Anomalies != 0 {
		t.Errorf("anomalies in degraded verdict: %d", resp.Anomalies)
	}
}

func TestDetectRejectsInvalidBody(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/detect", bytes.NewBufferString("not json"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestTrainThenDetect(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/train", eventsBody(t, 100, 10))
	if rec.Code != http.StatusOK {
		t.Fatalf("train status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var trainResp TrainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &trainResp); err != nil {
		t.Fatal(err)
	}
	if len(trainResp.Trained) == 0 {
		t.Fatal("no detectors trained")
	}

	rec = doRequest(t, s, http.MethodPost, "/detect", eventsBody(t, 20, 5))
	if rec.Code != http.StatusOK {
		t.Fatalf("detect status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var resp DetectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Degraded {
		t.Error("verdict degraded after training")
	}
	if resp.RunID == "" {
		t.Error("missing run id")
	}
	if len(resp.IsAnomaly) != resp.Rows {
		t.Errorf("rows %d but %d verdicts", resp.Rows, len(resp.IsAnomaly))
	}
	for _, name := range resp.Models {
		if len(resp.Predictions[name]) != resp.Rows {
			t.Errorf("model %s predictions not row-aligned", name)
		}
	}
}

func TestListModels(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var before ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &before); err != nil {
		t.Fatal(err)
	}
	if len(before.Registered) != 0 {
		t.Fatalf("registered before training: %v", before.Registered)
	}

	if rec := doRequest(t, s, http.MethodPost, "/train", eventsBody(t, 100, 10)); rec.Code != http.StatusOK {
		t.Fatalf("train status: got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/models", nil)
	var after ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatal(err)
	}
	if len(after.Registered) == 0 || len(after.Stored) == 0 {
		t.Fatalf("models missing after training: %+v", after)
	}
}

func TestListFeatureSets(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/featuresets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var resp map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["featureSets"] == nil {
		t.Fatal("missing featureSets key")
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}
