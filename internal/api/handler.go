package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ensemble"
	"github.com/opensource-security/shrike/internal/features"
	"github.com/opensource-security/shrike/internal/ingest"
	"github.com/opensource-security/shrike/internal/modelstore"
	"github.com/opensource-security/shrike/internal/trainer"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engineer *features.Engineer
	ensemble *ensemble.Ensemble
	trainer  *trainer.Trainer
	models   *modelstore.Store
	store    domain.FeatureStore
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(engineer *features.Engineer, ens *ensemble.Ensemble, tr *trainer.Trainer, models *modelstore.Store, store domain.FeatureStore, bus domain.EventBus, version string) *Handler {
	return &Handler{
		engineer: engineer,
		ensemble: ens,
		trainer:  tr,
		models:   models,
		store:    store,
		bus:      bus,
		version:  version,
	}
}

// DetectResponse is the response for POST /detect.
type DetectResponse struct {
	RunID     string `json:"runId"`
	Rows      int    `json:"rows"`
	Anomalies int    `json:"anomalies"`
	Degraded  bool   `json:"degraded,omitempty"`

	Models             []string             `json:"models"`
	EnsemblePrediction []int                `json:"ensemblePrediction"`
	EnsembleScore      []float64            `json:"ensembleScore"`
	IsAnomaly          []bool               `json:"isAnomaly"`
	Predictions        map[string][]int     `json:"predictions"`
	Scores             map[string][]float64 `json:"scores"`

	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// detectionEvent is the payload published on the detection topics.
type detectionEvent struct {
	RunID     string  `json:"run_id"`
	Rows      int     `json:"rows"`
	Anomalies int     `json:"anomalies"`
	Rate      float64 `json:"anomaly_rate"`
	Degraded  bool    `json:"degraded"`
}

// Detect handles POST /detect: a JSON array of events in, one verdict
// per event out.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	tbl, err := ingest.ReadJSON(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f, err := h.engineer.Transform(tbl)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	verdicts, err := h.ensemble.Detect(ctx, f.Matrix())
	if err != nil {
		status := http.StatusInternalServerError
		if err == domain.ErrNoModels {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	h.publishVerdicts(ctx, verdicts)

	resp := DetectResponse{
		RunID:              verdicts.RunID,
		Rows:               verdicts.Rows(),
		Anomalies:          verdicts.AnomalyCount(),
		Degraded:           verdicts.Degraded,
		Models:             verdicts.Models,
		EnsemblePrediction: verdicts.EnsemblePrediction,
		EnsembleScore:      verdicts.EnsembleScore,
		IsAnomaly:          verdicts.IsAnomaly,
		Predictions:        verdicts.Predictions,
		Scores:             verdicts.Scores,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// publishVerdicts emits the run summary, and an anomaly event when
// anything was flagged. Publishing is best effort.
func (h *Handler) publishVerdicts(ctx context.Context, verdicts *domain.Verdicts) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(detectionEvent{
		RunID:     verdicts.RunID,
		Rows:      verdicts.Rows(),
		Anomalies: verdicts.AnomalyCount(),
		Rate:      float64(verdicts.AnomalyCount()) / float64(verdicts.Rows()),
		Degraded:  verdicts.Degraded,
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicDetectionCompleted, payload); err != nil {
		slog.Warn("failed to publish detection event", "error", err)
	}
	if verdicts.AnomalyCount() > 0 {
		if err := h.bus.Publish(ctx, domain.TopicAnomaly, payload); err != nil {
			slog.Warn("failed to publish anomaly event", "error", err)
		}
	}
}

// TrainResponse is the response for POST /train.
type TrainResponse struct {
	Trained []string `json:"trained"`
	Rows    int      `json:"rows"`
}

// Train handles POST /train: a JSON array of (optionally labeled)
// events in; fitted and persisted detectors out, registered with the
// ensemble on success.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tbl, err := ingest.ReadJSON(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	f, err := h.engineer.Transform(tbl)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	trained, err := h.trainer.TrainAll(ctx, f.Matrix(), tbl.Labels())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.ensemble.LoadModels(trained)

	resp := TrainResponse{Rows: tbl.Len()}
	for name := range trained {
		resp.Trained = append(resp.Trained, name)
	}
	sort.Strings(resp.Trained)

	if h.bus != nil {
		for _, name := range resp.Trained {
			payload, _ := json.Marshal(map[string]any{"model": name, "rows": tbl.Len()})
			if err := h.bus.Publish(ctx, domain.TopicModelTrained, payload); err != nil {
				slog.Warn("failed to publish model event", "model", name, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ModelsResponse is the response for GET /models.
type ModelsResponse struct {
	Registered []string `json:"registered"`
	Stored     []string `json:"stored"`
}

// ListModels handles GET /models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	stored, err := h.models.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ModelsResponse{
		Registered: h.ensemble.Models(),
		Stored:     stored,
	})
}

// ListFeatureSets handles GET /featuresets.
func (h *Handler) ListFeatureSets(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListFeatureSets(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"featureSets": names})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready handles GET /ready: the service is ready when its feature store
// and bus respond.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{}
	ready := true

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			ready = false
		} else {
			checks["store"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			checks["bus"] = err.Error()
			ready = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
