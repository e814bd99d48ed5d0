// Package worker provides async batch detection from the EventBus.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ensemble"
	"github.com/opensource-security/shrike/internal/features"
	"github.com/opensource-security/shrike/internal/ingest"
)

// Worker consumes event batches from the bus and runs them through the
// detection pipeline. It serves callers that cannot wait on the HTTP
// API: agents dump raw event batches on the ingestion topic and pick
// up verdict summaries from the detection topics.
type Worker struct {
	bus      domain.EventBus
	engineer *features.Engineer
	ensemble *ensemble.Ensemble
	store    domain.FeatureStore

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// SaveFeatures persists the computed feature frame of every batch
	// under its run ID.
	SaveFeatures bool
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, engineer *features.Engineer, ens *ensemble.Ensemble, store domain.FeatureStore) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		engineer: engineer,
		ensemble: ens,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start(cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventsIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, msg, cfg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("detection worker started", "topic", domain.TopicEventsIngested)
	return nil
}

// BatchResult is the message payload published after a batch is scored.
type BatchResult struct {
	RunID     string   `json:"runId"`
	MessageID string   `json:"messageId"`
	Rows      int      `json:"rows"`
	Anomalies int      `json:"anomalies"`
	Rate      float64  `json:"anomalyRate"`
	Degraded  bool     `json:"degraded"`
	Models    []string `json:"models"`
}

// processBatch scores one ingested batch. The payload is a JSON array
// of event objects, the same body shape POST /detect accepts.
func (w *Worker) processBatch(ctx context.Context, msg *domain.Message, cfg Config) error {
	start := time.Now()

	tbl, err := ingest.ReadJSON(bytes.NewReader(msg.Payload))
	if err != nil {
		slog.Error("failed to parse event batch",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	f, err := w.engineer.Transform(tbl)
	if err != nil {
		slog.Error("feature extraction failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	verdicts, err := w.ensemble.Detect(ctx, f.Matrix())
	if err != nil {
		slog.Error("detection failed",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if cfg.SaveFeatures && w.store != nil {
		name := fmt.Sprintf("run-%s", verdicts.RunID)
		if err := w.engineer.Save(ctx, name, f); err != nil {
			slog.Error("failed to save features",
				"run_id", verdicts.RunID,
				"error", err,
			)
		}
	}

	anomalies := verdicts.AnomalyCount()
	result := BatchResult{
		RunID:     verdicts.RunID,
		MessageID: msg.ID,
		Rows:      tbl.Len(),
		Anomalies: anomalies,
		Degraded:  verdicts.Degraded,
		Models:    verdicts.Models,
	}
	if tbl.Len() > 0 {
		result.Rate = float64(anomalies) / float64(tbl.Len())
	}

	payload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, domain.TopicDetectionCompleted, payload); err != nil {
		slog.Error("failed to publish detection result",
			"run_id", verdicts.RunID,
			"error", err,
		)
	}
	if anomalies > 0 {
		if err := w.bus.Publish(ctx, domain.TopicAnomaly, payload); err != nil {
			slog.Error("failed to publish anomaly event",
				"run_id", verdicts.RunID,
				"error", err,
			)
		}
	}

	slog.Info("batch processed",
		"run_id", verdicts.RunID,
		"rows", tbl.Len(),
		"anomalies", anomalies,
		"degraded", verdicts.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("detection worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
