package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-security/shrike/internal/bus"
	"github.com/opensource-security/shrike/internal/datagen"
	"github.com/opensource-security/shrike/internal/domain"
	"github.com/opensource-security/shrike/internal/ensemble"
	"github.com/opensource-security/shrike/internal/features"
)

func testWorker(t *testing.T) (*Worker, *bus.ChannelBus) {
	t.Helper()
	cfg := domain.DefaultConfig()

	engineer, err := features.NewEngineer(cfg.Features, nil)
	if err != nil {
		t.Fatal(err)
	}
	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		t.Fatal(err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	return NewWorker(eventBus, engineer, ens, nil), eventBus
}

func batchPayload(t *testing.T, normal, attacks int) []byte {
	t.Helper()
	tbl := datagen.New(9).Generate(normal, attacks)
	data, err := json.Marshal(tbl.Events)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWorkerProcessesBatch(t *testing.T) {
	w, eventBus := testWorker(t)
	ctx := context.Background()

	results := make(chan BatchResult, 1)
	_, err := eventBus.Subscribe(ctx, domain.TopicDetectionCompleted, func(ctx context.Context, msg *domain.Message) error {
		var res BatchResult
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			return err
		}
		results <- res
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Start(Config{}); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	payload := batchPayload(t, 10, 0)
	if err := eventBus.Publish(ctx, domain.TopicEventsIngested, payload); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-results:
		if res.Rows == 0 {
			t.Error("result has no rows")
		}
		if !res.Degraded {
			t.Error("expected degraded result with no trained models")
		}
		if res.RunID == "" {
			t.Error("missing run id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for detection result")
	}
}

func TestWorkerStop(t *testing.T) {
	w, _ := testWorker(t)
	if err := w.Start(Config{}); err != nil {
		t.Fatal(err)
	}
	if got := w.GetStats().SubscriptionCount; got != 1 {
		t.Fatalf("subscriptions: got %d, want 1", got)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Fatalf("subscriptions after stop: got %d, want 0", got)
	}
}
