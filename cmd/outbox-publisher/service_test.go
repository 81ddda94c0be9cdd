package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/pkg/config"
	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/outbox"
)

type stubResult struct {
	err error
}

func (r stubResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

type stubPublisher struct {
	mu       sync.Mutex
	messages []*gcppubsub.Message
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return stubResult{err: p.err}
}

func (p *stubPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newPublisherService(t *testing.T, pub publisher) (*Service, *gorm.DB) {
	t.Helper()

	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{}
	cfg.Outbox.BatchSize = 10
	cfg.Outbox.MaxAttempts = 3

	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}),
		DB:         okPinger{},
		Repository: outbox.NewRepository(db),
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func seedEvent(t *testing.T, db *gorm.DB, attempts int) uuid.UUID {
	t.Helper()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.OutboxEventStockAdjusted,
		AggregateType: enums.OutboxAggregateStockLevel,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		AttemptCount:  attempts,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event.ID
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{}
	svc, db := newPublisherService(t, pub)
	id := seedEvent(t, db, 0)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}
	if pub.published() != 1 {
		t.Fatalf("expected 1 publish, got %d", pub.published())
	}

	var row models.OutboxEvent
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if row.PublishedAt == nil {
		t.Fatal("event must be marked published")
	}

	msg := pub.messages[0]
	if msg.Attributes["event_type"] != string(enums.OutboxEventStockAdjusted) {
		t.Fatalf("unexpected event_type attribute %q", msg.Attributes["event_type"])
	}
}

func TestProcessBatchMarksFailuresAndContinues(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{err: errors.New("topic unavailable")}
	svc, db := newPublisherService(t, pub)
	first := seedEvent(t, db, 0)
	second := seedEvent(t, db, 0)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}
	if pub.published() != 2 {
		t.Fatalf("one failure must not stall the batch, got %d publishes", pub.published())
	}

	for _, id := range []uuid.UUID{first, second} {
		var row models.OutboxEvent
		if err := db.First(&row, "id = ?", id).Error; err != nil {
			t.Fatalf("load event: %v", err)
		}
		if row.PublishedAt != nil {
			t.Fatal("failed event must stay unpublished")
		}
		if row.AttemptCount != 1 {
			t.Fatalf("expected attempt_count 1, got %d", row.AttemptCount)
		}
		if row.LastError == nil || *row.LastError == "" {
			t.Fatal("failure must record last_error")
		}
	}
}

func TestProcessBatchSkipsEventsAtAttemptCeiling(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{}
	svc, db := newPublisherService(t, pub)
	seedEvent(t, db, 3)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatal("events at the attempt ceiling must not be fetched")
	}
	if pub.published() != 0 {
		t.Fatalf("expected no publishes, got %d", pub.published())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	pub := &stubPublisher{}
	svc, _ := newPublisherService(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
