package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate outbox: %v", err)
	}
	return db
}

func TestEmitPersistsEnvelopeInsideTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	ctx := context.Background()
	aggregateID := uuid.New()
	actorID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.OutboxEventStockAdjusted,
			AggregateType: enums.OutboxAggregateStockLevel,
			AggregateID:   aggregateID,
			Actor:         &ActorRef{UserID: actorID, Role: "manager"},
			Data:          map[string]any{"delta": 5},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch unpublished: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rows))
	}
	row := rows[0]
	if row.EventType != enums.OutboxEventStockAdjusted {
		t.Fatalf("unexpected event type %s", row.EventType)
	}
	if row.AggregateID != aggregateID {
		t.Fatalf("unexpected aggregate id %s", row.AggregateID)
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != 1 {
		t.Fatalf("expected version 1, got %d", envelope.Version)
	}
	if envelope.EventID == "" || envelope.OccurredAt.IsZero() {
		t.Fatalf("incomplete envelope: %+v", envelope)
	}
	if envelope.Actor == nil || envelope.Actor.UserID != actorID {
		t.Fatalf("actor not recorded: %+v", envelope.Actor)
	}
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	wantErr := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventTransferCreated,
			AggregateType: enums.OutboxAggregateTransfer,
			AggregateID:   uuid.New(),
			Data:          map[string]any{"code": "TR-1"},
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch unpublished: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no events after rollback, got %d", len(rows))
	}
}

func TestMarkPublishedAndFailed(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventStockReserved,
			AggregateType: enums.OutboxAggregateStockLevel,
			AggregateID:   uuid.New(),
			Data:          map[string]any{"qty": 2},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("fetch unpublished: %v (%d rows)", err, len(rows))
	}
	id := rows[0].ID

	if err := repo.MarkFailed(id, errors.New("publish timeout")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var row models.OutboxEvent
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if row.AttemptCount != 1 || row.LastError == nil || *row.LastError != "publish timeout" {
		t.Fatalf("failure not recorded: %+v", row)
	}

	if err := repo.MarkPublished(id); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	rows, err = repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch unpublished: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected published event to drop out, got %d rows", len(rows))
	}
}
