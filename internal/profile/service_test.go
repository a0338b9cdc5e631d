package profile

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	gdb      *gorm.DB
	profiles *store.ProfileStore
	events   *store.EventStore
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Profile{}, &models.Event{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	profiles := store.NewProfileStore(gdb)
	events := store.NewEventStore(gdb)
	return &fixture{
		gdb:      gdb,
		profiles: profiles,
		events:   events,
		svc:      NewService(profiles, events),
	}
}

func (f *fixture) countEvents(t *testing.T, typ int) int64 {
	t.Helper()
	var n int64
	f.gdb.Model(&models.Event{}).Where("type = ?", typ).Count(&n)
	return n
}

func TestApplyCustomerCreatesProfile(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.ApplyCustomer(context.Background(), 1, 10, "a@example.com")
	if err != nil {
		t.Fatalf("ApplyCustomer failed: %v", err)
	}
	if !p.IsCustomer || p.CustomerSyncStatus != models.SyncStatusPending {
		t.Fatalf("profile = %+v", p)
	}
	// No subscriber side, so no lifecycle event.
	if n := f.countEvents(t, models.EventTypeSubscriberBecomesCustomer); n != 0 {
		t.Fatalf("unexpected lifecycle events: %d", n)
	}
}

func TestApplyCustomerEmailChangeBackfillsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, _ := f.svc.ApplyCustomer(ctx, 1, 10, "old@example.com")
	f.svc.RecordEvent(ctx, p, models.EventTypeOrderPlaced, map[string]interface{}{"order_id": "1"}, nil)

	// Mark the profile synced, then change the email.
	f.profiles.UpdateCustomerStatus(1, []uint{10}, models.SyncStatusSynced, "")
	f.events.UpdateStatus([]uint{1}, models.SyncStatusSynced, "")

	p2, err := f.svc.ApplyCustomer(ctx, 1, 10, "new@example.com")
	if err != nil {
		t.Fatalf("ApplyCustomer failed: %v", err)
	}
	if p2.ID != p.ID {
		t.Fatal("email change must not create a second profile")
	}
	if p2.Email != "new@example.com" {
		t.Fatalf("email = %q", p2.Email)
	}
	if p2.CustomerSyncStatus != models.SyncStatusPending {
		t.Fatalf("status = %d, want PENDING after email change", p2.CustomerSyncStatus)
	}

	var e models.Event
	f.gdb.First(&e)
	if e.Email != "new@example.com" {
		t.Fatalf("event email = %q, want backfilled address", e.Email)
	}
}

func TestApplySubscriberUnsubscribeRecordsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.ApplySubscriber(ctx, 1, 20, "s@example.com", models.SubscriberStatusSubscribed)
	if err != nil {
		t.Fatalf("ApplySubscriber failed: %v", err)
	}
	if p.SubscriberStatus != models.SubscriberStatusSubscribed {
		t.Fatalf("subscriber status = %d", p.SubscriberStatus)
	}
	if n := f.countEvents(t, models.EventTypeSubscriberUnsubscribe); n != 0 {
		t.Fatalf("unexpected unsubscribe events: %d", n)
	}

	p, err = f.svc.ApplySubscriber(ctx, 1, 20, "s@example.com", models.SubscriberStatusUnsubscribed)
	if err != nil {
		t.Fatalf("second ApplySubscriber failed: %v", err)
	}
	if p.SubscriberStatus != models.SubscriberStatusUnsubscribed {
		t.Fatalf("subscriber status = %d", p.SubscriberStatus)
	}
	if n := f.countEvents(t, models.EventTypeSubscriberUnsubscribe); n != 1 {
		t.Fatalf("unsubscribe events = %d, want 1", n)
	}
}

func TestSubscriberBecomesCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.ApplySubscriber(ctx, 1, 20, "x@example.com", models.SubscriberStatusSubscribed)
	p, err := f.svc.ApplyCustomer(ctx, 1, 10, "x@example.com")
	if err != nil {
		t.Fatalf("ApplyCustomer failed: %v", err)
	}
	if !p.IsCustomer || !p.IsSubscriber {
		t.Fatalf("flags = customer:%v subscriber:%v", p.IsCustomer, p.IsSubscriber)
	}
	if n := f.countEvents(t, models.EventTypeSubscriberBecomesCustomer); n != 1 {
		t.Fatalf("lifecycle events = %d, want 1", n)
	}

	// Applying the same customer again must not repeat the event.
	f.svc.ApplyCustomer(ctx, 1, 10, "x@example.com")
	if n := f.countEvents(t, models.EventTypeSubscriberBecomesCustomer); n != 1 {
		t.Fatalf("lifecycle events = %d after re-apply, want 1", n)
	}
}

func TestCustomerBecomesSubscriber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.ApplyCustomer(ctx, 1, 10, "x@example.com")
	_, err := f.svc.ApplySubscriber(ctx, 1, 20, "x@example.com", models.SubscriberStatusSubscribed)
	if err != nil {
		t.Fatalf("ApplySubscriber failed: %v", err)
	}
	if n := f.countEvents(t, models.EventTypeCustomerBecomesSubscriber); n != 1 {
		t.Fatalf("lifecycle events = %d, want 1", n)
	}
}

func TestRecordEventDedupWithinContext(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.ApplyCustomer(context.Background(), 1, 10, "a@example.com")

	ctx := WithDedup(context.Background())
	payload := map[string]interface{}{"order_id": "1001"}
	f.svc.RecordEvent(ctx, p, models.EventTypeOrderPlaced, payload, nil)
	f.svc.RecordEvent(ctx, p, models.EventTypeOrderPlaced, payload, nil)
	if n := f.countEvents(t, models.EventTypeOrderPlaced); n != 1 {
		t.Fatalf("events = %d, want duplicate suppressed", n)
	}

	// A fresh context is a fresh dedup scope.
	f.svc.RecordEvent(WithDedup(context.Background()), p, models.EventTypeOrderPlaced, payload, nil)
	if n := f.countEvents(t, models.EventTypeOrderPlaced); n != 2 {
		t.Fatalf("events = %d, want 2 across contexts", n)
	}
}

func TestRecordEventWithoutGuardAlwaysRecords(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.ApplyCustomer(context.Background(), 1, 10, "a@example.com")

	ctx := context.Background()
	f.svc.RecordEvent(ctx, p, models.EventTypeProductCarted, map[string]interface{}{"sku": "A"}, nil)
	f.svc.RecordEvent(ctx, p, models.EventTypeProductCarted, map[string]interface{}{"sku": "A"}, nil)
	if n := f.countEvents(t, models.EventTypeProductCarted); n != 2 {
		t.Fatalf("events = %d, want 2 without a guard", n)
	}
}

func TestRecordEventDropsUnserializablePayload(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.ApplyCustomer(context.Background(), 1, 10, "a@example.com")

	// NaN cannot be marshaled to JSON; the event is dropped silently.
	f.svc.RecordEvent(context.Background(), p, models.EventTypeOrderPlaced,
		map[string]interface{}{"total": math.NaN()}, nil)

	var n int64
	f.gdb.Model(&models.Event{}).Count(&n)
	if n != 0 {
		t.Fatalf("events = %d, want payload failure to drop the event", n)
	}
}
