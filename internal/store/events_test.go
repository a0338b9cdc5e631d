package store

import (
	"testing"

	"github.com/marketbridge/apsis-sync/internal/db/models"
)

func recordEvent(t *testing.T, s *EventStore, storeID uint, email string, typ int) uint {
	t.Helper()
	id, err := s.Record(&models.Event{
		Type:    typ,
		Payload: `{"k":"v"}`,
		StoreID: storeID,
		Email:   email,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	return id
}

func TestRecordSetsPending(t *testing.T) {
	s := NewEventStore(newTestDB(t))
	id := recordEvent(t, s, 1, "a@example.com", models.EventTypeOrderPlaced)
	if id == 0 {
		t.Fatal("Record returned zero id")
	}

	pending, err := s.PendingForStore(1, 10)
	if err != nil {
		t.Fatalf("PendingForStore failed: %v", err)
	}
	if len(pending) != 1 || pending[0].SyncStatus != models.SyncStatusPending {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestPendingForStoreOrderAndLimit(t *testing.T) {
	s := NewEventStore(newTestDB(t))
	first := recordEvent(t, s, 1, "a@example.com", models.EventTypeOrderPlaced)
	recordEvent(t, s, 1, "a@example.com", models.EventTypeProductCarted)
	recordEvent(t, s, 2, "b@example.com", models.EventTypeOrderPlaced)

	pending, _ := s.PendingForStore(1, 1)
	if len(pending) != 1 || pending[0].ID != first {
		t.Fatalf("expected oldest event first, got %+v", pending)
	}
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	s := NewEventStore(newTestDB(t))
	id := recordEvent(t, s, 1, "a@example.com", models.EventTypeOrderPlaced)

	n, err := s.UpdateStatus([]uint{id}, models.SyncStatusSynced, "")
	if err != nil || n != 1 {
		t.Fatalf("PENDING->SYNCED = (%d, %v)", n, err)
	}
	n, _ = s.UpdateStatus([]uint{id}, models.SyncStatusFailed, "late failure")
	if n != 0 {
		t.Fatalf("SYNCED->FAILED = %d rows, want 0", n)
	}
	if n, _ := s.UpdateStatus(nil, models.SyncStatusSynced, ""); n != 0 {
		t.Fatal("empty ids must be a no-op")
	}
}

func TestUpdateEmailBackfill(t *testing.T) {
	s := NewEventStore(newTestDB(t))
	recordEvent(t, s, 1, "old@example.com", models.EventTypeOrderPlaced)
	recordEvent(t, s, 1, "old@example.com", models.EventTypeProductCarted)
	recordEvent(t, s, 1, "other@example.com", models.EventTypeOrderPlaced)

	n, err := s.UpdateEmail("old@example.com", "new@example.com")
	if err != nil || n != 2 {
		t.Fatalf("UpdateEmail = (%d, %v), want 2 rows", n, err)
	}

	var count int64
	s.db.Model(&models.Event{}).Where("email = ?", "new@example.com").Count(&count)
	if count != 2 {
		t.Fatalf("events with new email = %d, want 2", count)
	}
}

func TestResetFailed(t *testing.T) {
	s := NewEventStore(newTestDB(t))
	failed := recordEvent(t, s, 1, "a@example.com", models.EventTypeOrderPlaced)
	synced := recordEvent(t, s, 1, "a@example.com", models.EventTypeProductCarted)
	s.UpdateStatus([]uint{failed}, models.SyncStatusFailed, "boom")
	s.UpdateStatus([]uint{synced}, models.SyncStatusSynced, "")

	n, err := s.ResetFailed(EventResetFilter{StoreIDs: []uint{1}})
	if err != nil || n != 1 {
		t.Fatalf("ResetFailed = (%d, %v), want 1 row", n, err)
	}

	var e models.Event
	s.db.First(&e, failed)
	if e.SyncStatus != models.SyncStatusPending || e.ErrorMessage != "" {
		t.Fatalf("reset event = %+v", e)
	}
}

func TestDeleteByIDs(t *testing.T) {
	s := NewEventStore(newTestDB(t))
	id1 := recordEvent(t, s, 1, "a@example.com", models.EventTypeOrderPlaced)
	recordEvent(t, s, 1, "a@example.com", models.EventTypeProductCarted)

	n, err := s.DeleteByIDs([]uint{id1})
	if err != nil || n != 1 {
		t.Fatalf("DeleteByIDs = (%d, %v)", n, err)
	}
	if n, _ := s.DeleteByIDs(nil); n != 0 {
		t.Fatal("empty ids must be a no-op")
	}
}
