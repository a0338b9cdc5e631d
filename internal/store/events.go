package store

import (
	"time"

	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/util"
	"gorm.io/gorm"
)

// EventStore tracks behavioral event rows awaiting sync.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore returns an EventStore on the given database.
func NewEventStore(gdb *gorm.DB) *EventStore {
	return &EventStore{db: gdb}
}

// Record appends one immutable event row and returns its id.
func (s *EventStore) Record(e *models.Event) (uint, error) {
	e.SyncStatus = models.SyncStatusPending
	if err := s.db.Create(e).Error; err != nil {
		return 0, err
	}
	return e.ID, nil
}

// PendingForStore returns events awaiting sync, oldest first, capped at
// limit.
func (s *EventStore) PendingForStore(storeID uint, limit int) ([]models.Event, error) {
	var events []models.Event
	err := s.db.Where("store_id = ? AND sync_status = ?", storeID, models.SyncStatusPending).
		Order("id ASC").Limit(limit).Find(&events).Error
	return events, err
}

// UpdateStatus bulk-transitions events. No-op on an empty id list; same
// forward-only contract as profiles.
func (s *EventStore) UpdateStatus(ids []uint, status int, msg string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	updates := map[string]interface{}{
		"sync_status": status,
		"updated_at":  time.Now().UTC(),
	}
	if msg != "" {
		updates["error_message"] = util.Truncate(msg)
	}

	q := s.db.Model(&models.Event{}).Where("id IN ?", ids)
	if status == models.SyncStatusFailed {
		q = q.Where("sync_status NOT IN ?", []int{models.SyncStatusSynced, models.SyncStatusFailed})
	} else {
		q = q.Where("sync_status < ?", status)
	}

	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

// UpdateEmail backfills the event email column when a profile's email
// changes post-hoc. This is the only mutation synced events ever receive.
func (s *EventStore) UpdateEmail(oldEmail, newEmail string) (int64, error) {
	res := s.db.Model(&models.Event{}).
		Where("email = ?", oldEmail).
		Updates(map[string]interface{}{
			"email":      newEmail,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// EventResetFilter narrows a failed-event reset.
type EventResetFilter struct {
	StoreIDs []uint
	IDs      []uint
}

// ResetFailed moves FAILED events back to PENDING and clears their error
// messages.
func (s *EventStore) ResetFailed(f EventResetFilter) (int64, error) {
	q := s.db.Model(&models.Event{}).Where("sync_status = ?", models.SyncStatusFailed)
	if len(f.StoreIDs) > 0 {
		q = q.Where("store_id IN ?", f.StoreIDs)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}

	res := q.Updates(map[string]interface{}{
		"sync_status":   models.SyncStatusPending,
		"error_message": "",
		"updated_at":    time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

// DeleteByIDs removes event rows outright (ops mass-delete).
func (s *EventStore) DeleteByIDs(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.Delete(&models.Event{}, ids)
	return res.RowsAffected, res.Error
}
