// Package store implements the persisted sync state: profiles, events and
// profile batches. Every write is a scoped, filtered bulk UPDATE; forward-only
// status transitions are enforced in the WHERE clause so overlapping cycles
// cannot move state backwards.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/util"
	"gorm.io/gorm"
)

// ProfileStore tracks profile sync status per customer/subscriber record.
type ProfileStore struct {
	db *gorm.DB
}

// NewProfileStore returns a ProfileStore on the given database.
func NewProfileStore(gdb *gorm.DB) *ProfileStore {
	return &ProfileStore{db: gdb}
}

// FindOrCreate returns the single profile for (storeID, email), unifying any
// rows independently keyed by the customer or subscriber reference. The
// oldest matching row survives; duplicates are folded into it and deleted.
func (s *ProfileStore) FindOrCreate(storeID uint, email string, customerID, subscriberID *uint) (*models.Profile, error) {
	q := s.db.Where("store_id = ? AND email = ?", storeID, email)
	if customerID != nil {
		q = q.Or("store_id = ? AND customer_id = ?", storeID, *customerID)
	}
	if subscriberID != nil {
		q = q.Or("store_id = ? AND subscriber_id = ?", storeID, *subscriberID)
	}

	var matches []models.Profile
	if err := q.Order("id ASC").Find(&matches).Error; err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		p := models.Profile{
			IntegrationUID:       uuid.New().String(),
			StoreID:              storeID,
			Email:                email,
			CustomerID:           customerID,
			SubscriberID:         subscriberID,
			IsCustomer:           customerID != nil,
			IsSubscriber:         subscriberID != nil,
			CustomerSyncStatus:   models.SyncStatusNA,
			SubscriberSyncStatus: models.SyncStatusNA,
		}
		if customerID != nil {
			p.CustomerSyncStatus = models.SyncStatusPending
		}
		if subscriberID != nil {
			p.SubscriberSyncStatus = models.SyncStatusPending
		}
		if err := s.db.Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}

	survivor := matches[0]
	for _, dup := range matches[1:] {
		if survivor.CustomerID == nil && dup.CustomerID != nil {
			survivor.CustomerID = dup.CustomerID
			survivor.IsCustomer = true
			survivor.CustomerSyncStatus = dup.CustomerSyncStatus
		}
		if survivor.SubscriberID == nil && dup.SubscriberID != nil {
			survivor.SubscriberID = dup.SubscriberID
			survivor.IsSubscriber = true
			survivor.SubscriberStatus = dup.SubscriberStatus
			survivor.SubscriberSyncStatus = dup.SubscriberSyncStatus
		}
		// Events recorded against the duplicate follow the survivor; every
		// event stays tied to exactly one live profile.
		if err := s.db.Model(&models.Event{}).
			Where("profile_id = ?", dup.ID).
			Update("profile_id", survivor.ID).Error; err != nil {
			return nil, err
		}
		if err := s.db.Delete(&models.Profile{}, dup.ID).Error; err != nil {
			return nil, err
		}
	}

	if customerID != nil && survivor.CustomerID == nil {
		survivor.CustomerID = customerID
		survivor.IsCustomer = true
		survivor.CustomerSyncStatus = models.SyncStatusPending
	}
	if subscriberID != nil && survivor.SubscriberID == nil {
		survivor.SubscriberID = subscriberID
		survivor.IsSubscriber = true
		survivor.SubscriberSyncStatus = models.SyncStatusPending
	}
	survivor.Email = email

	if err := s.db.Save(&survivor).Error; err != nil {
		return nil, err
	}
	return &survivor, nil
}

// Save persists an already-loaded profile.
func (s *ProfileStore) Save(p *models.Profile) error {
	return s.db.Save(p).Error
}

// GetByCustomerID loads the profile keyed by a customer reference, or nil.
func (s *ProfileStore) GetByCustomerID(storeID, customerID uint) (*models.Profile, error) {
	return s.getByRef("customer_id", storeID, customerID)
}

// GetBySubscriberID loads the profile keyed by a subscriber reference, or nil.
func (s *ProfileStore) GetBySubscriberID(storeID, subscriberID uint) (*models.Profile, error) {
	return s.getByRef("subscriber_id", storeID, subscriberID)
}

func (s *ProfileStore) getByRef(column string, storeID, refID uint) (*models.Profile, error) {
	var p models.Profile
	err := s.db.Where(fmt.Sprintf("store_id = ? AND %s = ?", column), storeID, refID).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID loads a profile by primary key, or nil.
func (s *ProfileStore) GetByID(id uint) (*models.Profile, error) {
	var p models.Profile
	err := s.db.First(&p, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByEmail loads the profile for (storeID, email), or nil.
func (s *ProfileStore) GetByEmail(storeID uint, email string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.Where("store_id = ? AND email = ?", storeID, email).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateCustomerStatus bulk-transitions the customer sync status of the
// given customer ids within a store. No-op on an empty id list. Transitions
// only move forward; FAILED is reachable from any non-terminal state.
func (s *ProfileStore) UpdateCustomerStatus(storeID uint, customerIDs []uint, status int, msg string) (int64, error) {
	return s.updateStatus("customer_id", "customer_sync_status", storeID, customerIDs, status, msg)
}

// UpdateSubscriberStatus is UpdateCustomerStatus for the subscriber side.
func (s *ProfileStore) UpdateSubscriberStatus(storeID uint, subscriberIDs []uint, status int, msg string) (int64, error) {
	return s.updateStatus("subscriber_id", "subscriber_sync_status", storeID, subscriberIDs, status, msg)
}

func (s *ProfileStore) updateStatus(idColumn, statusColumn string, storeID uint, ids []uint, status int, msg string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	updates := map[string]interface{}{
		statusColumn: status,
		"updated_at": time.Now().UTC(),
	}
	if msg != "" {
		updates["error_message"] = util.Truncate(msg)
	}

	q := s.db.Model(&models.Profile{}).
		Where("store_id = ?", storeID).
		Where(fmt.Sprintf("%s IN ?", idColumn), ids)
	if status == models.SyncStatusFailed {
		q = q.Where(fmt.Sprintf("%s NOT IN ?", statusColumn),
			[]int{models.SyncStatusSynced, models.SyncStatusFailed})
	} else {
		q = q.Where(fmt.Sprintf("%s < ?", statusColumn), status)
	}

	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

// ResetFilter narrows a bulk reset. Empty fields match everything.
type ResetFilter struct {
	StoreIDs     []uint
	IDs          []uint
	StatusEquals *int // matches either sync status column
}

// ResetSyncStatus sets both sync statuses back to PENDING (NOT_APPLICABLE
// for profiles without the matching flag), clears error messages and drops
// any not-yet-committed topic subscription. This is the only way out of
// FAILED.
func (s *ProfileStore) ResetSyncStatus(f ResetFilter) (int64, error) {
	q := s.db.Model(&models.Profile{})
	if len(f.StoreIDs) > 0 {
		q = q.Where("store_id IN ?", f.StoreIDs)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.StatusEquals != nil {
		q = q.Where("customer_sync_status = ? OR subscriber_sync_status = ?", *f.StatusEquals, *f.StatusEquals)
	}

	res := q.Updates(map[string]interface{}{
		"customer_sync_status": gorm.Expr(
			"CASE WHEN is_customer THEN ? ELSE ? END",
			models.SyncStatusPending, models.SyncStatusNA),
		"subscriber_sync_status": gorm.Expr(
			"CASE WHEN is_subscriber THEN ? ELSE ? END",
			models.SyncStatusPending, models.SyncStatusNA),
		"error_message":      "",
		"topic_subscription": gorm.Expr("NULL"),
		"updated_at":         time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

// CollectForBatch returns profiles of the given batch type awaiting their
// first sync, oldest first, capped at limit.
func (s *ProfileStore) CollectForBatch(storeID uint, batchType, limit int) ([]models.Profile, error) {
	q := s.db.Where("store_id = ?", storeID).Order("id ASC").Limit(limit)
	switch batchType {
	case models.BatchTypeCustomer:
		q = q.Where("is_customer = ? AND customer_sync_status = ?", true, models.SyncStatusPending)
	case models.BatchTypeSubscriber:
		q = q.Where("is_subscriber = ? AND subscriber_sync_status = ?", true, models.SyncStatusPending)
	default:
		return nil, fmt.Errorf("unknown batch type %d", batchType)
	}

	var profiles []models.Profile
	err := q.Find(&profiles).Error
	return profiles, err
}

// ListByStore returns profiles for the ops API, optionally filtered to rows
// where either sync status matches.
func (s *ProfileStore) ListByStore(storeID uint, status *int) ([]models.Profile, error) {
	q := s.db.Where("store_id = ?", storeID).Order("id ASC")
	if status != nil {
		q = q.Where("customer_sync_status = ? OR subscriber_sync_status = ?", *status, *status)
	}
	var profiles []models.Profile
	err := q.Find(&profiles).Error
	return profiles, err
}
