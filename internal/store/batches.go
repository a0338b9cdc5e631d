package store

import (
	"encoding/json"
	"time"

	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/util"
	"gorm.io/gorm"
)

// BatchStore tracks bulk profile import jobs.
type BatchStore struct {
	db *gorm.DB
}

// NewBatchStore returns a BatchStore on the given database.
func NewBatchStore(gdb *gorm.DB) *BatchStore {
	return &BatchStore{db: gdb}
}

// Register creates a PENDING batch for a freshly staged CSV file.
func (s *BatchStore) Register(storeID uint, batchType int, filePath string, entityIDs []uint, mappings []string) (*models.ProfileBatch, error) {
	jsonMappings, err := json.Marshal(mappings)
	if err != nil {
		return nil, err
	}

	b := models.ProfileBatch{
		StoreID:      storeID,
		BatchType:    batchType,
		FilePath:     filePath,
		EntityIDs:    models.JoinEntityIDs(entityIDs),
		JSONMappings: string(jsonMappings),
		SyncStatus:   models.SyncStatusPending,
	}
	if err := s.db.Create(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// PendingForStore returns PENDING batches, oldest first.
func (s *BatchStore) PendingForStore(storeID uint) ([]models.ProfileBatch, error) {
	return s.byStatus(storeID, models.SyncStatusPending)
}

// ProcessingForStore returns PROCESSING batches, oldest first.
func (s *BatchStore) ProcessingForStore(storeID uint) ([]models.ProfileBatch, error) {
	return s.byStatus(storeID, models.SyncStatusProcessing)
}

func (s *BatchStore) byStatus(storeID uint, status int) ([]models.ProfileBatch, error) {
	var batches []models.ProfileBatch
	err := s.db.Where("store_id = ? AND sync_status = ?", storeID, status).
		Order("id ASC").Find(&batches).Error
	return batches, err
}

// ListByStore returns all batches for the ops API, newest first.
func (s *BatchStore) ListByStore(storeID uint) ([]models.ProfileBatch, error) {
	var batches []models.ProfileBatch
	err := s.db.Where("store_id = ?", storeID).Order("id DESC").Find(&batches).Error
	return batches, err
}

// MarkProcessing transitions a batch to PROCESSING once its file upload was
// accepted, recording the remote import id and the upload-URL expiry.
func (s *BatchStore) MarkProcessing(b *models.ProfileBatch, importID string, uploadExpiresAt *time.Time) error {
	return s.db.Model(b).Updates(map[string]interface{}{
		"sync_status":            models.SyncStatusProcessing,
		"import_id":              importID,
		"file_upload_expires_at": uploadExpiresAt,
		"updated_at":             time.Now().UTC(),
	}).Error
}

// UpdateStatus transitions a batch, recording the error message when given.
func (s *BatchStore) UpdateStatus(b *models.ProfileBatch, status int, msg string) error {
	updates := map[string]interface{}{
		"sync_status": status,
		"updated_at":  time.Now().UTC(),
	}
	if msg != "" {
		updates["error_message"] = util.Truncate(msg)
	}
	return s.db.Model(b).Updates(updates).Error
}

// IncrementPollAttempts counts one more cycle that left the batch
// non-terminal, returning the new count.
func (s *BatchStore) IncrementPollAttempts(b *models.ProfileBatch) (int, error) {
	err := s.db.Model(b).Update("poll_attempts", gorm.Expr("poll_attempts + 1")).Error
	if err != nil {
		return b.PollAttempts, err
	}
	b.PollAttempts++
	return b.PollAttempts, nil
}

// ResetFailed moves FAILED batches for a store back to PENDING so the next
// cycle re-initializes the import from the staged file.
func (s *BatchStore) ResetFailed(storeID uint) (int64, error) {
	res := s.db.Model(&models.ProfileBatch{}).
		Where("store_id = ? AND sync_status = ?", storeID, models.SyncStatusFailed).
		Updates(map[string]interface{}{
			"sync_status":   models.SyncStatusPending,
			"import_id":     gorm.Expr("NULL"),
			"poll_attempts": 0,
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
