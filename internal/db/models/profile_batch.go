package models

import (
	"strconv"
	"strings"
	"time"
)

// Batch types.
const (
	BatchTypeCustomer   = 1
	BatchTypeSubscriber = 2
)

// ProfileBatch tracks one bulk profile import job against the remote API.
// Lifecycle: PENDING -> PROCESSING -> {COMPLETED, FAILED}; COMPLETED and
// FAILED are terminal and require an explicit reset to retry. SyncStatus
// reuses the shared scale where COMPLETED == SyncStatusSynced.
type ProfileBatch struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	StoreID   uint   `gorm:"index" json:"store_id"`
	BatchType int    `json:"batch_type"`
	FilePath  string `json:"file_path"`
	// EntityIDs is the comma-joined customer or subscriber id list covered
	// by the staged file.
	EntityIDs string `json:"entity_ids"`
	// JSONMappings is the column mapping captured when the batch was staged,
	// replayed verbatim on initialize-import.
	JSONMappings        string     `json:"json_mappings"`
	ImportID            *string    `json:"import_id,omitempty"`
	FileUploadExpiresAt *time.Time `json:"file_upload_expires_at,omitempty"`
	SyncStatus          int        `gorm:"index" json:"sync_status"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	// PollAttempts counts cycles that left the batch in a non-terminal state
	// because of transport failures or still-waiting polls.
	PollAttempts int       `json:"poll_attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EntityIDList splits the comma-joined entity id list. Malformed fragments
// are dropped.
func (b *ProfileBatch) EntityIDList() []uint {
	if b.EntityIDs == "" {
		return nil
	}
	parts := strings.Split(b.EntityIDs, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(n))
	}
	return ids
}

// JoinEntityIDs renders an id list in the column format used by EntityIDs.
func JoinEntityIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
