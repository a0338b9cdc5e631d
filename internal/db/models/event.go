package models

import "time"

// Behavioral event types.
const (
	EventTypeSubscriberUnsubscribe     = 1
	EventTypeSubscriberBecomesCustomer = 2
	EventTypeCustomerBecomesSubscriber = 3
	EventTypeOrderPlaced               = 4
	EventTypeProductCarted             = 5
	EventTypeProductReviewed           = 6
	EventTypeProductWishlisted         = 7
)

// Event is one behavioral fact tied to exactly one profile. Rows are
// append-only; once synced they are never updated except for the email
// backfill when a profile's email changes.
type Event struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Type         int       `gorm:"index" json:"type"`
	Payload      string    `json:"payload"`
	SubPayload   string    `json:"sub_payload,omitempty"`
	ProfileID    uint      `gorm:"index" json:"profile_id"`
	CustomerID   *uint     `json:"customer_id,omitempty"`
	SubscriberID *uint     `json:"subscriber_id,omitempty"`
	StoreID      uint      `gorm:"index" json:"store_id"`
	Email        string    `gorm:"index" json:"email"`
	SyncStatus   int       `gorm:"index" json:"sync_status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
