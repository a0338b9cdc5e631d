package models

import "time"

// Sync status values shared by profiles, events and batches. The numeric
// ordering matters: forward-only transitions are enforced with range
// predicates in bulk updates.
const (
	SyncStatusNA         = 0 // not applicable (profile is not of that kind)
	SyncStatusPending    = 1
	SyncStatusBatched    = 2
	SyncStatusProcessing = 3
	SyncStatusSynced     = 4
	SyncStatusFailed     = 5
)

// Profile is the unified local record of one customer/subscriber identity.
// Exactly one Profile exists per (store, email) pair; a profile found by
// customer reference and one found by subscriber reference with the same
// email are merged, never duplicated.
type Profile struct {
	ID                   uint   `gorm:"primaryKey" json:"id"`
	IntegrationUID       string `gorm:"uniqueIndex;size:36" json:"integration_uid"` // remote profile key
	StoreID              uint   `gorm:"uniqueIndex:idx_store_email" json:"store_id"`
	Email                string `gorm:"uniqueIndex:idx_store_email" json:"email"`
	CustomerID           *uint  `gorm:"index" json:"customer_id,omitempty"`
	SubscriberID         *uint  `gorm:"index" json:"subscriber_id,omitempty"`
	IsCustomer           bool   `json:"is_customer"`
	IsSubscriber         bool   `json:"is_subscriber"`
	SubscriberStatus     int    `json:"subscriber_status"`
	CustomerSyncStatus   int    `gorm:"index" json:"customer_sync_status"`
	SubscriberSyncStatus int    `gorm:"index" json:"subscriber_sync_status"`
	// TopicSubscription holds a not-yet-committed topic consent; cleared on
	// reset, committed by the consent sync.
	TopicSubscription *string   `json:"topic_subscription,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Subscriber status values as reported by the ingesting store.
const (
	SubscriberStatusSubscribed   = 1
	SubscriberStatusUnsubscribed = 3
)
