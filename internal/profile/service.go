// Package profile applies customer and subscriber changes to the local sync
// state and records the behavioral events those changes imply.
package profile

import (
	"context"
	"encoding/json"
	"log"

	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/logging"
	"github.com/marketbridge/apsis-sync/internal/store"
)

// Service is the ingest entry point. It owns the find-or-create/merge logic,
// the email-change backfill and event registration; callers never touch the
// stores directly.
type Service struct {
	profiles *store.ProfileStore
	events   *store.EventStore
}

// NewService wires a Service.
func NewService(profiles *store.ProfileStore, events *store.EventStore) *Service {
	return &Service{profiles: profiles, events: events}
}

// ApplyCustomer upserts the profile for a customer record. An email change
// backfills the email onto already-recorded events and re-queues the profile
// for sync. Becoming a customer while already a subscriber records the
// matching behavioral event.
func (s *Service) ApplyCustomer(ctx context.Context, storeID, customerID uint, email string) (*models.Profile, error) {
	prev, err := s.profiles.GetByCustomerID(storeID, customerID)
	if err != nil {
		return nil, err
	}

	p, err := s.profiles.FindOrCreate(storeID, email, &customerID, nil)
	if err != nil {
		return nil, err
	}

	if prev != nil && prev.Email != email {
		if err := s.backfillEmail(ctx, p, prev.Email, email); err != nil {
			return nil, err
		}
	}

	if p.IsSubscriber && (prev == nil || !prev.IsCustomer) {
		s.RecordEvent(ctx, p, models.EventTypeSubscriberBecomesCustomer, map[string]interface{}{
			"email":       email,
			"customer_id": customerID,
		}, nil)
	}
	return p, nil
}

// ApplySubscriber upserts the profile for a subscriber record, tracking the
// consent status. Unsubscribing records the unsubscribe event; a customer
// newly opting in records customer-becomes-subscriber.
func (s *Service) ApplySubscriber(ctx context.Context, storeID, subscriberID uint, email string, subscriberStatus int) (*models.Profile, error) {
	prev, err := s.profiles.GetBySubscriberID(storeID, subscriberID)
	if err != nil {
		return nil, err
	}

	p, err := s.profiles.FindOrCreate(storeID, email, nil, &subscriberID)
	if err != nil {
		return nil, err
	}

	if prev != nil && prev.Email != email {
		if err := s.backfillEmail(ctx, p, prev.Email, email); err != nil {
			return nil, err
		}
	}

	if subscriberStatus != p.SubscriberStatus {
		p.SubscriberStatus = subscriberStatus
		if p.SubscriberSyncStatus == models.SyncStatusSynced || p.SubscriberSyncStatus == models.SyncStatusFailed {
			p.SubscriberSyncStatus = models.SyncStatusPending
			p.ErrorMessage = ""
		}
		if err := s.profiles.Save(p); err != nil {
			return nil, err
		}
		if subscriberStatus == models.SubscriberStatusUnsubscribed {
			s.RecordEvent(ctx, p, models.EventTypeSubscriberUnsubscribe, map[string]interface{}{
				"email":         email,
				"subscriber_id": subscriberID,
			}, nil)
		}
	}

	if p.IsCustomer && (prev == nil || !prev.IsSubscriber) && subscriberStatus == models.SubscriberStatusSubscribed {
		s.RecordEvent(ctx, p, models.EventTypeCustomerBecomesSubscriber, map[string]interface{}{
			"email":         email,
			"subscriber_id": subscriberID,
		}, nil)
	}
	return p, nil
}

// backfillEmail propagates an email change onto recorded events and re-queues
// the profile for a full re-sync under the new address.
func (s *Service) backfillEmail(ctx context.Context, p *models.Profile, oldEmail, newEmail string) error {
	n, err := s.events.UpdateEmail(oldEmail, newEmail)
	if err != nil {
		return err
	}

	if p.IsCustomer {
		p.CustomerSyncStatus = models.SyncStatusPending
	}
	if p.IsSubscriber {
		p.SubscriberSyncStatus = models.SyncStatusPending
	}
	p.ErrorMessage = ""
	if err := s.profiles.Save(p); err != nil {
		return err
	}

	log.Printf("📧 %sProfile %d email changed %s -> %s, %d events backfilled",
		logging.Tag(ctx), p.ID, oldEmail, newEmail, n)
	return nil
}

// RecordEvent serializes and stores one behavioral event for a profile.
// Serialization failures are logged and dropped; event capture must never
// break the ingest path. Duplicate registrations within the same context
// (same type, profile and payload) are suppressed.
func (s *Service) RecordEvent(ctx context.Context, p *models.Profile, eventType int, payload, subPayload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️ %sEvent type %d for profile %d dropped, payload unserializable: %v",
			logging.Tag(ctx), eventType, p.ID, err)
		return
	}

	var subRaw []byte
	if subPayload != nil {
		subRaw, err = json.Marshal(subPayload)
		if err != nil {
			log.Printf("⚠️ %sEvent type %d for profile %d dropped, sub-payload unserializable: %v",
				logging.Tag(ctx), eventType, p.ID, err)
			return
		}
	}

	if guardFrom(ctx).registered(eventType, p.ID, string(raw)) {
		return
	}

	e := models.Event{
		Type:         eventType,
		Payload:      string(raw),
		SubPayload:   string(subRaw),
		ProfileID:    p.ID,
		CustomerID:   p.CustomerID,
		SubscriberID: p.SubscriberID,
		StoreID:      p.StoreID,
		Email:        p.Email,
	}
	if _, err := s.events.Record(&e); err != nil {
		log.Printf("⚠️ %sEvent type %d for profile %d not recorded: %v",
			logging.Tag(ctx), eventType, p.ID, err)
	}
}
