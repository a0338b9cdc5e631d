package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/marketbridge/apsis-sync/internal/apiclient"
	"github.com/marketbridge/apsis-sync/internal/auth/token"
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/logging"
	"github.com/marketbridge/apsis-sync/internal/store"
)

// DefaultEventFetchLimit caps pending events loaded per store per cycle.
const DefaultEventFetchLimit = 500

// eventDiscriminators maps internal event types to the discriminators
// registered on the remote integration.
var eventDiscriminators = map[int]string{
	models.EventTypeSubscriberUnsubscribe:     "com.apsis1.integrations.magento.events.subscriber-unsubscribe",
	models.EventTypeSubscriberBecomesCustomer: "com.apsis1.integrations.magento.events.subscriber-2-customer",
	models.EventTypeCustomerBecomesSubscriber: "com.apsis1.integrations.magento.events.customer-2-subscriber",
	models.EventTypeOrderPlaced:               "com.apsis1.integrations.magento.events.order-placed",
	models.EventTypeProductCarted:             "com.apsis1.integrations.magento.events.product-carted",
	models.EventTypeProductReviewed:           "com.apsis1.integrations.magento.events.product-reviewed",
	models.EventTypeProductWishlisted:         "com.apsis1.integrations.magento.events.product-wishlisted",
}

// orderPlacedProductDiscriminator is the sub-event emitted once per order
// line, carried in the event's SubPayload.
const orderPlacedProductDiscriminator = "com.apsis1.integrations.magento.events.order-placed-product"

// EventGateway is the slice of the API the event poster needs.
type EventGateway interface {
	PostEvents(ctx context.Context, token, keyspace, profileKey, section string, items []map[string]interface{}) apiclient.Result
}

// EventPoster flushes PENDING event rows to the remote profiles they belong
// to, one POST per profile.
type EventPoster struct {
	gateway     EventGateway
	tokens      TokenSource
	sections    SectionSource
	sectionPath string
	events      *store.EventStore
	profiles    *store.ProfileStore
	fetchLimit  int
}

// NewEventPoster wires an EventPoster. fetchLimit <= 0 selects
// DefaultEventFetchLimit.
func NewEventPoster(
	gateway EventGateway,
	tokens TokenSource,
	sections SectionSource,
	sectionPath string,
	events *store.EventStore,
	profiles *store.ProfileStore,
	fetchLimit int,
) *EventPoster {
	if fetchLimit <= 0 {
		fetchLimit = DefaultEventFetchLimit
	}
	return &EventPoster{
		gateway:     gateway,
		tokens:      tokens,
		sections:    sections,
		sectionPath: sectionPath,
		events:      events,
		profiles:    profiles,
		fetchLimit:  fetchLimit,
	}
}

// PostPending posts all PENDING events for a store, grouped per profile.
// Transport failures leave the group PENDING for the next cycle; a remote
// rejection fails the whole group with the remote message.
func (p *EventPoster) PostPending(ctx context.Context, st models.Store) {
	tok, err := p.tokens.GetToken(ctx, st.ID)
	if errors.Is(err, token.ErrDisabled) || errors.Is(err, token.ErrMissingCredentials) {
		return
	}
	if err != nil {
		log.Printf("⚠️ %sStore %s: token unavailable, skipping events: %v", logging.Tag(ctx), st.Code, err)
		return
	}

	section, ok := p.sections.Lookup(st.ID, p.sectionPath)
	if !ok || section == "" {
		return
	}
	keyspace := apiclient.KeyspaceDiscriminator(section)

	pending, err := p.events.PendingForStore(st.ID, p.fetchLimit)
	if err != nil {
		log.Printf("⚠️ %sStore %s: load pending events: %v", logging.Tag(ctx), st.Code, err)
		return
	}
	if len(pending) == 0 {
		return
	}

	// Group by profile, preserving the id order within each group.
	order := make([]uint, 0)
	groups := make(map[uint][]models.Event)
	for _, e := range pending {
		if _, seen := groups[e.ProfileID]; !seen {
			order = append(order, e.ProfileID)
		}
		groups[e.ProfileID] = append(groups[e.ProfileID], e)
	}

	for _, profileID := range order {
		group := groups[profileID]

		profile, err := p.profiles.GetByID(profileID)
		if err != nil {
			log.Printf("⚠️ %sStore %s: load profile %d: %v", logging.Tag(ctx), st.Code, profileID, err)
			continue
		}
		if profile == nil {
			p.settle(ctx, st, group, models.SyncStatusFailed, "event references a deleted profile")
			continue
		}

		items, ids := p.buildItems(ctx, st, group)
		if len(items) == 0 {
			continue
		}

		res := p.gateway.PostEvents(ctx, tok, keyspace, profile.IntegrationUID, section, items)
		switch res.Outcome {
		case apiclient.TransportFailure:
			log.Printf("⚠️ %sStore %s: unable to post %d events for profile %d: %s",
				logging.Tag(ctx), st.Code, len(ids), profileID, res.Message)
		case apiclient.RemoteError:
			p.settleIDs(ctx, st, ids, models.SyncStatusFailed, res.Message)
		default:
			p.settleIDs(ctx, st, ids, models.SyncStatusSynced, "")
		}
	}
}

// buildItems converts a group of event rows into wire items. Rows with an
// unreadable payload are failed individually instead of poisoning the group.
func (p *EventPoster) buildItems(ctx context.Context, st models.Store, group []models.Event) ([]map[string]interface{}, []uint) {
	items := make([]map[string]interface{}, 0, len(group))
	ids := make([]uint, 0, len(group))

	for _, e := range group {
		discriminator, ok := eventDiscriminators[e.Type]
		if !ok {
			p.settle(ctx, st, []models.Event{e}, models.SyncStatusFailed, "unknown event type")
			continue
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(e.Payload), &data); err != nil {
			p.settle(ctx, st, []models.Event{e}, models.SyncStatusFailed, "unreadable event payload: "+err.Error())
			continue
		}

		items = append(items, map[string]interface{}{
			"event_time":          e.CreatedAt.UTC().Format(time.RFC3339),
			"event_discriminator": discriminator,
			"data":                data,
		})

		if e.Type == models.EventTypeOrderPlaced && e.SubPayload != "" {
			var lines []map[string]interface{}
			if err := json.Unmarshal([]byte(e.SubPayload), &lines); err != nil {
				p.settle(ctx, st, []models.Event{e}, models.SyncStatusFailed, "unreadable order lines: "+err.Error())
				items = items[:len(items)-1]
				continue
			}
			for _, line := range lines {
				items = append(items, map[string]interface{}{
					"event_time":          e.CreatedAt.UTC().Format(time.RFC3339),
					"event_discriminator": orderPlacedProductDiscriminator,
					"data":                line,
				})
			}
		}

		ids = append(ids, e.ID)
	}
	return items, ids
}

func (p *EventPoster) settle(ctx context.Context, st models.Store, group []models.Event, status int, msg string) {
	ids := make([]uint, len(group))
	for i, e := range group {
		ids[i] = e.ID
	}
	p.settleIDs(ctx, st, ids, status, msg)
}

func (p *EventPoster) settleIDs(ctx context.Context, st models.Store, ids []uint, status int, msg string) {
	if _, err := p.events.UpdateStatus(ids, status, msg); err != nil {
		log.Printf("⚠️ %sStore %s: update %d events: %v", logging.Tag(ctx), st.Code, len(ids), err)
	}
}
