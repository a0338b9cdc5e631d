package sync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/export"
	"github.com/marketbridge/apsis-sync/internal/logging"
	"github.com/marketbridge/apsis-sync/internal/scope"
	"github.com/marketbridge/apsis-sync/internal/store"
)

// DefaultBatchSize caps profiles per staged file when no size is configured.
const DefaultBatchSize = 500

// profileColumns maps CSV column names to accessor functions, resolved once
// at startup. Mapping entries are validated against this table instead of
// being dispatched by name at runtime.
var profileColumns = map[string]func(p models.Profile) string{
	"integration_uid": func(p models.Profile) string { return p.IntegrationUID },
	"email":           func(p models.Profile) string { return p.Email },
	"store_id":        func(p models.Profile) string { return strconv.FormatUint(uint64(p.StoreID), 10) },
	"customer_id": func(p models.Profile) string {
		if p.CustomerID == nil {
			return ""
		}
		return strconv.FormatUint(uint64(*p.CustomerID), 10)
	},
	"subscriber_id": func(p models.Profile) string {
		if p.SubscriberID == nil {
			return ""
		}
		return strconv.FormatUint(uint64(*p.SubscriberID), 10)
	},
	"subscriber_status": func(p models.Profile) string { return strconv.Itoa(p.SubscriberStatus) },
}

// Batcher collects PENDING profiles into staged CSV files and registers the
// matching import batches.
type Batcher struct {
	sections  SectionSource
	profiles  *store.ProfileStore
	batches   *store.BatchStore
	writer    *export.Writer
	batchSize int
}

// NewBatcher wires a Batcher. batchSize <= 0 selects DefaultBatchSize.
func NewBatcher(sections SectionSource, profiles *store.ProfileStore, batches *store.BatchStore, writer *export.Writer, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Batcher{
		sections:  sections,
		profiles:  profiles,
		batches:   batches,
		writer:    writer,
		batchSize: batchSize,
	}
}

// BatchCustomers stages one customer batch for the store, when customer sync
// is enabled and an email-bearing mapping is configured.
func (b *Batcher) BatchCustomers(ctx context.Context, st models.Store) {
	b.batch(ctx, st, models.BatchTypeCustomer, scope.PathCustomerSyncEnabled, scope.PathCustomerMappings, "customer")
}

// BatchSubscribers stages one subscriber batch for the store.
func (b *Batcher) BatchSubscribers(ctx context.Context, st models.Store) {
	b.batch(ctx, st, models.BatchTypeSubscriber, scope.PathSubscriberSyncEnabled, scope.PathSubscriberMappings, "subscriber")
}

func (b *Batcher) batch(ctx context.Context, st models.Store, batchType int, enabledPath, mappingPath, kind string) {
	if enabled, _ := b.sections.Lookup(st.ID, enabledPath); enabled != "1" {
		return
	}
	mappingRaw, ok := b.sections.Lookup(st.ID, mappingPath)
	if !ok || mappingRaw == "" {
		return
	}

	columns, err := parseMapping(mappingRaw)
	if err != nil {
		log.Printf("⚠️ %sStore %s: %s mapping rejected: %v", logging.Tag(ctx), st.Code, kind, err)
		return
	}

	profiles, err := b.profiles.CollectForBatch(st.ID, batchType, b.batchSize)
	if err != nil {
		log.Printf("⚠️ %sStore %s: collect %s profiles: %v", logging.Tag(ctx), st.Code, kind, err)
		return
	}
	if len(profiles) == 0 {
		return
	}

	rows := make([][]string, 0, len(profiles))
	entityIDs := make([]uint, 0, len(profiles))
	for _, p := range profiles {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = profileColumns[col](p)
		}

		var entityID *uint
		if batchType == models.BatchTypeCustomer {
			entityID = p.CustomerID
		} else {
			entityID = p.SubscriberID
		}
		if entityID == nil {
			// Flag/reference mismatch on one row never aborts the pass.
			log.Printf("⚠️ %sStore %s: profile %d has no %s reference, skipped", logging.Tag(ctx), st.Code, p.ID, kind)
			continue
		}
		rows = append(rows, row)
		entityIDs = append(entityIDs, *entityID)
	}
	if len(entityIDs) == 0 {
		return
	}

	path, err := b.writer.Stage(st.Code, kind, columns, rows)
	if err != nil {
		log.Printf("⚠️ %sStore %s: stage %s batch: %v", logging.Tag(ctx), st.Code, kind, err)
		return
	}

	if _, err := b.batches.Register(st.ID, batchType, path, entityIDs, columns); err != nil {
		log.Printf("⚠️ %sStore %s: register %s batch: %v", logging.Tag(ctx), st.Code, kind, err)
		return
	}

	var count int64
	if batchType == models.BatchTypeCustomer {
		count, err = b.profiles.UpdateCustomerStatus(st.ID, entityIDs, models.SyncStatusBatched, "")
	} else {
		count, err = b.profiles.UpdateSubscriberStatus(st.ID, entityIDs, models.SyncStatusBatched, "")
	}
	if err != nil {
		log.Printf("⚠️ %sStore %s: mark %s profiles batched: %v", logging.Tag(ctx), st.Code, kind, err)
		return
	}
	log.Printf("📦 %sStore %s: staged %d %s profiles into %s", logging.Tag(ctx), st.Code, count, kind, path)
}

// parseMapping splits a comma-joined column list and validates every column
// against the accessor table. An email column is mandatory.
func parseMapping(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	columns := make([]string, 0, len(parts))
	hasEmail := false
	for _, p := range parts {
		col := strings.TrimSpace(p)
		if col == "" {
			continue
		}
		if _, ok := profileColumns[col]; !ok {
			return nil, fmt.Errorf("unknown column %q", col)
		}
		if col == "email" {
			hasEmail = true
		}
		columns = append(columns, col)
	}
	if !hasEmail {
		return nil, fmt.Errorf("mapping has no email column")
	}
	return columns, nil
}
