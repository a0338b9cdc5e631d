package config

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newStoreStore(t *testing.T) *store.StoreStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Store{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewStoreStore(gdb)
}

func TestSeedUpserts(t *testing.T) {
	stores := newStoreStore(t)
	cfg := &Config{Stores: []StoreSeed{
		{ID: 1, Code: "main", WebsiteID: 1},
		{ID: 2, Code: "eu", WebsiteID: 2},
	}}

	if err := cfg.Seed(stores); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	list, _ := stores.List()
	if len(list) != 2 {
		t.Fatalf("stores = %d, want 2", len(list))
	}

	// Re-seeding with a changed code updates in place.
	cfg.Stores[1].Code = "eu-west"
	if err := cfg.Seed(stores); err != nil {
		t.Fatalf("second Seed failed: %v", err)
	}
	list, _ = stores.List()
	if len(list) != 2 || list[1].Code != "eu-west" {
		t.Fatalf("stores after re-seed = %+v", list)
	}
}

func TestSeedRejectsIncompleteStore(t *testing.T) {
	stores := newStoreStore(t)
	cfg := &Config{Stores: []StoreSeed{{ID: 0, Code: "main"}}}
	if err := cfg.Seed(stores); err == nil {
		t.Fatal("expected seed without id to fail")
	}
}
