package store

import (
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreStore holds the store topology the sync loop iterates over.
type StoreStore struct {
	db *gorm.DB
}

// NewStoreStore returns a StoreStore on the given database.
func NewStoreStore(gdb *gorm.DB) *StoreStore {
	return &StoreStore{db: gdb}
}

// List returns all stores, id ascending.
func (s *StoreStore) List() ([]models.Store, error) {
	var stores []models.Store
	err := s.db.Order("id ASC").Find(&stores).Error
	return stores, err
}

// Upsert creates or updates a store row by primary key.
func (s *StoreStore) Upsert(st models.Store) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"code", "website_id"}),
	}).Create(&st).Error
}
