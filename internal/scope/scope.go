// Package scope implements the configuration scope chain: default -> website
// -> store, with narrower scopes overriding broader ones.
package scope

import (
	"errors"
	"fmt"

	"github.com/marketbridge/apsis-sync/internal/db/models"
	"gorm.io/gorm"
)

// Kind identifies one level of the scope chain.
type Kind string

const (
	KindDefault Kind = "default"
	KindWebsite Kind = "websites"
	KindStore   Kind = "stores"
)

// Ref points at one concrete scope. The default scope always has ID 0.
type Ref struct {
	Kind Kind
	ID   uint
}

// DefaultRef is the root of every resolution chain.
var DefaultRef = Ref{Kind: KindDefault, ID: 0}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Scoped configuration paths.
const (
	PathAccountEnabled        = "accounts/oauth/enabled"
	PathOAuthClientID         = "accounts/oauth/id"
	PathOAuthClientSecret     = "accounts/oauth/secret"
	PathOAuthToken            = "accounts/oauth/token"
	PathOAuthTokenExpiry      = "accounts/oauth/token_expire"
	PathSection               = "mappings/section/section"
	PathCustomerMappings      = "mappings/customer"
	PathSubscriberMappings    = "mappings/subscriber"
	PathCustomerSyncEnabled   = "sync/customer/enabled"
	PathSubscriberSyncEnabled = "sync/subscriber/enabled"
)

// ConfigStore reads and writes scope configuration rows.
type ConfigStore struct {
	db *gorm.DB
}

// NewConfigStore returns a ConfigStore on the given database.
func NewConfigStore(gdb *gorm.DB) *ConfigStore {
	return &ConfigStore{db: gdb}
}

// Get returns the value stored exactly at ref, without chain fallback.
func (s *ConfigStore) Get(ref Ref, path string) (string, bool) {
	var row models.ScopeConfig
	err := s.db.Where("scope = ? AND scope_id = ? AND path = ?", string(ref.Kind), ref.ID, path).
		First(&row).Error
	if err != nil {
		return "", false
	}
	return row.Value, true
}

// Exists reports whether an explicit row exists at ref.
func (s *ConfigStore) Exists(ref Ref, path string) bool {
	var count int64
	s.db.Model(&models.ScopeConfig{}).
		Where("scope = ? AND scope_id = ? AND path = ?", string(ref.Kind), ref.ID, path).
		Count(&count)
	return count > 0
}

// Save upserts the value at ref. Tokens and expiry are overwritten wholesale
// on every refresh; last write wins.
func (s *ConfigStore) Save(ref Ref, path, value string) error {
	var row models.ScopeConfig
	err := s.db.Where("scope = ? AND scope_id = ? AND path = ?", string(ref.Kind), ref.ID, path).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&models.ScopeConfig{
			Scope:   string(ref.Kind),
			ScopeID: ref.ID,
			Path:    path,
			Value:   value,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&row).Update("value", value).Error
}

// Delete removes the explicit row at ref, if any.
func (s *ConfigStore) Delete(ref Ref, path string) error {
	return s.db.Where("scope = ? AND scope_id = ? AND path = ?", string(ref.Kind), ref.ID, path).
		Delete(&models.ScopeConfig{}).Error
}

// Resolver walks the scope chain for a store.
type Resolver struct {
	db  *gorm.DB
	cfg *ConfigStore
}

// NewResolver returns a Resolver on the given database.
func NewResolver(gdb *gorm.DB, cfg *ConfigStore) *Resolver {
	return &Resolver{db: gdb, cfg: cfg}
}

// Chain returns the resolution chain for a store, narrowest first:
// store -> website -> default.
func (r *Resolver) Chain(storeID uint) ([]Ref, error) {
	var st models.Store
	if err := r.db.First(&st, "id = ?", storeID).Error; err != nil {
		return nil, fmt.Errorf("unknown store %d: %w", storeID, err)
	}
	return []Ref{
		{Kind: KindStore, ID: st.ID},
		{Kind: KindWebsite, ID: st.WebsiteID},
		DefaultRef,
	}, nil
}

// Resolve selects the narrowest scope in the store's chain that has explicit
// API credentials configured. Tokens are cached at the resolved scope, not
// necessarily the scope the caller asked about.
func (r *Resolver) Resolve(storeID uint) (Ref, error) {
	chain, err := r.Chain(storeID)
	if err != nil {
		return DefaultRef, err
	}
	for _, ref := range chain {
		if r.cfg.Exists(ref, PathOAuthClientID) {
			return ref, nil
		}
	}
	return DefaultRef, nil
}

// Lookup walks the store's chain narrowest-first and returns the first
// explicit value for path.
func (r *Resolver) Lookup(storeID uint, path string) (string, bool) {
	chain, err := r.Chain(storeID)
	if err != nil {
		return "", false
	}
	for _, ref := range chain {
		if v, ok := r.cfg.Get(ref, path); ok {
			return v, true
		}
	}
	return "", false
}
