package models

import "time"

// ScopeConfig stores one scoped configuration value. Scope is "default",
// "websites" or "stores"; narrower scopes override broader ones through the
// resolution chain store -> website -> default.
type ScopeConfig struct {
	ID        uint      `gorm:"primaryKey"`
	Scope     string    `gorm:"uniqueIndex:idx_scope_path;size:16"`
	ScopeID   uint      `gorm:"uniqueIndex:idx_scope_path"`
	Path      string    `gorm:"uniqueIndex:idx_scope_path;size:128"`
	Value     string    `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
