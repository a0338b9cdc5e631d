package db

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/marketbridge/apsis-sync/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// APIKeyPath is the scope-config path holding the ops API key, stored at the
// default scope.
const APIKeyPath = "ops/api_key"

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(
		&models.Store{},
		&models.ScopeConfig{},
		&models.Profile{},
		&models.Event{},
		&models.ProfileBatch{},
	); err != nil {
		return nil, err
	}

	ensureAPIKey(gdb)

	return gdb, nil
}

// ensureAPIKey generates the ops API key on first run.
func ensureAPIKey(gdb *gorm.DB) {
	var cfg models.ScopeConfig
	result := gdb.Where("scope = ? AND scope_id = ? AND path = ?", "default", 0, APIKeyPath).First(&cfg)

	if result.Error != nil {
		keyBytes := make([]byte, 16)
		rand.Read(keyBytes)
		apiKey := "as-" + hex.EncodeToString(keyBytes)

		gdb.Create(&models.ScopeConfig{
			Scope: "default",
			Path:  APIKeyPath,
			Value: apiKey,
		})
		log.Printf("🔑 Generated new ops API key: %s", apiKey)
	}
}

// GetAPIKey retrieves the ops API key.
func GetAPIKey(gdb *gorm.DB) string {
	var cfg models.ScopeConfig
	gdb.Where("scope = ? AND scope_id = ? AND path = ?", "default", 0, APIKeyPath).First(&cfg)
	return cfg.Value
}
