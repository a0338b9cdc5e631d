// Package config loads the service configuration from a YAML file with
// environment overrides and seeds the store topology.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/marketbridge/apsis-sync/internal/db/models"
	"github.com/marketbridge/apsis-sync/internal/store"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen          = "0.0.0.0:8080"
	defaultDBPath          = "apsis-sync.db"
	defaultAPIBaseURL      = "https://api.apsis.one"
	defaultStagingDir      = "staging"
	defaultSyncInterval    = 5 * time.Minute
	defaultBatchSize       = 500
	defaultMaxPollAttempts = 48
)

// StoreSeed declares one store scope in the topology.
type StoreSeed struct {
	ID        uint   `yaml:"id"`
	Code      string `yaml:"code"`
	WebsiteID uint   `yaml:"website_id"`
}

// Config is the full service configuration.
type Config struct {
	Listen          string      `yaml:"listen"`
	DBPath          string      `yaml:"db_path"`
	APIBaseURL      string      `yaml:"api_base_url"`
	EncryptionKey   string      `yaml:"encryption_key"`
	StagingDir      string      `yaml:"staging_dir"`
	SyncInterval    string      `yaml:"sync_interval"`
	BatchSize       int         `yaml:"batch_size"`
	MaxPollAttempts int         `yaml:"max_poll_attempts"`
	Stores          []StoreSeed `yaml:"stores"`

	syncInterval time.Duration
}

// Load reads the config file at path (or APSIS_CONFIG, or the defaults when
// neither exists) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Listen:          defaultListen,
		DBPath:          defaultDBPath,
		APIBaseURL:      defaultAPIBaseURL,
		StagingDir:      defaultStagingDir,
		BatchSize:       defaultBatchSize,
		MaxPollAttempts: defaultMaxPollAttempts,
		syncInterval:    defaultSyncInterval,
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if resolved != "" {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", resolved, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", resolved, err)
		}
	}

	if raw := strings.TrimSpace(cfg.SyncInterval); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid sync_interval %q", raw)
		}
		cfg.syncInterval = d
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}

	applyEnvOverrides(cfg)

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("encryption_key is required (config file or APSIS_ENCRYPTION_KEY)")
	}
	return cfg, nil
}

// SyncIntervalDuration returns the parsed sync interval.
func (c *Config) SyncIntervalDuration() time.Duration {
	return c.syncInterval
}

// Seed upserts the configured store topology.
func (c *Config) Seed(stores *store.StoreStore) error {
	for _, s := range c.Stores {
		if s.ID == 0 || s.Code == "" {
			return fmt.Errorf("store seed needs id and code, got %+v", s)
		}
		err := stores.Upsert(models.Store{ID: s.ID, Code: s.Code, WebsiteID: s.WebsiteID})
		if err != nil {
			return fmt.Errorf("seed store %q: %w", s.Code, err)
		}
	}
	return nil
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}
	if fromEnv := strings.TrimSpace(os.Getenv("APSIS_CONFIG")); fromEnv != "" {
		if _, err := os.Stat(fromEnv); err != nil {
			return "", err
		}
		return fromEnv, nil
	}

	candidates := []string{
		"config/apsis-sync.yaml",
		"/etc/apsis-sync/config.yaml",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func applyEnvOverrides(cfg *Config) {
	host, port := "", ""
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port = v
	}
	if host != "" || port != "" {
		curHost, curPort := splitListen(cfg.Listen)
		if host != "" {
			curHost = host
		}
		if port != "" {
			curPort = port
		}
		cfg.Listen = net.JoinHostPort(curHost, curPort)
	}

	if v := strings.TrimSpace(os.Getenv("APSIS_DB_PATH")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("APSIS_API_BASE_URL")); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APSIS_ENCRYPTION_KEY")); v != "" {
		cfg.EncryptionKey = v
	}
}

// splitListen splits a listen address into host and port, keeping bracketed
// IPv6 hosts intact. A bare host falls back to the default port.
func splitListen(listen string) (string, string) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen, "8080"
	}
	return host, port
}
