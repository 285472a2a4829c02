// Package config provides configuration file support for volsnap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/volsnap/pkg/fsutil"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/template"
	"github.com/jvs-project/volsnap/pkg/webhook"
)

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "volsnap.yaml"

// KeyDeltaMax bounds the length of an incremental backup chain.
const KeyDeltaMax = "snapshot.delta.max"

// Config represents the volsnap configuration.
type Config struct {
	Database DatabaseConfig    `yaml:"database"`
	Stores   []StoreConfig     `yaml:"stores"`
	Logging  LoggingConfig     `yaml:"logging"`
	Async    AsyncConfig       `yaml:"async"`
	Lock     LockConfig        `yaml:"lock"`
	Cache    CacheConfig       `yaml:"cache"`
	GC       GCConfig          `yaml:"gc"`
	Snapshot SnapshotConfig    `yaml:"snapshot"`
	Webhooks webhook.Config    `yaml:"webhooks"`
	Settings map[string]string `yaml:"settings"`
}

// DatabaseConfig locates the catalog database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig declares one data store.
type StoreConfig struct {
	ID           uint64              `yaml:"id"`
	UUID         string              `yaml:"uuid"`
	Name         string              `yaml:"name"`
	Role         model.DataStoreRole `yaml:"role"`
	DataCenterID uint64              `yaml:"zone"`
	Root         string              `yaml:"root"`
	Engine       string              `yaml:"engine"` // juicefs-clone, reflink-copy, copy, auto
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// AsyncConfig sizes the backend executor.
type AsyncConfig struct {
	Workers     int           `yaml:"workers"`
	WaitTimeout time.Duration `yaml:"wait_timeout"` // 0 waits forever
}

// LockConfig configures the lock table.
type LockConfig struct {
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	LeaseTTL    time.Duration `yaml:"lease_ttl"`
}

// CacheConfig configures the store capability cache.
type CacheConfig struct {
	CapabilityTTL time.Duration `yaml:"capability_ttl"`
}

// GCConfig configures orphan collection.
type GCConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// SnapshotConfig configures snapshot defaults.
type SnapshotConfig struct {
	// NameTemplate names snapshots created without an explicit name. See
	// pkg/template for the placeholders.
	NameTemplate string `yaml:"name_template"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "volsnap.db"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Async: AsyncConfig{Workers: 8},
		Lock: LockConfig{
			WaitTimeout: 30 * time.Second,
			LeaseTTL:    5 * time.Minute,
		},
		Cache: CacheConfig{CapabilityTTL: time.Minute},
		GC:    GCConfig{Concurrency: 4},
		Snapshot: SnapshotConfig{
			NameTemplate: template.DefaultSnapshotName,
		},
		Webhooks: webhook.DefaultConfig(),
		Settings: map[string]string{
			KeyDeltaMax: "16",
		},
	}
}

// Load loads configuration from path.
// Returns default config if the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}
	if _, ok := cfg.Settings[KeyDeltaMax]; !ok {
		cfg.Settings[KeyDeltaMax] = "16"
	}
	if cfg.Database.Path != "" && !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(filepath.Dir(path), cfg.Database.Path)
	}

	return cfg, cfg.Validate()
}

// Save writes configuration to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := fsutil.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks store declarations.
func (c *Config) Validate() error {
	seen := make(map[uint64]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.ID == 0 {
			return fmt.Errorf("store %q: id must be non-zero", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("store %d: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if s.Role != model.RolePrimary && s.Role != model.RoleImage {
			return fmt.Errorf("store %d: unknown role %q", s.ID, s.Role)
		}
		if s.Root == "" {
			return fmt.Errorf("store %d: root is required", s.ID)
		}
	}
	for i, h := range c.Webhooks.Hooks {
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return fmt.Errorf("webhook %d: url must be http or https: %q", i, h.URL)
		}
		if len(h.Events) == 0 {
			return fmt.Errorf("webhook %d: no events subscribed", i)
		}
	}
	return nil
}

// Value returns the named setting, or "" if unset.
func (c *Config) Value(key string) string {
	return c.Settings[key]
}

// IntValue returns the named setting parsed as an int, or def when unset or
// malformed.
func (c *Config) IntValue(key string, def int) int {
	v, err := strconv.Atoi(c.Value(key))
	if err != nil {
		return def
	}
	return v
}
