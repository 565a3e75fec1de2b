package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

// Config is the engine configuration loaded from plansync.yaml in the
// workspace directory. Every field has a working default so the file is
// optional.
type Config struct {
	Cache  CacheConfig  `yaml:"cache"`
	Backup BackupConfig `yaml:"backup"`
	Gates  GatesConfig  `yaml:"gates"`
	Events EventsConfig `yaml:"events"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

type BackupConfig struct {
	RetentionCount int `yaml:"retention_count"`
}

type GatesConfig struct {
	ConfidenceThreshold      float64 `yaml:"confidence_threshold"`
	AutoUpdateEnabled        bool    `yaml:"auto_update_enabled"`
	DefaultAllowUnregistered bool    `yaml:"default_allow_unregistered"`
	BypassValidityHours      int     `yaml:"bypass_validity_hours"`
	PendingRetentionDays     int     `yaml:"pending_retention_days"`
}

type EventsConfig struct {
	BusBufferSize  int   `yaml:"bus_buffer_size"`
	AuditMaxBytes  int64 `yaml:"audit_max_bytes"`
	AuditChecksums bool  `yaml:"audit_checksums"`
}

// DefaultConfig returns the configuration used when plansync.yaml is absent.
func DefaultConfig() Config {
	return Config{
		Cache:  CacheConfig{TTLSeconds: 300, MaxEntries: 64},
		Backup: BackupConfig{RetentionCount: 20},
		Gates: GatesConfig{
			ConfidenceThreshold:      0.6,
			AutoUpdateEnabled:        true,
			DefaultAllowUnregistered: true,
			BypassValidityHours:      1,
			PendingRetentionDays:     30,
		},
		Events: EventsConfig{BusBufferSize: 100, AuditMaxBytes: 100 * 1024 * 1024},
	}
}

// LoadConfig reads path and overlays it onto the defaults. A missing file
// is not an error; malformed YAML is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors restores defaults for zero or negative numeric fields, so a
// partial config file does not disable caching or backups by accident.
func (c *Config) applyFloors() {
	def := DefaultConfig()
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = def.Cache.TTLSeconds
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Backup.RetentionCount <= 0 {
		c.Backup.RetentionCount = def.Backup.RetentionCount
	}
	if c.Gates.ConfidenceThreshold <= 0 {
		c.Gates.ConfidenceThreshold = def.Gates.ConfidenceThreshold
	}
	if c.Gates.BypassValidityHours <= 0 {
		c.Gates.BypassValidityHours = def.Gates.BypassValidityHours
	}
	if c.Gates.PendingRetentionDays <= 0 {
		c.Gates.PendingRetentionDays = def.Gates.PendingRetentionDays
	}
	if c.Events.BusBufferSize <= 0 {
		c.Events.BusBufferSize = def.Events.BusBufferSize
	}
	if c.Events.AuditMaxBytes <= 0 {
		c.Events.AuditMaxBytes = def.Events.AuditMaxBytes
	}
}
