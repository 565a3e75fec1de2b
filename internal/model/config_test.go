package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "plansync.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_PartialFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plansync.yaml")
	content := []byte("cache:\n  ttl_seconds: 60\ngates:\n  confidence_threshold: 0.8\n  auto_update_enabled: false\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, 0.8, cfg.Gates.ConfidenceThreshold)
	assert.False(t, cfg.Gates.AutoUpdateEnabled)
	// Untouched fields keep their defaults.
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
	assert.Equal(t, 20, cfg.Backup.RetentionCount)
}

func TestLoadConfig_ZeroValuesFloorToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plansync.yaml")
	content := []byte("cache:\n  ttl_seconds: 0\n  max_entries: -5\nbackup:\n  retention_count: 0\n")
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	def := DefaultConfig()
	assert.Equal(t, def.Cache.TTLSeconds, cfg.Cache.TTLSeconds)
	assert.Equal(t, def.Cache.MaxEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, def.Backup.RetentionCount, cfg.Backup.RetentionCount)
}

func TestLoadConfig_MalformedYAMLIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plansync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")
}
