package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_AppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	logger, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.LogEvent(Event{
		Type:          EventUpdate,
		Timestamp:     time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		Source:        "engine",
		AffectedViews: []string{"dashboard", "progress"},
	}))
	require.NoError(t, logger.LogEvent(Event{Type: EventLoad, Source: "engine"}))

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	decoder := json.NewDecoder(f)
	var entries []LogEntry
	for decoder.More() {
		var entry LogEntry
		require.NoError(t, decoder.Decode(&entry))
		entries = append(entries, entry)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, "update", entries[0].EventType)
	assert.Equal(t, []string{"dashboard", "progress"}, entries[0].AffectedViews)
	assert.Equal(t, "load", entries[1].EventType)
	assert.False(t, entries[1].Timestamp.IsZero(), "missing timestamps are stamped on write")
	assert.Greater(t, logger.CurrentSize(), int64(0))
}

func TestAuditLogger_RotatesIntoArchive(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	// Threshold small enough that a handful of entries forces rotation.
	logger, err := NewAuditLogger(logPath, 200)
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.WriteEntry(&LogEntry{
			EventType: "update",
			Source:    "rotation-test",
			Data:      map[string]any{"sequence": i},
		}))
	}

	archived, err := os.ReadDir(filepath.Join(dir, "archive"))
	require.NoError(t, err)
	assert.NotEmpty(t, archived, "rotation must move full logs into archive/")
	for _, e := range archived {
		assert.Contains(t, e.Name(), "events.")
		assert.Contains(t, e.Name(), ".jsonl")
	}

	// The live file stays under the threshold after rotation.
	assert.LessOrEqual(t, logger.CurrentSize(), int64(200))
}

func TestAuditLogger_ChecksumVerification(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	logger, err := NewAuditLogger(logPath, 0)
	require.NoError(t, err)
	logger.EnableChecksum(true)

	require.NoError(t, logger.WriteEntry(&LogEntry{EventType: "update", Source: "a"}))
	require.NoError(t, logger.WriteEntry(&LogEntry{EventType: "invalidate", Source: "b"}))
	require.NoError(t, logger.Close())

	total, valid, err := VerifyLogIntegrity(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, valid)

	// Flip one byte in a source field and one entry stops verifying.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	tampered := []byte(string(data))
	for i := range tampered {
		if tampered[i] == 'b' {
			tampered[i] = 'x'
			break
		}
	}
	require.NoError(t, os.WriteFile(logPath, tampered, 0644))

	total, valid, err = VerifyLogIntegrity(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, valid)
}
