package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	snap Snapshot
}

func (f fakeProvider) Snapshot() Snapshot { return f.snap }

func TestWriterWritesValidJSONAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")

	provider := fakeProvider{snap: Snapshot{
		ServiceRunning: true,
		Recording:      Recording{Active: true, FramesRecorded: 42},
	}}

	w := NewWriter(path, "", 20*time.Millisecond, provider)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.ServiceRunning)
	assert.Equal(t, uint64(42), got.Recording.FramesRecorded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "no leftover temp file after rename")
	}
}

func TestWriterRemovesLegacyFileOnShutdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.json")
	legacy := filepath.Join(dir, "status.txt")

	w := NewWriter(path, legacy, 10*time.Millisecond, fakeProvider{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	_, err := os.Stat(legacy)
	assert.True(t, os.IsNotExist(err), "legacy status file should be cleaned up on shutdown")
}

func TestWriteLegacyReflectsRecordingState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status.txt")

	require.NoError(t, writeLegacy(path, Snapshot{
		Recording: Recording{Active: true, FramesRecorded: 7},
		BufferStatus: BufferStatus{CurrentSize: 5, MaxSize: 10, UtilizationPercent: 50},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Status: RECORDING")
	assert.Contains(t, string(data), "Frames captured: 7")
}
