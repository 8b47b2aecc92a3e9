package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTailerEmitsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markers.txt")
	require.NoError(t, os.WriteFile(path, []byte("Starting\nCONFIG width=400\n"), 0644))

	tailer, err := NewTailer(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tailer.Run(ctx) }()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("1 0.000\n2 0.010\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []string
	deadline := time.After(3 * time.Second)
collect:
	for len(got) < 4 { // 2 header lines + 2 data lines
		select {
		case line, ok := <-tailer.Lines:
			if !ok {
				break collect
			}
			got = append(got, line)
		case <-deadline:
			break collect
		}
	}

	require.GreaterOrEqual(t, len(got), 4)
	requireContains(t, got, "1 0.000")
	requireContains(t, got, "2 0.010")

	cancel()
	<-done
}

func requireContains(t *testing.T, haystack []string, want string) {
	t.Helper()
	for _, s := range haystack {
		if s == want {
			return
		}
	}
	t.Fatalf("expected %v to contain %q", haystack, want)
}

func TestNewTailerCreatesFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never_created.txt")

	tailer, err := newTailer(path, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, tailer)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
