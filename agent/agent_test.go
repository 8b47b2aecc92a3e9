package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeAgent(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestSpawnParsesStdoutAndEnvironment(t *testing.T) {
	script := writeFakeAgent(t, `
if [ "$STREAM_LSL" != "1" ]; then
  echo "missing STREAM_LSL" >&2
  exit 2
fi
echo "log: starting up"
echo "FRAME_DATA:1:0.000"
echo "FRAME_DATA:2:0.010"
exit 0
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, scanner, err := Spawn(ctx, Params{
		AgentPath: script,
		Width:     400, Height: 400, FPS: 100,
	})
	require.NoError(t, err)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	<-proc.Done()
	assert.NoError(t, proc.Err())
	assert.Contains(t, lines, "FRAME_DATA:1:0.000")
	assert.Contains(t, lines, "FRAME_DATA:2:0.010")
}

func TestSpawnSurfacesNonzeroExit(t *testing.T) {
	script := writeFakeAgent(t, "exit 137\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, scanner, err := Spawn(ctx, Params{AgentPath: script, Width: 400, Height: 400, FPS: 100})
	require.NoError(t, err)
	for scanner.Scan() {
	}

	<-proc.Done()
	var exitErr *ErrExited
	require.ErrorAs(t, proc.Err(), &exitErr)
	assert.Equal(t, 137, exitErr.Code)
}
