package encoderproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-encoder.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestReapResolvesMkvExtension(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "session1")
	script := writeScript(t, `touch "$1.mkv"
exit 0
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, err := Spawn(ctx, Params{Path: script, Args: nil, OutputPath: out})
	require.NoError(t, err)

	path, err := proc.Reap(time.Second)
	require.NoError(t, err)
	assert.Equal(t, out+".mkv", path)
}

func TestReapPrefersMkvOverMp4WhenBothPresent(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "session2")
	script := writeScript(t, `touch "$1.mkv" "$1.mp4"
exit 0
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, err := Spawn(ctx, Params{Path: script, OutputPath: out})
	require.NoError(t, err)

	path, err := proc.Reap(time.Second)
	require.NoError(t, err)
	assert.Equal(t, out+".mkv", path)
}

func TestReapSurfacesNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "session3")
	script := writeScript(t, `touch "$1.mp4"
exit 7
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, err := Spawn(ctx, Params{Path: script, OutputPath: out})
	require.NoError(t, err)

	path, err := proc.Reap(time.Second)
	assert.Equal(t, out+".mp4", path)
	require.Error(t, err)
	exitErr, ok := err.(*ErrExited)
	require.True(t, ok)
	assert.Equal(t, 7, exitErr.Code)
}

func TestReapKillsAndEscalatesWhenEncoderHangs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "session4")
	// ignores SIGTERM, forcing SIGKILL escalation
	script := writeScript(t, `trap '' TERM
touch "$1.mkv"
sleep 30
`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	proc, err := Spawn(ctx, Params{Path: script, OutputPath: out})
	require.NoError(t, err)

	// Reap's own timeout floor is 30s; exercise the SIGTERM->SIGKILL
	// escalation directly so the test stays fast.
	start := time.Now()
	proc.signalAndWait()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 12*time.Second)
	path := proc.resolveOutputPath()
	assert.Equal(t, out+".mkv", path)
}
