package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"imx296-capture/corelog"
)

// Provider supplies the current snapshot on demand; core.Core implements it
// by reading its own components' counters.
type Provider interface {
	Snapshot() Snapshot
}

// Writer rewrites the status file atomically (write-to-tmp, rename) at a
// fixed interval, defaulting to the spec's >=1 Hz floor.
type Writer struct {
	path       string
	legacyPath string
	interval   time.Duration
	provider   Provider
}

// NewWriter creates a Writer. legacyPath may be empty to skip the companion
// plain-text file.
func NewWriter(path, legacyPath string, interval time.Duration, provider Provider) *Writer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Writer{path: path, legacyPath: legacyPath, interval: interval, provider: provider}
}

// Run writes the snapshot once immediately, then on every tick, until ctx is
// cancelled. On shutdown the legacy file (if configured) is removed, mirroring
// the source's cleanup-on-stop behaviour.
func (w *Writer) Run(ctx context.Context) {
	w.writeOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if w.legacyPath != "" {
				_ = os.Remove(w.legacyPath)
			}
			return
		case <-ticker.C:
			w.writeOnce()
		}
	}
}

func (w *Writer) writeOnce() {
	snap := w.provider.Snapshot()

	if err := writeAtomic(w.path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}); err != nil {
		corelog.L().Warn("status: write failed: %v", err)
	}

	if w.legacyPath != "" {
		if err := writeLegacy(w.legacyPath, snap); err != nil {
			corelog.L().Warn("status: legacy write failed: %v", err)
		}
	}
}

// writeAtomic writes via a temp file in the same directory, then renames
// over the target, so readers never observe a partial file.
func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename status file: %w", err)
	}
	return nil
}

// writeLegacy is the plain-text terminal-fallback companion carried over
// from status_file.py: a handful of human-readable lines, rewritten
// wholesale on every tick rather than atomically (it is advisory only).
func writeLegacy(path string, s Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	status := "BUFFERING"
	if s.Recording.Active {
		status = "RECORDING"
	}

	fmt.Fprintf(f, "Frames captured: %d\n", s.Recording.FramesRecorded)
	fmt.Fprintf(f, "Status: %s\n", status)
	if s.Recording.Active {
		fmt.Fprintf(f, "Frames written: %d\n", s.Recording.FramesRecorded)
	}
	fmt.Fprintf(f, "Buffer: %d/%d frames (%.0f%% full)\n",
		s.BufferStatus.CurrentSize, s.BufferStatus.MaxSize, s.BufferStatus.UtilizationPercent)
	fmt.Fprintf(f, "LSL: connected=%t sent=%d\n", s.LSLStatus.Connected, s.LSLStatus.SamplesSent)
	return nil
}
