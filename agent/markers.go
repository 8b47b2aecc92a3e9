package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"imx296-capture/corelog"
)

// MarkersOpenTimeout is how long Tail waits for the markers file to be
// created before giving up and creating an empty one itself (the agent may
// simply be slow to start).
const MarkersOpenTimeout = 5 * time.Second

// Tailer watches the agent's markers file for appended lines and emits
// them on Lines. Opening lines whose first field isn't numeric (headers
// like "Starting", "CONFIG", "ERROR", ...) are the caller's responsibility
// to skip; Tailer hands over raw trimmed lines unfiltered.
type Tailer struct {
	Lines chan string
	path  string
}

// NewTailer creates a Tailer for the markers file at path. It blocks for up
// to MarkersOpenTimeout waiting for the file to exist; if it never appears,
// an empty file is created so the tail can proceed.
func NewTailer(path string) (*Tailer, error) {
	return newTailer(path, MarkersOpenTimeout)
}

func newTailer(path string, openTimeout time.Duration) (*Tailer, error) {
	deadline := time.Now().Add(openTimeout)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			corelog.L().Warn("markers file %s never appeared within %s, creating empty", path, openTimeout)
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("create markers file: %w", err)
			}
			f.Close()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	return &Tailer{
		Lines: make(chan string, 256),
		path:  path,
	}, nil
}

// Run watches the file for writes and pushes newly appended lines onto
// Lines until ctx is cancelled. Closes Lines on return.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.Lines)

	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open markers file: %w", err)
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("markers watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(t.path); err != nil {
		return fmt.Errorf("watch markers file: %w", err)
	}

	reader := bufio.NewReader(f)
	t.drainAvailable(reader)

	pollTicker := time.NewTicker(50 * time.Millisecond)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.drainAvailable(reader)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			corelog.L().Warn("markers watcher error: %v", err)
		case <-pollTicker.C:
			// fsnotify can miss rapid successive writes on some
			// filesystems (network shares, overlayfs); a cheap poll
			// fallback keeps the tail from stalling.
			t.drainAvailable(reader)
		}
	}
}

func (t *Tailer) drainAvailable(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			select {
			case t.Lines <- trimNewline(line):
			default:
				corelog.L().Warn("markers tailer: lines channel full, dropping line")
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			corelog.L().Warn("markers file read error: %v", err)
			return
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
