package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imx296-capture/clock"
	"imx296-capture/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.FrameEvent
}

func (s *recordingSink) Push(e models.FrameEvent)          { s.add(e) }
func (s *recordingSink) Publish(e models.FrameEvent)       { s.add(e) }
func (s *recordingSink) ObserveFrame(e models.FrameEvent)  { s.add(e) }
func (s *recordingSink) add(e models.FrameEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}
func (s *recordingSink) snapshot() []models.FrameEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FrameEvent, len(s.events))
	copy(out, s.events)
	return out
}

func writeFakeAgentScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

// S2 – duplicate suppression: the same frame_number arrives on stdout and
// markers within milliseconds; exactly one is fanned out downstream.
func TestS2DuplicateSuppression(t *testing.T) {
	dir := t.TempDir()
	markersPath := filepath.Join(dir, "markers.txt")
	require.NoError(t, os.WriteFile(markersPath, []byte("Starting\n42 0.420\n"), 0644))

	script := writeFakeAgentScript(t, `
echo "FRAME_DATA:42:0.420"
sleep 2
`)

	ring := &recordingSink{}
	sink := &recordingSink{}
	rec := &recordingSink{}

	eng := New(Config{
		AgentPath:   script,
		Width:       400, Height: 400, FPS: 100,
		MarkersPath: markersPath,
	}, clock.New(), ring, sink, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	time.Sleep(500 * time.Millisecond)
	cancel()
	<-done

	events := ring.snapshot()
	count42 := 0
	for _, e := range events {
		if e.FrameNumber == 42 {
			count42++
		}
	}
	assert.Equal(t, 1, count42, "frame 42 must be fanned out exactly once despite arriving on both channels")
}

// Spec S4: once the camera agent exits, Stopped reports it so the recorder
// can fail StartRecording fast instead of arming a session no frame will
// ever reach.
func TestStoppedReportsAgentExit(t *testing.T) {
	ring := &recordingSink{}
	sink := &recordingSink{}
	rec := &recordingSink{}

	dir := t.TempDir()
	markersPath := filepath.Join(dir, "markers.txt")
	require.NoError(t, os.WriteFile(markersPath, []byte("Starting\n"), 0644))

	script := writeFakeAgentScript(t, `exit 1`)
	eng := New(Config{AgentPath: script, Width: 400, Height: 400, FPS: 100, MarkersPath: markersPath}, clock.New(), ring, sink, rec)

	stopped, _ := eng.Stopped()
	assert.False(t, stopped)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = eng.Run(ctx)

	stopped, err := eng.Stopped()
	assert.True(t, stopped)
	assert.Error(t, err)
}

func TestAcceptDropsOutOfOrder(t *testing.T) {
	ring := &recordingSink{}
	sink := &recordingSink{}
	rec := &recordingSink{}
	eng := New(Config{FPS: 100}, clock.New(), ring, sink, rec)

	eng.accept(models.FrameEvent{FrameNumber: 5, CaptureTime: 0.05})
	eng.accept(models.FrameEvent{FrameNumber: 3, CaptureTime: 0.03})
	eng.accept(models.FrameEvent{FrameNumber: 5, CaptureTime: 0.05})
	eng.accept(models.FrameEvent{FrameNumber: 6, CaptureTime: 0.06})

	events := ring.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(5), events[0].FrameNumber)
	assert.Equal(t, uint64(6), events[1].FrameNumber)
	assert.Equal(t, uint64(6), eng.LastEmitted())
}
