// Package ingest spawns and supervises the camera agent, parses its two
// output channels into models.FrameEvent values, de-duplicates across them,
// and fans each accepted frame out to the ring buffer, the sync publisher,
// and (when armed) the recorder's frame counter — in that fixed order.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"imx296-capture/agent"
	"imx296-capture/clock"
	"imx296-capture/corelog"
	"imx296-capture/models"
)

// RingSink receives every accepted frame for pre-trigger retention.
type RingSink interface {
	Push(models.FrameEvent)
}

// SyncSink receives every accepted frame for outbound sync-bus publication.
type SyncSink interface {
	Publish(models.FrameEvent)
}

// RecorderSink is notified of every accepted frame; it is responsible for
// deciding whether it is currently recording and updating its own counters.
type RecorderSink interface {
	ObserveFrame(models.FrameEvent)
}

// Config is the subset of camera configuration the ingest engine needs.
type Config struct {
	AgentPath               string
	Width, Height, FPS      int
	ExposureUS              int
	Cam1, NoAWB, Preview    bool
	MarkersPath             string
	DurationMs              int
	OutputPath              string
}

// Engine owns one camera-agent session.
type Engine struct {
	cfg   Config
	clk   *clock.Clock
	ring  RingSink
	sync  SyncSink
	rec   RecorderSink

	mu          sync.Mutex
	lastEmitted uint64
	stopped     bool
	stopErr     error
}

// New creates an ingest engine wired to its three downstream sinks.
func New(cfg Config, clk *clock.Clock, ring RingSink, sync SyncSink, rec RecorderSink) *Engine {
	return &Engine{cfg: cfg, clk: clk, ring: ring, sync: sync, rec: rec}
}

// Run spawns the camera agent and blocks, fanning out frames, until ctx is
// cancelled or the agent exits. Returns *agent.ErrExited on abnormal exit.
func (e *Engine) Run(ctx context.Context) error {
	proc, stdoutScanner, err := agent.Spawn(ctx, agent.Params{
		AgentPath:  e.cfg.AgentPath,
		Width:      e.cfg.Width,
		Height:     e.cfg.Height,
		FPS:        e.cfg.FPS,
		DurationMs: e.cfg.DurationMs,
		ExposureUS: e.cfg.ExposureUS,
		OutputPath: e.cfg.OutputPath,
		Preview:    e.cfg.Preview,
		NoAWB:      e.cfg.NoAWB,
		Cam1:       e.cfg.Cam1,
	})
	if err != nil {
		return fmt.Errorf("spawn camera agent: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	stallInterval := stallTimeout(e.cfg.FPS)

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runStdout(ctx, stdoutScanner, proc, stallInterval)
	}()

	tailer, err := agent.NewTailer(e.cfg.MarkersPath)
	if err != nil {
		corelog.L().Warn("ingest: markers tailer unavailable: %v", err)
		tailer = nil
	}

	if tailer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tailer.Run(ctx); err != nil {
				corelog.L().Warn("ingest: markers tailer stopped: %v", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runMarkers(ctx, tailer.Lines, proc, stallInterval)
		}()
	}

	<-proc.Done()
	cancel()
	wg.Wait()

	if exitErr := proc.Err(); exitErr != nil {
		e.mu.Lock()
		e.stopped = true
		e.stopErr = exitErr
		e.mu.Unlock()
		return exitErr
	}
	return nil
}

// stallTimeout implements T_stall = max(1s, 10/fps).
func stallTimeout(fps int) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	t := 10.0 / float64(fps)
	if t < 1.0 {
		t = 1.0
	}
	return time.Duration(t * float64(time.Second))
}

func (e *Engine) runStdout(ctx context.Context, sc *bufio.Scanner, proc *agent.Process, stall time.Duration) {
	lastFrame := time.Now()
	stallTicker := time.NewTicker(stall)
	defer stallTicker.Stop()

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stallTicker.C:
			select {
			case <-proc.Done():
				continue
			default:
			}
			if time.Since(lastFrame) > stall {
				corelog.L().Warn("ingest: stdout stall, no frame for %s", time.Since(lastFrame))
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			n, ct, ok := parseStdoutLine(line)
			if !ok {
				corelog.L().Debug("ingest: skip stdout line: %s", line)
				continue
			}
			lastFrame = time.Now()
			e.accept(models.FrameEvent{FrameNumber: n, CaptureTime: ct, Source: models.SourceAgentStdout})
		}
	}
}

func (e *Engine) runMarkers(ctx context.Context, lines <-chan string, proc *agent.Process, stall time.Duration) {
	lastFrame := time.Now()
	stallTicker := time.NewTicker(stall)
	defer stallTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stallTicker.C:
			select {
			case <-proc.Done():
				continue
			default:
			}
			if time.Since(lastFrame) > stall {
				corelog.L().Warn("ingest: markers stall, no frame for %s", time.Since(lastFrame))
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			n, ct, ok := parseMarkersLine(line)
			if !ok {
				corelog.L().Debug("ingest: skip markers line: %s", line)
				continue
			}
			lastFrame = time.Now()
			e.accept(models.FrameEvent{FrameNumber: n, CaptureTime: ct, Source: models.SourceMarkersFile})
		}
	}
}

// accept applies the single last_emitted_frame_number de-duplication gate
// (I1) and, if the candidate passes, fans it out to ring, sync, and
// recorder in that fixed order (§4.2).
func (e *Engine) accept(candidate models.FrameEvent) {
	e.mu.Lock()
	if candidate.FrameNumber <= e.lastEmitted {
		e.mu.Unlock()
		return
	}
	e.lastEmitted = candidate.FrameNumber
	e.mu.Unlock()

	e.ring.Push(candidate)
	e.sync.Publish(candidate)
	e.rec.ObserveFrame(candidate)
}

// LastEmitted returns the most recently accepted frame number (0 if none).
func (e *Engine) LastEmitted() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEmitted
}

// Stopped reports whether the camera agent has exited, and the error it
// exited with if any. Implements recorder.AgentStatus so StartRecording can
// fail fast with AgentUnavailable instead of arming a session that will
// never receive a frame.
func (e *Engine) Stopped() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped, e.stopErr
}
