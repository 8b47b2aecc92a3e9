// Package recorder implements the trigger-arbiter/recording state machine:
// Idle -> Arming -> Recording -> Stopping -> Idle, guarded by one mutex,
// with the long operations (ring snapshot + sidecar write, encoder spawn,
// encoder reap) running outside the lock once the state has already
// advanced to the intermediate phase.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"imx296-capture/clock"
	"imx296-capture/corelog"
	"imx296-capture/encoderproc"
	"imx296-capture/models"
)

// State-scoped errors returned to the public API without side effects.
var (
	ErrAlreadyRecording   = errors.New("recording already in progress")
	ErrNotRecording       = errors.New("no recording in progress")
	ErrEncoderSpawnFailed = errors.New("encoder failed to start")
	ErrAgentUnavailable   = errors.New("camera agent unavailable")
)

// AgentStatus is the subset of ingest.Engine the recorder needs to refuse
// StartRecording fast when the camera agent has already exited (spec.md §4.6
// scenario S4: "subsequent start_recording returns AgentUnavailable until a
// new agent can be spawned"), instead of arming a session that will never
// see a frame.
type AgentStatus interface {
	Stopped() (bool, error)
}

// RingSource is the subset of ringbuf.Ring the recorder needs to drain the
// pre-trigger buffer at Idle->Arming.
type RingSource interface {
	Snapshot() []models.FrameEvent
	OldestAge(now float64) float64
}

// TriggerSetter is the subset of syncbus.Publisher the recorder needs to
// annotate outbound samples with the active trigger source.
type TriggerSetter interface {
	SetTrigger(t models.TriggerState, triggerTime float64)
}

// Config configures where recordings land and how the encoder is invoked.
type Config struct {
	OutputBaseDir string // default "recordings"
	EncoderPath   string
	EncoderArgs   []string // codec/container flags; output path is appended by encoderproc
}

// Controller is the single owner of recording state. All transitions
// serialize through mu; long-running work (snapshot+sidecar, encoder
// spawn/reap) runs after the lock is released, once the state already
// reflects the in-flight phase so concurrent callers observe it correctly.
type Controller struct {
	cfg   Config
	clk   *clock.Clock
	ring  RingSource
	pub   TriggerSetter

	mu      sync.Mutex
	state   models.RecorderState
	session *session

	agentMu sync.Mutex
	agent   AgentStatus

	// TMarkRevert is the delay (spec T_mark = 1s) before the trigger
	// annotation reverts to None after arming failure or session end.
	TMarkRevert time.Duration
}

// SetAgentStatus wires the liveness check StartRecording consults before
// arming. Set after construction since ingest.Engine is built after the
// Controller it feeds (core.Core.Start).
func (c *Controller) SetAgentStatus(a AgentStatus) {
	c.agentMu.Lock()
	c.agent = a
	c.agentMu.Unlock()
}

// New creates a Controller. ring and pub may be nil in tests that only
// exercise ObserveFrame/state transitions without sidecar/sync wiring.
func New(cfg Config, clk *clock.Clock, ring RingSource, pub TriggerSetter) *Controller {
	if cfg.OutputBaseDir == "" {
		cfg.OutputBaseDir = "recordings"
	}
	return &Controller{
		cfg:         cfg,
		clk:         clk,
		ring:        ring,
		pub:         pub,
		TMarkRevert: time.Second,
	}
}

// State returns the current recorder state.
func (c *Controller) State() models.RecorderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveSession reports the in-flight session's output path and frame count
// for the status snapshot's recording_status block. ok is false at Idle.
func (c *Controller) ActiveSession(now float64) (outputPath string, framesRecorded uint64, duration float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", 0, 0, false
	}
	d := 0.0
	if c.session.startedAt != 0 {
		d = now - c.session.startedAt
	}
	return c.session.outputBase, c.session.framesRecorded, d, true
}

// StartRecording transitions Idle->Arming: it snapshots the ring into a
// sidecar, spawns the encoder, and tags outbound sync samples with source.
// duration is nil for an open-ended recording; filename overrides the
// default timestamp-derived stem when non-empty.
func (c *Controller) StartRecording(duration *float64, filename string, source models.TriggerState) (string, error) {
	wallSeconds, wallTime := c.clk.Wall()
	sess := &session{
		id:                uuid.NewString(),
		requestedDuration: duration,
		startedAtWall:     wallSeconds,
		encoderReady:      make(chan struct{}),
	}

	c.agentMu.Lock()
	agent := c.agent
	c.agentMu.Unlock()
	if agent != nil {
		if stopped, _ := agent.Stopped(); stopped {
			return "", ErrAgentUnavailable
		}
	}

	c.mu.Lock()
	if c.state != models.Idle {
		c.mu.Unlock()
		return "", ErrAlreadyRecording
	}
	c.state = models.Arming
	c.session = sess
	c.mu.Unlock()

	outDir, stem := c.layout(wallTime, filename)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		c.abortArming(sess, source)
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	sess.outputBase = filepath.Join(outDir, stem)
	sess.prebufferPath = filepath.Join(outDir, stem+"_buffer.txt")

	if c.ring != nil {
		frames := c.ring.Snapshot()
		sess.prebufferFrames = len(frames)
		if err := writeSidecar(sess.prebufferPath, sess.id, frames, c.ring.OldestAge(c.clk.Now())); err != nil {
			corelog.L().Warn("recorder: sidecar write failed: %v", err)
		}
	}

	proc, err := encoderproc.Spawn(context.Background(), encoderproc.Params{
		Path:       c.cfg.EncoderPath,
		Args:       c.cfg.EncoderArgs,
		OutputPath: sess.outputBase,
	})
	if err != nil {
		c.abortArming(sess, source)
		return "", fmt.Errorf("%w: %v", ErrEncoderSpawnFailed, err)
	}

	c.mu.Lock()
	sess.encoder = proc
	c.mu.Unlock()
	close(sess.encoderReady)

	if c.pub != nil {
		c.pub.SetTrigger(source, c.clk.Now())
	}

	go c.watchSpontaneousExit(sess)

	corelog.L().Info("recorder: session %s arming, output %s", sess.id, sess.outputBase)
	return sess.id, nil
}

// abortArming reverts Arming->Idle on an encoder-spawn failure, keeping the
// trigger annotation visible for T_mark before clearing it (spec: "surface
// error; revert TriggerState to None after 1s"). It unblocks anyone waiting
// on sess.encoderReady before dropping the session, since sess.encoder will
// now never be set.
func (c *Controller) abortArming(sess *session, source models.TriggerState) {
	c.mu.Lock()
	if c.session == sess && c.state == models.Arming {
		c.state = models.Idle
		c.session = nil
	}
	c.mu.Unlock()
	close(sess.encoderReady)

	if c.pub == nil {
		return
	}
	c.pub.SetTrigger(source, c.clk.Now())
	go func() {
		time.Sleep(c.TMarkRevert)
		c.pub.SetTrigger(models.TriggerNone, c.clk.Now())
	}()
}

// layout picks the output directory and filename stem per spec:
// recordings/YYYY_MM_DD/video/YYYY_MM_DD_HH_MM_SS, overridable by filename.
func (c *Controller) layout(wall time.Time, filename string) (dir, stem string) {
	date := wall.Format("2006_01_02")
	dir = filepath.Join(c.cfg.OutputBaseDir, date, "video")
	if filename != "" {
		return dir, filename
	}
	return dir, wall.Format("2006_01_02_15_04_05")
}

// ObserveFrame is called by the ingest engine for every accepted frame,
// regardless of recorder state (implements ingest.RecorderSink). It drives
// the Arming->Recording transition on the first frame after arming and
// counts frames while Recording, detecting requested-duration elapsed.
func (c *Controller) ObserveFrame(e models.FrameEvent) {
	c.mu.Lock()
	switch c.state {
	case models.Arming:
		c.state = models.Recording
		sess := c.session
		sess.startedAt = e.CaptureTime
		sess.firstFrameNumber = e.FrameNumber
		sess.lastFrameNumber = e.FrameNumber
		sess.framesRecorded = 1
		c.mu.Unlock()
		corelog.L().Info("recorder: session %s recording, first frame %d", sess.id, e.FrameNumber)
		return

	case models.Recording:
		sess := c.session
		sess.lastFrameNumber = e.FrameNumber
		sess.framesRecorded++
		elapsed := c.clk.Now() - sess.startedAt
		durationElapsed := sess.requestedDuration != nil && elapsed >= *sess.requestedDuration
		c.mu.Unlock()

		if durationElapsed {
			go c.finishSession(sess)
		}
		return

	default:
		c.mu.Unlock()
	}
}

// watchSpontaneousExit treats an unrequested encoder exit as normal
// completion (spec: "Recording | encoder exits on its own | Stopping").
func (c *Controller) watchSpontaneousExit(sess *session) {
	<-sess.encoder.Done()
	c.finishSession(sess)
}

// StopRecording transitions Recording/Arming->Stopping->Idle on an explicit
// stop command, returning the final stats.
func (c *Controller) StopRecording() (models.RecordingStats, error) {
	c.mu.Lock()
	if c.state == models.Idle {
		c.mu.Unlock()
		return models.RecordingStats{}, ErrNotRecording
	}
	sess := c.session
	c.state = models.Stopping
	c.mu.Unlock()

	<-sess.encoderReady
	if sess.encoder != nil {
		sess.encoder.Terminate()
	}
	return c.finishSession(sess), nil
}

// StopForShutdown stops any active session within budget, for process
// shutdown (spec.md §5: "Maximum shutdown time: 5s, after which the encoder
// is killed and worker threads are detached"). It runs the normal stop path
// in the background and races it against budget; if the budget expires
// first, it force-kills the encoder and returns without waiting for the
// background stop to finish.
func (c *Controller) StopForShutdown(budget time.Duration) {
	c.mu.Lock()
	active := c.state != models.Idle
	sess := c.session
	c.mu.Unlock()
	if !active || sess == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.StopRecording()
	}()

	select {
	case <-done:
	case <-time.After(budget):
		corelog.L().Warn("recorder: shutdown budget exceeded, killing encoder")
		select {
		case <-sess.encoderReady:
			if sess.encoder != nil {
				sess.encoder.Kill()
			}
		default:
		}
	}
}

// finishSession reaps the encoder, computes final stats, and returns the
// state machine to Idle. Safe to call concurrently from the spontaneous-exit
// watcher and an explicit StopRecording; only the first call does the work.
func (c *Controller) finishSession(sess *session) models.RecordingStats {
	sess.finishOnce.Do(func() {
		c.mu.Lock()
		c.state = models.Stopping
		c.mu.Unlock()

		budget := 0 * time.Second
		if sess.requestedDuration != nil {
			budget = time.Duration(*sess.requestedDuration * float64(time.Second))
		}

		var outPath string
		var exitCode int
		if sess.encoder != nil {
			var encErr error
			outPath, encErr = sess.encoder.Reap(budget)
			if encErr != nil {
				var exited *encoderproc.ErrExited
				if errors.As(encErr, &exited) {
					exitCode = exited.Code
				}
			}
		}

		info, statErr := os.Stat(outPath)
		sess.stats = models.RecordingStats{
			SessionID:           sess.id,
			StartedAt:           sess.startedAt,
			StoppedAt:           c.clk.Now(),
			FramesRecorded:      sess.framesRecorded,
			FirstFrameNumber:    sess.firstFrameNumber,
			LastFrameNumber:     sess.lastFrameNumber,
			OutputPath:          outPath,
			PrebufferPath:       sess.prebufferPath,
			OutputFileExists:    statErr == nil,
			EncoderExitCode:     exitCode,
			PrebufferFrameCount: sess.prebufferFrames,
		}
		if statErr == nil {
			sess.stats.OutputFileBytes = info.Size()
		}

		c.mu.Lock()
		c.state = models.Idle
		c.session = nil
		c.mu.Unlock()

		corelog.L().Info("recorder: session %s finished, %d frames, output %s", sess.id, sess.stats.FramesRecorded, outPath)

		if c.pub != nil {
			go func() {
				time.Sleep(c.TMarkRevert)
				c.pub.SetTrigger(models.TriggerNone, c.clk.Now())
			}()
		}
	})
	return sess.stats
}
