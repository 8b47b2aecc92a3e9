// Package core wires every subsystem (clock, ring, sync publisher, ingest
// engine, recorder, status writer, trigger sources) into the single object
// that owns the capture process's lifecycle, mirroring the teacher's
// main-owns-all-controllers shape instead of the source's module-scope
// globals (spec.md §9 "Global mutable singletons").
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"imx296-capture/clock"
	"imx296-capture/config"
	"imx296-capture/corelog"
	"imx296-capture/ingest"
	"imx296-capture/models"
	"imx296-capture/recorder"
	"imx296-capture/ringbuf"
	"imx296-capture/status"
	"imx296-capture/syncbus"
	"imx296-capture/trigger"
)

// Core owns Clock, Ring, Publisher, Engine, Recorder, and the status
// writer, and is the sole entry point the CLI and the trigger sources call
// into.
type Core struct {
	clk  *clock.Clock
	ring *ringbuf.Ring
	pub  *syncbus.Publisher
	rec  *recorder.Controller

	cameraCfg *config.CameraConfig
	controlCfg *config.ControlConfig

	statusWriter *status.Writer
	sys          *status.SysCollector

	startedWall time.Time
	triggerCount uint64

	wg         sync.WaitGroup
	cancel     context.CancelFunc
	shutdownMu sync.Mutex
	shutDown   bool

	commands chan trigger.Command
}

// New builds a Core from validated configuration. It does not start any
// workers; call Start for that.
func New(cameraCfg *config.CameraConfig, controlCfg *config.ControlConfig) *Core {
	clk := clock.New()
	ring := ringbuf.New(cameraCfg.Ring.Capacity)

	outletAddr := controlCfg.SyncBus.ListenAddr
	var outlet syncbus.Outlet
	if controlCfg.SyncBus.Enabled {
		outlet = syncbus.NewWSOutlet(outletAddr, syncbus.StreamInfo{
			Name:         firstNonEmpty(controlCfg.SyncBus.StreamName, "IMX296Camera"),
			Type:         "VideoEvents",
			ChannelCount: 3,
			NominalRate:  float64(cameraCfg.Sensor.FPS),
		})
	} else {
		outlet = disabledOutlet{}
	}
	pub := syncbus.NewPublisher(outlet, syncbus.StreamInfo{
		Name:         firstNonEmpty(controlCfg.SyncBus.StreamName, "IMX296Camera"),
		Type:         "VideoEvents",
		ChannelCount: 3,
		NominalRate:  float64(cameraCfg.Sensor.FPS),
	}, clk, controlCfg.SyncBus.QueueSize)

	rec := recorder.New(recorder.Config{
		OutputBaseDir: cameraCfg.Recordings.BaseDir,
		EncoderPath:   cameraCfg.Encoder.Path,
		EncoderArgs:   cameraCfg.Encoder.Args,
	}, clk, ring, pub)

	return &Core{
		clk:        clk,
		ring:       ring,
		pub:        pub,
		rec:        rec,
		cameraCfg:  cameraCfg,
		controlCfg: controlCfg,
		sys:        status.NewSysCollector(cameraCfg.Recordings.BaseDir),
		commands:   make(chan trigger.Command, 16),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// disabledOutlet is used in place of a real websocket outlet when the
// operator's control.yaml turns sync-bus publishing off entirely.
type disabledOutlet struct{}

func (disabledOutlet) Open() error                  { return errors.New("sync-bus disabled by config") }
func (disabledOutlet) Push(syncbus.Frame) error      { return nil }
func (disabledOutlet) Close()                        {}

// Start boots the ingest engine, sync publisher, status writer, and any
// enabled trigger sources, and begins dispatching commands. It returns once
// everything is launched; engine failures surface asynchronously via
// Snapshot()/logs, not through this call.
func (c *Core) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.startedWall = time.Now()

	c.pub.Start(ctx)

	engine := ingest.New(ingest.Config{
		AgentPath:   c.cameraCfg.Agent.Path,
		Width:       c.cameraCfg.Sensor.Width,
		Height:      c.cameraCfg.Sensor.Height,
		FPS:         c.cameraCfg.Sensor.FPS,
		ExposureUS:  c.cameraCfg.Sensor.ExposureUS,
		Cam1:        c.cameraCfg.Agent.Cam1,
		NoAWB:       c.cameraCfg.Agent.NoAWB,
		Preview:     c.cameraCfg.Agent.Preview,
		MarkersPath: c.cameraCfg.MarkersFile.Path,
	}, c.clk, c.ring, c.pub, c.rec)
	c.rec.SetAgentStatus(engine)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := engine.Run(ctx); err != nil {
			corelog.L().Error("core: ingest engine stopped: %v", err)
		}
	}()

	if c.controlCfg.Status.Path != "" {
		interval := time.Duration(c.controlCfg.Status.IntervalSec * float64(time.Second))
		c.statusWriter = status.NewWriter(c.controlCfg.Status.Path, c.controlCfg.Status.LegacyPath, interval, c)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.statusWriter.Run(ctx)
		}()
	}

	if c.controlCfg.Keyboard.Enabled {
		kb := trigger.NewKeyboardSource(os.Stdin)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			kb.Run(ctx, c.commands)
		}()
	}

	var remote *trigger.RemoteSource
	if c.controlCfg.Remote.Enabled {
		remote = trigger.NewRemoteSource(trigger.RemoteConfig{
			Server:       c.controlCfg.Remote.Server,
			Topic:        c.controlCfg.Remote.Topic,
			PollInterval: time.Duration(c.controlCfg.Remote.PollIntervalSec * float64(time.Second)),
		})
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			remote.Run(ctx, c.commands)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatchCommands(ctx, remote)
	}()

	corelog.L().Info("core: started")
	return nil
}

// dispatchCommands drains trigger.Command values from every source and
// applies them to the recorder, replying over the remote source when the
// command came from there (spec §7: "recording commands always receive a
// terminal reply").
func (c *Core) dispatchCommands(ctx context.Context, remote *trigger.RemoteSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			c.handleCommand(cmd, remote)
		}
	}
}

func (c *Core) handleCommand(cmd trigger.Command, remote *trigger.RemoteSource) {
	switch cmd.Kind {
	case trigger.StartRecording:
		// The recorder sets the trigger annotation itself and reverts it
		// T_mark after the session ends, so only the count is bumped here.
		atomic.AddUint64(&c.triggerCount, 1)
		id, err := c.StartRecording(cmd.Duration, cmd.Filename, cmd.Source)
		if err != nil {
			corelog.L().Warn("core: start_recording failed: %v", err)
			if remote != nil && cmd.Source == models.TriggerRemote {
				remote.NotifyResult("Start Recording Failed", err.Error())
			}
			return
		}
		if remote != nil && cmd.Source == models.TriggerRemote {
			remote.NotifyResult("Recording Started", fmt.Sprintf("session %s", id))
		}

	case trigger.StopRecording:
		stats, err := c.StopRecording()
		if err != nil {
			corelog.L().Warn("core: stop_recording failed: %v", err)
			if remote != nil && cmd.Source == models.TriggerRemote {
				remote.NotifyResult("Stop Recording Failed", err.Error())
			}
			return
		}
		if remote != nil && cmd.Source == models.TriggerRemote {
			remote.NotifyResult("Recording Stopped", fmt.Sprintf("%d frames, %.1fs", stats.FramesRecorded, stats.Duration()))
		}

	case trigger.Status, trigger.GetStats:
		snap := c.Snapshot()
		if remote != nil && cmd.Source == models.TriggerRemote {
			remote.NotifyResult("Camera Status", fmt.Sprintf("recording=%t frames=%d", snap.Recording.Active, snap.Recording.FramesRecorded))
		}
	}
}

// StartRecording is the programmatic entry point to arm a new session.
func (c *Core) StartRecording(duration *float64, filename string, source models.TriggerState) (string, error) {
	return c.rec.StartRecording(duration, filename, source)
}

// StopRecording is the programmatic entry point to end the active session.
func (c *Core) StopRecording() (models.RecordingStats, error) {
	return c.rec.StopRecording()
}

// Trigger marks the next outbound sync samples with source for T_mark,
// then reverts (spec §4.6). Also feeds trigger_status.trigger_count.
func (c *Core) Trigger(source models.TriggerState) {
	atomic.AddUint64(&c.triggerCount, 1)
	c.pub.SetTrigger(source, c.clk.Now())
	go func() {
		time.Sleep(time.Second)
		c.pub.SetTrigger(models.TriggerNone, c.clk.Now())
	}()
}

// Snapshot implements status.Provider.
func (c *Core) Snapshot() status.Snapshot {
	connected, sent, dropped := c.pub.Stats()
	_ = dropped // surfaced via logs; not part of the fixed status schema

	lastTrigger, lastTriggerTime := c.pub.LastTrigger()
	lastSample := c.pub.LastSample()

	state := c.rec.State()
	active := state == models.Recording || state == models.Arming || state == models.Stopping
	outputPath, framesRecorded, duration, _ := c.rec.ActiveSession(c.clk.Now())

	return status.Snapshot{
		ServiceRunning: true,
		Uptime:         time.Since(c.startedWall).Seconds(),
		LSLStatus: status.LSLStatus{
			Connected:        connected,
			SamplesSent:      sent,
			SamplesPerSecond: c.pub.SamplesPerSecond(),
			LastSample:       lastSample,
		},
		BufferStatus: status.BufferStatus{
			CurrentSize:        c.ring.Len(),
			MaxSize:            c.ring.Cap(),
			UtilizationPercent: 100 * float64(c.ring.Len()) / float64(c.ring.Cap()),
			OldestFrameAge:     c.ring.OldestAge(c.clk.Now()),
		},
		Recording: status.Recording{
			Active:         active,
			CurrentFile:    outputPath,
			FramesRecorded: framesRecorded,
			Duration:       duration,
		},
		Trigger: status.Trigger{
			LastTriggerType: lastTrigger.String(),
			LastTriggerTime: lastTriggerTime,
			TriggerCount:    atomic.LoadUint64(&c.triggerCount),
		},
		System: c.sys.Sample(),
	}
}

// Shutdown is idempotent and completes within a 5s budget: it stops any
// active recording, cancels every worker, drains the sync publisher, and
// waits for workers to exit.
func (c *Core) Shutdown() {
	c.shutdownMu.Lock()
	if c.shutDown {
		c.shutdownMu.Unlock()
		return
	}
	c.shutDown = true
	c.shutdownMu.Unlock()

	deadline := time.Now().Add(5 * time.Second)

	c.rec.StopForShutdown(time.Until(deadline))

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		corelog.L().Warn("core: shutdown exceeded 5s budget, detaching remaining workers")
	}

	c.pub.Shutdown()
	corelog.L().Info("core: shutdown complete")
}
