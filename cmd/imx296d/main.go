package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"imx296-capture/config"
	"imx296-capture/core"
	"imx296-capture/corelog"
)

func main() {
	// ── CLI flags ────────────────────────────────────────────────────
	cameraPath := flag.String("camera", "config/camera.yaml", "path to camera.yaml")
	controlPath := flag.String("control", "config/control.yaml", "path to control.yaml")
	logFile := flag.String("log", "", "optional log file path (stdout is always included)")
	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────
	logger := corelog.Init(corelog.INFO, *logFile)
	defer logger.Close()

	corelog.L().Info("═══════════════════════════════════════════════════")
	corelog.L().Info("  imx296d  ·  Global-Shutter Capture Core")
	corelog.L().Info("  GOMAXPROCS=%d  ·  PID=%d", runtime.GOMAXPROCS(0), os.Getpid())
	corelog.L().Info("═══════════════════════════════════════════════════")

	// ── Load configs ─────────────────────────────────────────────────
	cameraCfg, err := config.LoadCameraConfig(*cameraPath)
	if err != nil {
		corelog.L().Fatal("load camera config: %v", err)
	}
	controlCfg, err := config.LoadControlConfig(*controlPath)
	if err != nil {
		corelog.L().Fatal("load control config: %v", err)
	}

	// ── Context with OS signal cancellation ──────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ── Core assembly ────────────────────────────────────────────────
	//
	//  camera agent (subprocess) ──► ingest.Engine ──► ring, sync publisher,
	//                                                   recorder counter
	//  trigger sources (keyboard/remote) ──► core.dispatchCommands ──► recorder
	//  status.Writer polls core.Snapshot() every interval_sec

	app := core.New(cameraCfg, controlCfg)
	if err := app.Start(ctx); err != nil {
		corelog.L().Fatal("start core: %v", err)
	}

	corelog.L().Info("capture core running — press Ctrl+C to stop")

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	exitCode := 0
	for {
		select {
		case sig := <-sigCh:
			corelog.L().Info("received signal: %v — shutting down…", sig)
			if sig == syscall.SIGINT {
				exitCode = 130
			}
			goto shutdown

		case <-ctx.Done():
			goto shutdown

		case <-statsTicker.C:
			snap := app.Snapshot()
			corelog.L().Info("── stats ─────────────────────────")
			corelog.L().Info("  buffer: %d/%d (%.0f%% full)", snap.BufferStatus.CurrentSize, snap.BufferStatus.MaxSize, snap.BufferStatus.UtilizationPercent)
			corelog.L().Info("  recording: active=%t frames=%d", snap.Recording.Active, snap.Recording.FramesRecorded)
			corelog.L().Info("  sync-bus: connected=%t sent=%d", snap.LSLStatus.Connected, snap.LSLStatus.SamplesSent)
			corelog.L().Info("──────────────────────────────────")
		}
	}

shutdown:
	app.Shutdown()
	corelog.L().Info("imx296d exiting with code %d", exitCode)
	os.Exit(exitCode)
}
