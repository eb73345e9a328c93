// Package main provides a capture agent that watches a microphone and a
// document camera, fires threshold-driven captures, and submits the
// resulting artifacts downstream.
//
// Usage:
//
//	capture-agent [-config path/to/config.json]
//
// If -config is not specified, the agent looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/scandesk/capture-agent/internal/agent"
	"github.com/scandesk/capture-agent/internal/config"
	"github.com/scandesk/capture-agent/internal/eventlog"
	"github.com/scandesk/capture-agent/internal/source"
	"github.com/scandesk/capture-agent/internal/types"
	"github.com/scandesk/capture-agent/internal/util"
)

// Version information, set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	snap := cfg.Snapshot()

	logPath := snap.LogPath
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(*configPath), "events.log")
	}
	events, err := eventlog.NewLogger(logPath)
	if err != nil {
		slog.Error("failed to open event log", "path", logPath, "error", err)
		os.Exit(1)
	}

	voiceSrc := buildVoiceSource(&snap)
	docSrc := buildDocumentSource(&snap)

	ag := agent.New(cfg, events, voiceSrc, docSrc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ag.Start(ctx)

	go func() {
		if err := cfg.Watch(ctx, ag.ApplyConfig); err != nil && ctx.Err() == nil {
			slog.Error("config watcher stopped", "error", err)
		}
	}()

	// Sessions start on boot; a missing device is logged and the session
	// can be started later via the API.
	for _, kind := range []types.SessionKind{types.KindVoice, types.KindDocument} {
		if err := ag.StartSession(ctx, kind); err != nil {
			slog.Warn("session not started", "kind", kind, "error", err)
		}
	}

	srv := NewServer(cfg, ag)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	ag.Shutdown()

	if err := events.Close(); err != nil {
		slog.Error("event log close error", "error", err)
	}

	slog.Info("shutdown complete")
}

// buildVoiceSource constructs the microphone source: an ffmpeg process
// writing raw s16le chunks sized to one tick.
func buildVoiceSource(snap *config.Snapshot) source.Source {
	v := &snap.Voice
	chunk := int(int64(v.SampleRate*v.Channels*2) * v.TickMs / 1000)

	inputFormat, device := audioInput(v.Device)
	args := []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", fmt.Sprintf("%d", v.Channels),
		"-ar", fmt.Sprintf("%d", v.SampleRate),
		"pipe:1",
	}
	return source.NewExecSource(snap.FFmpegPath, args, chunk)
}

// buildDocumentSource constructs the camera source: an ffmpeg process
// writing raw rgb24 frames.
func buildDocumentSource(snap *config.Snapshot) source.Source {
	d := &snap.Document
	chunk := d.FrameWidth * d.FrameHeight * 3

	inputFormat, device := videoInput(d.Device)
	args := []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-an",
		"-vf", fmt.Sprintf("fps=%d/%d,scale=%d:%d", 1000, d.TickMs, d.FrameWidth, d.FrameHeight),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
	return source.NewExecSource(snap.FFmpegPath, args, chunk)
}

// audioInput resolves the platform capture format and default device.
func audioInput(device string) (format, dev string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", cmp.Or(device, ":0")
	case "windows":
		return "dshow", cmp.Or(device, "audio=default")
	default:
		return "alsa", cmp.Or(device, "default")
	}
}

// videoInput resolves the platform camera format and default device.
func videoInput(device string) (format, dev string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", cmp.Or(device, "0:")
	case "windows":
		return "dshow", cmp.Or(device, "video=default")
	default:
		return "v4l2", cmp.Or(device, "/dev/video0")
	}
}
