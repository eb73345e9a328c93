// Package agent wires capture sessions, the processing queue, and the
// downstream sinks into one runtime.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scandesk/capture-agent/internal/archive"
	"github.com/scandesk/capture-agent/internal/audio"
	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/config"
	"github.com/scandesk/capture-agent/internal/eventlog"
	"github.com/scandesk/capture-agent/internal/playback"
	"github.com/scandesk/capture-agent/internal/source"
	"github.com/scandesk/capture-agent/internal/submit"
	"github.com/scandesk/capture-agent/internal/types"
	"github.com/scandesk/capture-agent/internal/video"
)

// Agent owns the two capture sessions and the shared processing pipeline.
type Agent struct {
	config *config.Config
	events *eventlog.Logger

	submitter *submit.Client
	archiver  *archive.Store
	playback  *playback.Subscriber
	queue     *capture.Queue

	voiceDet  *audio.Detector
	voiceNorm *audio.Normalizer
	docDet    *video.Detector
	docNorm   *video.Normalizer

	voice    *capture.Controller
	document *capture.Controller

	mu           sync.Mutex
	cancelFeeds  context.CancelFunc
	startedFeeds bool
}

// New builds an agent from the current configuration. Sources supply raw
// device reads for each session kind.
func New(cfg *config.Config, events *eventlog.Logger, voiceSrc, docSrc source.Source) *Agent {
	snap := cfg.Snapshot()

	a := &Agent{
		config:    cfg,
		events:    events,
		submitter: submit.NewClient(snap.Submission),
		archiver:  archive.NewStore(snap.Archive),
		playback:  playback.NewSubscriber(snap.Playback.URL),
	}

	timeout := time.Duration(snap.Submission.TimeoutMs) * time.Millisecond
	a.queue = capture.NewQueue(a.submitter, a.archiver, timeout, events)

	a.voiceDet = audio.NewDetector(voiceClassifierConfig(&snap.Voice))
	a.voiceNorm = audio.NewNormalizer(audio.Format{
		SampleRate: snap.Voice.SampleRate,
		Channels:   snap.Voice.Channels,
		Encoding:   audio.EncodingS16LE,
	}, time.Duration(snap.Voice.MinArtifactMs)*time.Millisecond)

	a.docDet = video.NewDetector(documentClassifierConfig(&snap.Document))
	a.docNorm = video.NewNormalizer(snap.Document.ContentType)
	a.docNorm.SetFrameSize(snap.Document.FrameWidth, snap.Document.FrameHeight)

	a.voice = capture.NewController(
		types.KindVoice, voiceSrc, a.voiceDet, a.voiceNorm,
		a.queue, a.playback, events, voiceControllerConfig(&snap.Voice),
	)
	a.document = capture.NewController(
		types.KindDocument, docSrc, a.docDet, a.docNorm,
		a.queue, a.playback, events, documentControllerConfig(&snap.Document),
	)

	return a
}

// Start launches the queue worker and, when configured, the playback lock
// feed. Sessions are started separately via StartSession.
func (a *Agent) Start(ctx context.Context) {
	a.queue.Start()

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.startedFeeds {
		feedCtx, cancel := context.WithCancel(ctx)
		a.cancelFeeds = cancel
		a.startedFeeds = true
		go a.playback.Run(feedCtx)
	}
}

// Shutdown stops both sessions and drains the queue.
func (a *Agent) Shutdown() {
	a.voice.Stop()
	a.document.Stop()

	a.mu.Lock()
	if a.cancelFeeds != nil {
		a.cancelFeeds()
		a.cancelFeeds = nil
	}
	a.mu.Unlock()

	a.queue.Stop()
	slog.Info("Capture agent stopped")
}

// Session returns the controller for the given kind, or nil.
func (a *Agent) Session(kind types.SessionKind) *capture.Controller {
	switch kind {
	case types.KindVoice:
		return a.voice
	case types.KindDocument:
		return a.document
	default:
		return nil
	}
}

// StartSession starts the session of the given kind.
func (a *Agent) StartSession(ctx context.Context, kind types.SessionKind) error {
	c := a.Session(kind)
	if c == nil {
		return fmt.Errorf("unknown session kind %q", kind)
	}
	return c.Start(ctx)
}

// StopSession stops the session of the given kind.
func (a *Agent) StopSession(kind types.SessionKind) error {
	c := a.Session(kind)
	if c == nil {
		return fmt.Errorf("unknown session kind %q", kind)
	}
	c.Stop()
	return nil
}

// EventLogPath returns the event log file location.
func (a *Agent) EventLogPath() string {
	return a.events.Path()
}

// Queue exposes the processing queue.
func (a *Agent) Queue() *capture.Queue {
	return a.queue
}

// Archive exposes the artifact archive store.
func (a *Agent) Archive() *archive.Store {
	return a.archiver
}

// Status returns the full agent snapshot for the status API.
func (a *Agent) Status() types.AgentStatus {
	return types.AgentStatus{
		Sessions: []types.SessionStatus{
			a.voice.Status(),
			a.document.Status(),
		},
		Queue:          a.queue.Status(),
		PlaybackActive: a.playback.Held(),
	}
}

// ApplyConfig pushes a reloaded configuration snapshot to every component
// that supports live updates.
func (a *Agent) ApplyConfig(snap config.Snapshot) {
	a.voiceDet.SetConfig(voiceClassifierConfig(&snap.Voice))
	a.voiceNorm.SetMinDuration(time.Duration(snap.Voice.MinArtifactMs) * time.Millisecond)
	a.docDet.SetConfig(documentClassifierConfig(&snap.Document))
	a.docNorm.SetFrameSize(snap.Document.FrameWidth, snap.Document.FrameHeight)

	a.voice.ApplyConfig(voiceControllerConfig(&snap.Voice))
	a.document.ApplyConfig(documentControllerConfig(&snap.Document))

	a.submitter.ApplyConfig(snap.Submission)
	a.archiver.ApplyConfig(snap.Archive)
	a.playback.SetURL(snap.Playback.URL)

	_ = a.events.LogSession(eventlog.ConfigReloaded, "", "configuration applied")
}

// voiceClassifierConfig maps voice settings onto the audio classifier.
func voiceClassifierConfig(v *config.VoiceConfig) audio.Config {
	return audio.Config{
		ActiveThreshold: v.ActiveThreshold,
		SettledRatio:    v.SettledRatio,
		PeakFactor:      v.PeakFactor,
		MinWindowRatio:  v.MinWindowRatio,
		ZCRMin:          v.ZCRMin,
		ZCRMax:          v.ZCRMax,
	}
}

// documentClassifierConfig maps document settings onto the frame classifier.
func documentClassifierConfig(d *config.DocumentConfig) video.Config {
	return video.Config{
		Diff: video.DiffConfig{
			PixelThreshold: d.PixelThreshold,
			SampleStride:   d.SampleStride,
		},
		NewObjectThreshold: d.NewObjectThreshold,
		SettledThreshold:   d.SettledThreshold,
	}
}

func voiceControllerConfig(v *config.VoiceConfig) capture.ControllerConfig {
	return capture.ControllerConfig{
		TickInterval: time.Duration(v.TickMs) * time.Millisecond,
		Trigger: capture.TriggerConfig{
			StabilityWindow: v.StabilityWindow,
			IdleTimeout:     time.Duration(v.IdleTimeoutMs) * time.Millisecond,
			MaxDuration:     time.Duration(v.MaxDurationMs) * time.Millisecond,
		},
		MaxReadMisses: v.MaxReadMisses,
	}
}

func documentControllerConfig(d *config.DocumentConfig) capture.ControllerConfig {
	return capture.ControllerConfig{
		TickInterval: time.Duration(d.TickMs) * time.Millisecond,
		Trigger: capture.TriggerConfig{
			StabilityWindow: d.StabilityWindow,
			IdleTimeout:     time.Duration(d.IdleTimeoutMs) * time.Millisecond,
			MaxDuration:     time.Duration(d.MaxDurationMs) * time.Millisecond,
		},
		MaxReadMisses: d.MaxReadMisses,
	}
}
