// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/scandesk/capture-agent/internal/types"
	"github.com/scandesk/capture-agent/internal/util"
)

// Configuration defaults are used when values are not specified. Threshold
// values are tuning starting points, not canonical constants.
const (
	DefaultPort = 8090

	DefaultVoiceTickMs           = 20
	DefaultVoiceSampleRate       = 16000
	DefaultVoiceChannels         = 1
	DefaultVoiceActiveThreshold  = 15.0
	DefaultVoiceSettledRatio     = 0.25
	DefaultVoicePeakFactor       = 1.8
	DefaultVoiceMinWindowRatio   = 0.3
	DefaultVoiceZCRMin           = 0.02
	DefaultVoiceZCRMax           = 0.35
	DefaultVoiceStabilityWindow  = 3
	DefaultVoiceIdleTimeoutMs    = 6000
	DefaultVoiceMaxDurationMs    = 15000
	DefaultVoiceMinArtifactMs    = 300
	DefaultVoiceMaxReadMisses    = 50
	DefaultDocTickMs             = 500
	DefaultDocFrameWidth         = 640
	DefaultDocFrameHeight        = 480
	DefaultDocPixelThreshold     = 90
	DefaultDocSampleStride       = 7
	DefaultDocNewObjectThreshold = 25.0
	DefaultDocSettledThreshold   = 5.0
	DefaultDocStabilityWindow    = 3
	DefaultDocIdleTimeoutMs      = 20000
	DefaultDocMaxDurationMs      = 60000
	DefaultDocMaxReadMisses      = 10
	DefaultDocContentType        = "image/jpeg"

	DefaultSubmitTimeoutMs = 30000
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port       int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	APIKey     string `json:"api_key" validate:"omitempty,max=128"`
	LogPath    string `json:"log_path" validate:"omitempty,max=4096"`
	FFmpegPath string `json:"ffmpeg_path" validate:"omitempty,max=4096"`
}

// VoiceConfig holds the voice capture session settings.
type VoiceConfig struct {
	Device          string  `json:"device" validate:"omitempty,max=256"`
	TickMs          int64   `json:"tick_ms" validate:"omitempty,gte=5,lte=1000"`
	SampleRate      int     `json:"sample_rate" validate:"omitempty,oneof=8000 16000 22050 44100 48000"`
	Channels        int     `json:"channels" validate:"omitempty,gte=1,lte=2"`
	ActiveThreshold float64 `json:"active_threshold" validate:"omitempty,gte=0,lte=100"`
	SettledRatio    float64 `json:"settled_ratio" validate:"omitempty,gt=0,lt=1"`
	PeakFactor      float64 `json:"peak_factor" validate:"omitempty,gte=1,lte=10"`
	MinWindowRatio  float64 `json:"min_window_ratio" validate:"omitempty,gt=0,lte=1"`
	ZCRMin          float64 `json:"zcr_min" validate:"omitempty,gte=0,lte=1"`
	ZCRMax          float64 `json:"zcr_max" validate:"omitempty,gte=0,lte=1"`
	StabilityWindow int     `json:"stability_window" validate:"omitempty,gte=1,lte=100"`
	IdleTimeoutMs   int64   `json:"idle_timeout_ms" validate:"omitempty,gte=500,lte=300000"`
	MaxDurationMs   int64   `json:"max_duration_ms" validate:"omitempty,gte=1000,lte=600000"`
	MinArtifactMs   int64   `json:"min_artifact_ms" validate:"omitempty,gte=0,lte=10000"`
	MaxReadMisses   int     `json:"max_read_misses" validate:"omitempty,gte=1,lte=1000"`
}

// DocumentConfig holds the document capture session settings.
type DocumentConfig struct {
	Device             string  `json:"device" validate:"omitempty,max=256"`
	FrameWidth         int     `json:"frame_width" validate:"omitempty,gte=64,lte=7680"`
	FrameHeight        int     `json:"frame_height" validate:"omitempty,gte=64,lte=4320"`
	TickMs             int64   `json:"tick_ms" validate:"omitempty,gte=50,lte=5000"`
	PixelThreshold     int     `json:"pixel_threshold" validate:"omitempty,gte=1,lte=765"`
	SampleStride       int     `json:"sample_stride" validate:"omitempty,gte=1,lte=64"`
	NewObjectThreshold float64 `json:"new_object_threshold" validate:"omitempty,gte=0,lte=100"`
	SettledThreshold   float64 `json:"settled_threshold" validate:"omitempty,gte=0,lte=100"`
	StabilityWindow    int     `json:"stability_window" validate:"omitempty,gte=1,lte=100"`
	IdleTimeoutMs      int64   `json:"idle_timeout_ms" validate:"omitempty,gte=500,lte=300000"`
	MaxDurationMs      int64   `json:"max_duration_ms" validate:"omitempty,gte=1000,lte=600000"`
	MaxReadMisses      int     `json:"max_read_misses" validate:"omitempty,gte=1,lte=1000"`
	ContentType        string  `json:"content_type" validate:"omitempty,max=100"`
}

// SubmissionConfig holds the downstream submission endpoint settings.
type SubmissionConfig struct {
	Endpoint     string `json:"endpoint" validate:"omitempty,url,max=2048"`
	TokenURL     string `json:"token_url" validate:"omitempty,url,max=2048"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	TimeoutMs    int64  `json:"timeout_ms" validate:"omitempty,gte=1000,lte=300000"`
}

// ArchiveConfig holds S3 artifact archive settings.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url,max=2048"`
	Bucket          string `json:"bucket" validate:"omitempty,max=63"`
	AccessKeyID     string `json:"access_key_id" validate:"omitempty,max=128"`
	SecretAccessKey string `json:"secret_access_key" validate:"omitempty,max=256"`
	Prefix          string `json:"prefix" validate:"omitempty,max=256"`
}

// IsConfigured reports whether the archive has the required credentials.
func (a *ArchiveConfig) IsConfigured() bool {
	return a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// PlaybackConfig holds the response-playback subsystem connection settings.
type PlaybackConfig struct {
	URL string `json:"url" validate:"omitempty,max=2048"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System     SystemConfig     `json:"system"`
	Voice      VoiceConfig      `json:"voice"`
	Document   DocumentConfig   `json:"document"`
	Submission SubmissionConfig `json:"submission"`
	Archive    ArchiveConfig    `json:"archive"`
	Playback   PlaybackConfig   `json:"playback"`

	mu       sync.RWMutex
	filePath string
}

// validate is the shared validator instance using JSON tag names in errors.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default file if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validateLocked()
}

// Reload re-reads the config file, e.g. after a file watcher event.
func (c *Config) Reload() error {
	return c.Load()
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.filePath
}

// validateLocked checks all configuration fields. Caller must hold c.mu.
func (c *Config) validateLocked() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return util.WrapError("validate config", err)
		}
		for _, e := range verrs {
			verr.Add(e.Field(), "failed "+e.Tag()+" constraint", e.Value())
		}
	}
	if c.Voice.ZCRMax <= c.Voice.ZCRMin {
		verr.Add("voice.zcr_max", "must exceed zcr_min", c.Voice.ZCRMax)
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultPort
	}
	c.System.FFmpegPath = cmp.Or(c.System.FFmpegPath, "ffmpeg")

	v := &c.Voice
	v.TickMs = cmp.Or(v.TickMs, DefaultVoiceTickMs)
	v.SampleRate = cmp.Or(v.SampleRate, DefaultVoiceSampleRate)
	v.Channels = cmp.Or(v.Channels, DefaultVoiceChannels)
	v.ActiveThreshold = cmp.Or(v.ActiveThreshold, DefaultVoiceActiveThreshold)
	v.SettledRatio = cmp.Or(v.SettledRatio, DefaultVoiceSettledRatio)
	v.PeakFactor = cmp.Or(v.PeakFactor, DefaultVoicePeakFactor)
	v.MinWindowRatio = cmp.Or(v.MinWindowRatio, DefaultVoiceMinWindowRatio)
	v.ZCRMin = cmp.Or(v.ZCRMin, DefaultVoiceZCRMin)
	v.ZCRMax = cmp.Or(v.ZCRMax, DefaultVoiceZCRMax)
	v.StabilityWindow = cmp.Or(v.StabilityWindow, DefaultVoiceStabilityWindow)
	v.IdleTimeoutMs = cmp.Or(v.IdleTimeoutMs, DefaultVoiceIdleTimeoutMs)
	v.MaxDurationMs = cmp.Or(v.MaxDurationMs, DefaultVoiceMaxDurationMs)
	v.MinArtifactMs = cmp.Or(v.MinArtifactMs, DefaultVoiceMinArtifactMs)
	v.MaxReadMisses = cmp.Or(v.MaxReadMisses, DefaultVoiceMaxReadMisses)

	d := &c.Document
	d.FrameWidth = cmp.Or(d.FrameWidth, DefaultDocFrameWidth)
	d.FrameHeight = cmp.Or(d.FrameHeight, DefaultDocFrameHeight)
	d.TickMs = cmp.Or(d.TickMs, DefaultDocTickMs)
	d.PixelThreshold = cmp.Or(d.PixelThreshold, DefaultDocPixelThreshold)
	d.SampleStride = cmp.Or(d.SampleStride, DefaultDocSampleStride)
	d.NewObjectThreshold = cmp.Or(d.NewObjectThreshold, DefaultDocNewObjectThreshold)
	d.SettledThreshold = cmp.Or(d.SettledThreshold, DefaultDocSettledThreshold)
	d.StabilityWindow = cmp.Or(d.StabilityWindow, DefaultDocStabilityWindow)
	d.IdleTimeoutMs = cmp.Or(d.IdleTimeoutMs, DefaultDocIdleTimeoutMs)
	d.MaxDurationMs = cmp.Or(d.MaxDurationMs, DefaultDocMaxDurationMs)
	d.MaxReadMisses = cmp.Or(d.MaxReadMisses, DefaultDocMaxReadMisses)
	d.ContentType = cmp.Or(d.ContentType, DefaultDocContentType)

	c.Submission.TimeoutMs = cmp.Or(c.Submission.TimeoutMs, DefaultSubmitTimeoutMs)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// UpdateVoice applies a validated partial update to the voice settings and
// saves the configuration.
func (c *Config) UpdateVoice(apply func(*VoiceConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := c.Voice
	apply(&updated)
	previous := c.Voice
	c.Voice = updated
	if err := c.validateLocked(); err != nil {
		c.Voice = previous
		return err
	}
	return c.saveLocked()
}

// UpdateDocument applies a validated partial update to the document settings
// and saves the configuration.
func (c *Config) UpdateDocument(apply func(*DocumentConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := c.Document
	apply(&updated)
	previous := c.Document
	c.Document = updated
	if err := c.validateLocked(); err != nil {
		c.Document = previous
		return err
	}
	return c.saveLocked()
}

// APIKey returns the configured control API key.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	Port       int
	APIKey     string
	LogPath    string
	FFmpegPath string

	Voice      VoiceConfig
	Document   DocumentConfig
	Submission SubmissionConfig
	Archive    ArchiveConfig
	Playback   PlaybackConfig
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Port:       c.System.Port,
		APIKey:     c.System.APIKey,
		LogPath:    c.System.LogPath,
		FFmpegPath: c.System.FFmpegPath,
		Voice:      c.Voice,
		Document:   c.Document,
		Submission: c.Submission,
		Archive:    c.Archive,
		Playback:   c.Playback,
	}
}

// HasSubmission reports whether a downstream submission endpoint is
// configured.
func (s *Snapshot) HasSubmission() bool {
	return s.Submission.Endpoint != ""
}

// HasPlayback reports whether the playback lock subscription is configured.
func (s *Snapshot) HasPlayback() bool {
	return s.Playback.URL != ""
}

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
