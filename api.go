package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/config"
	"github.com/scandesk/capture-agent/internal/eventlog"
	"github.com/scandesk/capture-agent/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeValidationError serves field-level detail when the error carries it.
func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		s.writeJSON(w, http.StatusUnprocessableEntity, verr)
		return
	}
	s.writeError(w, http.StatusUnprocessableEntity, err.Error())
}

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// sessionKind extracts and validates the {kind} route variable.
func sessionKind(r *http.Request) (types.SessionKind, bool) {
	kind := types.SessionKind(mux.Vars(r)["kind"])
	return kind, kind.Valid()
}

// handleAPIStatus returns the full agent snapshot.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.agent.Status())
}

// handleSessionStart starts a capture session.
// POST /api/sessions/{kind}/start
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	kind, ok := sessionKind(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Unknown session kind")
		return
	}

	if err := s.agent.StartSession(r.Context(), kind); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrLockHeld) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, s.agent.Session(kind).Status())
}

// handleSessionStop stops a capture session. Stop is synchronous: the
// response means the tick loop has exited and the device is released.
// POST /api/sessions/{kind}/stop
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	kind, ok := sessionKind(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Unknown session kind")
		return
	}

	if err := s.agent.StopSession(kind); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, s.agent.Session(kind).Status())
}

// handleAPIEvents returns recent event log entries, newest first.
// GET /api/events?type=&limit=&offset=
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		offset = n
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("type"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterSession, eventlog.FilterCapture, eventlog.FilterTask:
	default:
		s.writeError(w, http.StatusBadRequest, "Invalid type filter")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLogPath(), limit, offset, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"has_more": hasMore,
	})
}

// configResponse is the API view of the configuration. Credentials are
// reported as presence flags only.
type configResponse struct {
	Port     int                   `json:"port"`
	Voice    config.VoiceConfig    `json:"voice"`
	Document config.DocumentConfig `json:"document"`

	SubmissionEndpoint string `json:"submission_endpoint"`
	SubmissionHasAuth  bool   `json:"submission_has_auth"`
	ArchiveBucket      string `json:"archive_bucket"`
	ArchiveConfigured  bool   `json:"archive_configured"`
	PlaybackURL        string `json:"playback_url"`
}

// handleAPIConfig returns the current configuration.
// GET /api/config
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Snapshot()

	s.writeJSON(w, http.StatusOK, configResponse{
		Port:               cfg.Port,
		Voice:              cfg.Voice,
		Document:           cfg.Document,
		SubmissionEndpoint: cfg.Submission.Endpoint,
		SubmissionHasAuth:  cfg.Submission.ClientSecret != "",
		ArchiveBucket:      cfg.Archive.Bucket,
		ArchiveConfigured:  cfg.Archive.IsConfigured(),
		PlaybackURL:        cfg.Playback.URL,
	})
}

// DetectionUpdateRequest is the request body for PATCH /api/config/detection.
// Absent fields are left unchanged.
type DetectionUpdateRequest struct {
	Voice    *VoiceUpdate    `json:"voice"`
	Document *DocumentUpdate `json:"document"`
}

// VoiceUpdate holds the live-tunable voice detection settings.
type VoiceUpdate struct {
	ActiveThreshold *float64 `json:"active_threshold"`
	SettledRatio    *float64 `json:"settled_ratio"`
	PeakFactor      *float64 `json:"peak_factor"`
	MinWindowRatio  *float64 `json:"min_window_ratio"`
	ZCRMin          *float64 `json:"zcr_min"`
	ZCRMax          *float64 `json:"zcr_max"`
	StabilityWindow *int     `json:"stability_window"`
	IdleTimeoutMs   *int64   `json:"idle_timeout_ms"`
	MaxDurationMs   *int64   `json:"max_duration_ms"`
	MinArtifactMs   *int64   `json:"min_artifact_ms"`
}

// DocumentUpdate holds the live-tunable document detection settings.
type DocumentUpdate struct {
	PixelThreshold     *int     `json:"pixel_threshold"`
	SampleStride       *int     `json:"sample_stride"`
	NewObjectThreshold *float64 `json:"new_object_threshold"`
	SettledThreshold   *float64 `json:"settled_threshold"`
	StabilityWindow    *int     `json:"stability_window"`
	IdleTimeoutMs      *int64   `json:"idle_timeout_ms"`
	MaxDurationMs      *int64   `json:"max_duration_ms"`
}

// handleDetectionUpdate applies validated threshold changes live.
// PATCH /api/config/detection
func (s *Server) handleDetectionUpdate(w http.ResponseWriter, r *http.Request) {
	var req DetectionUpdateRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if req.Voice != nil {
		err := s.config.UpdateVoice(func(v *config.VoiceConfig) {
			applyVoiceUpdate(v, req.Voice)
		})
		if err != nil {
			s.writeValidationError(w, err)
			return
		}
	}

	if req.Document != nil {
		err := s.config.UpdateDocument(func(d *config.DocumentConfig) {
			applyDocumentUpdate(d, req.Document)
		})
		if err != nil {
			s.writeValidationError(w, err)
			return
		}
	}

	s.agent.ApplyConfig(s.config.Snapshot())
	s.handleAPIConfig(w, r)
}

func applyVoiceUpdate(v *config.VoiceConfig, u *VoiceUpdate) {
	if u.ActiveThreshold != nil {
		v.ActiveThreshold = *u.ActiveThreshold
	}
	if u.SettledRatio != nil {
		v.SettledRatio = *u.SettledRatio
	}
	if u.PeakFactor != nil {
		v.PeakFactor = *u.PeakFactor
	}
	if u.MinWindowRatio != nil {
		v.MinWindowRatio = *u.MinWindowRatio
	}
	if u.ZCRMin != nil {
		v.ZCRMin = *u.ZCRMin
	}
	if u.ZCRMax != nil {
		v.ZCRMax = *u.ZCRMax
	}
	if u.StabilityWindow != nil {
		v.StabilityWindow = *u.StabilityWindow
	}
	if u.IdleTimeoutMs != nil {
		v.IdleTimeoutMs = *u.IdleTimeoutMs
	}
	if u.MaxDurationMs != nil {
		v.MaxDurationMs = *u.MaxDurationMs
	}
	if u.MinArtifactMs != nil {
		v.MinArtifactMs = *u.MinArtifactMs
	}
}

func applyDocumentUpdate(d *config.DocumentConfig, u *DocumentUpdate) {
	if u.PixelThreshold != nil {
		d.PixelThreshold = *u.PixelThreshold
	}
	if u.SampleStride != nil {
		d.SampleStride = *u.SampleStride
	}
	if u.NewObjectThreshold != nil {
		d.NewObjectThreshold = *u.NewObjectThreshold
	}
	if u.SettledThreshold != nil {
		d.SettledThreshold = *u.SettledThreshold
	}
	if u.StabilityWindow != nil {
		d.StabilityWindow = *u.StabilityWindow
	}
	if u.IdleTimeoutMs != nil {
		d.IdleTimeoutMs = *u.IdleTimeoutMs
	}
	if u.MaxDurationMs != nil {
		d.MaxDurationMs = *u.MaxDurationMs
	}
}

// handleArchiveTest uploads and deletes a probe object.
// POST /api/archive/test
func (s *Server) handleArchiveTest(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Archive().TestConnection(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRegenerateKey generates a new API key and persists it. The response
// is the only place the new key is disclosed.
// POST /api/auth/regenerate-key
func (s *Server) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	newKey, err := config.GenerateAPIKey()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.config.SetAPIKey(newKey); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"api_key": newKey})
}

// handleAPIVersion returns version and update availability.
// GET /api/version
func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.version.Info())
}

// eventLogPath resolves the event log location from config.
func (s *Server) eventLogPath() string {
	return s.agent.EventLogPath()
}
