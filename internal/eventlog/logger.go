// Package eventlog provides unified event logging for the capture agent.
// It captures session lifecycle events (started, stopped, device errors),
// capture events (fired, discarded, attempt timeouts) and task events
// (submitted, failed, archived) in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionStarted EventType = "session_started"
	SessionStopped EventType = "session_stopped"
	SessionError   EventType = "session_error"
	ConfigReloaded EventType = "config_reloaded"
)

// Capture event types.
const (
	CaptureFired     EventType = "capture_fired"
	CaptureForced    EventType = "capture_forced"
	CaptureDiscarded EventType = "capture_discarded"
	AttemptTimeout   EventType = "attempt_timeout"
)

// Task event types.
const (
	TaskSubmitted EventType = "task_submitted"
	TaskFailed    EventType = "task_failed"
	TaskArchived  EventType = "task_archived"
	ArchiveFailed EventType = "archive_failed"
	TaskDropped   EventType = "task_dropped"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Session   string    `json:"session,omitempty"` // "voice" or "document"
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// CaptureDetails contains capture-specific event details.
type CaptureDetails struct {
	Magnitude  float64 `json:"magnitude,omitempty"`
	RunLength  int     `json:"run_length,omitempty"`
	SizeBytes  int     `json:"size_bytes,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// TaskDetails contains task-specific event details.
type TaskDetails struct {
	TaskID    string `json:"task_id,omitempty"`
	SizeBytes int    `json:"size_bytes,omitempty"`
	Key       string `json:"key,omitempty"` // archive object key
	Error     string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file. A nil logger discards the event, so
// callers can log unconditionally.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a session lifecycle event.
func (l *Logger) LogSession(eventType EventType, session, message string) error {
	return l.Log(&Event{
		Type:    eventType,
		Session: session,
		Message: message,
	})
}

// LogCapture logs a capture event with measurement details.
func (l *Logger) LogCapture(eventType EventType, session string, d *CaptureDetails) error {
	return l.Log(&Event{
		Type:    eventType,
		Session: session,
		Details: d,
	})
}

// LogTask logs a task event.
func (l *Logger) LogTask(eventType EventType, session string, d *TaskDetails) error {
	return l.Log(&Event{
		Type:    eventType,
		Session: session,
		Details: d,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterCapture TypeFilter = "capture"
	FilterTask    TypeFilter = "task"
)

// MaxReadLimit is the maximum number of events that can be read at once.
// This prevents denial-of-service via excessive memory allocation.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type.
// Events are returned in reverse chronological order (newest first).
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}

		if !matchesFilter(event.Type, filter) {
			continue
		}

		if skipped < offset {
			skipped++
			continue
		}

		if len(events) >= n {
			hasMore = true
			break
		}

		events = append(events, event)
	}

	return events, hasMore, nil
}

// matchesFilter reports whether an event type belongs to the filter family.
func matchesFilter(t EventType, filter TypeFilter) bool {
	switch filter {
	case FilterSession:
		return IsSessionEvent(t)
	case FilterCapture:
		return IsCaptureEvent(t)
	case FilterTask:
		return IsTaskEvent(t)
	default:
		return true
	}
}

// IsSessionEvent returns true if the event type is a session event.
func IsSessionEvent(t EventType) bool {
	return t == SessionStarted || t == SessionStopped || t == SessionError || t == ConfigReloaded
}

// IsCaptureEvent returns true if the event type is a capture event.
func IsCaptureEvent(t EventType) bool {
	return t == CaptureFired || t == CaptureForced || t == CaptureDiscarded || t == AttemptTimeout
}

// IsTaskEvent returns true if the event type is a task event.
func IsTaskEvent(t EventType) bool {
	return t == TaskSubmitted || t == TaskFailed || t == TaskArchived ||
		t == ArchiveFailed || t == TaskDropped
}
