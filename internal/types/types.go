// Package types provides shared type definitions used across the capture agent.
package types

// SessionKind identifies a capture modality.
type SessionKind string

// Capture session kinds.
const (
	KindVoice    SessionKind = "voice"    // microphone energy stream
	KindDocument SessionKind = "document" // camera frame-difference stream
)

// Valid reports whether k names a known session kind.
func (k SessionKind) Valid() bool {
	return k == KindVoice || k == KindDocument
}

// SessionState is the lifecycle state of a capture session controller.
type SessionState string

// Session controller states.
const (
	StateIdle      SessionState = "idle"
	StateArmed     SessionState = "armed"
	StateCapturing SessionState = "capturing"
	StateCooldown  SessionState = "cooldown"
	StateStopped   SessionState = "stopped"
)

// Classification is the per-tick label assigned by a stability classifier.
type Classification string

// Tick classifications.
const (
	// Active means the signal crossed the activity threshold this tick
	// (speech burst, or a new object moving under the camera).
	Active Classification = "active"
	// Settled means the signal is quiet/still enough to count toward the
	// stability window.
	Settled Classification = "settled"
	// Indeterminate is everything in between: marginal noise, a scene that
	// matches the last capture, or aux criteria that rule out real activity.
	// It never advances a stability run.
	Indeterminate Classification = "indeterminate"
)

// LockState is the tri-state activity lock consulted before every tick.
type LockState string

// Activity lock states. Free means sampling may proceed.
const (
	LockFree             LockState = ""
	LockSampling         LockState = "sampling"
	LockEncoding         LockState = "encoding"
	LockAwaitingResponse LockState = "awaiting_response"
)

// SessionStatus is the externally visible snapshot of one session.
type SessionStatus struct {
	Kind         SessionKind  `json:"kind"`
	State        SessionState `json:"state"`
	Lock         LockState    `json:"lock"`
	Magnitude    float64      `json:"magnitude"`     // last sampled magnitude (0-100)
	RunLength    int          `json:"run_length"`    // current consecutive-settled count
	Captures     uint64       `json:"captures"`      // fires since session start
	LastCaptured string       `json:"last_captured"` // RFC3339, empty if none
}

// QueueStatus describes the processing queue for the status API.
type QueueStatus struct {
	Depth     int    `json:"depth"`     // tasks waiting
	InFlight  bool   `json:"in_flight"` // a task is currently being submitted
	Submitted uint64 `json:"submitted"` // terminal successes
	Failed    uint64 `json:"failed"`    // terminal failures (dropped)
}

// AgentStatus aggregates session and queue state for the status API.
type AgentStatus struct {
	Sessions       []SessionStatus `json:"sessions"`
	Queue          QueueStatus     `json:"queue"`
	PlaybackActive bool            `json:"playback_active"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
