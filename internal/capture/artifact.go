package capture

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/scandesk/capture-agent/internal/types"
)

// ErrArtifactTooShort means the captured buffer is below the configured
// minimum duration. The artifact is capture noise and is discarded without
// enqueueing; it is not surfaced as an error.
var ErrArtifactTooShort = errors.New("captured artifact below minimum duration")

// Artifact is a normalized capture payload ready for downstream submission.
type Artifact struct {
	Kind        types.SessionKind
	ContentType string
	Data        []byte

	// Audio metadata; zero for document frames.
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Normalizer converts a raw captured buffer into a submission-ready artifact.
type Normalizer interface {
	Normalize(raw []byte) (*Artifact, error)
}

// Task is one unit of downstream work. Created exactly once per trigger fire,
// enqueued immediately and immutable thereafter.
type Task struct {
	ID          string
	Payload     *Artifact
	SubmittedAt time.Time
}

// NewTask wraps an artifact in a queue task with a fresh ID.
func NewTask(a *Artifact) Task {
	return Task{
		ID:          uuid.NewString(),
		Payload:     a,
		SubmittedAt: time.Now(),
	}
}
