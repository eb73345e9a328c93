package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/config"
	"github.com/scandesk/capture-agent/internal/types"
)

func TestObjectKeyLayout(t *testing.T) {
	task := &capture.Task{
		ID: "abc-123",
		Payload: &capture.Artifact{
			Kind:        types.KindVoice,
			ContentType: "audio/wav",
		},
		SubmittedAt: time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC),
	}

	key := objectKey("captures", task)
	if key != "captures/voice/2026/08/31/abc-123.wav" {
		t.Fatalf("objectKey = %q", key)
	}

	key = objectKey("", task)
	if key != "voice/2026/08/31/abc-123.wav" {
		t.Fatalf("objectKey without prefix = %q", key)
	}
	if strings.HasPrefix(key, "/") {
		t.Fatal("key must not start with a slash")
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"audio/wav", ".wav"},
		{"audio/x-wav", ".wav"},
		{"image/png", ".png"},
		{"image/jpeg", ".jpg"},
		{"application/octet-stream", ".bin"},
	}
	for _, tt := range tests {
		if got := extensionFor(tt.contentType); got != tt.want {
			t.Errorf("extensionFor(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}

func TestStoreDisabledWithoutCredentials(t *testing.T) {
	s := NewStore(config.ArchiveConfig{})
	if s.Enabled() {
		t.Fatal("store enabled with no credentials")
	}
	if _, err := s.Store(t.Context(), &capture.Task{Payload: &capture.Artifact{}}); err == nil {
		t.Fatal("Store succeeded with no credentials")
	}

	s.ApplyConfig(config.ArchiveConfig{
		Bucket:          "artifacts",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	if !s.Enabled() {
		t.Fatal("store not enabled after credentials applied")
	}
}
