// Package playback subscribes to the response-playback subsystem's lock
// feed so capture sessions can pause while audio output is active.
package playback

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scandesk/capture-agent/internal/util"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
	readDeadline          = 90 * time.Second
)

// lockEvent is one message on the playback lock feed.
type lockEvent struct {
	Type string `json:"type"`
}

const (
	eventLockAcquired = "lock_acquired"
	eventLockReleased = "lock_released"
)

// Subscriber tracks the playback subsystem's output lock over a websocket.
// It satisfies capture.Gate: Held reports the last observed lock state.
// A lost connection clears the gate rather than pinning sessions paused.
type Subscriber struct {
	mu   sync.Mutex
	url  string
	held atomic.Bool
}

// NewSubscriber creates a subscriber for the given feed URL. The feed is
// inactive until Run is called.
func NewSubscriber(url string) *Subscriber {
	return &Subscriber{url: url}
}

// Held reports whether playback currently holds the output lock.
func (s *Subscriber) Held() bool {
	return s.held.Load()
}

// SetURL changes the feed URL. Takes effect on the next reconnect.
func (s *Subscriber) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

func (s *Subscriber) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Run maintains the feed connection until ctx is cancelled, reconnecting
// with exponential backoff.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := util.NewBackoff(initialReconnectDelay, maxReconnectDelay)

	for {
		url := s.currentURL()
		if url == "" {
			s.held.Store(false)
			if !sleepCtx(ctx, maxReconnectDelay) {
				return
			}
			continue
		}

		if err := s.consume(ctx, url); err != nil && ctx.Err() == nil {
			slog.Warn("Playback feed disconnected", "url", url, "error", err)
		}
		s.held.Store(false)

		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, backoff.Next()) {
			return
		}
	}
}

// consume reads lock events from a single connection until it fails.
func (s *Subscriber) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return util.WrapError("dial playback feed", err)
	}
	defer conn.Close()

	slog.Info("Playback feed connected", "url", url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev lockEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Malformed playback event", "error", err)
			continue
		}

		switch ev.Type {
		case eventLockAcquired:
			s.held.Store(true)
		case eventLockReleased:
			s.held.Store(false)
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
