package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scandesk/capture-agent/internal/types"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	order    []string
	failOnce map[string]bool
}

func (s *recordingSubmitter) Submit(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, t.ID)
	if s.failOnce[t.ID] {
		delete(s.failOnce, t.ID)
		return errors.New("endpoint rejected artifact")
	}
	return nil
}

func (s *recordingSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
}

func (a *recordingArchiver) Store(_ context.Context, t *Task) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := "archive/" + t.ID
	a.keys = append(a.keys, key)
	return key, nil
}

func (a *recordingArchiver) Enabled() bool { return true }

func testTask(id string) Task {
	return Task{
		ID: id,
		Payload: &Artifact{
			Kind:        types.KindVoice,
			ContentType: "audio/wav",
			Data:        []byte("payload"),
		},
		SubmittedAt: time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// TestQueueContinuesPastFailure enqueues three tasks where the first fails
// terminally. The remaining two must still be submitted, in order.
func TestQueueContinuesPastFailure(t *testing.T) {
	sub := &recordingSubmitter{failOnce: map[string]bool{"a": true}}
	q := NewQueue(sub, nil, time.Second, nil)
	q.Start()
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		if !q.Enqueue(testTask(id)) {
			t.Fatalf("Enqueue(%s) rejected", id)
		}
	}

	waitFor(t, func() bool { return len(sub.submitted()) == 3 })

	got := sub.submitted()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("submission order = %v, want %v", got, want)
		}
	}

	status := q.Status()
	if status.Submitted != 2 || status.Failed != 1 {
		t.Fatalf("status = %+v, want 2 submitted / 1 failed", status)
	}
}

func TestQueueArchivesSubmittedTasks(t *testing.T) {
	sub := &recordingSubmitter{}
	arch := &recordingArchiver{}
	q := NewQueue(sub, arch, time.Second, nil)
	q.Start()
	defer q.Stop()

	q.Enqueue(testTask("x"))

	waitFor(t, func() bool {
		arch.mu.Lock()
		defer arch.mu.Unlock()
		return len(arch.keys) == 1
	})

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if arch.keys[0] != "archive/x" {
		t.Fatalf("archived key = %q, want archive/x", arch.keys[0])
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	// Not started: nothing drains, so the channel fills.
	q := NewQueue(&recordingSubmitter{}, nil, time.Second, nil)

	for i := 0; i < DefaultQueueCapacity; i++ {
		if !q.Enqueue(testTask("t")) {
			t.Fatalf("Enqueue %d rejected before capacity", i)
		}
	}
	if q.Enqueue(testTask("overflow")) {
		t.Fatal("Enqueue accepted past capacity")
	}
	if got := q.Status().Depth; got != DefaultQueueCapacity {
		t.Fatalf("Depth = %d, want %d", got, DefaultQueueCapacity)
	}
}

// TestQueueStopDrains verifies that Stop waits for already-enqueued tasks.
func TestQueueStopDrains(t *testing.T) {
	sub := &recordingSubmitter{}
	q := NewQueue(sub, nil, time.Second, nil)

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(testTask(id))
	}

	q.Start()
	q.Stop()

	if got := len(sub.submitted()); got != 3 {
		t.Fatalf("submitted %d tasks after Stop, want 3", got)
	}
}
