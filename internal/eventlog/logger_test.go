package eventlog

import (
	"path/filepath"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "events.log"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	if err := l.LogSession(SessionStarted, "voice", ""); err != nil {
		t.Fatalf("nil logger returned error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("nil logger Close: %v", err)
	}
}

func TestReadLastNewestFirst(t *testing.T) {
	l := newTestLogger(t)

	if err := l.LogSession(SessionStarted, "voice", ""); err != nil {
		t.Fatal(err)
	}
	if err := l.LogCapture(CaptureFired, "voice", &CaptureDetails{Magnitude: 42, RunLength: 3}); err != nil {
		t.Fatal(err)
	}
	if err := l.LogTask(TaskSubmitted, "voice", &TaskDetails{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}

	events, hasMore, err := ReadLast(l.Path(), 10, 0, FilterAll)
	if err != nil {
		t.Fatalf("ReadLast: %v", err)
	}
	if hasMore {
		t.Error("hasMore = true, want false")
	}
	if len(events) != 3 {
		t.Fatalf("read %d events, want 3", len(events))
	}
	if events[0].Type != TaskSubmitted || events[2].Type != SessionStarted {
		t.Fatalf("order = [%s %s %s], want newest first", events[0].Type, events[1].Type, events[2].Type)
	}
}

func TestReadLastPagination(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 5; i++ {
		if err := l.LogSession(SessionStarted, "voice", ""); err != nil {
			t.Fatal(err)
		}
	}

	events, hasMore, err := ReadLast(l.Path(), 2, 0, FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || !hasMore {
		t.Fatalf("page 1: %d events hasMore=%v, want 2/true", len(events), hasMore)
	}

	events, hasMore, err = ReadLast(l.Path(), 2, 4, FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || hasMore {
		t.Fatalf("last page: %d events hasMore=%v, want 1/false", len(events), hasMore)
	}
}

func TestReadLastTypeFilter(t *testing.T) {
	l := newTestLogger(t)
	if err := l.LogSession(SessionStarted, "voice", ""); err != nil {
		t.Fatal(err)
	}
	if err := l.LogCapture(CaptureFired, "document", &CaptureDetails{}); err != nil {
		t.Fatal(err)
	}
	if err := l.LogCapture(AttemptTimeout, "voice", &CaptureDetails{}); err != nil {
		t.Fatal(err)
	}
	if err := l.LogTask(TaskFailed, "voice", &TaskDetails{}); err != nil {
		t.Fatal(err)
	}

	captures, _, err := ReadLast(l.Path(), 10, 0, FilterCapture)
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 2 {
		t.Fatalf("capture filter returned %d events, want 2", len(captures))
	}
	for _, e := range captures {
		if !IsCaptureEvent(e.Type) {
			t.Fatalf("filtered event %s is not a capture event", e.Type)
		}
	}

	tasks, _, err := ReadLast(l.Path(), 10, 0, FilterTask)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Type != TaskFailed {
		t.Fatalf("task filter = %v, want single task_failed", tasks)
	}
}

func TestReadLastMissingFile(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "nope.log"), 10, 0, FilterAll)
	if err != nil {
		t.Fatalf("ReadLast on missing file: %v", err)
	}
	if len(events) != 0 || hasMore {
		t.Fatalf("got %d events hasMore=%v, want empty", len(events), hasMore)
	}
}
