package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scandesk/capture-agent/internal/eventlog"
	"github.com/scandesk/capture-agent/internal/types"
)

// Submitter hands a task to the downstream submission boundary (e.g. the
// transcription ingest endpoint). Implementations must honor ctx cancellation.
type Submitter interface {
	Submit(ctx context.Context, t *Task) error
}

// Archiver stores a successfully submitted task for retention. Archive
// failures are logged and never block or fail the queue.
type Archiver interface {
	Store(ctx context.Context, t *Task) (key string, err error)
	// Enabled reports whether the archive is currently configured.
	Enabled() bool
}

// DefaultQueueCapacity bounds how many captured tasks may wait for
// submission before new captures are dropped.
const DefaultQueueCapacity = 32

// Queue is a FIFO of captured artifacts consumed by exactly one worker at a
// time. It decouples the capture rate from slow, fallible downstream
// submission: a failed task is logged and dropped, and the queue immediately
// proceeds to the next one.
type Queue struct {
	submitter Submitter
	archiver  Archiver // optional
	timeout   time.Duration
	events    *eventlog.Logger

	tasks  chan Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool

	inFlight  atomic.Bool
	submitted atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue returns an unstarted queue. timeout bounds each submission attempt;
// archiver may be nil.
func NewQueue(submitter Submitter, archiver Archiver, timeout time.Duration, events *eventlog.Logger) *Queue {
	return &Queue{
		submitter: submitter,
		archiver:  archiver,
		timeout:   timeout,
		events:    events,
		tasks:     make(chan Task, DefaultQueueCapacity),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the drain worker. It is idempotent: a second call while the
// worker is running is a no-op, so an enqueue can never spawn a concurrent
// drain.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.stopCh = make(chan struct{})

	q.wg.Add(1)
	go q.drainLoop()
}

// Stop signals the worker and waits for it to drain remaining tasks.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
}

// Enqueue adds a task in FIFO order. It never blocks the sampler: when the
// queue is full the task is dropped and logged.
func (q *Queue) Enqueue(t Task) bool {
	select {
	case q.tasks <- t:
		slog.Debug("task enqueued", "task_id", t.ID, "kind", t.Payload.Kind, "bytes", len(t.Payload.Data))
		return true
	default:
		slog.Warn("processing queue full, dropping task", "task_id", t.ID, "kind", t.Payload.Kind)
		_ = q.events.LogTask(eventlog.TaskDropped, string(t.Payload.Kind), &eventlog.TaskDetails{
			TaskID:    t.ID,
			SizeBytes: len(t.Payload.Data),
			Error:     "queue full",
		})
		return false
	}
}

// drainLoop processes the queue, draining remaining tasks on shutdown.
func (q *Queue) drainLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			for {
				select {
				case t := <-q.tasks:
					q.process(t)
				default:
					return
				}
			}
		case t := <-q.tasks:
			q.process(t)
		}
	}
}

// process submits one task with a bounded timeout. Per-task failure is
// isolated: the task is dropped and the next one proceeds.
func (q *Queue) process(t Task) {
	q.inFlight.Store(true)
	defer q.inFlight.Store(false)

	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		q.timeout,
		errors.New("submission timeout"),
	)
	defer cancel()

	session := string(t.Payload.Kind)

	if err := q.submitter.Submit(ctx, &t); err != nil {
		q.failed.Add(1)
		slog.Error("submission failed, dropping task", "task_id", t.ID, "kind", session, "error", err)
		_ = q.events.LogTask(eventlog.TaskFailed, session, &eventlog.TaskDetails{
			TaskID:    t.ID,
			SizeBytes: len(t.Payload.Data),
			Error:     err.Error(),
		})
		return
	}

	q.submitted.Add(1)
	slog.Info("task submitted", "task_id", t.ID, "kind", session)
	_ = q.events.LogTask(eventlog.TaskSubmitted, session, &eventlog.TaskDetails{
		TaskID:    t.ID,
		SizeBytes: len(t.Payload.Data),
	})

	if q.archiver != nil && q.archiver.Enabled() {
		q.archive(ctx, &t)
	}
}

// archive stores a submitted task, best effort.
func (q *Queue) archive(ctx context.Context, t *Task) {
	key, err := q.archiver.Store(ctx, t)
	session := string(t.Payload.Kind)
	if err != nil {
		slog.Warn("archive failed", "task_id", t.ID, "error", err)
		_ = q.events.LogTask(eventlog.ArchiveFailed, session, &eventlog.TaskDetails{
			TaskID: t.ID,
			Error:  err.Error(),
		})
		return
	}
	slog.Debug("task archived", "task_id", t.ID, "key", key)
	_ = q.events.LogTask(eventlog.TaskArchived, session, &eventlog.TaskDetails{
		TaskID: t.ID,
		Key:    key,
	})
}

// Status returns queue counters for the status API.
func (q *Queue) Status() types.QueueStatus {
	return types.QueueStatus{
		Depth:     len(q.tasks),
		InFlight:  q.inFlight.Load(),
		Submitted: q.submitted.Load(),
		Failed:    q.failed.Load(),
	}
}
