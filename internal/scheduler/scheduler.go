// Package scheduler serialises runs that continue the same engine
// session while letting unrelated sessions proceed in parallel.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// Job is one queued run. Run blocks until the engine turn finishes.
type Job func(ctx context.Context)

// ThreadScheduler keys queues on the resume token value of the session
// a run continues. Fresh runs never pass through here; callers start
// them directly.
type ThreadScheduler struct {
	mu      sync.Mutex
	pending map[string][]Job
	active  map[string]bool
}

func New() *ThreadScheduler {
	return &ThreadScheduler{
		pending: make(map[string][]Job),
		active:  make(map[string]bool),
	}
}

// EnqueueResume runs job for the session identified by threadID.
// Follow-ups for a busy session queue FIFO behind it; an idle session
// starts a worker immediately.
func (s *ThreadScheduler) EnqueueResume(ctx context.Context, threadID string, job Job) {
	s.mu.Lock()
	if s.active[threadID] {
		s.pending[threadID] = append(s.pending[threadID], job)
		n := len(s.pending[threadID])
		s.mu.Unlock()
		slog.Debug("scheduler.queued", "thread", threadID, "depth", n)
		return
	}
	s.active[threadID] = true
	s.mu.Unlock()

	go s.work(ctx, threadID, job)
}

// NoteThreadKnown pre-registers a session id discovered mid-run so
// follow-ups queue behind the in-flight turn instead of racing it.
// done must be called when that turn finishes; it drains the queue.
func (s *ThreadScheduler) NoteThreadKnown(ctx context.Context, threadID string) (done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[threadID] {
		// Already tracked; the running worker owns the queue.
		return func() {}
	}
	s.active[threadID] = true
	var once sync.Once
	return func() {
		once.Do(func() { s.finish(ctx, threadID) })
	}
}

func (s *ThreadScheduler) work(ctx context.Context, threadID string, job Job) {
	job(ctx)
	s.finish(ctx, threadID)
}

// finish runs the next queued job for threadID or retires the worker.
func (s *ThreadScheduler) finish(ctx context.Context, threadID string) {
	s.mu.Lock()
	queue := s.pending[threadID]
	if len(queue) == 0 || ctx.Err() != nil {
		delete(s.pending, threadID)
		delete(s.active, threadID)
		s.mu.Unlock()
		return
	}
	next := queue[0]
	if len(queue) == 1 {
		delete(s.pending, threadID)
	} else {
		s.pending[threadID] = queue[1:]
	}
	s.mu.Unlock()

	go s.work(ctx, threadID, next)
}

// QueueDepth reports how many jobs wait behind threadID's current run.
func (s *ThreadScheduler) QueueDepth(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[threadID])
}
