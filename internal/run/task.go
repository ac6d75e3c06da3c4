package run

import (
	"sync"

	"github.com/takopihq/takopi/internal/model"
)

// Task is one in-flight engine run, keyed by its progress message.
type Task struct {
	Engine      model.EngineID
	ChatID      int64
	ThreadID    int
	UserMsgID   int
	ProgressRef model.MessageRef
	Context     *model.RunContext

	cancelOnce sync.Once
	cancelC    chan struct{}

	mu          sync.Mutex
	resume      *model.ResumeToken
	resumeReady chan struct{}
	done        chan struct{}
}

func newTask(engine model.EngineID, ref model.MessageRef, chatID int64, threadID, userMsgID int, ctx *model.RunContext) *Task {
	return &Task{
		Engine:      engine,
		ChatID:      chatID,
		ThreadID:    threadID,
		UserMsgID:   userMsgID,
		ProgressRef: ref,
		Context:     ctx,
		cancelC:     make(chan struct{}),
		resumeReady: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// RequestCancel flags the run for cancellation. Safe to call twice.
func (t *Task) RequestCancel() {
	t.cancelOnce.Do(func() { close(t.cancelC) })
}

// CancelRequested is closed once cancellation has been requested.
func (t *Task) CancelRequested() <-chan struct{} { return t.cancelC }

func (t *Task) Cancelled() bool {
	select {
	case <-t.cancelC:
		return true
	default:
		return false
	}
}

func (t *Task) setResume(tok model.ResumeToken) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resume != nil {
		return
	}
	t.resume = &tok
	close(t.resumeReady)
}

// Resume returns the session token once the engine announced it.
func (t *Task) Resume() *model.ResumeToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resume
}

// ResumeReady is closed when the engine publishes its session token.
func (t *Task) ResumeReady() <-chan struct{} { return t.resumeReady }

// Done is closed when the run has fully finished and been released.
func (t *Task) Done() <-chan struct{} { return t.done }

// Tasks is the registry of in-flight runs keyed by progress message.
type Tasks struct {
	mu sync.Mutex
	m  map[model.MessageRef]*Task
}

func NewTasks() *Tasks {
	return &Tasks{m: make(map[model.MessageRef]*Task)}
}

func (ts *Tasks) add(t *Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.m[t.ProgressRef] = t
}

func (ts *Tasks) remove(ref model.MessageRef) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.m, ref)
}

// Get looks up the run whose progress message is ref.
func (ts *Tasks) Get(ref model.MessageRef) *Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.m[ref]
}

// Len reports how many runs are in flight.
func (ts *Tasks) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.m)
}
