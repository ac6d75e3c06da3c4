package run

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultEditInterval keeps progress edits under Telegram's per-chat
// edit tolerance.
const defaultEditInterval = 1500 * time.Millisecond

// Editor coalesces progress edits: at most one edit is in flight, and
// while one is, newer snapshots overwrite the buffered one so only the
// latest goes out (last write wins).
type Editor struct {
	edit    func(ctx context.Context, text string) error
	limiter *rate.Limiter

	mu         sync.Mutex
	cond       *sync.Cond
	pending    string
	hasPending bool
	inFlight   bool
	lastSent   string
}

func NewEditor(minInterval time.Duration, edit func(ctx context.Context, text string) error) *Editor {
	if minInterval <= 0 {
		minInterval = defaultEditInterval
	}
	e := &Editor{
		edit:    edit,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Submit queues text as the next progress snapshot. Non-blocking.
func (e *Editor) Submit(ctx context.Context, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if text == e.lastSent && !e.hasPending {
		return
	}
	e.pending = text
	e.hasPending = true
	if !e.inFlight {
		e.inFlight = true
		go e.drain(ctx)
	}
}

func (e *Editor) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		if !e.hasPending || ctx.Err() != nil {
			e.inFlight = false
			e.cond.Broadcast()
			e.mu.Unlock()
			return
		}
		text := e.pending
		e.hasPending = false
		e.mu.Unlock()

		if err := e.limiter.Wait(ctx); err != nil {
			e.mu.Lock()
			e.inFlight = false
			e.cond.Broadcast()
			e.mu.Unlock()
			return
		}
		if err := e.edit(ctx, text); err != nil {
			// Stale progress is fine; the next snapshot retries.
			slog.Debug("run.edit_failed", "error", err)
			continue
		}
		e.mu.Lock()
		e.lastSent = text
		e.mu.Unlock()
	}
}

// Wait blocks until no edit is buffered or in flight, so the terminal
// edit cannot be overwritten by a stale progress snapshot.
func (e *Editor) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.inFlight {
		e.cond.Wait()
	}
}
