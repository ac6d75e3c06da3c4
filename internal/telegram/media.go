package telegram

import (
	"context"
	"sync"
	"time"
)

// mediaGroupDebounce is how long a media group must be quiet before it
// flushes. Each new part restarts the window.
const mediaGroupDebounce = time.Second

type mediaGroupKey struct {
	chatID  int64
	groupID string
}

type mediaGroupState struct {
	messages []IncomingMessage
	token    int
}

// MediaCoalescer batches the separate updates of one media group into
// a single handler call after the burst goes quiet.
type MediaCoalescer struct {
	flush func(ctx context.Context, messages []IncomingMessage)
	delay time.Duration

	mu     sync.Mutex
	groups map[mediaGroupKey]*mediaGroupState
}

func NewMediaCoalescer(flush func(ctx context.Context, messages []IncomingMessage)) *MediaCoalescer {
	return &MediaCoalescer{
		flush:  flush,
		delay:  mediaGroupDebounce,
		groups: make(map[mediaGroupKey]*mediaGroupState),
	}
}

// Add buffers one part of a media group and (re)arms its flush timer.
func (c *MediaCoalescer) Add(ctx context.Context, msg IncomingMessage) {
	key := mediaGroupKey{chatID: msg.ChatID, groupID: msg.MediaGroupID}

	c.mu.Lock()
	state, ok := c.groups[key]
	if !ok {
		state = &mediaGroupState{}
		c.groups[key] = state
	}
	state.messages = append(state.messages, msg)
	state.token++
	token := state.token
	c.mu.Unlock()

	go c.flushAfterQuiet(ctx, key, token)
}

// flushAfterQuiet fires only if no newer part arrived during the
// debounce window; the token check makes stale timers no-ops.
func (c *MediaCoalescer) flushAfterQuiet(ctx context.Context, key mediaGroupKey, token int) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.delay):
	}

	c.mu.Lock()
	state, ok := c.groups[key]
	if !ok || state.token != token {
		c.mu.Unlock()
		return
	}
	messages := state.messages
	delete(c.groups, key)
	c.mu.Unlock()

	c.flush(ctx, messages)
}
