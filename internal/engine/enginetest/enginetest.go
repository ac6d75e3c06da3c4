// Package enginetest provides a scripted runner for exercising the
// scheduler and orchestrator without real engine binaries.
package enginetest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/model"
)

// Runner replays a fixed event script. Tests can hold a run open with
// Block and inspect the requests it received.
type Runner struct {
	Engine      model.EngineID
	Events      []model.Event
	Err         error
	Unavailable error

	// Block, when non-nil, keeps Run open after the script has been
	// emitted until the test closes it (or ctx is cancelled).
	Block chan struct{}

	mu       sync.Mutex
	requests []engine.Request
}

func New(id model.EngineID, events ...model.Event) *Runner {
	return &Runner{Engine: id, Events: events}
}

// ScriptedTurn is a minimal successful run: started with a resume
// token, one completed action, and a final answer.
func ScriptedTurn(id model.EngineID, resumeValue, answer string) []model.Event {
	var resume *model.ResumeToken
	if resumeValue != "" {
		resume = &model.ResumeToken{Engine: id, Value: resumeValue}
	}
	return []model.Event{
		model.StartedEvent{Engine: id, Title: string(id), Resume: resume},
		model.ActionEvent{
			Action: model.Action{ID: "a1", Kind: model.ActionCommand, Title: "true"},
			Phase:  model.PhaseCompleted,
		},
		model.TurnEndEvent{Answer: answer},
	}
}

func (r *Runner) ID() model.EngineID { return r.Engine }
func (r *Runner) Title() string      { return string(r.Engine) }

func (r *Runner) CheckAvailable() error { return r.Unavailable }

func (r *Runner) Run(ctx context.Context, req engine.Request, emit func(model.Event)) error {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	for _, ev := range r.Events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(ev)
	}
	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return r.Err
}

// Requests returns a copy of every request Run has seen.
func (r *Runner) Requests() []engine.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Request(nil), r.requests...)
}

func (r *Runner) FormatResume(tok model.ResumeToken) string {
	return fmt.Sprintf("resume: `%s resume %s`", r.Engine, tok.Value)
}

var resumeLineRe = regexp.MustCompile("^resume: `([a-z0-9_]+) resume ([A-Za-z0-9_-]+)`$")

func (r *Runner) ParseResumeLine(line string) (model.ResumeToken, bool) {
	m := resumeLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil || m[1] != string(r.Engine) {
		return model.ResumeToken{}, false
	}
	return model.ResumeToken{Engine: r.Engine, Value: m[2]}, true
}

func (r *Runner) ClaimResumeValue(value string) bool {
	return strings.HasPrefix(value, string(r.Engine)+"-")
}
