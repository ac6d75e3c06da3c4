package engine

import (
	"fmt"
	"strings"

	"github.com/takopihq/takopi/internal/model"
)

// Entry is one routed engine with its availability probe result.
type Entry struct {
	Engine    model.EngineID
	Runner    Runner
	Available bool
	Issue     string
}

// Router holds the configured engines in order. Order matters: it is
// the menu order and the tie-break for bare resume values.
type Router struct {
	entries   []Entry
	byID      map[model.EngineID]int
	defaultID model.EngineID
}

// NewRouter probes each runner once and records the result. defaultID
// must name one of the runners; empty defaultID picks the first.
func NewRouter(defaultID model.EngineID, runners ...Runner) (*Router, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("no engines configured")
	}
	r := &Router{byID: make(map[model.EngineID]int, len(runners))}
	for _, runner := range runners {
		id := runner.ID()
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate engine id %q", id)
		}
		entry := Entry{Engine: id, Runner: runner, Available: true}
		if err := runner.CheckAvailable(); err != nil {
			entry.Available = false
			entry.Issue = err.Error()
		}
		r.byID[id] = len(r.entries)
		r.entries = append(r.entries, entry)
	}
	if defaultID == "" {
		defaultID = r.entries[0].Engine
	}
	if _, ok := r.byID[defaultID]; !ok {
		return nil, fmt.Errorf("default engine %q is not configured", defaultID)
	}
	r.defaultID = defaultID
	return r, nil
}

// Default returns the fallback engine id.
func (r *Router) Default() model.EngineID { return r.defaultID }

// EngineIDs returns all configured engine ids in order.
func (r *Router) EngineIDs() []model.EngineID {
	out := make([]model.EngineID, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Engine
	}
	return out
}

// AvailableEngineIDs returns the ids whose probe succeeded.
func (r *Router) AvailableEngineIDs() []model.EngineID {
	var out []model.EngineID
	for _, e := range r.entries {
		if e.Available {
			out = append(out, e.Engine)
		}
	}
	return out
}

// MissingEngineIDs returns the ids whose probe failed.
func (r *Router) MissingEngineIDs() []model.EngineID {
	var out []model.EngineID
	for _, e := range r.entries {
		if !e.Available {
			out = append(out, e.Engine)
		}
	}
	return out
}

// Entries exposes the routed engines for status output.
func (r *Router) Entries() []Entry { return r.entries }

// EntryForEngine resolves an explicit override, or the default when id
// is empty.
func (r *Router) EntryForEngine(id model.EngineID) (Entry, error) {
	if id == "" {
		id = r.defaultID
	}
	i, ok := r.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("unknown engine %q", id)
	}
	return r.entries[i], nil
}

// EntryFor resolves the engine that owns a resume token.
func (r *Router) EntryFor(tok model.ResumeToken) (Entry, error) {
	return r.EntryForEngine(tok.Engine)
}

// ResolveResume finds a resume token in the prompt or the replied-to
// text. Prompt lines are checked first, then reply lines; within a
// line the configured engine order breaks ties.
func (r *Router) ResolveResume(prompt, replyText string) *model.ResumeToken {
	for _, text := range []string{prompt, replyText} {
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			for _, e := range r.entries {
				if tok, ok := e.Runner.ParseResumeLine(line); ok {
					return &tok
				}
			}
		}
	}
	return nil
}

// ClaimResumeValue assigns a bare resume:<value> directive to the first
// engine (in configured order) that recognises the value's shape.
func (r *Router) ClaimResumeValue(value string) *model.ResumeToken {
	for _, e := range r.entries {
		if e.Runner.ClaimResumeValue(value) {
			tok := model.ResumeToken{Engine: e.Engine, Value: value}
			return &tok
		}
	}
	return nil
}

// IsResumeLine reports whether line is any engine's resume footer.
func (r *Router) IsResumeLine(line string) bool {
	line = strings.TrimSpace(line)
	for _, e := range r.entries {
		if _, ok := e.Runner.ParseResumeLine(line); ok {
			return true
		}
	}
	return false
}
