package run

import (
	"time"

	"github.com/takopihq/takopi/internal/model"
)

const defaultMaxActions = 5

type progressEntry struct {
	id        string
	completed bool
	line      string
}

// Tracker keeps the bounded window of recent action lines plus the
// step counter and the resume token. Not goroutine-safe; one run owns
// one tracker.
type Tracker struct {
	maxActions   int
	commandWidth int

	entries       []progressEntry
	stepCount     int
	startedCounts map[string]int

	resume *model.ResumeToken
	title  string
}

func NewTracker() *Tracker {
	return &Tracker{
		maxActions:    defaultMaxActions,
		commandWidth:  maxProgressCmdLen,
		startedCounts: make(map[string]int),
	}
}

// SetResume seeds the token before the engine confirms it, so resumed
// runs show their footer even if the engine never re-announces it.
func (t *Tracker) SetResume(tok *model.ResumeToken) { t.resume = tok }

func (t *Tracker) Resume() *model.ResumeToken { return t.resume }

func (t *Tracker) Steps() int { return t.stepCount }

// Title returns the session title the engine announced, if any.
func (t *Tracker) Title() string { return t.title }

// NoteEvent folds one engine event into the window. It reports whether
// the rendered progress changed.
func (t *Tracker) NoteEvent(ev model.Event) bool {
	switch e := ev.(type) {
	case model.StartedEvent:
		if e.Resume != nil {
			t.resume = e.Resume
		}
		t.title = e.Title
		return true
	case model.ActionEvent:
		return t.noteAction(e)
	default:
		return false
	}
}

func (t *Tracker) noteAction(e model.ActionEvent) bool {
	a := e.Action
	if a.Kind == model.ActionTurn || a.ID == "" {
		return false
	}
	completed := e.Phase == model.PhaseCompleted

	isUpdate := false
	if completed {
		// Balance the counter across re-starts of the same id so
		// "step N" counts distinct logical actions.
		count := t.startedCounts[a.ID]
		switch {
		case count <= 0:
			t.stepCount++
		case count == 1:
			delete(t.startedCounts, a.ID)
		default:
			t.startedCounts[a.ID] = count - 1
		}
	} else {
		started := t.startedCounts[a.ID]
		isUpdate = e.Phase == model.PhaseUpdated || started > 0
		switch {
		case started == 0:
			t.stepCount++
			t.startedCounts[a.ID] = 1
		case e.Phase == model.PhaseStarted:
			t.startedCounts[a.ID] = started + 1
		}
	}

	status := actionStatusSymbol(a, completed, e.Ok)
	if isUpdate && !completed {
		status = StatusUpdate
	}
	suffix := ""
	if completed {
		suffix = actionExitSuffix(a)
	}
	line := status + " " + formatActionTitle(a, t.commandWidth) + suffix

	t.append(a.ID, completed, line)
	return true
}

// append overwrites the newest incomplete entry with the same id in
// place, otherwise appends, evicting the oldest when full.
func (t *Tracker) append(id string, completed bool, line string) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].id == id && !t.entries[i].completed {
			t.entries[i].line = line
			if completed {
				t.entries[i].completed = true
			}
			return
		}
	}
	if len(t.entries) >= t.maxActions {
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:len(t.entries)-1]
	}
	t.entries = append(t.entries, progressEntry{id: id, completed: completed, line: line})
}

func (t *Tracker) lines() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.line
	}
	return out
}

// Presenter renders tracker snapshots into message text: the context
// header line, the progress window, and the resume footer.
type Presenter struct {
	ContextLine  string
	FormatResume func(model.ResumeToken) string
	// ShowTitle appends the engine's session title to the header label,
	// rendered as "label (title)".
	ShowTitle bool
}

// RenderProgress renders the live progress message.
func (p Presenter) RenderProgress(t *Tracker, elapsed time.Duration, label string) string {
	header := FormatHeader(elapsed, t.stepCount, p.label(t, label))
	body := header
	if lines := t.lines(); len(lines) > 0 {
		body += "\n\n" + joinHard(lines)
	}
	return p.wrap(t, body)
}

// RenderFinal renders the terminal message for status done, error, or
// cancelled.
func (p Presenter) RenderFinal(t *Tracker, elapsed time.Duration, status, answer string) string {
	body := FormatHeader(elapsed, t.stepCount, p.label(t, status))
	if answer != "" {
		body += "\n\n" + answer
	}
	return p.wrap(t, body)
}

func (p Presenter) label(t *Tracker, label string) string {
	if p.ShowTitle && t.title != "" {
		return label + " (" + t.title + ")"
	}
	return label
}

func (p Presenter) wrap(t *Tracker, body string) string {
	if p.ContextLine != "" {
		body = p.ContextLine + "\n" + body
	}
	if t.resume != nil && p.FormatResume != nil {
		body += "\n\n" + p.FormatResume(*t.resume)
	}
	return body
}

func joinHard(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += hardBreak
		}
		out += line
	}
	return out
}
