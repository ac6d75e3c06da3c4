package model

// ActionKind classifies what an engine action line represents.
type ActionKind string

const (
	ActionCommand    ActionKind = "command"
	ActionTool       ActionKind = "tool"
	ActionWebSearch  ActionKind = "web_search"
	ActionFileChange ActionKind = "file_change"
	ActionNote       ActionKind = "note"
	ActionWarning    ActionKind = "warning"
	ActionTurn       ActionKind = "turn"
)

// ActionPhase is the lifecycle stage an ActionEvent reports.
type ActionPhase string

const (
	PhaseStarted   ActionPhase = "started"
	PhaseUpdated   ActionPhase = "updated"
	PhaseCompleted ActionPhase = "completed"
)

// Action is one logical step the engine performed. Detail carries
// engine-specific extras (exit_code, changes, ...).
type Action struct {
	ID     string
	Kind   ActionKind
	Title  string
	Detail map[string]any
}

// ExitCode returns the action's exit code from Detail, if present.
func (a Action) ExitCode() (int, bool) {
	switch v := a.Detail["exit_code"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Event is the tagged union an engine adapter emits. Exactly one of the
// concrete types below flows through a run's event channel.
type Event interface{ isEvent() }

// StartedEvent announces the run began. Resume, when non-nil, is the
// session token that continues this conversation later.
type StartedEvent struct {
	Engine EngineID
	Title  string
	Resume *ResumeToken
}

// ActionEvent reports progress on one action. Ok, when non-nil, overrides
// the exit-code heuristic for the completion symbol.
type ActionEvent struct {
	Action Action
	Phase  ActionPhase
	Ok     *bool
}

// TurnEndEvent marks the end of an engine turn and carries the answer.
type TurnEndEvent struct {
	Answer string
	Failed bool
}

func (StartedEvent) isEvent() {}
func (ActionEvent) isEvent()  {}
func (TurnEndEvent) isEvent() {}
