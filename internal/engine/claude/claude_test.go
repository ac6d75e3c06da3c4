package claude

import (
	"testing"

	"github.com/takopihq/takopi/internal/model"
)

func collectEvents(lines []string) []model.Event {
	var events []model.Event
	st := &turnState{emit: func(ev model.Event) { events = append(events, ev) }}
	for _, line := range lines {
		st.handleLine(line)
	}
	return events
}

// TestHandleLineInit announces the session id from the init message.
func TestHandleLineInit(t *testing.T) {
	events := collectEvents([]string{
		`{"type":"system","subtype":"init","session_id":"sess-abc"}`,
	})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	started, ok := events[0].(model.StartedEvent)
	if !ok {
		t.Fatalf("event = %T, want StartedEvent", events[0])
	}
	if started.Resume == nil || started.Resume.Value != "sess-abc" || started.Resume.Engine != EngineID {
		t.Errorf("Resume = %+v, want claude/sess-abc", started.Resume)
	}
}

// TestHandleLineToolUse maps tool blocks onto action kinds and titles.
func TestHandleLineToolUse(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantKind  model.ActionKind
		wantTitle string
	}{
		{
			name:      "bash command",
			line:      `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"go test ./..."}}]}}`,
			wantKind:  model.ActionCommand,
			wantTitle: "go test ./...",
		},
		{
			name:      "file edit",
			line:      `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t2","name":"Edit","input":{"file_path":"main.go"}}]}}`,
			wantKind:  model.ActionFileChange,
			wantTitle: "Edit main.go",
		},
		{
			name:      "web search",
			line:      `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t3","name":"WebSearch","input":{"query":"go slog"}}]}}`,
			wantKind:  model.ActionWebSearch,
			wantTitle: "go slog",
		},
		{
			name:      "generic tool",
			line:      `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t4","name":"Grep","input":{"pattern":"TODO"}}]}}`,
			wantKind:  model.ActionTool,
			wantTitle: "Grep TODO",
		},
		{
			name:      "tool without input",
			line:      `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t5","name":"TodoWrite"}]}}`,
			wantKind:  model.ActionTool,
			wantTitle: "TodoWrite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := collectEvents([]string{tt.line})
			if len(events) != 1 {
				t.Fatalf("events = %d, want 1", len(events))
			}
			action, ok := events[0].(model.ActionEvent)
			if !ok {
				t.Fatalf("event = %T, want ActionEvent", events[0])
			}
			if action.Action.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", action.Action.Kind, tt.wantKind)
			}
			if action.Action.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", action.Action.Title, tt.wantTitle)
			}
			if action.Phase != model.PhaseStarted {
				t.Errorf("Phase = %q, want %q", action.Phase, model.PhaseStarted)
			}
		})
	}
}

// TestHandleLineToolResult completes the matching tool_use with the
// same kind and title, so the progress line keeps its text.
func TestHandleLineToolResult(t *testing.T) {
	events := collectEvents([]string{
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"make"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","is_error":false}]}}`,
	})
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	result, ok := events[1].(model.ActionEvent)
	if !ok {
		t.Fatalf("event = %T, want ActionEvent", events[1])
	}
	if result.Phase != model.PhaseCompleted {
		t.Errorf("Phase = %q, want %q", result.Phase, model.PhaseCompleted)
	}
	if result.Action.Kind != model.ActionCommand || result.Action.Title != "make" {
		t.Errorf("completion action = %+v, want the original command", result.Action)
	}
	if result.Ok == nil || !*result.Ok {
		t.Errorf("Ok = %v, want true", result.Ok)
	}
}

// TestHandleLineToolResultError marks failed tool calls.
func TestHandleLineToolResultError(t *testing.T) {
	events := collectEvents([]string{
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t9","is_error":true}]}}`,
	})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	result := events[0].(model.ActionEvent)
	if result.Ok == nil || *result.Ok {
		t.Errorf("Ok = %v, want false", result.Ok)
	}
	if result.Action.Kind != model.ActionTool {
		t.Errorf("Kind = %q, want generic tool for an unknown id", result.Action.Kind)
	}
}

// TestHandleLineResult ends the turn, preferring the result field over
// accumulated assistant text.
func TestHandleLineResult(t *testing.T) {
	tests := []struct {
		name       string
		lines      []string
		wantAnswer string
		wantFailed bool
	}{
		{
			name: "result field wins",
			lines: []string{
				`{"type":"assistant","message":{"content":[{"type":"text","text":"draft"}]}}`,
				`{"type":"result","subtype":"success","result":"the final answer"}`,
			},
			wantAnswer: "the final answer",
		},
		{
			name: "falls back to assistant text",
			lines: []string{
				`{"type":"assistant","message":{"content":[{"type":"text","text":"from assistant"}]}}`,
				`{"type":"result","subtype":"success"}`,
			},
			wantAnswer: "from assistant",
		},
		{
			name: "error result",
			lines: []string{
				`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"boom"}`,
			},
			wantAnswer: "boom",
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := collectEvents(tt.lines)
			if len(events) == 0 {
				t.Fatal("no events")
			}
			last, ok := events[len(events)-1].(model.TurnEndEvent)
			if !ok {
				t.Fatalf("last event = %T, want TurnEndEvent", events[len(events)-1])
			}
			if last.Answer != tt.wantAnswer || last.Failed != tt.wantFailed {
				t.Errorf("TurnEnd = %+v, want answer %q failed %v", last, tt.wantAnswer, tt.wantFailed)
			}
		})
	}
}

// TestResumeLineRoundTrip formats and re-parses the resume footer.
func TestResumeLineRoundTrip(t *testing.T) {
	r := New()
	tok := model.ResumeToken{Engine: EngineID, Value: "sess-abc"}

	line := r.FormatResume(tok)
	if want := "resume: `claude --resume sess-abc`"; line != want {
		t.Errorf("FormatResume = %q, want %q", line, want)
	}

	got, ok := r.ParseResumeLine(line)
	if !ok || got != tok {
		t.Errorf("ParseResumeLine(%q) = %+v, %v, want %+v", line, got, ok, tok)
	}

	if _, ok := r.ParseResumeLine("resume: `codex exec resume sess`"); ok {
		t.Error("ParseResumeLine accepted another engine's footer")
	}
}

// TestClaimResumeValue accepts anything without whitespace or
// backticks, as a last-position fallback claimant.
func TestClaimResumeValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "opaque id", value: "sess_01XYZ", want: true},
		{name: "empty", value: "", want: false},
		{name: "whitespace", value: "a b", want: false},
		{name: "backtick", value: "a`b", want: false},
	}

	r := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ClaimResumeValue(tt.value); got != tt.want {
				t.Errorf("ClaimResumeValue(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
