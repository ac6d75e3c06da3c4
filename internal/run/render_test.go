package run

import (
	"testing"
	"time"

	"github.com/takopihq/takopi/internal/model"
)

// TestFormatElapsed covers the three duration shapes.
func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{name: "zero", d: 0, want: "0s"},
		{name: "seconds", d: 42 * time.Second, want: "42s"},
		{name: "minutes", d: 3*time.Minute + 7*time.Second, want: "3m 07s"},
		{name: "hours", d: time.Hour + 2*time.Minute + 30*time.Second, want: "1h 02m"},
		{name: "negative clamps to zero", d: -5 * time.Second, want: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatElapsed(tt.d); got != tt.want {
				t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

// TestFormatHeader checks the separator and the step-zero omission.
func TestFormatHeader(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		step    int
		label   string
		want    string
	}{
		{name: "with steps", elapsed: 65 * time.Second, step: 3, label: "working", want: "working · 1m 05s · step 3"},
		{name: "no steps", elapsed: 2 * time.Second, step: 0, label: "starting", want: "starting · 2s"},
		{name: "final", elapsed: 10 * time.Second, step: 7, label: "done", want: "done · 10s · step 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatHeader(tt.elapsed, tt.step, tt.label); got != tt.want {
				t.Errorf("FormatHeader(%v, %d, %q) = %q, want %q", tt.elapsed, tt.step, tt.label, got, tt.want)
			}
		})
	}
}

// TestShorten verifies whitespace collapsing and width truncation.
func TestShorten(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{name: "fits", text: "ls -la", width: 20, want: "ls -la"},
		{name: "collapses whitespace", text: "git \n  status\t-s", width: 40, want: "git status -s"},
		{name: "truncates", text: "abcdefghij", width: 5, want: "abcd…"},
		{name: "zero width passthrough", text: "hello", width: 0, want: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shorten(tt.text, tt.width); got != tt.want {
				t.Errorf("shorten(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

// TestFormatActionTitle renders each action kind's progress line body.
func TestFormatActionTitle(t *testing.T) {
	tests := []struct {
		name   string
		action model.Action
		want   string
	}{
		{
			name:   "command",
			action: model.Action{Kind: model.ActionCommand, Title: "go test ./..."},
			want:   "`go test ./...`",
		},
		{
			name:   "tool",
			action: model.Action{Kind: model.ActionTool, Title: "github.search"},
			want:   "tool: github.search",
		},
		{
			name:   "web search",
			action: model.Action{Kind: model.ActionWebSearch, Title: "golang generics"},
			want:   "searched: golang generics",
		},
		{
			name:   "warning falls through",
			action: model.Action{Kind: model.ActionWarning, Title: "rate limited"},
			want:   "rate limited",
		},
		{
			name: "file changes",
			action: model.Action{Kind: model.ActionFileChange, Title: "file changes", Detail: map[string]any{
				"changes": []any{
					map[string]any{"path": "./main.go", "kind": "update"},
					map[string]any{"path": "new.go", "kind": "add"},
				},
			}},
			want: "files: updated `main.go`, added `new.go`",
		},
		{
			name: "file changes overflow",
			action: model.Action{Kind: model.ActionFileChange, Title: "file changes", Detail: map[string]any{
				"changes": []any{
					map[string]any{"path": "a.go", "kind": "add"},
					map[string]any{"path": "b.go", "kind": "delete"},
					map[string]any{"path": "c.go", "kind": "update"},
					map[string]any{"path": "d.go", "kind": "add"},
					map[string]any{"path": "e.go", "kind": "add"},
				},
			}},
			want: "files: added `a.go`, deleted `b.go`, updated `c.go`, …(2 more)",
		},
		{
			name:   "file changes without detail",
			action: model.Action{Kind: model.ActionFileChange, Title: "file changes"},
			want:   "files: file changes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatActionTitle(tt.action, 300); got != tt.want {
				t.Errorf("formatActionTitle(%+v) = %q, want %q", tt.action, got, tt.want)
			}
		})
	}
}

// TestActionStatusSymbol checks the completion symbol heuristics.
func TestActionStatusSymbol(t *testing.T) {
	ok := true
	fail := false
	tests := []struct {
		name      string
		action    model.Action
		completed bool
		ok        *bool
		want      string
	}{
		{name: "running", completed: false, want: StatusRunning},
		{name: "ok override", completed: true, ok: &ok, want: StatusDone},
		{name: "fail override", completed: true, ok: &fail, want: StatusFail},
		{
			name:      "nonzero exit",
			action:    model.Action{Detail: map[string]any{"exit_code": 2}},
			completed: true,
			want:      StatusFail,
		},
		{
			name:      "zero exit",
			action:    model.Action{Detail: map[string]any{"exit_code": 0}},
			completed: true,
			want:      StatusDone,
		},
		{name: "no detail", completed: true, want: StatusDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := actionStatusSymbol(tt.action, tt.completed, tt.ok); got != tt.want {
				t.Errorf("actionStatusSymbol(%+v, %v) = %q, want %q", tt.action, tt.completed, got, tt.want)
			}
		})
	}
}
