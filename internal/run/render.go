package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/takopihq/takopi/internal/model"
)

const (
	StatusRunning = "▸"
	StatusUpdate  = "↻"
	StatusDone    = "✓"
	StatusFail    = "✗"

	headerSep = " · "
	// hardBreak keeps one action per rendered line in Telegram.
	hardBreak = "  \n"

	maxProgressCmdLen    = 300
	maxFileChangesInline = 3
)

var fileChangeVerb = map[string]string{
	"add":    "added",
	"delete": "deleted",
	"update": "updated",
}

// FormatElapsed renders a duration as "42s", "3m 07s", or "1h 02m".
func FormatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	minutes, seconds := total/60, total%60
	hours, minutes := minutes/60, minutes%60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %02dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatHeader joins "label · elapsed · step N"; step 0 is omitted.
func FormatHeader(elapsed time.Duration, step int, label string) string {
	parts := []string{label, FormatElapsed(elapsed)}
	if step > 0 {
		parts = append(parts, fmt.Sprintf("step %d", step))
	}
	return strings.Join(parts, headerSep)
}

// shorten collapses whitespace and truncates to width display cells.
func shorten(text string, width int) string {
	s := strings.Join(strings.Fields(text), " ")
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func actionStatusSymbol(a model.Action, completed bool, ok *bool) string {
	if !completed {
		return StatusRunning
	}
	if ok != nil {
		if *ok {
			return StatusDone
		}
		return StatusFail
	}
	if code, present := a.ExitCode(); present && code != 0 {
		return StatusFail
	}
	return StatusDone
}

func actionExitSuffix(a model.Action) string {
	if code, present := a.ExitCode(); present && code != 0 {
		return fmt.Sprintf(" (exit %d)", code)
	}
	return ""
}

func formatActionTitle(a model.Action, width int) string {
	switch a.Kind {
	case model.ActionCommand:
		return "`" + shorten(a.Title, width) + "`"
	case model.ActionTool:
		return "tool: " + shorten(a.Title, width)
	case model.ActionWebSearch:
		return "searched: " + shorten(a.Title, width)
	case model.ActionFileChange:
		return formatFileChangeTitle(a, width)
	default:
		return shorten(a.Title, width)
	}
}

func formatFileChangeTitle(a model.Action, width int) string {
	changes, _ := a.Detail["changes"].([]any)
	var rendered []string
	for _, raw := range changes {
		change, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path, _ := change["path"].(string)
		if path == "" {
			continue
		}
		verb := "updated"
		if kind, ok := change["kind"].(string); ok {
			if v, known := fileChangeVerb[kind]; known {
				verb = v
			}
		}
		rendered = append(rendered, verb+" `"+strings.TrimPrefix(path, "./")+"`")
	}
	if len(rendered) == 0 {
		return "files: " + shorten(a.Title, width)
	}
	if len(rendered) > maxFileChangesInline {
		remaining := len(rendered) - maxFileChangesInline
		rendered = append(rendered[:maxFileChangesInline], fmt.Sprintf("…(%d more)", remaining))
	}
	return "files: " + shorten(strings.Join(rendered, ", "), width)
}
