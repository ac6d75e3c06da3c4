// Package codex adapts the codex CLI's exec JSONL protocol.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/model"
)

const EngineID model.EngineID = "codex"

// Runner shells out to `codex exec --json` and translates its event
// stream.
type Runner struct {
	// Bin is the codex binary, "codex" by default.
	Bin string
	// ExtraArgs go before the exec subcommand (profile flags etc).
	ExtraArgs []string
	// SkipGitRepoCheck passes --skip-git-repo-check, needed when runs
	// land outside a git checkout.
	SkipGitRepoCheck bool
}

func New() *Runner { return &Runner{Bin: "codex"} }

func (r *Runner) ID() model.EngineID { return EngineID }
func (r *Runner) Title() string      { return "Codex" }

func (r *Runner) bin() string {
	if r.Bin != "" {
		return r.Bin
	}
	return "codex"
}

func (r *Runner) CheckAvailable() error {
	if _, err := exec.LookPath(r.bin()); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", engine.ErrUnavailable, r.bin())
	}
	return nil
}

func (r *Runner) Run(ctx context.Context, req engine.Request, emit func(model.Event)) error {
	args := append([]string(nil), r.ExtraArgs...)
	args = append(args, "exec")
	if req.Resume != nil {
		args = append(args, "resume")
	}
	args = append(args, "--json")
	if r.SkipGitRepoCheck {
		args = append(args, "--skip-git-repo-check")
	}
	if req.Resume != nil {
		args = append(args, req.Resume.Value)
	}
	args = append(args, req.Prompt)

	proc, err := engine.StartProc(ctx, req.Dir, r.bin(), args...)
	if err != nil {
		return err
	}

	st := &turnState{emit: emit, resume: req.Resume}
	for line := range proc.Lines() {
		st.handleLine(line)
	}
	err = proc.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("codex exec: %w", err)
	}
	if !st.ended {
		st.end(true, "codex exited without completing the turn")
	}
	return nil
}

type turnState struct {
	emit    func(model.Event)
	resume  *model.ResumeToken
	started bool
	ended   bool
	answer  string
}

type wireEvent struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id"`
	Item     *wireItem `json:"item"`
	Error    *wireErr  `json:"error"`
}

type wireErr struct {
	Message string `json:"message"`
}

type wireItem struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Command  string          `json:"command"`
	ExitCode *int            `json:"exit_code"`
	Query    string          `json:"query"`
	Server   string          `json:"server"`
	Tool     string          `json:"tool"`
	Status   string          `json:"status"`
	Changes  []wireChange    `json:"changes"`
	Result   json.RawMessage `json:"result"`
	Err      *wireErr        `json:"error"`
}

type wireChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

func (st *turnState) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		return
	}
	var ev wireEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return
	}
	switch ev.Type {
	case "thread.started":
		resume := st.resume
		if ev.ThreadID != "" {
			resume = &model.ResumeToken{Engine: EngineID, Value: ev.ThreadID}
		}
		st.started = true
		st.emit(model.StartedEvent{Engine: EngineID, Title: "Codex", Resume: resume})
	case "item.started", "item.updated", "item.completed":
		st.handleItem(ev.Type, ev.Item)
	case "turn.completed":
		st.end(false, "")
	case "turn.failed":
		msg := "turn failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		st.end(true, msg)
	case "error":
		if ev.Error != nil && ev.Error.Message != "" {
			st.emitWarning(ev.Error.Message)
		}
	}
}

func (st *turnState) handleItem(evType string, item *wireItem) {
	if item == nil {
		return
	}
	phase := model.PhaseStarted
	switch evType {
	case "item.updated":
		phase = model.PhaseUpdated
	case "item.completed":
		phase = model.PhaseCompleted
	}

	switch item.Type {
	case "agent_message":
		if item.Text != "" {
			st.answer = item.Text
		}
	case "command_execution":
		detail := map[string]any{}
		if item.ExitCode != nil {
			detail["exit_code"] = *item.ExitCode
		}
		st.emitAction(model.Action{
			ID: item.ID, Kind: model.ActionCommand, Title: item.Command, Detail: detail,
		}, phase, nil)
	case "mcp_tool_call":
		title := item.Tool
		if item.Server != "" {
			title = item.Server + "." + item.Tool
		}
		detail := map[string]any{}
		if phase == model.PhaseCompleted {
			detail["result_summary"] = summarizeToolResult(item.Result)
		}
		var ok *bool
		if phase == model.PhaseCompleted {
			v := item.Err == nil && item.Status != "failed"
			ok = &v
		}
		st.emitAction(model.Action{
			ID: item.ID, Kind: model.ActionTool, Title: title, Detail: detail,
		}, phase, ok)
	case "web_search":
		st.emitAction(model.Action{
			ID: item.ID, Kind: model.ActionWebSearch, Title: item.Query, Detail: map[string]any{},
		}, phase, nil)
	case "file_change":
		changes := make([]any, 0, len(item.Changes))
		for _, ch := range item.Changes {
			changes = append(changes, map[string]any{"path": ch.Path, "kind": ch.Kind})
		}
		st.emitAction(model.Action{
			ID: item.ID, Kind: model.ActionFileChange, Title: "file changes",
			Detail: map[string]any{"changes": changes},
		}, phase, nil)
	case "reasoning":
		// Too chatty for a five-line progress window.
	case "error":
		if item.Text != "" {
			st.emitWarning(item.Text)
		}
	}
}

// summarizeToolResult keeps tool output out of Telegram messages while
// still showing that the call returned something.
func summarizeToolResult(raw json.RawMessage) map[string]any {
	summary := map[string]any{"content_blocks": 0, "has_structured": false}
	if len(raw) == 0 {
		return summary
	}
	var result struct {
		Content           []json.RawMessage `json:"content"`
		StructuredContent json.RawMessage   `json:"structured_content"`
		Structured        json.RawMessage   `json:"structured"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return summary
	}
	summary["content_blocks"] = len(result.Content)
	summary["has_structured"] = isNonNull(result.StructuredContent) || isNonNull(result.Structured)
	return summary
}

func isNonNull(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func (st *turnState) emitAction(a model.Action, phase model.ActionPhase, ok *bool) {
	if a.ID == "" {
		return
	}
	st.emit(model.ActionEvent{Action: a, Phase: phase, Ok: ok})
}

func (st *turnState) emitWarning(msg string) {
	st.emit(model.ActionEvent{
		Action: model.Action{ID: "warn:" + msg, Kind: model.ActionWarning, Title: msg},
		Phase:  model.PhaseCompleted,
	})
}

func (st *turnState) end(failed bool, msg string) {
	if st.ended {
		return
	}
	st.ended = true
	answer := st.answer
	if failed && answer == "" {
		answer = msg
	}
	st.emit(model.TurnEndEvent{Answer: answer, Failed: failed})
}

var (
	resumeLineRe = regexp.MustCompile("^resume: `codex (?:exec )?resume ([A-Za-z0-9_-]+)`$")
	uuidRe       = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

func (r *Runner) FormatResume(tok model.ResumeToken) string {
	return fmt.Sprintf("resume: `codex exec resume %s`", tok.Value)
}

func (r *Runner) ParseResumeLine(line string) (model.ResumeToken, bool) {
	m := resumeLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return model.ResumeToken{}, false
	}
	return model.ResumeToken{Engine: EngineID, Value: m[1]}, true
}

func (r *Runner) ClaimResumeValue(value string) bool {
	return uuidRe.MatchString(value)
}
