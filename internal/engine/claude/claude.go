// Package claude adapts the claude CLI's stream-json output.
package claude

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

const EngineID model.EngineID = "claude"

// Runner shells out to `claude -p --output-format stream-json` and
// translates the NDJSON stream.
type Runner struct {
	Bin       string
	ExtraArgs []string
}

func New() *Runner { return &Runner{Bin: "claude"} }

func (r *Runner) ID() model.EngineID { return EngineID }
func (r *Runner) Title() string      { return "Claude" }

func (r *Runner) bin() string {
	if r.Bin != "" {
		return r.Bin
	}
	return "claude"
}

func (r *Runner) CheckAvailable() error {
	if _, err := exec.LookPath(r.bin()); err != nil {
		return fmt.Errorf("%w: %s not found in PATH", engine.ErrUnavailable, r.bin())
	}
	return nil
}

func (r *Runner) Run(ctx context.Context, req engine.Request, emit func(model.Event)) error {
	args := append([]string(nil), r.ExtraArgs...)
	args = append(args, "-p", "--output-format", "stream-json", "--verbose")
	if req.Resume != nil {
		args = append(args, "--resume", req.Resume.Value)
	}
	args = append(args, req.Prompt)

	proc, err := engine.StartProc(ctx, req.Dir, r.bin(), args...)
	if err != nil {
		return err
	}

	st := &turnState{emit: emit}
	for line := range proc.Lines() {
		st.handleLine(line)
	}
	err = proc.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("claude: %w", err)
	}
	if !st.ended {
		st.end(true, "claude exited without a result")
	}
	return nil
}

type turnState struct {
	emit   func(model.Event)
	ended  bool
	answer string
	// started remembers tool_use actions by id so the matching
	// tool_result can complete them with the same kind and title.
	started map[string]model.Action
}

type wireEvent struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	SessionID string       `json:"session_id"`
	IsError   bool         `json:"is_error"`
	Result    string       `json:"result"`
	Message   *wireMessage `json:"message"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
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
	case "system":
		if ev.Subtype == "init" && ev.SessionID != "" {
			resume := &model.ResumeToken{Engine: EngineID, Value: ev.SessionID}
			st.emit(model.StartedEvent{Engine: EngineID, Title: "Claude", Resume: resume})
		}
	case "assistant":
		st.handleAssistant(ev.Message)
	case "user":
		st.handleToolResults(ev.Message)
	case "result":
		answer := ev.Result
		if answer == "" {
			answer = st.answer
		}
		st.ended = true
		st.emit(model.TurnEndEvent{Answer: answer, Failed: ev.IsError})
	}
}

func (st *turnState) handleAssistant(msg *wireMessage) {
	if msg == nil {
		return
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				st.answer = block.Text
			}
		case "tool_use":
			action := model.Action{
				ID:    block.ID,
				Kind:  toolActionKind(block.Name),
				Title: toolTitle(block.Name, block.Input),
			}
			if st.started == nil {
				st.started = make(map[string]model.Action)
			}
			st.started[block.ID] = action
			st.emit(model.ActionEvent{Action: action, Phase: model.PhaseStarted})
		}
	}
}

func (st *turnState) handleToolResults(msg *wireMessage) {
	if msg == nil {
		return
	}
	for _, block := range msg.Content {
		if block.Type != "tool_result" || block.ToolUseID == "" {
			continue
		}
		ok := !block.IsError
		action, known := st.started[block.ToolUseID]
		if !known {
			action = model.Action{ID: block.ToolUseID, Kind: model.ActionTool}
		}
		st.emit(model.ActionEvent{
			Action: action,
			Phase:  model.PhaseCompleted,
			Ok:     &ok,
		})
	}
}

func toolActionKind(name string) model.ActionKind {
	switch name {
	case "Bash":
		return model.ActionCommand
	case "WebSearch":
		return model.ActionWebSearch
	case "Edit", "Write", "NotebookEdit":
		return model.ActionFileChange
	default:
		return model.ActionTool
	}
}

// toolTitle pulls the most recognisable argument out of the tool input
// so progress lines read like what the engine is doing.
func toolTitle(name string, input json.RawMessage) string {
	var args struct {
		Command  string `json:"command"`
		FilePath string `json:"file_path"`
		Pattern  string `json:"pattern"`
		Query    string `json:"query"`
	}
	_ = json.Unmarshal(input, &args)
	switch {
	case args.Command != "":
		return args.Command
	case args.FilePath != "":
		return name + " " + args.FilePath
	case args.Pattern != "":
		return name + " " + args.Pattern
	case args.Query != "":
		return args.Query
	default:
		return name
	}
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

var resumeLineRe = regexp.MustCompile("^resume: `claude --resume ([A-Za-z0-9_-]+)`$")

func (r *Runner) FormatResume(tok model.ResumeToken) string {
	return fmt.Sprintf("resume: `claude --resume %s`", tok.Value)
}

func (r *Runner) ParseResumeLine(line string) (model.ResumeToken, bool) {
	m := resumeLineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return model.ResumeToken{}, false
	}
	return model.ResumeToken{Engine: EngineID, Value: m[1]}, true
}

func (r *Runner) ClaimResumeValue(value string) bool {
	return value != "" && !strings.ContainsAny(value, " \t`")
}
