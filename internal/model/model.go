// Package model holds the identifiers and value types shared across the
// bridge: engine ids, resume tokens, message references, and run contexts.
package model

import "fmt"

// EngineID names a coding-agent engine ("codex", "claude", ...).
type EngineID string

// ResumeToken is an engine-opaque session handle. Presenting it on a later
// run continues the conversation the engine associated with Value.
type ResumeToken struct {
	Engine EngineID
	Value  string
}

// MessageRef identifies one message in one chat. It is the key for the
// running-task map and the target of edits.
type MessageRef struct {
	ChannelID int64
	MessageID int
}

func (r MessageRef) String() string {
	return fmt.Sprintf("%d/%d", r.ChannelID, r.MessageID)
}

// RunContext selects the working directory for a run: a project alias and
// an optional git branch (resolved to a worktree). A nil *RunContext means
// "no context"; a non-nil value has at least one field set.
type RunContext struct {
	Project string
	Branch  string
}

// NewRunContext returns nil when both fields are empty, preserving the
// invariant that context is nil iff project and branch are both absent.
func NewRunContext(project, branch string) *RunContext {
	if project == "" && branch == "" {
		return nil
	}
	return &RunContext{Project: project, Branch: branch}
}

// ContextSource records which input decided the run context.
type ContextSource string

const (
	SourceDirectives  ContextSource = "directives"
	SourceReplyCtx    ContextSource = "reply_ctx"
	SourceTopicBind   ContextSource = "topic_bind"
	SourceChatDefault ContextSource = "chat_default"
	SourceNone        ContextSource = "none"
)
