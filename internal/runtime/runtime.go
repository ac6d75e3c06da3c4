// Package runtime resolves incoming messages into runnable requests:
// directives, reply context, resume tokens, and run directories.
package runtime

import (
	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/model"
)

// ResolvedMessage is the outcome of resolving one incoming message.
type ResolvedMessage struct {
	Prompt         string
	Resume         *model.ResumeToken
	EngineOverride model.EngineID
	Context        *model.RunContext
	ContextSource  model.ContextSource
}

// Runtime ties the engine router to the loaded config. It is immutable;
// a config reload builds a fresh Runtime.
type Runtime struct {
	router *engine.Router
	cfg    *config.Config
}

func New(router *engine.Router, cfg *config.Config) *Runtime {
	return &Runtime{router: router, cfg: cfg}
}

func (rt *Runtime) Router() *engine.Router        { return rt.router }
func (rt *Runtime) Config() *config.Config        { return rt.cfg }
func (rt *Runtime) DefaultEngine() model.EngineID { return rt.router.Default() }
func (rt *Runtime) EngineIDs() []model.EngineID   { return rt.router.EngineIDs() }
func (rt *Runtime) ProjectAliases() []string      { return rt.cfg.ProjectAliases() }

// ResolveMessage turns free-form text into a runnable request.
// topicCtx is the current topic binding when the message arrived in a
// bound forum topic. The chosen context is the first non-empty source
// in the fixed order directives > reply_ctx > topic_bind >
// chat_default; sources never merge.
func (rt *Runtime) ResolveMessage(text, replyText string, topicCtx *model.RunContext, chatID int64) (ResolvedMessage, error) {
	d, err := parseDirectives(text, rt.router.EngineIDs(), rt.cfg)
	if err != nil {
		return ResolvedMessage{}, err
	}

	replyCtx := parseContextLine(replyText, rt.cfg)
	chatCtx := rt.DefaultContextForChat(chatID)

	resume, err := rt.resolveResume(d, replyText)
	if err != nil {
		return ResolvedMessage{}, err
	}

	// A resume token pins the engine, so an engine directive would be
	// silently wrong; drop it and let the token's owner run.
	if resume != nil {
		ctx, source := firstContext(
			sourced{replyCtx, model.SourceReplyCtx},
			sourced{topicCtx, model.SourceTopicBind},
			sourced{chatCtx, model.SourceChatDefault},
		)
		return ResolvedMessage{
			Prompt:        d.Prompt,
			Resume:        resume,
			Context:       ctx,
			ContextSource: source,
		}, nil
	}

	// A branch directive without a project inherits the chat or
	// configured default project, so "@feat fix it" works in a
	// project-mapped chat.
	directiveProject := d.Project
	if directiveProject == "" && d.Branch != "" {
		directiveProject = rt.fallbackProject(chatID)
	}
	directiveCtx := model.NewRunContext(directiveProject, d.Branch)

	var defaultCtx *model.RunContext
	if chatCtx == nil && rt.cfg.DefaultProject != "" {
		defaultCtx = model.NewRunContext(rt.cfg.DefaultProject, "")
	}

	ctx, source := firstContext(
		sourced{directiveCtx, model.SourceDirectives},
		sourced{replyCtx, model.SourceReplyCtx},
		sourced{topicCtx, model.SourceTopicBind},
		sourced{chatCtx, model.SourceChatDefault},
		sourced{defaultCtx, model.SourceChatDefault},
	)

	override := d.Engine
	if override == "" && ctx != nil && ctx.Project != "" {
		if project, ok := rt.cfg.Project(ctx.Project); ok && project.DefaultEngine != "" {
			override = model.EngineID(project.DefaultEngine)
		}
	}

	return ResolvedMessage{
		Prompt:         d.Prompt,
		EngineOverride: override,
		Context:        ctx,
		ContextSource:  source,
	}, nil
}

func (rt *Runtime) resolveResume(d Directives, replyText string) (*model.ResumeToken, error) {
	if d.ResumeValue != "" {
		tok := rt.router.ClaimResumeValue(d.ResumeValue)
		if tok == nil {
			return nil, directiveErrorf("no engine recognises resume token %q", d.ResumeValue)
		}
		return tok, nil
	}
	return rt.router.ResolveResume(d.Prompt, replyText), nil
}

func (rt *Runtime) fallbackProject(chatID int64) string {
	if alias := rt.cfg.ProjectForChat(chatID); alias != "" {
		return alias
	}
	return rt.cfg.DefaultProject
}

type sourced struct {
	ctx    *model.RunContext
	source model.ContextSource
}

func firstContext(candidates ...sourced) (*model.RunContext, model.ContextSource) {
	for _, c := range candidates {
		if c.ctx != nil {
			return c.ctx, c.source
		}
	}
	return nil, model.SourceNone
}

// DefaultContextForChat returns the project mapped to chatID, if any.
func (rt *Runtime) DefaultContextForChat(chatID int64) *model.RunContext {
	if alias := rt.cfg.ProjectForChat(chatID); alias != "" {
		return model.NewRunContext(alias, "")
	}
	return nil
}

// ResolveRunner picks the engine entry for a resolved message. The
// resume token's owner wins over any override.
func (rt *Runtime) ResolveRunner(resume *model.ResumeToken, override model.EngineID) (engine.Entry, error) {
	if resume != nil {
		return rt.router.EntryFor(*resume)
	}
	return rt.router.EntryForEngine(override)
}

// ResolveRunCwd maps a context to the engine working directory.
func (rt *Runtime) ResolveRunCwd(ctx *model.RunContext) (string, error) {
	return ResolveRunCwd(ctx, rt.cfg)
}

// IsResumeLine reports whether line is any engine's resume footer.
func (rt *Runtime) IsResumeLine(line string) bool {
	return rt.router.IsResumeLine(line)
}

// PluginConfig returns the raw config table for a plugin command id.
func (rt *Runtime) PluginConfig(id string) map[string]any {
	if raw, ok := rt.cfg.Plugins[id]; ok {
		out := make(map[string]any, len(raw))
		for k, v := range raw {
			out[k] = v
		}
		return out
	}
	return map[string]any{}
}
