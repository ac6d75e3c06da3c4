package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/runtime"
)

func usageCtxSet(chatProject string) string {
	if chatProject != "" {
		return "usage: `/ctx set [@branch]`"
	}
	return "usage: `/ctx set <project> [@branch]`"
}

func usageTopic(chatProject string) string {
	if chatProject != "" {
		return "usage: `/topic @branch`"
	}
	return "usage: `/topic <project> @branch`"
}

// chatProjectFor returns the project a chat is mapped to, for the
// shortened topic-command forms in project chats.
func chatProjectFor(cfg *config.Config, chatID int64) string {
	if !cfg.Transports.Telegram.Topics.Enabled {
		return ""
	}
	return cfg.ProjectForChat(chatID)
}

// parseProjectBranch parses "<project> [@branch]" topic-command
// arguments. In a project-mapped chat the project token may be
// omitted, but a given one must match the chat's project.
func parseProjectBranch(args string, cfg *config.Config, chatProject string, requireBranch bool) (*model.RunContext, string) {
	tokens := strings.Fields(args)
	if len(tokens) == 0 {
		return nil, ""
	}
	if len(tokens) > 2 {
		return nil, "too many arguments"
	}

	projectToken := ""
	branch := ""
	if len(tokens) > 0 {
		if strings.HasPrefix(tokens[0], "@") {
			branch = strings.TrimPrefix(tokens[0], "@")
		} else {
			projectToken = tokens[0]
			if len(tokens) == 2 {
				if !strings.HasPrefix(tokens[1], "@") {
					return nil, "branch must be prefixed with @"
				}
				branch = strings.TrimPrefix(tokens[1], "@")
			}
		}
	}

	project := ""
	switch {
	case chatProject != "" && projectToken == "":
		project = chatProject
	case chatProject != "":
		normalized := cfg.NormalizeProjectKey(projectToken)
		if normalized == "" {
			return nil, fmt.Sprintf("unknown project %q", projectToken)
		}
		if normalized != chatProject {
			return nil, fmt.Sprintf("project mismatch for this chat; expected %q.", chatProject)
		}
		project = normalized
	case projectToken == "":
		return nil, "project is required"
	default:
		normalized := cfg.NormalizeProjectKey(projectToken)
		if normalized == "" {
			return nil, fmt.Sprintf("unknown project %q", projectToken)
		}
		project = normalized
	}

	if requireBranch && branch == "" {
		return nil, "branch is required"
	}
	return model.NewRunContext(project, branch), ""
}

// topicGuard rejects topic commands outside allowed topic chats.
// Returns false after replying when the command cannot proceed.
func (b *Bridge) topicGuard(ctx context.Context, msg IncomingMessage, needThread bool) bool {
	cfg := b.runtime().Config()
	if !topicsAllowed(cfg, msg.ChatID, msg.IsForum) {
		b.reply(ctx, msg, "topics commands are not available in this chat.")
		return false
	}
	if needThread && msg.ThreadID == 0 {
		b.reply(ctx, msg, "this command only works inside a topic.")
		return false
	}
	return true
}

func (b *Bridge) handleCtx(ctx context.Context, msg IncomingMessage) {
	if !b.topicGuard(ctx, msg, true) {
		return
	}
	rt := b.runtime()
	cfg := rt.Config()
	chatProject := chatProjectFor(cfg, msg.ChatID)

	args := msg.CommandArgs()
	action, rest, _ := strings.Cut(args, " ")
	switch strings.ToLower(action) {
	case "", "show":
		bound := b.topics.BoundContext(msg.ChatID, msg.ThreadID)
		resolved, err := rt.ResolveMessage("", msg.ReplyToText, bound, msg.ChatID)
		if err != nil {
			b.reply(ctx, msg, "error:\n"+err.Error())
			return
		}
		b.reply(ctx, msg, b.topics.Status(true, msg.ChatID, msg.ThreadID, resolved.Context, resolved.ContextSource))
	case "set":
		runCtx, errMsg := parseProjectBranch(rest, cfg, chatProject, false)
		if errMsg != "" {
			b.reply(ctx, msg, "error:\n"+errMsg+"\n"+usageCtxSet(chatProject))
			return
		}
		if runCtx == nil {
			b.reply(ctx, msg, usageCtxSet(chatProject))
			return
		}
		confirmation, err := b.topics.Bind(ctx, msg.ChatID, msg.ThreadID, runCtx)
		if err != nil {
			b.reply(ctx, msg, "error:\n"+err.Error())
			return
		}
		b.reply(ctx, msg, confirmation)
	case "clear":
		if err := b.topics.ClearBinding(msg.ChatID, msg.ThreadID); err != nil {
			b.reply(ctx, msg, "error:\n"+err.Error())
			return
		}
		b.reply(ctx, msg, "topic binding cleared.")
	default:
		b.reply(ctx, msg, "unknown `/ctx` command. use `/ctx`, `/ctx set`, or `/ctx clear`.")
	}
}

func (b *Bridge) handleNew(ctx context.Context, msg IncomingMessage) {
	if !b.topicGuard(ctx, msg, true) {
		return
	}
	if err := b.topics.ClearSessions(msg.ChatID, msg.ThreadID); err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}
	b.reply(ctx, msg, "cleared stored sessions for this topic.")
}

func (b *Bridge) handleTopic(ctx context.Context, msg IncomingMessage) {
	if !b.topicGuard(ctx, msg, false) {
		return
	}
	cfg := b.runtime().Config()
	chatProject := chatProjectFor(cfg, msg.ChatID)

	runCtx, errMsg := parseProjectBranch(msg.CommandArgs(), cfg, chatProject, true)
	if errMsg != "" {
		b.reply(ctx, msg, "error:\n"+errMsg+"\n"+usageTopic(chatProject))
		return
	}
	if runCtx == nil {
		b.reply(ctx, msg, usageTopic(chatProject))
		return
	}

	title := runtime.FormatContextLine(runCtx)
	threadID, created, err := b.topics.CreateBound(ctx, msg.ChatID, runCtx)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}
	if !created {
		b.reply(ctx, msg, fmt.Sprintf("topic already exists for %s in this chat.", title))
		return
	}
	b.reply(ctx, msg, fmt.Sprintf("created topic `%s`.", title))
	if err := b.client.SendPlain(ctx, msg.ChatID, threadID, 0, fmt.Sprintf("topic bound to `%s`", title)); err != nil {
		slog.Warn("topics.announce_failed", "chat_id", msg.ChatID, "thread_id", threadID, "error", err)
	}
}
