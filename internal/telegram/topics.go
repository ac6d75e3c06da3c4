package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/runtime"
	"github.com/takopihq/takopi/internal/topicstate"
)

// ForumAPI is the slice of the Telegram client the topic service needs
// to inspect chats and manage forum topics. *Client implements it.
type ForumAPI interface {
	GetChat(ctx context.Context, chatID int64) (ChatInfo, error)
	BotCanManageTopics(ctx context.Context, chatID int64) (bool, error)
	CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error)
	RenameForumTopic(ctx context.Context, chatID int64, threadID int, name string) error
}

// TopicService implements /ctx, /new, and /topic on top of the topic
// state store.
type TopicService struct {
	Client ForumAPI
	Store  *topicstate.Store
}

// topicsAllowed applies the configured scope to one chat.
func topicsAllowed(cfg *config.Config, chatID int64, isForum bool) bool {
	tg := cfg.Transports.Telegram
	if !tg.Topics.Enabled {
		return false
	}
	isMain := chatID == tg.ChatID || containsID(tg.ChatIDs, chatID)
	isProject := cfg.ProjectForChat(chatID) != ""
	switch tg.Topics.Scope {
	case "main":
		return isMain
	case "projects":
		return isProject
	case "all":
		return isMain || isProject
	default: // auto
		return (isMain || isProject) && isForum
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ValidateSetup checks that chatID can host bot-managed topics: a
// forum supergroup where the bot is an admin with can_manage_topics.
func (s *TopicService) ValidateSetup(ctx context.Context, chatID int64) error {
	chat, err := s.Client.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Type != "supergroup" {
		return fmt.Errorf("topics need a supergroup; this chat is a %s", chat.Type)
	}
	if !chat.IsForum {
		return fmt.Errorf("enable topics for this group first (group settings, topics)")
	}
	canManage, err := s.Client.BotCanManageTopics(ctx, chatID)
	if err != nil {
		return err
	}
	if !canManage {
		return fmt.Errorf("the bot needs the manage topics admin right")
	}
	return nil
}

// BoundContext returns the binding for (chatID, threadID), if any.
func (s *TopicService) BoundContext(chatID int64, threadID int) *model.RunContext {
	snap, ok := s.Store.GetThread(chatID, threadID)
	if !ok {
		return nil
	}
	return snap.Context
}

// Bind sets the topic's context and renames the topic to match. The
// rename is skipped when the stored title already matches, so repeated
// binds to the same context issue zero rename calls.
func (s *TopicService) Bind(ctx context.Context, chatID int64, threadID int, runCtx *model.RunContext) (string, error) {
	title := runtime.FormatContextLine(runCtx)
	snap, _ := s.Store.GetThread(chatID, threadID)
	if err := s.Store.SetContext(chatID, threadID, runCtx, title, false); err != nil {
		return "", err
	}
	if threadID != 0 && snap.TopicTitle != title {
		if err := s.Client.RenameForumTopic(ctx, chatID, threadID, title); err != nil {
			slog.Warn("topics.rename_failed", "chat_id", chatID, "thread_id", threadID, "error", err)
		}
	}
	return fmt.Sprintf("topic bound to `%s`", title), nil
}

// CreateBound opens a fresh forum topic bound to runCtx. When a topic
// for the same context already exists it is returned with created
// false and no new topic is opened.
func (s *TopicService) CreateBound(ctx context.Context, chatID int64, runCtx *model.RunContext) (threadID int, created bool, err error) {
	title := runtime.FormatContextLine(runCtx)
	if existing, ok := s.Store.FindThreadForContext(chatID, runCtx); ok {
		return existing, false, nil
	}
	if err := s.ValidateSetup(ctx, chatID); err != nil {
		return 0, false, err
	}
	threadID, err = s.Client.CreateForumTopic(ctx, chatID, title)
	if err != nil {
		return 0, false, err
	}
	if err := s.Store.SetContext(chatID, threadID, runCtx, title, true); err != nil {
		return threadID, true, err
	}
	return threadID, true, nil
}

// ClearBinding drops the topic's context.
func (s *TopicService) ClearBinding(chatID int64, threadID int) error {
	return s.Store.ClearContext(chatID, threadID)
}

// ClearSessions forgets the topic's engine sessions (/new).
func (s *TopicService) ClearSessions(chatID int64, threadID int) error {
	return s.Store.ClearSessions(chatID, threadID)
}

// Status renders the /ctx overview for one thread.
func (s *TopicService) Status(allowed bool, chatID int64, threadID int, resolved *model.RunContext, source model.ContextSource) string {
	state := "disabled"
	if allowed {
		state = "enabled"
	}
	bound := "none"
	sessions := "none"
	if snap, ok := s.Store.GetThread(chatID, threadID); ok {
		if snap.Context != nil {
			bound = runtime.FormatContextLine(snap.Context)
		}
		if len(snap.Sessions) > 0 {
			ids := make([]string, 0, len(snap.Sessions))
			for engine := range snap.Sessions {
				ids = append(ids, string(engine))
			}
			sort.Strings(ids)
			sessions = strings.Join(ids, ", ")
		}
	}
	resolvedLabel := "none"
	if resolved != nil {
		resolvedLabel = runtime.FormatContextLine(resolved)
	}
	return strings.Join([]string{
		"topics: " + state,
		"bound ctx: " + bound,
		fmt.Sprintf("resolved ctx: %s (source: %s)", resolvedLabel, source),
		"sessions: " + sessions,
	}, "\n")
}
