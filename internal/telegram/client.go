// Package telegram is the Telegram transport: the telego client
// wrapper, the update loop, forum topics, file transfer, and voice
// notes.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/takopihq/takopi/internal/commands"
	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/run"
)

// CancelCallbackData identifies the inline cancel button.
const CancelCallbackData = "takopi:cancel"

func cancelMarkup() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("cancel").WithCallbackData(CancelCallbackData),
		),
	)
}

func clearMarkup() *telego.InlineKeyboardMarkup {
	return &telego.InlineKeyboardMarkup{InlineKeyboard: [][]telego.InlineKeyboardButton{}}
}

// Client wraps the Bot API for the bridge. It implements run.Transport.
type Client struct {
	bot      *telego.Bot
	token    string
	timeout  time.Duration
	username string
	botID    int64
}

func NewClient(cfg config.TelegramConfig) (*Client, error) {
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Client{
		bot:     bot,
		token:   cfg.BotToken,
		timeout: time.Duration(cfg.RequestTimeoutS) * time.Second,
	}, nil
}

// Connect verifies the token and caches the bot identity.
func (c *Client) Connect(ctx context.Context) error {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	c.username = me.Username
	c.botID = me.ID
	return nil
}

func (c *Client) Username() string { return c.username }

func (c *Client) reqCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func markupFor(m run.Markup) *telego.InlineKeyboardMarkup {
	switch m {
	case run.MarkupCancel:
		return cancelMarkup()
	case run.MarkupClear:
		return clearMarkup()
	default:
		return nil
	}
}

// Send posts a message; replyTo 0 sends unthreaded. Implements
// run.Transport.
func (c *Client) Send(ctx context.Context, chatID int64, threadID, replyTo int, text string, markup run.Markup, notify bool) (model.MessageRef, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	params := tu.Message(tu.ID(chatID), text)
	if threadID != 0 {
		params = params.WithMessageThreadID(threadID)
	}
	if replyTo != 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		})
	}
	if mk := markupFor(markup); mk != nil {
		params = params.WithReplyMarkup(mk)
	}
	if !notify {
		params = params.WithDisableNotification()
	}
	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return model.MessageRef{}, fmt.Errorf("sendMessage: %w", err)
	}
	return model.MessageRef{ChannelID: chatID, MessageID: msg.MessageID}, nil
}

// Edit replaces a message's text in place. Implements run.Transport.
func (c *Client) Edit(ctx context.Context, ref model.MessageRef, text string, markup run.Markup) error {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	params := &telego.EditMessageTextParams{
		ChatID:    tu.ID(ref.ChannelID),
		MessageID: ref.MessageID,
		Text:      text,
	}
	if mk := markupFor(markup); mk != nil {
		params.ReplyMarkup = mk
	}
	if _, err := c.bot.EditMessageText(ctx, params); err != nil {
		return fmt.Errorf("editMessageText: %w", err)
	}
	return nil
}

// SendPlain is a fire-and-forget reply without markup.
func (c *Client) SendPlain(ctx context.Context, chatID int64, threadID, replyTo int, text string) error {
	_, err := c.Send(ctx, chatID, threadID, replyTo, text, run.MarkupKeep, true)
	return err
}

// AnswerCallback acknowledges an inline button press.
func (c *Client) AnswerCallback(ctx context.Context, queryID, text string) error {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	return c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	})
}

// SetMenu publishes the bot command menu.
func (c *Client) SetMenu(ctx context.Context, items []commands.MenuItem) error {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	botCommands := make([]telego.BotCommand, 0, len(items))
	for _, item := range items {
		botCommands = append(botCommands, telego.BotCommand{
			Command:     item.Command,
			Description: item.Description,
		})
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: botCommands})
}

// SendDocument uploads a local file as a document reply.
func (c *Client) SendDocument(ctx context.Context, chatID int64, threadID, replyTo int, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	params := tu.Document(tu.ID(chatID), tu.File(f))
	if caption != "" {
		params = params.WithCaption(caption)
	}
	if threadID != 0 {
		params = params.WithMessageThreadID(threadID)
	}
	if replyTo != 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		})
	}
	if _, err := c.bot.SendDocument(ctx, params); err != nil {
		return fmt.Errorf("sendDocument: %w", err)
	}
	return nil
}

// DownloadFile fetches a Telegram file into dest, enforcing maxBytes.
func (c *Client) DownloadFile(ctx context.Context, fileID string, dest io.Writer, maxBytes int64) (int64, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()

	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return 0, fmt.Errorf("getFile: %w", err)
	}
	if file.FilePath == "" {
		return 0, fmt.Errorf("getFile: empty file path for %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return 0, fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	written, err := io.Copy(dest, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("save file: %w", err)
	}
	if written > maxBytes {
		return 0, fmt.Errorf("file exceeds %d bytes during download", maxBytes)
	}
	return written, nil
}

// CreateForumTopic opens a new topic and returns its thread id.
func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	topic, err := c.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: tu.ID(chatID),
		Name:   name,
	})
	if err != nil {
		return 0, fmt.Errorf("createForumTopic: %w", err)
	}
	return topic.MessageThreadID, nil
}

// RenameForumTopic renames an existing topic.
func (c *Client) RenameForumTopic(ctx context.Context, chatID int64, threadID int, name string) error {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	err := c.bot.EditForumTopic(ctx, &telego.EditForumTopicParams{
		ChatID:          tu.ID(chatID),
		MessageThreadID: threadID,
		Name:            name,
	})
	if err != nil {
		return fmt.Errorf("editForumTopic: %w", err)
	}
	return nil
}

// ChatInfo is the slice of getChat the topics validator needs.
type ChatInfo struct {
	Type    string
	IsForum bool
	Title   string
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (ChatInfo, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return ChatInfo{}, fmt.Errorf("getChat: %w", err)
	}
	return ChatInfo{Type: chat.Type, IsForum: chat.IsForum, Title: chat.Title}, nil
}

// BotCanManageTopics reports whether the bot is an admin with topic
// management rights in chatID.
func (c *Client) BotCanManageTopics(ctx context.Context, chatID int64) (bool, error) {
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: c.botID,
	})
	if err != nil {
		return false, fmt.Errorf("getChatMember: %w", err)
	}
	switch m := member.(type) {
	case *telego.ChatMemberOwner:
		return true, nil
	case *telego.ChatMemberAdministrator:
		return m.CanManageTopics, nil
	default:
		return false, nil
	}
}
