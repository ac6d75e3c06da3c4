package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/takopihq/takopi/internal/commands"
	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/run"
	"github.com/takopihq/takopi/internal/runtime"
	"github.com/takopihq/takopi/internal/scheduler"
	"github.com/takopihq/takopi/internal/topicstate"
)

// maxVoiceBytes caps voice note downloads for transcription.
const maxVoiceBytes = 20 << 20

// Options tunes bridge behaviour from the command line.
type Options struct {
	// FinalNotify posts the final answer as a fresh notifying reply
	// instead of editing it into the progress message.
	FinalNotify bool
	Tracer      trace.Tracer
}

// BotAPI is the full client surface the bridge drives: the run
// transport, forum-topic management, file transfer, and the update
// loop. *Client implements it against the live Bot API; tests
// substitute a fake.
type BotAPI interface {
	run.Transport
	ForumAPI
	FileAPI
	Connect(ctx context.Context) error
	Username() string
	DrainBacklog(ctx context.Context) (int, error)
	Updates(ctx context.Context, offset int) (<-chan telego.Update, error)
	SetMenu(ctx context.Context, items []commands.MenuItem) error
	SendPlain(ctx context.Context, chatID int64, threadID, replyTo int, text string) error
	AnswerCallback(ctx context.Context, queryID, text string) error
}

// Bridge is the Telegram main loop: it pops updates and routes them to
// the cancel, file-transfer, topic-control, plugin-command, and
// engine-run paths.
type Bridge struct {
	client   BotAPI
	store    *topicstate.Store
	tasks    *run.Tasks
	sched    *scheduler.ThreadScheduler
	orch     *run.Orchestrator
	registry *commands.Registry
	topics   *TopicService
	files    *FileService
	stt      *Transcriber
	media    *MediaCoalescer

	finalNotify bool

	mu sync.RWMutex
	rt *runtime.Runtime
}

func NewBridge(rt *runtime.Runtime, opts Options) (*Bridge, error) {
	cfg := rt.Config()

	client, err := NewClient(cfg.Transports.Telegram)
	if err != nil {
		return nil, err
	}
	store, err := topicstate.Load(config.StatePath(cfg.Path))
	if err != nil {
		return nil, err
	}
	return newBridge(rt, client, store, opts), nil
}

// newBridge wires the bridge against any client implementation.
func newBridge(rt *runtime.Runtime, client BotAPI, store *topicstate.Store, opts Options) *Bridge {
	tg := rt.Config().Transports.Telegram

	b := &Bridge{
		client:      client,
		store:       store,
		tasks:       run.NewTasks(),
		sched:       scheduler.New(),
		finalNotify: opts.FinalNotify,
		rt:          rt,
	}
	b.orch = &run.Orchestrator{Transport: client, Tasks: b.tasks, Tracer: opts.Tracer}
	b.registry = commands.NewRegistry(
		func() map[string]bool { return commands.ReservedIDs(b.runtime()) },
		commands.Builtins(b.tasks),
	)
	b.topics = &TopicService{Client: client, Store: store}
	b.files = &FileService{Client: client, Cfg: tg.Files}
	b.stt = &Transcriber{Client: client, Enabled: tg.VoiceTranscription.Enabled, MaxBytes: maxVoiceBytes}
	b.media = NewMediaCoalescer(b.flushMediaGroup)
	return b
}

func (b *Bridge) runtime() *runtime.Runtime {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rt
}

// Run connects, drains the backlog, and processes updates until ctx is
// cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	rt := b.runtime()
	cfg := rt.Config()
	tg := cfg.Transports.Telegram

	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	slog.Info("bridge.connected", "username", b.client.Username())

	if tg.Topics.Enabled {
		slog.Info("topics.enabled", "scope", tg.Topics.Scope, "state_path", config.StatePath(cfg.Path))
	}

	offset, err := b.client.DrainBacklog(ctx)
	if err != nil {
		return err
	}

	b.registry.Refresh()
	b.publishMenu(ctx)
	b.sendStartup(ctx)

	updates, err := b.client.Updates(ctx, offset)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Path != "" {
		g.Go(func() error {
			return config.Watch(ctx, cfg.Path, func(next *config.Config) {
				b.applyReload(ctx, next)
			})
		})
	}
	g.Go(func() error {
		for update := range updates {
			b.handleUpdate(ctx, update)
		}
		return ctx.Err()
	})
	return g.Wait()
}

func (b *Bridge) publishMenu(ctx context.Context) {
	rt := b.runtime()
	items := commands.BuildMenu(rt, b.registry, rt.Config().Transports.Telegram.Files.Enabled)
	if err := b.client.SetMenu(ctx, items); err != nil {
		slog.Info("bridge.menu_failed", "error", err)
		return
	}
	slog.Info("bridge.menu_updated", "count", len(items))
}

func (b *Bridge) sendStartup(ctx context.Context) {
	rt := b.runtime()
	tg := rt.Config().Transports.Telegram
	if tg.ChatID == 0 {
		return
	}
	available := rt.Router().AvailableEngineIDs()
	names := make([]string, 0, len(available))
	for _, id := range available {
		names = append(names, string(id))
	}
	engines := "none"
	if len(names) > 0 {
		engines = strings.Join(names, ", ")
	}
	lines := []string{fmt.Sprintf("takopi is ready. engines: %s", engines)}
	for _, entry := range rt.Router().Entries() {
		if !entry.Available {
			lines = append(lines, fmt.Sprintf("%s unavailable: %s", entry.Engine, entry.Issue))
		}
	}
	if _, err := b.client.Send(ctx, tg.ChatID, 0, 0, strings.Join(lines, "\n"), run.MarkupKeep, false); err != nil {
		slog.Info("bridge.startup_failed", "error", err)
		return
	}
	slog.Info("bridge.startup_sent", "chat_id", tg.ChatID)
}

// applyReload swaps in a freshly parsed config. The engine set and the
// transport are fixed at startup; changes there need a restart.
func (b *Bridge) applyReload(ctx context.Context, next *config.Config) {
	rt := b.runtime()
	engineIDs := make([]string, 0, len(rt.EngineIDs()))
	for _, id := range rt.EngineIDs() {
		engineIDs = append(engineIDs, string(id))
	}
	if err := next.Validate(engineIDs); err != nil {
		slog.Warn("config.reload_rejected", "error", err)
		return
	}

	old := rt.Config()
	if old.Transport != next.Transport || !reflect.DeepEqual(old.Transports.Telegram, next.Transports.Telegram) {
		slog.Warn("config.restart_required", "section", "transports.telegram")
	}

	b.mu.Lock()
	b.rt = runtime.New(b.rt.Router(), next)
	b.mu.Unlock()

	b.registry.Refresh()
	b.publishMenu(ctx)
}

func (b *Bridge) handleUpdate(ctx context.Context, update telego.Update) {
	if update.CallbackQuery != nil {
		go b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil {
		slog.Debug("bridge.update_skipped", "update_id", update.UpdateID)
		return
	}
	msg := fromTelegoMessage(update.Message)

	rt := b.runtime()
	cfg := rt.Config()
	tg := cfg.Transports.Telegram

	if !chatAllowed(cfg, msg.ChatID) {
		slog.Debug("bridge.chat_rejected", "chat_id", msg.ChatID)
		return
	}

	if msg.Voice != nil {
		text, err := b.stt.Transcribe(ctx, msg.Voice)
		if err != nil {
			slog.Warn("stt.failed", "error", err)
			b.reply(ctx, msg, "error:\ncould not transcribe the voice note.")
			return
		}
		if text == "" {
			return
		}
		msg.Text = text
	}

	if tg.Files.Enabled && msg.HasUpload() && msg.MediaGroupID != "" {
		b.media.Add(ctx, msg)
		return
	}

	cmd := msg.CommandName()

	if cmd == "cancel" {
		go b.handleCancel(ctx, msg)
		return
	}

	if cmd == "file" {
		if !tg.Files.Enabled {
			b.reply(ctx, msg, "file transfer disabled; enable `[transports.telegram.files]`.")
			return
		}
		go b.handleFileCommand(ctx, msg)
		return
	}

	if msg.HasUpload() {
		if tg.Files.Enabled && tg.Files.AutoPut && strings.TrimSpace(msg.Text) == "" {
			go b.handleAutoPut(ctx, msg)
		} else if tg.Files.Enabled {
			b.reply(ctx, msg, filePutUsage)
		}
		return
	}

	if tg.Topics.Enabled {
		switch cmd {
		case "ctx":
			go b.handleCtx(ctx, msg)
			return
		case "new":
			go b.handleNew(ctx, msg)
			return
		case "topic":
			go b.handleTopic(ctx, msg)
			return
		}
	}

	if cmd != "" {
		if _, ok := b.registry.Lookup(cmd); ok {
			go b.dispatchCommand(ctx, msg, cmd)
			return
		}
	}

	go b.resolveAndRun(ctx, msg)
}

// reply posts text as a notifying reply to msg.
func (b *Bridge) reply(ctx context.Context, msg IncomingMessage, text string) {
	if err := b.client.SendPlain(ctx, msg.ChatID, msg.ThreadID, msg.MessageID, text); err != nil {
		slog.Warn("bridge.reply_failed", "chat_id", msg.ChatID, "error", err)
	}
}

// chatAllowed filters updates to the configured chats. With no chats
// configured the bridge answers everywhere.
func chatAllowed(cfg *config.Config, chatID int64) bool {
	tg := cfg.Transports.Telegram
	if tg.ChatID == 0 && len(tg.ChatIDs) == 0 && len(cfg.ProjectChatIDs()) == 0 {
		return true
	}
	if chatID == tg.ChatID || containsID(tg.ChatIDs, chatID) {
		return true
	}
	return containsID(cfg.ProjectChatIDs(), chatID)
}

func (b *Bridge) handleCallback(ctx context.Context, query *telego.CallbackQuery) {
	if query.Data != CancelCallbackData {
		_ = b.client.AnswerCallback(ctx, query.ID, "")
		return
	}
	var ref model.MessageRef
	if query.Message != nil {
		ref = model.MessageRef{
			ChannelID: query.Message.GetChat().ID,
			MessageID: query.Message.GetMessageID(),
		}
	}
	task := b.tasks.Get(ref)
	if task == nil {
		_ = b.client.AnswerCallback(ctx, query.ID, "nothing is currently running for that message.")
		return
	}
	slog.Info("cancel.requested", "chat_id", ref.ChannelID, "progress_message_id", ref.MessageID)
	task.RequestCancel()
	_ = b.client.AnswerCallback(ctx, query.ID, "cancelling...")
}

func (b *Bridge) handleCancel(ctx context.Context, msg IncomingMessage) {
	if msg.ReplyToID == 0 {
		b.reply(ctx, msg, "reply to the progress message to cancel.")
		return
	}
	ref := model.MessageRef{ChannelID: msg.ChatID, MessageID: msg.ReplyToID}
	task := b.tasks.Get(ref)
	if task == nil {
		b.reply(ctx, msg, "nothing is currently running for that message.")
		return
	}
	slog.Info("cancel.requested", "chat_id", msg.ChatID, "progress_message_id", msg.ReplyToID)
	task.RequestCancel()
}

func (b *Bridge) dispatchCommand(ctx context.Context, msg IncomingMessage, cmd string) {
	rt := b.runtime()
	exec := &commands.Executor{Registry: b.registry, Runtime: rt}
	cc := commands.Context{
		ChatID:    msg.ChatID,
		ThreadID:  msg.ThreadID,
		UserMsgID: msg.MessageID,
		Args:      msg.CommandArgs(),
		Reply: func(ctx context.Context, text string) error {
			return b.client.SendPlain(ctx, msg.ChatID, msg.ThreadID, msg.MessageID, text)
		},
	}
	if _, err := exec.Dispatch(ctx, cmd, cc); err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
	}
}

// topicKey reports whether msg lives in a thread the topic store
// tracks, and the current binding if so.
func (b *Bridge) topicKey(msg IncomingMessage) (bool, *model.RunContext) {
	cfg := b.runtime().Config()
	if !topicsAllowed(cfg, msg.ChatID, msg.IsForum) || msg.ThreadID == 0 {
		return false, nil
	}
	return true, b.topics.BoundContext(msg.ChatID, msg.ThreadID)
}

func (b *Bridge) resolveAndRun(ctx context.Context, msg IncomingMessage) {
	rt := b.runtime()
	cfg := rt.Config()

	inTopic, bound := b.topicKey(msg)
	chatProject := ""
	if cfg.Transports.Telegram.Topics.Enabled {
		chatProject = cfg.ProjectForChat(msg.ChatID)
	}

	resolved, err := rt.ResolveMessage(msg.Text, msg.ReplyToText, bound, msg.ChatID)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}

	// A directive context inside a topic rebinds the topic, so the next
	// bare message lands in the same project.
	if inTopic && resolved.Context != nil && resolved.ContextSource == model.SourceDirectives {
		if _, err := b.topics.Bind(ctx, msg.ChatID, msg.ThreadID, resolved.Context); err != nil {
			slog.Warn("topics.bind_failed", "chat_id", msg.ChatID, "thread_id", msg.ThreadID, "error", err)
		}
	}

	if inTopic && bound == nil && chatProject == "" && resolved.Resume == nil &&
		resolved.ContextSource != model.SourceDirectives && resolved.ContextSource != model.SourceReplyCtx {
		b.reply(ctx, msg, "this topic isn't bound to a project yet.\n"+
			usageCtxSet(chatProject)+" or "+usageTopic(chatProject))
		return
	}

	if resolved.Resume == nil && msg.ReplyToID != 0 {
		ref := model.MessageRef{ChannelID: msg.ChatID, MessageID: msg.ReplyToID}
		if task := b.tasks.Get(ref); task != nil {
			b.continueAfter(ctx, task, msg, resolved)
			return
		}
	}

	if resolved.Resume == nil && inTopic {
		if entry, err := rt.ResolveRunner(nil, resolved.EngineOverride); err == nil {
			if stored := b.store.GetSessionResume(msg.ChatID, msg.ThreadID, entry.Engine); stored != nil {
				resolved.Resume = stored
			}
		}
	}

	b.launch(ctx, msg, resolved)
}

// continueAfter waits for an in-flight run on the replied-to progress
// message to publish its session token, then queues the follow-up
// behind it.
func (b *Bridge) continueAfter(ctx context.Context, task *run.Task, msg IncomingMessage, resolved runtime.ResolvedMessage) {
	select {
	case <-ctx.Done():
		return
	case <-task.ResumeReady():
	case <-task.Done():
	}
	tok := task.Resume()
	if tok == nil {
		if _, err := b.client.Send(ctx, msg.ChatID, msg.ThreadID, msg.MessageID,
			"resume token not ready yet; try replying to the final message.", run.MarkupKeep, false); err != nil {
			slog.Warn("bridge.reply_failed", "chat_id", msg.ChatID, "error", err)
		}
		return
	}
	resolved.Resume = tok
	resolved.Context = task.Context
	b.launch(ctx, msg, resolved)
}

func (b *Bridge) launch(ctx context.Context, msg IncomingMessage, resolved runtime.ResolvedMessage) {
	rt := b.runtime()

	entry, err := rt.ResolveRunner(resolved.Resume, resolved.EngineOverride)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}
	if !entry.Available {
		b.sendUnavailable(ctx, msg, entry, resolved.Resume)
		return
	}
	cwd, err := rt.ResolveRunCwd(resolved.Context)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}

	inTopic, _ := b.topicKey(msg)
	opts := run.Options{
		ChatID:      msg.ChatID,
		ThreadID:    msg.ThreadID,
		UserMsgID:   msg.MessageID,
		Prompt:      resolved.Prompt,
		Resume:      resolved.Resume,
		Context:     resolved.Context,
		ContextLine: runtime.FormatContextLine(resolved.Context),
		Cwd:         cwd,
		FinalNotify: b.finalNotify,
		OnThreadKnown: func(tok model.ResumeToken) func() {
			done := b.sched.NoteThreadKnown(ctx, tok.Value)
			if inTopic {
				if err := b.store.SetSessionResume(msg.ChatID, msg.ThreadID, tok); err != nil {
					slog.Warn("topics.session_save_failed", "error", err)
				}
			}
			return done
		},
	}

	job := func(jobCtx context.Context) {
		b.orch.Execute(jobCtx, entry.Runner, opts)
	}
	if resolved.Resume != nil {
		b.sched.EnqueueResume(ctx, resolved.Resume.Value, job)
		return
	}
	go job(ctx)
}

// sendUnavailable renders a terminal error frame for an engine that
// failed its availability probe.
func (b *Bridge) sendUnavailable(ctx context.Context, msg IncomingMessage, entry engine.Entry, resume *model.ResumeToken) {
	tracker := run.NewTracker()
	tracker.SetResume(resume)
	presenter := run.Presenter{FormatResume: entry.Runner.FormatResume}
	text := presenter.RenderFinal(tracker, 0, "error", "error:\n"+entry.Issue)
	if _, err := b.client.Send(ctx, msg.ChatID, msg.ThreadID, msg.MessageID, text, run.MarkupKeep, true); err != nil {
		slog.Warn("bridge.reply_failed", "chat_id", msg.ChatID, "error", err)
	}
}
