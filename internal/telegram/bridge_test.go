package telegram

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/takopihq/takopi/internal/commands"
	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/engine/enginetest"
	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/run"
	"github.com/takopihq/takopi/internal/runtime"
	"github.com/takopihq/takopi/internal/topicstate"
)

type botSend struct {
	ChatID  int64
	ReplyTo int
	Text    string
	Markup  run.Markup
	Notify  bool
}

type botEdit struct {
	Ref    model.MessageRef
	Text   string
	Markup run.Markup
}

// fakeBot records every client call the bridge issues.
type fakeBot struct {
	mu      sync.Mutex
	nextID  int
	sends   []botSend
	edits   []botEdit
	plains  []string
	answers []string
	renames int
	created int
}

func (f *fakeBot) Send(ctx context.Context, chatID int64, threadID, replyTo int, text string, markup run.Markup, notify bool) (model.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sends = append(f.sends, botSend{ChatID: chatID, ReplyTo: replyTo, Text: text, Markup: markup, Notify: notify})
	return model.MessageRef{ChannelID: chatID, MessageID: f.nextID}, nil
}

func (f *fakeBot) Edit(ctx context.Context, ref model.MessageRef, text string, markup run.Markup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, botEdit{Ref: ref, Text: text, Markup: markup})
	return nil
}

func (f *fakeBot) SendPlain(ctx context.Context, chatID int64, threadID, replyTo int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plains = append(f.plains, text)
	return nil
}

func (f *fakeBot) AnswerCallback(ctx context.Context, queryID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeBot) Connect(ctx context.Context) error { return nil }
func (f *fakeBot) Username() string                  { return "takopi_bot" }

func (f *fakeBot) DrainBacklog(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeBot) Updates(ctx context.Context, offset int) (<-chan telego.Update, error) {
	ch := make(chan telego.Update)
	close(ch)
	return ch, nil
}

func (f *fakeBot) SetMenu(ctx context.Context, items []commands.MenuItem) error { return nil }

func (f *fakeBot) GetChat(ctx context.Context, chatID int64) (ChatInfo, error) {
	return ChatInfo{Type: "supergroup", IsForum: true}, nil
}

func (f *fakeBot) BotCanManageTopics(ctx context.Context, chatID int64) (bool, error) {
	return true, nil
}

func (f *fakeBot) CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return 500 + f.created, nil
}

func (f *fakeBot) RenameForumTopic(ctx context.Context, chatID int64, threadID int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames++
	return nil
}

func (f *fakeBot) DownloadFile(ctx context.Context, fileID string, dest io.Writer, maxBytes int64) (int64, error) {
	return 0, nil
}

func (f *fakeBot) SendDocument(ctx context.Context, chatID int64, threadID, replyTo int, path, caption string) error {
	return nil
}

func (f *fakeBot) plainTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plains...)
}

func (f *fakeBot) answerTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

func (f *fakeBot) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeBot) renameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renames
}

func (f *fakeBot) lastEdit() (botEdit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return botEdit{}, false
	}
	return f.edits[len(f.edits)-1], true
}

func newTestBridge(t *testing.T, runner *enginetest.Runner) (*Bridge, *fakeBot) {
	t.Helper()
	router, err := engine.NewRouter("", runner)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	store, err := topicstate.Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	fake := &fakeBot{}
	b := newBridge(runtime.New(router, topicsConfig()), fake, store, Options{})
	b.orch.EditInterval = time.Millisecond
	return b, fake
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func topicMessage(text string) IncomingMessage {
	return IncomingMessage{
		ChatID:    10,
		MessageID: 4,
		ThreadID:  77,
		IsTopic:   true,
		IsForum:   true,
		Text:      text,
	}
}

// TestResolveAndRunGuardsUnboundTopic rejects a bare prompt arriving in
// an unbound topic of a chat with no mapped project, pointing at the
// binding commands instead of running against an ambiguous directory.
func TestResolveAndRunGuardsUnboundTopic(t *testing.T) {
	runner := enginetest.New("codex", enginetest.ScriptedTurn("codex", "codex-1", "done")...)
	b, fake := newTestBridge(t, runner)

	b.resolveAndRun(context.Background(), topicMessage("hello"))

	plains := fake.plainTexts()
	if len(plains) != 1 {
		t.Fatalf("replies = %v, want one rejection", plains)
	}
	want := "this topic isn't bound to a project yet.\n" +
		"usage: `/ctx set <project> [@branch]` or usage: `/topic <project> @branch`"
	if plains[0] != want {
		t.Errorf("rejection = %q, want %q", plains[0], want)
	}
	if fake.sendCount() != 0 {
		t.Errorf("sends = %d, want no run to start", fake.sendCount())
	}
	if len(runner.Requests()) != 0 {
		t.Errorf("engine requests = %+v, want none", runner.Requests())
	}
}

// TestResolveAndRunDirectiveBindsAndRuns lets a project directive
// through the unbound-topic guard, rebinding the topic (with one topic
// rename) and launching the run.
func TestResolveAndRunDirectiveBindsAndRuns(t *testing.T) {
	runner := enginetest.New("codex", enginetest.ScriptedTurn("codex", "codex-1", "done")...)
	b, fake := newTestBridge(t, runner)

	b.resolveAndRun(context.Background(), topicMessage("/takopi hello"))

	if got := b.topics.BoundContext(10, 77); got == nil || got.Project != "takopi" {
		t.Fatalf("BoundContext = %+v, want the topic rebound to takopi", got)
	}
	if fake.renameCount() != 1 {
		t.Errorf("renames = %d, want the topic renamed once", fake.renameCount())
	}
	if plains := fake.plainTexts(); len(plains) != 0 {
		t.Errorf("replies = %v, want none", plains)
	}

	waitFor(t, "progress message", func() bool { return fake.sendCount() >= 1 })
	waitFor(t, "stored session", func() bool {
		return b.store.GetSessionResume(10, 77, "codex") != nil
	})
	waitFor(t, "engine request", func() bool { return len(runner.Requests()) == 1 })
	if req := runner.Requests()[0]; req.Prompt != "hello" || req.Dir != "/tmp/takopi" {
		t.Errorf("request = %+v, want prompt hello in /tmp/takopi", req)
	}
}

// TestResolveAndRunReplyContextBypassesGuard accepts a bare prompt in
// an unbound topic when the replied-to message carries a context line.
func TestResolveAndRunReplyContextBypassesGuard(t *testing.T) {
	runner := enginetest.New("codex", enginetest.ScriptedTurn("codex", "codex-1", "done")...)
	b, fake := newTestBridge(t, runner)

	msg := topicMessage("continue please")
	msg.ReplyToID = 2
	msg.ReplyToText = "takopi\ndone · 3s · step 1"
	b.resolveAndRun(context.Background(), msg)

	if plains := fake.plainTexts(); len(plains) != 0 {
		t.Fatalf("replies = %v, want none", plains)
	}
	waitFor(t, "progress message", func() bool { return fake.sendCount() >= 1 })
	waitFor(t, "engine request", func() bool { return len(runner.Requests()) == 1 })
	if fake.renameCount() != 0 {
		t.Errorf("renames = %d, want no rebind from reply context", fake.renameCount())
	}
}

// TestResolveAndRunResumeBypassesGuard accepts a resume directive in an
// unbound topic and pins the run to the token's session.
func TestResolveAndRunResumeBypassesGuard(t *testing.T) {
	runner := enginetest.New("codex", enginetest.ScriptedTurn("codex", "codex-42", "resumed")...)
	b, fake := newTestBridge(t, runner)

	b.resolveAndRun(context.Background(), topicMessage("resume:codex-42 keep going"))

	if plains := fake.plainTexts(); len(plains) != 0 {
		t.Fatalf("replies = %v, want none", plains)
	}
	waitFor(t, "engine request", func() bool { return len(runner.Requests()) == 1 })
	req := runner.Requests()[0]
	if req.Resume == nil || req.Resume.Value != "codex-42" {
		t.Errorf("request resume = %+v, want codex-42", req.Resume)
	}
	if req.Prompt != "keep going" {
		t.Errorf("request prompt = %q, want %q", req.Prompt, "keep going")
	}
}

// TestHandleCallbackCancel routes a cancel button press to the task
// registered under the progress message, and answers politely when no
// run owns the pressed message.
func TestHandleCallbackCancel(t *testing.T) {
	runner := enginetest.New("codex",
		model.StartedEvent{Engine: "codex", Title: "codex"},
	)
	runner.Block = make(chan struct{})
	b, fake := newTestBridge(t, runner)
	ctx := context.Background()

	b.resolveAndRun(ctx, IncomingMessage{ChatID: 10, MessageID: 3, Text: "hello"})

	// The fake hands out message id 1 for the progress message.
	ref := model.MessageRef{ChannelID: 10, MessageID: 1}
	waitFor(t, "registered task", func() bool { return b.tasks.Get(ref) != nil })

	b.handleCallback(ctx, &telego.CallbackQuery{
		ID:      "q1",
		Data:    CancelCallbackData,
		Message: &telego.Message{Chat: telego.Chat{ID: 10}, MessageID: 999},
	})
	b.handleCallback(ctx, &telego.CallbackQuery{ID: "q2", Data: "something-else"})
	b.handleCallback(ctx, &telego.CallbackQuery{
		ID:      "q3",
		Data:    CancelCallbackData,
		Message: &telego.Message{Chat: telego.Chat{ID: 10}, MessageID: 1},
	})

	answers := fake.answerTexts()
	want := []string{"nothing is currently running for that message.", "", "cancelling..."}
	if len(answers) != len(want) {
		t.Fatalf("answers = %v, want %v", answers, want)
	}
	for i := range want {
		if answers[i] != want[i] {
			t.Errorf("answers[%d] = %q, want %q", i, answers[i], want[i])
		}
	}

	waitFor(t, "cancelled final edit", func() bool {
		edit, ok := fake.lastEdit()
		return ok && strings.HasPrefix(edit.Text, "cancelled")
	})
	waitFor(t, "task release", func() bool { return b.tasks.Get(ref) == nil })
}
