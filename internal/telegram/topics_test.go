package telegram

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/takopihq/takopi/internal/model"
	"github.com/takopihq/takopi/internal/topicstate"
)

// fakeForum records forum-topic calls without talking to the Bot API.
type fakeForum struct {
	renames []string
	created int
}

func (f *fakeForum) GetChat(ctx context.Context, chatID int64) (ChatInfo, error) {
	return ChatInfo{Type: "supergroup", IsForum: true}, nil
}

func (f *fakeForum) BotCanManageTopics(ctx context.Context, chatID int64) (bool, error) {
	return true, nil
}

func (f *fakeForum) CreateForumTopic(ctx context.Context, chatID int64, name string) (int, error) {
	f.created++
	return 100 + f.created, nil
}

func (f *fakeForum) RenameForumTopic(ctx context.Context, chatID int64, threadID int, name string) error {
	f.renames = append(f.renames, name)
	return nil
}

func topicService(t *testing.T) *TopicService {
	t.Helper()
	store, err := topicstate.Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return &TopicService{Store: store}
}

// TestBindRenamesOnlyOnChange renames the topic on the first bind and
// skips the rename when the stored title already matches, so repeated
// identical binds issue no rename calls.
func TestBindRenamesOnlyOnChange(t *testing.T) {
	s := topicService(t)
	forum := &fakeForum{}
	s.Client = forum
	ctx := context.Background()

	confirmation, err := s.Bind(ctx, 7, 100, model.NewRunContext("takopi", "feat"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if want := "topic bound to `takopi @feat`"; confirmation != want {
		t.Errorf("Bind confirmation = %q, want %q", confirmation, want)
	}
	if len(forum.renames) != 1 || forum.renames[0] != "takopi @feat" {
		t.Fatalf("renames = %v, want one rename to the context title", forum.renames)
	}

	if _, err := s.Bind(ctx, 7, 100, model.NewRunContext("takopi", "feat")); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(forum.renames) != 1 {
		t.Errorf("renames = %v after identical rebind, want no new call", forum.renames)
	}

	if _, err := s.Bind(ctx, 7, 100, model.NewRunContext("takopi", "main")); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(forum.renames) != 2 || forum.renames[1] != "takopi @main" {
		t.Errorf("renames = %v after rebinding to a new branch, want a second rename", forum.renames)
	}
}

// TestCreateBoundReusesExistingTopic returns the already-open topic for
// a context instead of creating a duplicate.
func TestCreateBoundReusesExistingTopic(t *testing.T) {
	s := topicService(t)
	forum := &fakeForum{}
	s.Client = forum
	ctx := context.Background()
	runCtx := model.NewRunContext("takopi", "feat")

	threadID, created, err := s.CreateBound(ctx, 7, runCtx)
	if err != nil {
		t.Fatalf("CreateBound: %v", err)
	}
	if !created || threadID != 101 {
		t.Fatalf("CreateBound = (%d, %v), want a fresh topic 101", threadID, created)
	}

	again, created, err := s.CreateBound(ctx, 7, runCtx)
	if err != nil {
		t.Fatalf("CreateBound: %v", err)
	}
	if created || again != threadID {
		t.Errorf("CreateBound = (%d, %v), want the existing topic reused", again, created)
	}
	if forum.created != 1 {
		t.Errorf("created %d topics, want 1", forum.created)
	}
}

// TestTopicStatus renders the /ctx overview lines.
func TestTopicStatus(t *testing.T) {
	s := topicService(t)

	if err := s.Store.SetContext(7, 100, model.NewRunContext("takopi", "feat"), "takopi @feat", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Store.SetSessionResume(7, 100, model.ResumeToken{Engine: "codex", Value: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Store.SetSessionResume(7, 100, model.ResumeToken{Engine: "claude", Value: "v2"}); err != nil {
		t.Fatal(err)
	}

	got := s.Status(true, 7, 100, model.NewRunContext("takopi", "feat"), model.SourceTopicBind)
	want := strings.Join([]string{
		"topics: enabled",
		"bound ctx: takopi @feat",
		"resolved ctx: takopi @feat (source: topic_bind)",
		"sessions: claude, codex",
	}, "\n")
	if got != want {
		t.Errorf("Status = %q, want %q", got, want)
	}
}

// TestTopicStatusEmpty shows the placeholder values for an unbound
// thread.
func TestTopicStatusEmpty(t *testing.T) {
	s := topicService(t)

	got := s.Status(false, 7, 100, nil, model.SourceNone)
	want := strings.Join([]string{
		"topics: disabled",
		"bound ctx: none",
		"resolved ctx: none (source: none)",
		"sessions: none",
	}, "\n")
	if got != want {
		t.Errorf("Status = %q, want %q", got, want)
	}
}

// TestBoundContext returns the stored binding or nil.
func TestBoundContext(t *testing.T) {
	s := topicService(t)

	if got := s.BoundContext(7, 100); got != nil {
		t.Errorf("BoundContext = %+v, want nil for an unknown thread", got)
	}

	ctx := model.NewRunContext("takopi", "")
	if err := s.Store.SetContext(7, 100, ctx, "takopi", false); err != nil {
		t.Fatal(err)
	}
	got := s.BoundContext(7, 100)
	if got == nil || *got != *ctx {
		t.Errorf("BoundContext = %+v, want %+v", got, ctx)
	}
}
