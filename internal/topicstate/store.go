// Package topicstate persists per-topic context bindings and engine
// session tokens in a single JSON file next to the config.
package topicstate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/takopihq/takopi/internal/model"
)

const storeVersion = 1

// Snapshot is the stored state of one (chat, thread).
type Snapshot struct {
	Context      *model.RunContext
	TopicTitle   string
	CreatedByBot bool
	// Sessions maps engine id to the latest resume value seen in this
	// thread.
	Sessions map[model.EngineID]string
}

type threadRecord struct {
	Project      string            `json:"project,omitempty"`
	Branch       string            `json:"branch,omitempty"`
	TopicTitle   string            `json:"topic_title,omitempty"`
	CreatedByBot bool              `json:"created_by_bot,omitempty"`
	Sessions     map[string]string `json:"sessions,omitempty"`
}

type fileState struct {
	Version int                     `json:"version"`
	Threads map[string]threadRecord `json:"threads"`
}

// Store serialises all mutations behind one mutex and writes the file
// via temp-and-rename, so a crash never leaves a torn state file.
type Store struct {
	path string

	mu    sync.Mutex
	state fileState
}

func key(chatID int64, threadID int) string {
	return fmt.Sprintf("%d:%d", chatID, threadID)
}

// Load opens or initialises the store at path. An unreadable file is
// logged and replaced rather than taking the bridge down.
func Load(path string) (*Store, error) {
	s := &Store{
		path:  path,
		state: fileState{Version: storeVersion, Threads: map[string]threadRecord{}},
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var parsed fileState
	if err := json.Unmarshal(raw, &parsed); err != nil {
		slog.Warn("topicstate.corrupt_state_file", "path", path, "error", err)
		return s, nil
	}
	if parsed.Version > storeVersion {
		return nil, fmt.Errorf("state file %s has version %d, newer than this build supports", path, parsed.Version)
	}
	if parsed.Threads == nil {
		parsed.Threads = map[string]threadRecord{}
	}
	parsed.Version = storeVersion
	s.state = parsed
	return s, nil
}

// GetThread returns the snapshot for (chatID, threadID).
func (s *Store) GetThread(chatID int64, threadID int) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.Threads[key(chatID, threadID)]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// SetContext binds (chatID, threadID) to ctx. Sessions survive a
// rebind; /new is the explicit way to drop them.
func (s *Store) SetContext(chatID int64, threadID int, ctx *model.RunContext, topicTitle string, createdByBot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chatID, threadID)
	rec := s.state.Threads[k]
	if ctx != nil {
		rec.Project, rec.Branch = ctx.Project, ctx.Branch
	} else {
		rec.Project, rec.Branch = "", ""
	}
	if topicTitle != "" {
		rec.TopicTitle = topicTitle
	}
	if createdByBot {
		rec.CreatedByBot = true
	}
	s.state.Threads[k] = rec
	return s.save()
}

// ClearContext removes the binding but keeps sessions.
func (s *Store) ClearContext(chatID int64, threadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chatID, threadID)
	rec, ok := s.state.Threads[k]
	if !ok {
		return nil
	}
	rec.Project, rec.Branch, rec.TopicTitle = "", "", ""
	if len(rec.Sessions) == 0 && !rec.CreatedByBot {
		delete(s.state.Threads, k)
	} else {
		s.state.Threads[k] = rec
	}
	return s.save()
}

// ClearSessions forgets every engine session in the thread.
func (s *Store) ClearSessions(chatID int64, threadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chatID, threadID)
	rec, ok := s.state.Threads[k]
	if !ok || len(rec.Sessions) == 0 {
		return nil
	}
	rec.Sessions = nil
	s.state.Threads[k] = rec
	return s.save()
}

// GetSessionResume returns the stored token for one engine in the
// thread, if any.
func (s *Store) GetSessionResume(chatID int64, threadID int, engine model.EngineID) *model.ResumeToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.Threads[key(chatID, threadID)]
	if !ok {
		return nil
	}
	value, ok := rec.Sessions[string(engine)]
	if !ok {
		return nil
	}
	return &model.ResumeToken{Engine: engine, Value: value}
}

// SetSessionResume records the latest token for the token's engine.
func (s *Store) SetSessionResume(chatID int64, threadID int, tok model.ResumeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(chatID, threadID)
	rec := s.state.Threads[k]
	if rec.Sessions == nil {
		rec.Sessions = map[string]string{}
	}
	if rec.Sessions[string(tok.Engine)] == tok.Value {
		return nil
	}
	rec.Sessions[string(tok.Engine)] = tok.Value
	s.state.Threads[k] = rec
	return s.save()
}

// FindThreadForContext returns the thread in chatID already bound to
// exactly ctx, for idempotent /topic.
func (s *Store) FindThreadForContext(chatID int64, ctx *model.RunContext) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, rec := range s.state.Threads {
		var c int64
		var t int
		if _, err := fmt.Sscanf(k, "%d:%d", &c, &t); err != nil {
			continue
		}
		if c == chatID && rec.Project == ctx.Project && rec.Branch == ctx.Branch && rec.Project != "" {
			return t, true
		}
	}
	return 0, false
}

func (rec threadRecord) snapshot() Snapshot {
	snap := Snapshot{
		Context:      model.NewRunContext(rec.Project, rec.Branch),
		TopicTitle:   rec.TopicTitle,
		CreatedByBot: rec.CreatedByBot,
	}
	if len(rec.Sessions) > 0 {
		snap.Sessions = make(map[model.EngineID]string, len(rec.Sessions))
		for engine, value := range rec.Sessions {
			snap.Sessions[model.EngineID(engine)] = value
		}
	}
	return snap
}

// save is called with the mutex held.
func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".takopi-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
