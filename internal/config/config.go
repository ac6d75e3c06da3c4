// Package config loads, validates, and watches the takopi TOML config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Error marks a problem in the config file itself, as opposed to an IO
// failure while reading it. The CLI maps it to exit code 1 with the
// message shown verbatim.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

// Errorf builds a config Error.
func Errorf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Config is the root of takopi.toml.
type Config struct {
	Transport      string                    `toml:"transport"`
	DefaultEngine  string                    `toml:"default_engine"`
	DefaultProject string                    `toml:"default_project"`
	Projects       map[string]ProjectConfig  `toml:"projects"`
	Transports     TransportsConfig          `toml:"transports"`
	Telemetry      TelemetryConfig           `toml:"telemetry"`
	Plugins        map[string]map[string]any `toml:"plugins"`

	// Path is where the config was loaded from. Not part of the file.
	Path string `toml:"-"`
}

// ProjectConfig describes one registered project alias.
type ProjectConfig struct {
	Path          string `toml:"path"`
	WorktreesDir  string `toml:"worktrees_dir"`
	WorktreeBase  string `toml:"worktree_base"`
	DefaultEngine string `toml:"default_engine"`
	ChatID        int64  `toml:"chat_id"`
}

// TransportsConfig holds per-transport sections. Telegram is the only
// transport today but the section keeps the original file shape.
type TransportsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig configures the telegram transport.
type TelegramConfig struct {
	BotToken           string       `toml:"bot_token"`
	ChatID             int64        `toml:"chat_id"`
	ChatIDs            []int64      `toml:"chat_ids"`
	RequestTimeoutS    int          `toml:"request_timeout_s"`
	Files              FilesConfig  `toml:"files"`
	Topics             TopicsConfig `toml:"topics"`
	VoiceTranscription VoiceConfig  `toml:"voice_transcription"`
}

// FilesConfig gates the /file command and bare-document auto-put.
type FilesConfig struct {
	Enabled          bool     `toml:"enabled"`
	AutoPut          bool     `toml:"auto_put"`
	UploadsDir       string   `toml:"uploads_dir"`
	MaxUploadBytes   int64    `toml:"max_upload_bytes"`
	MaxDownloadBytes int64    `toml:"max_download_bytes"`
	AllowedUserIDs   []int64  `toml:"allowed_user_ids"`
	DenyGlobs        []string `toml:"deny_globs"`
}

// TopicsConfig enables forum-topic context binding.
type TopicsConfig struct {
	Enabled bool   `toml:"enabled"`
	Scope   string `toml:"scope"`
}

// VoiceConfig gates voice-note transcription.
type VoiceConfig struct {
	Enabled bool `toml:"enabled"`
}

// TelemetryConfig configures optional trace export. Empty endpoint
// means tracing stays off.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint"`
}

const (
	defaultUploadsDir       = "incoming"
	defaultMaxUploadBytes   = 20 << 20
	defaultMaxDownloadBytes = 50 << 20
	defaultRequestTimeoutS  = 30
	defaultTopicsScope      = "auto"
)

var defaultDenyGlobs = []string{".git/**", ".env", ".envrc", "**/*.pem", "**/.ssh/**"}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = "telegram"
	}
	tg := &c.Transports.Telegram
	if tg.RequestTimeoutS <= 0 {
		tg.RequestTimeoutS = defaultRequestTimeoutS
	}
	if tg.Files.UploadsDir == "" {
		tg.Files.UploadsDir = defaultUploadsDir
	}
	if tg.Files.MaxUploadBytes <= 0 {
		tg.Files.MaxUploadBytes = defaultMaxUploadBytes
	}
	if tg.Files.MaxDownloadBytes <= 0 {
		tg.Files.MaxDownloadBytes = defaultMaxDownloadBytes
	}
	if len(tg.Files.DenyGlobs) == 0 {
		tg.Files.DenyGlobs = append([]string(nil), defaultDenyGlobs...)
	}
	if tg.Topics.Scope == "" {
		tg.Topics.Scope = defaultTopicsScope
	}
}

var idPattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// IsValidID reports whether s can serve as a project alias, engine id,
// or plugin command id.
func IsValidID(s string) bool { return idPattern.MatchString(s) }

// Validate checks cross-field consistency. engineIDs is the set of
// configured engine ids, used to reject alias collisions.
func (c *Config) Validate(engineIDs []string) error {
	engines := make(map[string]bool, len(engineIDs))
	for _, id := range engineIDs {
		engines[id] = true
	}
	for alias := range c.Projects {
		if !IsValidID(alias) {
			return Errorf("invalid project alias %q (want 1-32 chars of [a-z0-9_])", alias)
		}
		if engines[alias] {
			return Errorf("project alias %q collides with an engine id", alias)
		}
	}
	if c.DefaultProject != "" {
		if _, ok := c.lookupProject(c.DefaultProject); !ok {
			return Errorf("default_project %q is not a configured project", c.DefaultProject)
		}
	}
	if c.DefaultEngine != "" && !engines[c.DefaultEngine] {
		return Errorf("default_engine %q is not a configured engine", c.DefaultEngine)
	}
	for alias, p := range c.Projects {
		if p.DefaultEngine != "" && !engines[p.DefaultEngine] {
			return Errorf("projects.%s.default_engine %q is not a configured engine", alias, p.DefaultEngine)
		}
		if p.Path == "" {
			return Errorf("projects.%s.path is required", alias)
		}
	}
	switch c.Transports.Telegram.Topics.Scope {
	case "main", "projects", "all", "auto":
	default:
		return Errorf("topics.scope %q (want main|projects|all|auto)", c.Transports.Telegram.Topics.Scope)
	}
	for id := range c.Plugins {
		if !IsValidID(id) {
			return Errorf("invalid plugin id %q", id)
		}
	}
	return nil
}

func (c *Config) lookupProject(key string) (ProjectConfig, bool) {
	if p, ok := c.Projects[key]; ok {
		return p, true
	}
	lower := strings.ToLower(key)
	for alias, p := range c.Projects {
		if strings.ToLower(alias) == lower {
			return p, true
		}
	}
	return ProjectConfig{}, false
}

// Project returns the project config for an alias, case-insensitively.
func (c *Config) Project(alias string) (ProjectConfig, bool) {
	return c.lookupProject(alias)
}

// NormalizeProjectKey resolves alias to its canonical (configured)
// spelling, or "" when unknown.
func (c *Config) NormalizeProjectKey(alias string) string {
	if _, ok := c.Projects[alias]; ok {
		return alias
	}
	lower := strings.ToLower(alias)
	for canonical := range c.Projects {
		if strings.ToLower(canonical) == lower {
			return canonical
		}
	}
	return ""
}

// ProjectAliases returns all aliases sorted.
func (c *Config) ProjectAliases() []string {
	out := make([]string, 0, len(c.Projects))
	for alias := range c.Projects {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// ProjectForChat returns the alias mapped to chatID via
// projects.<alias>.chat_id, or "".
func (c *Config) ProjectForChat(chatID int64) string {
	for alias, p := range c.Projects {
		if p.ChatID != 0 && p.ChatID == chatID {
			return alias
		}
	}
	return ""
}

// ProjectChatIDs returns every chat id claimed by a project mapping.
func (c *Config) ProjectChatIDs() []int64 {
	var out []int64
	for _, p := range c.Projects {
		if p.ChatID != 0 {
			out = append(out, p.ChatID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExpandHome resolves a leading ~/ against the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// StatePath is where the topic/session state file lives: next to the
// config file.
func StatePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "takopi.state.json")
}
