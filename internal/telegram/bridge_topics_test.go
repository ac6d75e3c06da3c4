package telegram

import (
	"testing"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
)

func topicsConfig() *config.Config {
	cfg := &config.Config{
		Projects: map[string]config.ProjectConfig{
			"takopi": {Path: "/tmp/takopi"},
			"web":    {Path: "/tmp/web", ChatID: 42},
		},
	}
	cfg.Transports.Telegram.Topics.Enabled = true
	cfg.Transports.Telegram.Topics.Scope = "auto"
	cfg.Transports.Telegram.ChatID = 10
	return cfg
}

// TestParseProjectBranch parses "<project> [@branch]" arguments,
// including the shortened forms in project-mapped chats.
func TestParseProjectBranch(t *testing.T) {
	tests := []struct {
		name          string
		args          string
		chatProject   string
		requireBranch bool
		wantCtx       *model.RunContext
		wantErr       string
	}{
		{
			name:    "project only",
			args:    "takopi",
			wantCtx: model.NewRunContext("takopi", ""),
		},
		{
			name:    "project and branch",
			args:    "takopi @feat",
			wantCtx: model.NewRunContext("takopi", "feat"),
		},
		{
			name: "empty args signal usage",
			args: "",
		},
		{
			name:    "too many tokens",
			args:    "takopi @feat extra",
			wantErr: "too many arguments",
		},
		{
			name:    "second token without at",
			args:    "takopi feat",
			wantErr: "branch must be prefixed with @",
		},
		{
			name:    "unknown project",
			args:    "ghost @feat",
			wantErr: `unknown project "ghost"`,
		},
		{
			name:        "branch only in project chat",
			args:        "@feat",
			chatProject: "web",
			wantCtx:     model.NewRunContext("web", "feat"),
		},
		{
			name:        "bare project in project chat",
			args:        "web",
			chatProject: "web",
			wantCtx:     model.NewRunContext("web", ""),
		},
		{
			name:        "mismatched project in project chat",
			args:        "takopi @feat",
			chatProject: "web",
			wantErr:     `project mismatch for this chat; expected "web".`,
		},
		{
			name:    "branch only without project chat",
			args:    "@feat",
			wantErr: "project is required",
		},
		{
			name:          "branch required",
			args:          "takopi",
			requireBranch: true,
			wantErr:       "branch is required",
		},
		{
			name:          "branch required satisfied",
			args:          "takopi @feat",
			requireBranch: true,
			wantCtx:       model.NewRunContext("takopi", "feat"),
		},
	}

	cfg := topicsConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errMsg := parseProjectBranch(tt.args, cfg, tt.chatProject, tt.requireBranch)
			if errMsg != tt.wantErr {
				t.Fatalf("parseProjectBranch(%q) error = %q, want %q", tt.args, errMsg, tt.wantErr)
			}
			if (got == nil) != (tt.wantCtx == nil) {
				t.Fatalf("parseProjectBranch(%q) = %+v, want %+v", tt.args, got, tt.wantCtx)
			}
			if got != nil && *got != *tt.wantCtx {
				t.Errorf("parseProjectBranch(%q) = %+v, want %+v", tt.args, *got, *tt.wantCtx)
			}
		})
	}
}

// TestUsageStrings shorten when the chat already implies the project.
func TestUsageStrings(t *testing.T) {
	tests := []struct {
		name        string
		chatProject string
		wantCtx     string
		wantTopic   string
	}{
		{
			name:      "plain chat",
			wantCtx:   "usage: `/ctx set <project> [@branch]`",
			wantTopic: "usage: `/topic <project> @branch`",
		},
		{
			name:        "project chat",
			chatProject: "web",
			wantCtx:     "usage: `/ctx set [@branch]`",
			wantTopic:   "usage: `/topic @branch`",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := usageCtxSet(tt.chatProject); got != tt.wantCtx {
				t.Errorf("usageCtxSet(%q) = %q, want %q", tt.chatProject, got, tt.wantCtx)
			}
			if got := usageTopic(tt.chatProject); got != tt.wantTopic {
				t.Errorf("usageTopic(%q) = %q, want %q", tt.chatProject, got, tt.wantTopic)
			}
		})
	}
}

// TestTopicsAllowed applies the configured scope per chat.
func TestTopicsAllowed(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		chatID  int64
		isForum bool
		want    bool
	}{
		{name: "auto main forum", scope: "auto", chatID: 10, isForum: true, want: true},
		{name: "auto main non-forum", scope: "auto", chatID: 10, isForum: false, want: false},
		{name: "auto project forum", scope: "auto", chatID: 42, isForum: true, want: true},
		{name: "auto unrelated forum", scope: "auto", chatID: 99, isForum: true, want: false},
		{name: "main scope main chat", scope: "main", chatID: 10, isForum: false, want: true},
		{name: "main scope project chat", scope: "main", chatID: 42, isForum: true, want: false},
		{name: "projects scope project chat", scope: "projects", chatID: 42, isForum: false, want: true},
		{name: "projects scope main chat", scope: "projects", chatID: 10, isForum: true, want: false},
		{name: "all scope either", scope: "all", chatID: 42, isForum: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := topicsConfig()
			cfg.Transports.Telegram.Topics.Scope = tt.scope
			if got := topicsAllowed(cfg, tt.chatID, tt.isForum); got != tt.want {
				t.Errorf("topicsAllowed(scope %q, chat %d, forum %v) = %v, want %v", tt.scope, tt.chatID, tt.isForum, got, tt.want)
			}
		})
	}
}

// TestTopicsAllowedDisabled is always false with topics off.
func TestTopicsAllowedDisabled(t *testing.T) {
	cfg := topicsConfig()
	cfg.Transports.Telegram.Topics.Enabled = false
	if topicsAllowed(cfg, 10, true) {
		t.Error("topicsAllowed = true with topics disabled")
	}
}
