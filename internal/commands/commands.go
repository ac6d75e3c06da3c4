// Package commands holds the plugin command registry and the bot menu
// builder.
package commands

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/runtime"
)

// maxMenuCommands is Telegram's SetMyCommands limit.
const maxMenuCommands = 100

// baseReservedIDs are always unavailable to plugins, on top of engine
// ids and project aliases.
var baseReservedIDs = map[string]bool{
	"cancel": true,
	"ctx":    true,
	"new":    true,
	"topic":  true,
	"file":   true,
}

// Context carries everything a plugin command gets to work with.
type Context struct {
	ChatID    int64
	ThreadID  int
	UserMsgID int
	// Args is the text after the command token.
	Args    string
	Runtime *runtime.Runtime
	// Config is the plugin's table from the config file.
	Config map[string]any
	// Reply posts a plain reply into the originating chat/topic.
	Reply func(ctx context.Context, text string) error
}

// Command is one registered slash command.
type Command interface {
	ID() string
	Description() string
	Execute(ctx context.Context, cc Context) error
}

// Provider contributes commands to the registry. Providers are
// re-queried on refresh so config reloads can change the set.
type Provider interface {
	Commands() []Command
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() []Command

func (f ProviderFunc) Commands() []Command { return f() }

// Registry caches plugin commands by id and refuses reserved ids. The
// cache refreshes lazily when an unknown command arrives.
type Registry struct {
	providers []Provider
	reserved  func() map[string]bool

	mu    sync.Mutex
	cache map[string]Command
}

// NewRegistry builds a registry. reserved returns the current reserved
// id set (engines, project aliases, built-ins); it is re-evaluated on
// every refresh so config reloads take effect.
func NewRegistry(reserved func() map[string]bool, providers ...Provider) *Registry {
	return &Registry{providers: providers, reserved: reserved}
}

// Lookup finds the command for id, refreshing the cache once when the
// id is unknown.
func (r *Registry) Lookup(id string) (Command, bool) {
	id = strings.ToLower(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil {
		if cmd, ok := r.cache[id]; ok {
			return cmd, true
		}
	}
	r.refreshLocked()
	cmd, ok := r.cache[id]
	return cmd, ok
}

// Refresh rebuilds the cache immediately (startup and config reload).
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked()
}

func (r *Registry) refreshLocked() {
	reserved := r.reserved()
	for id := range baseReservedIDs {
		reserved[id] = true
	}
	cache := make(map[string]Command)
	for _, p := range r.providers {
		for _, cmd := range p.Commands() {
			id := strings.ToLower(cmd.ID())
			if !config.IsValidID(id) {
				slog.Debug("commands.skip_invalid_id", "command", id)
				continue
			}
			if reserved[id] {
				slog.Warn("commands.skip_reserved_id", "command", id)
				continue
			}
			if _, dup := cache[id]; dup {
				slog.Warn("commands.skip_duplicate_id", "command", id)
				continue
			}
			cache[id] = cmd
		}
	}
	r.cache = cache
}

// IDs returns the cached plugin ids sorted, refreshing if needed.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.refreshLocked()
	}
	out := make([]string, 0, len(r.cache))
	for id := range r.cache {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) get(id string) (Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.refreshLocked()
	}
	cmd, ok := r.cache[id]
	return cmd, ok
}

// MenuItem is one entry for the bot command menu.
type MenuItem struct {
	Command     string
	Description string
}

// BuildMenu unions engines, project aliases, plugin commands, and the
// built-ins, in that order, capped at the service limit. "cancel" is
// always present, evicting the last entry if the cap squeezed it out.
func BuildMenu(rt *runtime.Runtime, reg *Registry, includeFile bool) []MenuItem {
	var items []MenuItem
	seen := map[string]bool{}
	add := func(id, description string) {
		id = strings.ToLower(id)
		if seen[id] || !config.IsValidID(id) {
			return
		}
		items = append(items, MenuItem{Command: id, Description: description})
		seen[id] = true
	}

	for _, id := range rt.Router().AvailableEngineIDs() {
		add(string(id), "use agent: "+strings.ToLower(string(id)))
	}
	for _, alias := range rt.ProjectAliases() {
		add(alias, "work on: "+strings.ToLower(alias))
	}
	for _, id := range reg.IDs() {
		description := "command: " + id
		if cmd, ok := reg.get(id); ok && cmd.Description() != "" {
			description = cmd.Description()
		}
		add(id, description)
	}
	if includeFile {
		add("file", "upload or fetch files")
	}
	add("cancel", "cancel run")

	if len(items) > maxMenuCommands {
		slog.Warn("commands.menu_truncated", "count", len(items), "limit", maxMenuCommands)
		items = items[:maxMenuCommands]
		hasCancel := false
		for _, item := range items {
			if item.Command == "cancel" {
				hasCancel = true
				break
			}
		}
		if !hasCancel {
			items[len(items)-1] = MenuItem{Command: "cancel", Description: "cancel run"}
		}
	}
	return items
}

// ReservedIDs snapshots the ids plugins may not claim for rt.
func ReservedIDs(rt *runtime.Runtime) map[string]bool {
	out := map[string]bool{}
	for _, id := range rt.EngineIDs() {
		out[strings.ToLower(string(id))] = true
	}
	for _, alias := range rt.ProjectAliases() {
		out[strings.ToLower(alias)] = true
	}
	for id := range baseReservedIDs {
		out[id] = true
	}
	return out
}
