package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/takopihq/takopi/internal/runtime"
)

// Executor dispatches slash commands against the registry.
type Executor struct {
	Registry *Registry
	Runtime  *runtime.Runtime
}

// Dispatch runs the plugin command named by id, if registered. The
// bool reports whether the id matched; errors are the command's own.
func (e *Executor) Dispatch(ctx context.Context, id string, cc Context) (bool, error) {
	cmd, ok := e.Registry.Lookup(id)
	if !ok {
		return false, nil
	}
	cc.Runtime = e.Runtime
	cc.Config = e.Runtime.PluginConfig(strings.ToLower(id))
	slog.Info("commands.dispatch", "command", cmd.ID(), "chat_id", cc.ChatID)
	if err := cmd.Execute(ctx, cc); err != nil {
		return true, fmt.Errorf("command /%s: %w", cmd.ID(), err)
	}
	return true, nil
}

// Func wraps a function as a Command.
type Func struct {
	Name string
	Desc string
	Fn   func(ctx context.Context, cc Context) error
}

func (f Func) ID() string          { return f.Name }
func (f Func) Description() string { return f.Desc }

func (f Func) Execute(ctx context.Context, cc Context) error {
	return f.Fn(ctx, cc)
}
