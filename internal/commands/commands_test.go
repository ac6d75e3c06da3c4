package commands

import (
	"context"
	"fmt"
	"testing"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/engine"
	"github.com/takopihq/takopi/internal/engine/enginetest"
	"github.com/takopihq/takopi/internal/runtime"
)

func noopCmd(id string) Command {
	return Func{Name: id, Desc: "test " + id, Fn: func(ctx context.Context, cc Context) error { return nil }}
}

func staticReserved(ids ...string) func() map[string]bool {
	return func() map[string]bool {
		out := map[string]bool{}
		for _, id := range ids {
			out[id] = true
		}
		return out
	}
}

// TestRegistryLookup resolves registered ids case-insensitively and
// rejects unknown ones.
func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(staticReserved(), ProviderFunc(func() []Command {
		return []Command{noopCmd("deploy")}
	}))

	if _, ok := reg.Lookup("deploy"); !ok {
		t.Error("Lookup(deploy) = false, want registered command")
	}
	if _, ok := reg.Lookup("DEPLOY"); !ok {
		t.Error("Lookup(DEPLOY) = false, want case-insensitive match")
	}
	if _, ok := reg.Lookup("ghost"); ok {
		t.Error("Lookup(ghost) = true, want miss")
	}
}

// TestRegistrySkipsBadIDs drops reserved, duplicate, and invalid ids
// while keeping the rest.
func TestRegistrySkipsBadIDs(t *testing.T) {
	reg := NewRegistry(staticReserved("codex"), ProviderFunc(func() []Command {
		return []Command{
			noopCmd("deploy"),
			noopCmd("deploy"),
			noopCmd("codex"),
			noopCmd("cancel"),
			noopCmd("Bad-ID"),
			noopCmd("ok_2"),
		}
	}))

	got := reg.IDs()
	want := []string{"deploy", "ok_2"}
	if len(got) != len(want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestRegistryLazyRefresh picks up commands added after the first
// lookup without an explicit Refresh call.
func TestRegistryLazyRefresh(t *testing.T) {
	cmds := []Command{noopCmd("first")}
	reg := NewRegistry(staticReserved(), ProviderFunc(func() []Command {
		return cmds
	}))
	reg.Refresh()

	if _, ok := reg.Lookup("second"); ok {
		t.Fatal("Lookup(second) = true before registration")
	}
	cmds = append(cmds, noopCmd("second"))
	if _, ok := reg.Lookup("second"); !ok {
		t.Error("Lookup(second) = false, want lazy refresh to find it")
	}
}

func menuRuntime(t *testing.T, projectCount int) *runtime.Runtime {
	t.Helper()
	router, err := engine.NewRouter("codex",
		enginetest.New("codex"),
		enginetest.New("claude"),
	)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	cfg := &config.Config{Projects: map[string]config.ProjectConfig{}}
	for i := 0; i < projectCount; i++ {
		cfg.Projects[fmt.Sprintf("proj_%03d", i)] = config.ProjectConfig{Path: "/tmp/p"}
	}
	return runtime.New(router, cfg)
}

// TestBuildMenu orders engines, projects, plugins, and built-ins and
// always includes cancel.
func TestBuildMenu(t *testing.T) {
	rt := menuRuntime(t, 2)
	reg := NewRegistry(staticReserved(), ProviderFunc(func() []Command {
		return []Command{noopCmd("deploy")}
	}))

	items := BuildMenu(rt, reg, true)
	got := make([]string, len(items))
	for i, item := range items {
		got[i] = item.Command
	}
	want := []string{"codex", "claude", "proj_000", "proj_001", "deploy", "file", "cancel"}
	if len(got) != len(want) {
		t.Fatalf("menu = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("menu[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestBuildMenuCapKeepsCancel truncates at the service limit without
// losing the cancel entry.
func TestBuildMenuCapKeepsCancel(t *testing.T) {
	rt := menuRuntime(t, 150)
	reg := NewRegistry(staticReserved())

	items := BuildMenu(rt, reg, false)
	if len(items) != 100 {
		t.Fatalf("menu length = %d, want 100", len(items))
	}
	hasCancel := false
	for _, item := range items {
		if item.Command == "cancel" {
			hasCancel = true
		}
	}
	if !hasCancel {
		t.Error("cancel missing from the truncated menu")
	}
}

// TestReservedIDs unions engines, project aliases, and the built-in
// command names.
func TestReservedIDs(t *testing.T) {
	rt := menuRuntime(t, 1)
	reserved := ReservedIDs(rt)

	for _, id := range []string{"codex", "claude", "proj_000", "cancel", "ctx", "new", "topic", "file"} {
		if !reserved[id] {
			t.Errorf("ReservedIDs missing %q", id)
		}
	}
}
