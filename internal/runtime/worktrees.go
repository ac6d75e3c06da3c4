package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
)

// WorktreeError reports a branch context that cannot be mapped to an
// existing worktree directory. Worktrees are never created here.
type WorktreeError struct {
	Msg string
}

func (e *WorktreeError) Error() string { return e.Msg }

const defaultWorktreesDir = ".worktrees"

// ResolveRunCwd maps a run context to the directory the engine runs
// in. nil context means the bridge's own cwd (empty string).
func ResolveRunCwd(ctx *model.RunContext, cfg *config.Config) (string, error) {
	if ctx == nil {
		return "", nil
	}
	if ctx.Project == "" {
		return "", &WorktreeError{Msg: fmt.Sprintf("branch @%s needs a project", ctx.Branch)}
	}
	project, ok := cfg.Project(ctx.Project)
	if !ok {
		return "", &WorktreeError{Msg: fmt.Sprintf("unknown project %q", ctx.Project)}
	}
	root := config.ExpandHome(project.Path)
	if ctx.Branch == "" {
		return root, nil
	}

	worktrees := project.WorktreesDir
	if worktrees == "" {
		worktrees = defaultWorktreesDir
	}
	worktrees = config.ExpandHome(worktrees)
	if !filepath.IsAbs(worktrees) {
		worktrees = filepath.Join(root, worktrees)
	}
	dir := filepath.Join(worktrees, ctx.Branch)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &WorktreeError{
			Msg: fmt.Sprintf("no worktree for @%s under %s (create it first)", ctx.Branch, worktrees),
		}
	}
	return dir, nil
}
