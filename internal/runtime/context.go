package runtime

import (
	"strings"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
)

// FormatContextLine renders the canonical header placed atop progress
// messages: "project @branch", "project", or "@branch". Empty for nil.
func FormatContextLine(ctx *model.RunContext) string {
	if ctx == nil {
		return ""
	}
	switch {
	case ctx.Project != "" && ctx.Branch != "":
		return ctx.Project + " @" + ctx.Branch
	case ctx.Project != "":
		return ctx.Project
	case ctx.Branch != "":
		return "@" + ctx.Branch
	}
	return ""
}

// parseContextLine reconstructs a run context from the first line of a
// replied-to message, accepting only the shapes FormatContextLine
// emits. Project names must be configured aliases; anything else is
// treated as ordinary prose.
func parseContextLine(replyText string, cfg *config.Config) *model.RunContext {
	if replyText == "" {
		return nil
	}
	line, _, _ := strings.Cut(replyText, "\n")
	fields := strings.Fields(strings.TrimSpace(line))

	switch len(fields) {
	case 1:
		if branch, ok := strings.CutPrefix(fields[0], "@"); ok {
			if branch == "" {
				return nil
			}
			return model.NewRunContext("", branch)
		}
		if canonical := cfg.NormalizeProjectKey(fields[0]); canonical != "" {
			return model.NewRunContext(canonical, "")
		}
	case 2:
		branch, ok := strings.CutPrefix(fields[1], "@")
		if !ok || branch == "" {
			return nil
		}
		if canonical := cfg.NormalizeProjectKey(fields[0]); canonical != "" {
			return model.NewRunContext(canonical, branch)
		}
	}
	return nil
}
