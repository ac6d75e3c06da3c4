package runtime

import (
	"fmt"
	"strings"

	"github.com/takopihq/takopi/internal/config"
	"github.com/takopihq/takopi/internal/model"
)

// DirectiveError reports a malformed or unknown leading directive. It
// is shown to the user verbatim.
type DirectiveError struct {
	Msg string
}

func (e *DirectiveError) Error() string { return e.Msg }

func directiveErrorf(format string, args ...any) *DirectiveError {
	return &DirectiveError{Msg: fmt.Sprintf(format, args...)}
}

// Directives are the leading tokens parsed off an incoming message:
// /engine, /project, @branch, and resume:<token>. The first token that
// is none of these starts the prompt.
type Directives struct {
	Prompt      string
	Engine      model.EngineID
	Project     string
	Branch      string
	ResumeValue string
}

func parseDirectives(text string, engineIDs []model.EngineID, cfg *config.Config) (Directives, error) {
	var d Directives
	rest := strings.TrimSpace(text)

	engines := make(map[string]model.EngineID, len(engineIDs))
	for _, id := range engineIDs {
		engines[strings.ToLower(string(id))] = id
	}

	for rest != "" {
		token := rest
		restAfter := ""
		if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
			token = rest[:i]
			restAfter = strings.TrimLeft(rest[i:], " \t\n")
		}

		switch {
		case strings.HasPrefix(token, "/"):
			word := strings.ToLower(strings.TrimPrefix(token, "/"))
			if id, ok := engines[word]; ok {
				if d.Engine != "" {
					return d, directiveErrorf("duplicate engine directive /%s", word)
				}
				d.Engine = id
				break
			}
			if canonical := cfg.NormalizeProjectKey(word); canonical != "" {
				if d.Project != "" {
					return d, directiveErrorf("duplicate project directive /%s", word)
				}
				d.Project = canonical
				break
			}
			return d, directiveErrorf("unknown command or project: /%s", word)
		case strings.HasPrefix(token, "@"):
			branch := strings.TrimPrefix(token, "@")
			if branch == "" {
				return d, directiveErrorf("empty branch directive")
			}
			if d.Branch != "" {
				return d, directiveErrorf("duplicate branch directive @%s", branch)
			}
			d.Branch = branch
		case strings.HasPrefix(token, "resume:"):
			value := strings.TrimPrefix(token, "resume:")
			if value == "" {
				return d, directiveErrorf("empty resume directive")
			}
			if d.ResumeValue != "" {
				return d, directiveErrorf("duplicate resume directive")
			}
			d.ResumeValue = value
		default:
			d.Prompt = rest
			return d, nil
		}
		rest = restAfter
	}
	return d, nil
}
