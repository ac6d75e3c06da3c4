// Package engine defines the runner contract for coding-agent engines
// and the router that picks one per message.
package engine

import (
	"context"
	"errors"

	"github.com/takopihq/takopi/internal/model"
)

// ErrUnavailable marks an engine whose binary could not be found or
// probed. The router carries the probe detail in Entry.Issue.
var ErrUnavailable = errors.New("engine unavailable")

// Request is one engine turn.
type Request struct {
	Prompt string
	// Resume continues a prior session when non-nil.
	Resume *model.ResumeToken
	// Dir is the working directory for the engine process. Empty
	// means the bridge's own cwd.
	Dir string
}

// Runner drives one engine. Run streams events through emit until the
// turn ends; cancelling ctx kills the engine process tree. Run returns
// only after the subprocess has been reaped.
type Runner interface {
	ID() model.EngineID
	Title() string
	Run(ctx context.Context, req Request, emit func(model.Event)) error

	// CheckAvailable probes the engine binary. A non-nil error means
	// runs will be rejected with the error's message.
	CheckAvailable() error

	// FormatResume renders the footer line appended to final messages
	// so a later reply can continue the session.
	FormatResume(tok model.ResumeToken) string

	// ParseResumeLine reports the token when line is this engine's
	// resume footer.
	ParseResumeLine(line string) (model.ResumeToken, bool)

	// ClaimResumeValue reports whether a bare resume:<value> directive
	// plausibly belongs to this engine.
	ClaimResumeValue(value string) bool
}
