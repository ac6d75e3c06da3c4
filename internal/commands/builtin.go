package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/takopihq/takopi/internal/run"
)

// Builtins returns the commands takopi ships with. tasks feeds the
// /status output.
func Builtins(tasks *run.Tasks) Provider {
	return ProviderFunc(func() []Command {
		return []Command{
			Func{
				Name: "status",
				Desc: "engines and running tasks",
				Fn: func(ctx context.Context, cc Context) error {
					router := cc.Runtime.Router()
					var b strings.Builder
					b.WriteString("engines:\n")
					for _, entry := range router.Entries() {
						line := fmt.Sprintf("  %s", entry.Engine)
						if entry.Engine == router.Default() {
							line += " (default)"
						}
						if !entry.Available {
							line += " (unavailable: " + entry.Issue + ")"
						}
						b.WriteString(line + "\n")
					}
					fmt.Fprintf(&b, "running: %d", tasks.Len())
					return cc.Reply(ctx, b.String())
				},
			},
		}
	})
}
