package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/takopihq/takopi/internal/model"
)

// engineCmd runs the bridge with the given engine as the default, so
// `takopi claude` answers bare messages with claude.
func engineCmd(id model.EngineID) *cobra.Command {
	return &cobra.Command{
		Use:   string(id),
		Short: fmt.Sprintf("Run with the %s engine", id),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(string(id))
		},
	}
}
