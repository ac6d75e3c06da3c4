// Package cmd is the takopi command line: the root command runs the
// bridge; subcommands register projects and run onboarding.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via
// -ldflags "-X github.com/takopihq/takopi/cmd.Version=v1.2.3".
var Version = "dev"

var (
	flagTransport   string
	flagFinalNotify bool
	flagOnboard     bool
	flagDebug       bool
)

// errInterrupted maps a signal-driven shutdown to exit code 130.
var errInterrupted = errors.New("interrupted")

var rootCmd = &cobra.Command{
	Use:           "takopi",
	Short:         "chat-driven orchestrator for local coding agents",
	Long:          "Takopi bridges a Telegram chat to local coding-agent engines (codex, claude), streams their progress as live-edited messages, and remembers sessions for follow-up replies.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge("")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagTransport, "transport", "", "override the transport backend id")
	rootCmd.PersistentFlags().BoolVar(&flagFinalNotify, "final-notify", true, "send the final response as a new message (not an edit)")
	rootCmd.PersistentFlags().BoolVar(&flagOnboard, "onboard", false, "run the interactive setup wizard before starting")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log engine output, API requests, and rendered messages")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(transportsCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(versionCmd())
	for _, id := range engineCommandIDs() {
		rootCmd.AddCommand(engineCmd(id))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("takopi %s\n", Version)
		},
	}
}

// Execute runs the CLI and exits with 0, 1 (error), or 130 (signal).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
