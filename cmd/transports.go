package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func transportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transports",
		Short: "List available transport backends",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("telegram")
		},
	}
}
