package cmd

import (
	"fmt"
	"os"

	"Bt1QMix/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bt1qmix",
	Short: "Bt1QMix is a beat-synchronized multi-track playback engine.",
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
