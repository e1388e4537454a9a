package cmd

import (
	"Bt1QMix/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Bt1QMix server",
	Long:  `Start the HTTP control server with the playback engine, the track library and the beat WebSocket stream.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
