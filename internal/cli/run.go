package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot, monitors, dispatcher and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve only the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ServeAPI(cmd.Context())
	},
}
