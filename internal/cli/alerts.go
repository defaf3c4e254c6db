package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	testAlertType    string
	testAlertMessage string
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Queue a manual alert in the outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		alertType := strings.ToLower(strings.TrimSpace(testAlertType))
		if alertType == "" {
			return fmt.Errorf("--type must not be empty")
		}
		msg := testAlertMessage
		if msg == "" {
			msg = fmt.Sprintf("🧪 *Test %s alert*\n\nglasswatch delivery check.", alertType)
		}

		alert, err := getApp().TestAlert(alertType, msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued alert #%d (%s)\n", alert.ID, alert.AlertType)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sent alerts and observations past the retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context())
	},
}

func init() {
	testAlertCmd.Flags().StringVar(&testAlertType, "type", "whale", "Alert type (whale, liquidation, funding)")
	testAlertCmd.Flags().StringVar(&testAlertMessage, "message", "", "Markdown message body")
}
