package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/web3guy0/glasswatch/internal/app"
	"github.com/web3guy0/glasswatch/internal/config"
	"github.com/web3guy0/glasswatch/internal/logging"
)

var (
	envFile   string
	debug     bool
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "glasswatch",
	Short:         "CoinGlass market alerts for Telegram",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		if err := godotenv.Load(envFile); err != nil {
			if cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}

		logging.Setup(cfg.Debug, cfg.LogFormat)
		appHandle = app.New(cfg)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("glasswatch failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(testAlertCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
