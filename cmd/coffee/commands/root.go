// Package commands implements the coffee CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/types"
	"github.com/vitwit/coffee/utils"
)

// Version is set at build time with -ldflags "-X github.com/vitwit/coffee/cmd/coffee/commands.Version=..."
var Version = "dev"

var (
	configPath string
	logLevel   string

	cfg *types.Config
	log logger.Logger
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coffee",
		Short:         "Buy me a coffee: pay for coffee tiers through an Ethereum wallet",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfig"] == "true" {
				return nil
			}
			loaded, err := utils.LoadConfig(configPath, os.LookupEnv)
			if err != nil {
				return err
			}
			if logLevel != "" {
				loaded.Logging.Level = logLevel
			}
			cfg = loaded
			log = newLogger(cfg.Logging)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (defaults plus COFFEE_* env when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(serveCmd(), buildConfigCmd(), historyCmd(), versionCmd())
	return root
}

func newLogger(c types.LoggingConfig) logger.Logger {
	if c.File != "" {
		return logger.NewRotatingZapLogger(c.Level, c.File)
	}
	return logger.NewZapLogger(c.Level)
}
