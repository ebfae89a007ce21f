// Package commands implements the switchboard CLI commands using cobra.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/switchboard/internal/backends"
	"github.com/marcus/switchboard/internal/logging"
	"github.com/marcus/switchboard/internal/settings"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded once in the persistent pre-run and shared by all
	// commands.
	cfg *settings.Settings
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Run coding tasks through interchangeable AI agent backends",
	Long: `Switchboard delegates work to AI coding-agent CLIs (claude, codex)
through one normalized message stream. Pick a model, hand over a
prompt, and read back typed assistant, tool, and result events
regardless of which backend served the request.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = settings.Load(configPath)
		if err != nil {
			return err
		}

		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.LogLevel
		if logLevel != "" {
			logCfg.Level = logLevel
		}
		if err := logging.Init(logCfg); err != nil {
			return err
		}

		return backends.Init(cfg)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.config/switchboard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
