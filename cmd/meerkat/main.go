package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meerkat-chat/meerkat/internal/config"
	"github.com/meerkat-chat/meerkat/internal/logger"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meerkat",
		Short:         "Meerkat - chatroom client and development backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = Version
	cmd.SetVersionTemplate("meerkat version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default $MEERKAT_CONFIG or config.toml)")

	cmd.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newTokenCmd(),
	)
	return cmd
}

// loadConfig reads the config named by --config and initializes logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
