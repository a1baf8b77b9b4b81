package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	settings string
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "iesi",
		Short:         "IESI runs scripts of framework actions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.settings, "settings", settingsPath(), "Path to settings.json")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newLaunchCmd(flags))
	cmd.AddCommand(newScheduleCmd(flags))
	cmd.AddCommand(newMCPCmd(flags))
	cmd.AddCommand(newScriptsCmd(flags))
	cmd.AddCommand(newActionsCmd(flags))
	cmd.AddCommand(newEncryptCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// openApp loads the configuration and wires the components for cmd.
func openApp(ctx context.Context, cmd *cobra.Command, flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags.settings, os.Getenv)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
	}
	return newApp(ctx, cfg, cmd.ErrOrStderr(), cmd.OutOrStdout())
}
