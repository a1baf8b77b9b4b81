package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BKyryl/iesi/pkg/mcp"
)

func newMCPCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the iesi tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Stdout carries the protocol, so run output goes to stderr.
			cmd.SetOut(cmd.ErrOrStderr())
			a, err := openApp(ctx, cmd, root)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewIesiServer(mcp.IesiServerDeps{
				Launcher: a.engine,
				Catalog:  a.repo,
				Results:  a.results,
				Logger:   a.logger,
			})
			return srv.Serve(ctx)
		},
	}
}
