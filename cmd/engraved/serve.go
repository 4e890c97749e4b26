package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the board and process the job queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.log.Sync() //nolint:errcheck

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := a.orch.Stream.Connect(ctx); err != nil {
				a.log.Warnw("initial connection to the board failed, will keep retrying", "error", err)
			}
			a.orch.Stream.StartMonitor(ctx)
			defer a.orch.Stream.StopMonitor()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				a.log.Infow("shutting down")
				cancel()
			}()

			a.log.Infow("engrave queue processor started", "data_dir", dataDir, "config", configPath)
			a.orch.Run(ctx)
			return nil
		},
	}
}
