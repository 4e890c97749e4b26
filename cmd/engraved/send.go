package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newSendCmd builds the bench-testing utility that streams a raw G-code
// file straight through the Streaming Controller, bypassing the Job Store
// and Orchestrator entirely — useful for confirming a board connection
// without touching the job queue.
func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <gcode-file>",
		Short: "Stream a G-code file directly to the board, bypassing the job queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, log, err := buildController()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			if err := ctrl.Connect(ctx); err != nil {
				return fmt.Errorf("connecting to board: %w", err)
			}
			defer ctrl.Disconnect()

			lines := strings.Split(string(data), "\n")
			if err := ctrl.StreamProgram(ctx, lines, nil); err != nil {
				return fmt.Errorf("streaming %s: %w", args[0], err)
			}

			fmt.Printf("streamed %s\n", args[0])
			return nil
		},
	}
}
