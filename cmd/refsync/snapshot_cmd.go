package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/store"
)

// snapshotCmd prints the stored state of one workspace.
var snapshotCmd = &cobra.Command{
	Use:   "snapshot <workspaceID>",
	Short: "Print a workspace snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Global().Close()

		ctx := cmd.Context()
		s, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer s.Close()

		state, err := s.GetState(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load workspace: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
