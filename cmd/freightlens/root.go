package main

import (
	"context"

	"github.com/spf13/cobra"
)

// Execute runs the freightlens CLI.
func Execute(ctx context.Context) error {
	var configPath string

	root := &cobra.Command{
		Use:           "freightlens",
		Short:         "Freight price movement analysis engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (optional)")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(analyzeCmd(&configPath))
	root.AddCommand(scheduleCmd(&configPath))

	return root.ExecuteContext(ctx)
}
