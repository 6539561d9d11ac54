package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentlens",
	Short: "Edge proxy that tells coding agents apart from human readers",
	Long: "Reverse proxy in front of a documentation origin. Classifies each request as\n" +
		"human or AI coding agent from its content negotiation and User-Agent, and\n" +
		"reports agent visits to an analytics sink without touching the response.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
