package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Multi-sector memory engine for AI agents",
	Long:  "Mnemo stores memories across cognitive sectors, ranks retrieval by similarity, salience, recency and association, and keeps a temporal fact store. Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON config file (env MNEMO_* overrides apply)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(nsCmd)
}
