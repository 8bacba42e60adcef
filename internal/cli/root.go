// Package cli provides the command-line interface for feedcaster.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feedcaster/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "feedcaster",
	Short: "Republish RSS/Atom feeds to Mastodon accounts",
	Long: "feedcaster polls the feeds configured for each section, finds entries newer than the " +
		"section's latest status, and posts them individually or as a digest to the section's Mastodon account.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("feedcaster %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the sections file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error (default from FEEDCASTER_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console, json (default from FEEDCASTER_LOG_FORMAT)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
