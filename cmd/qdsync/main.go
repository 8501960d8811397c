// Command qdsync replays the local submission queue into the record store
// from the host, outside the server process.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "qdsync",
	Short: "Inspect and replay the QuickDowntime local queue",
	Long: `qdsync works on the same queue directory and record store as the server.

Examples:
  qdsync pending               # list queued submissions
  qdsync sync                  # replay every queued submission once
  qdsync sync --json           # machine-readable summary`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: search configs/, ./, /etc/quickdowntime/)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(syncCmd, pendingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
