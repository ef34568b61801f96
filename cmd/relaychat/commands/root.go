// Package commands wires the relaychat CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set by main from ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "A multi-user TCP chat service with rooms and file transfer",
	Long: `relaychat is a multi-user chat service over TCP: rooms, private
messages, and bounded peer-to-peer file transfers brokered through the
server.

Run a server with 'relaychat serve <port>' and connect with
'relaychat client <host> <port>'.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("relaychat %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file (YAML)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI. Errors propagate to main, which exits 1.
func Execute() error {
	return rootCmd.Execute()
}
