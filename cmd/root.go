// Package cmd implements the mache command-line entrypoint: a thin
// spf13/cobra wrapper around the version/archive/schema/search pipeline and
// the internal/api1 HTTP facade.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mache.toml", "Path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:     "mache",
	Short:   "Mache: a versioned game-data HTTP service",
	Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mache version %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
