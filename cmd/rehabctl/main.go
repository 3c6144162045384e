// Command rehabctl is a command-line client for the rehabtrack API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "rehabctl",
	Short:         "Submit exercise videos and review rehab progress",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("REHAB_SERVER", "http://localhost:8080"), "rehabtrack API base URL")
	rootCmd.PersistentFlags().String("owner", os.Getenv("REHAB_OWNER_ID"), "owner id sent as X-Owner-ID")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(submitCmd, jobCmd, jobsCmd, watchCmd, unwatchCmd, logPainCmd, historyCmd, analyticsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
