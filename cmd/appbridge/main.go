package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// set build metadata
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "appbridge",
	Short: "Serve a gateway application over raw TCP, one request per connection",
	Long: `appbridge accepts TCP connections, reads one request from each, hands it to
the named application and writes the application's response before closing.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "appbridge.yaml", "config file path")
	rootCmd.AddCommand(serveCmd(), appsCmd(), probeCmd())
}

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
