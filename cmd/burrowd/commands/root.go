// Package commands provides the CLI commands for the burrow server.
package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "burrowd",
	Short: "Burrow - long-lived conversational agent server",
	Long: `Burrow runs a persistent agent service: durable chat sessions, a
skill and command catalog, and a workspace the agent operates in, all
behind one HTTP API.

Run 'burrowd serve' to start the server.`,
	Version: Version,
	RunE:    runServe, // serve by default
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("burrowd %s (%s)\n", Version, BuildTime))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	// A .env next to the binary is a dev convenience; absence is fine.
	_ = godotenv.Load()
	return rootCmd.Execute()
}
