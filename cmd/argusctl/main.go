// Argusctl is the operator CLI for an argus server. It lists and inspects
// investigations, resolves pending human reviews, and shows the triage
// overview, talking to the server's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "argusctl",
	Short: "Argus triage engine CLI",
	Long: `argusctl is the command-line interface for the argus alert triage engine.

Inspect investigations, resolve pending human reviews, and watch
triage metrics from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("ARGUSCTL_SERVER", "http://localhost:8080"), "argus server base URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("ARGUSCTL_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")

	rootCmd.AddCommand(investigationsCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(overviewCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func clientFrom(cmd *cobra.Command) *apiClient {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return newClient(server, token)
}

func outputFormat(cmd *cobra.Command) string {
	out, _ := cmd.Flags().GetString("output")
	return out
}
