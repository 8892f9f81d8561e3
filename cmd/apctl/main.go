// Package main implements apctl, the command-line client for the autopilot
// daemon.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the autopilot HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apctl",
	Short: "CLI for the autopilot workflow daemon",
	Long: `apctl starts and inspects workflow runs, manages the project registry,
and runs governance and log checks against an autopilot daemon.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8600", "autopilot server URL")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check autopilot server health",
	Long: `Check the health status of the autopilot HTTP server.

Examples:
  apctl health
  apctl health --server http://localhost:9090`,
	RunE: runHealth,
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp HealthResponse
	if err := newClient(serverURL).do(cmd.Context(), "GET", "/health", nil, &resp); err != nil {
		return err
	}
	cmd.Printf("Server Status: %s\n", resp.Status)
	cmd.Printf("Active Runs:   %d\n", resp.ActiveRuns)
	cmd.Printf("Server URL:    %s\n", serverURL)
	return nil
}
