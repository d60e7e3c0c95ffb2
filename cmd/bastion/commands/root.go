package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	manifestPath string
	profilesPath string
	dbPath       string
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bastion",
		Short: "Bastion - Subsystem Orchestration & Governance Runtime",
		Long: `Bastion orchestrates the lifecycle of interdependent subsystems under
declarative boot profiles and a governance authority graph.

Features:
  - Dependency-ordered subsystem initialization with priority tiers
  - Boot profiles (normal, emergency, air-gapped, ...) with whitelists,
    blacklists, and priority overrides
  - Priority event bus with veto and approval delivery phases
  - Governance graph of authority, veto, and consultation relationships
  - Append-only audit log with deterministic replay
  - SQLite persistence of sessions, snapshots, and audit records`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "subsystem manifest file or directory")
	rootCmd.PersistentFlags().StringVar(&profilesPath, "profiles", "", "boot profile overlay file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (enables persistence)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newBootCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newReplayCommand())
	rootCmd.AddCommand(newProfilesCommand())
	rootCmd.AddCommand(newEmergencyCommand())

	return rootCmd
}
