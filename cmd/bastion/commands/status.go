package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastion-runtime/bastion/pkg/runtime"
)

func newStatusCommand() *cobra.Command {
	var (
		sessionLimit int
		snapshot     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted boot sessions and registry snapshots",
		Long: `Inspect the persisted runtime state: recent boot sessions with their
outcomes and, optionally, a named registry snapshot.`,
		Example: `  # Recent boot sessions
  bastion status --db bastion.db

  # Subsystem states captured at shutdown
  bastion status --db bastion.db --snapshot shutdown`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := requireStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if snapshot != "" {
				snap, err := store.GetRegistrySnapshot(ctx, snapshot)
				if err != nil {
					return fmt.Errorf("snapshot %q not found: %w", snapshot, err)
				}

				var views map[string]runtime.RecordView
				if err := json.Unmarshal([]byte(snap.State), &views); err != nil {
					return fmt.Errorf("failed to decode snapshot state: %w", err)
				}

				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(views)
				}

				fmt.Printf("Snapshot %q taken %s\n", snap.Label, snap.TakenAt.Format(time.RFC3339))
				for id, view := range views {
					fmt.Printf("  %-28s %-14s %s\n", id, view.State, view.Descriptor.Priority)
				}
				return nil
			}

			sessions, err := store.ListBootSessions(ctx, sessionLimit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			if len(sessions) == 0 {
				fmt.Println("No boot sessions recorded.")
				return nil
			}
			for _, s := range sessions {
				duration := "-"
				if s.CompletedAt != nil {
					duration = s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Printf("%s  %-12s %-10s init=%d skip=%d dur=%s\n",
					s.ID, s.Profile, s.Status, s.Initialized, s.Skipped, duration)
				if s.Error != nil {
					fmt.Printf("  error: %s\n", *s.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&sessionLimit, "limit", 20, "maximum boot sessions to list")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "show the named registry snapshot instead")

	return cmd
}
