package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/stores"
)

func newReplayCommand() *cobra.Command {
	var (
		eventTypes []string
		since      string
		until      string
		limit      int
		timeline   bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the persisted audit log",
		Long: `Reconstruct a boot timeline from the append-only audit log.

Replay is deterministic: it reads only the ordered log, never live state, so
the same database always produces the same timeline and summary.`,
		Example: `  # Summarize everything
  bastion replay --db bastion.db

  # Emergency activations in a window
  bastion replay --db bastion.db --type emergency --since 2026-08-01T00:00:00Z

  # Full event-by-event timeline
  bastion replay --db bastion.db --timeline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := requireStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			filters := boot.ReplayFilters{EventTypes: eventTypes}
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				filters.StartTime = t
			}
			if until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("invalid --until: %w", err)
				}
				filters.EndTime = t
			}

			sink := stores.NewAuditSink(store)
			events, err := sink.LoadAuditEvents(ctx, stores.AuditFilter{}, limit, 0)
			if err != nil {
				return err
			}

			result := boot.Replay(events, filters)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			s := result.Summary
			fmt.Printf("Replayed %d events (%d after filters)\n", s.TotalEvents, s.FilteredEvents)
			fmt.Printf("  profile changes:       %d\n", s.ProfileChanges)
			fmt.Printf("  emergency activations: %d\n", s.EmergencyActivations)
			fmt.Printf("  approvals:             %d\n", s.Approvals)
			fmt.Printf("  snapshots:             %d\n", s.Snapshots)

			if timeline {
				for _, entry := range result.Timeline {
					subsystem := entry.SubsystemID
					if subsystem == "" {
						subsystem = "-"
					}
					fmt.Printf("%s  %-22s %-28s %s\n",
						entry.Timestamp.Format(time.RFC3339), entry.EventType, subsystem, entry.Action)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&eventTypes, "type", nil, "filter by event type")
	cmd.Flags().StringVar(&since, "since", "", "start of the replay window (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "end of the replay window (RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 10000, "maximum audit records to load")
	cmd.Flags().BoolVar(&timeline, "timeline", false, "print the full timeline")

	return cmd
}
