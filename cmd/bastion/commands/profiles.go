package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/config"
)

func newProfilesCommand() *cobra.Command {
	var show string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List boot profiles",
		Long: `List the available boot profiles: the built-in set plus anything loaded
from a --profiles overlay file. Use --show for a single profile's full
policy (whitelist, blacklist, overrides, gates).`,
		Example: `  # Built-in profiles
  bastion profiles

  # Include a site overlay
  bastion profiles --profiles ./profiles.yaml

  # Full policy for one profile
  bastion profiles --show air_gapped`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(log.Logger)
			profiles, err := loadProfileOverlay(loader)
			if err != nil {
				return err
			}

			if show != "" {
				cfg, ok := profiles[boot.Profile(show)]
				if !ok {
					return fmt.Errorf("unknown profile %q", show)
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(profiles)
			}

			names := make([]string, 0, len(profiles))
			for name := range profiles {
				names = append(names, string(name))
			}
			sort.Strings(names)

			for _, name := range names {
				cfg := profiles[boot.Profile(name)]
				gates := ""
				if cfg.HasWhitelist() {
					gates += fmt.Sprintf(" whitelist=%d", len(cfg.Whitelist))
				}
				if len(cfg.Blacklist) > 0 {
					gates += fmt.Sprintf(" blacklist=%d", len(cfg.Blacklist))
				}
				if cfg.RequireApproval {
					gates += " approval"
				}
				if cfg.MaxInitTime > 0 {
					gates += fmt.Sprintf(" budget=%s", cfg.MaxInitTime)
				}
				fmt.Printf("%-14s %s%s\n", name, cfg.Description, gates)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&show, "show", "", "show the full policy for one profile")

	return cmd
}
