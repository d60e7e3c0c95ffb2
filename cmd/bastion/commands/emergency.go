package commands

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/config"
)

func newEmergencyCommand() *cobra.Command {
	var (
		profileName string
		reason      string
	)

	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Rehearse the emergency posture against a manifest",
		Long: `Activate emergency mode against the declared manifest and report which
subsystems would be permitted to start. Emergency mode restricts startup to
the fixed critical set regardless of profile, so this shows the exact
surviving footprint before an operator commits to it.`,
		Example: `  # What survives an emergency under the normal profile
  bastion emergency --manifest ./subsystems.yaml

  # Under a hardened profile
  bastion emergency --manifest ./subsystems.yaml --profile adversarial`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			loader := config.NewLoader(logger)
			manifest, err := loadManifest(loader)
			if err != nil {
				return err
			}
			profiles, err := loadProfileOverlay(loader)
			if err != nil {
				return err
			}

			controller := boot.NewController(logger, controllerOptions(profiles)...)
			if err := controller.SetProfile(boot.Profile(profileName)); err != nil {
				return err
			}
			controller.ActivateEmergencyMode(reason)

			ids := make([]string, 0, len(manifest.Subsystems))
			for _, spec := range manifest.Subsystems {
				ids = append(ids, spec.ID)
			}
			sort.Strings(ids)

			permitted := 0
			for _, id := range ids {
				ok, why := controller.ShouldInitialize(ctx, id, nil)
				if ok {
					permitted++
					fmt.Printf("  + %s\n", id)
					continue
				}
				fmt.Printf("  - %s (%s)\n", id, why)
			}
			fmt.Printf("%d of %d subsystems permitted under emergency mode\n", permitted, len(ids))

			return nil
		},
	}

	cmd.Flags().StringVarP(&profileName, "profile", "p", string(boot.ProfileNormal), "boot profile name")
	cmd.Flags().StringVar(&reason, "reason", "operator rehearsal", "emergency activation reason")

	return cmd
}
