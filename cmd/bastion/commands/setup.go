package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/config"
	"github.com/bastion-runtime/bastion/pkg/stores"
)

// openStore opens and migrates the SQLite store named by --db. Returns nil
// when persistence is disabled.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		return nil, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// requireStore opens the store and fails when --db was not given.
func requireStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("this command requires --db")
	}
	return openStore(ctx)
}

// loadManifest reads the subsystem manifest from --manifest, accepting a
// single file or a directory of config files.
func loadManifest(loader *config.Loader) (*config.Manifest, error) {
	if manifestPath == "" {
		return nil, fmt.Errorf("a subsystem manifest is required (--manifest)")
	}

	info, err := os.Stat(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest path: %w", err)
	}
	if info.IsDir() {
		return loader.LoadManifestDir(manifestPath)
	}
	return loader.LoadManifest(manifestPath)
}

// loadProfileOverlay loads the profile overlay from --profiles, or the
// built-in defaults when the flag is unset.
func loadProfileOverlay(loader *config.Loader) (map[boot.Profile]*boot.ProfileConfig, error) {
	if profilesPath == "" {
		return boot.DefaultProfiles(), nil
	}
	profiles, err := loader.LoadProfiles(profilesPath)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", profilesPath).Int("profiles", len(profiles)).Msg("profile overlay loaded")
	return profiles, nil
}

// controllerOptions converts loaded profiles into controller options.
func controllerOptions(profiles map[boot.Profile]*boot.ProfileConfig) []boot.ControllerOption {
	opts := make([]boot.ControllerOption, 0, len(profiles))
	for _, cfg := range profiles {
		opts = append(opts, boot.WithProfile(cfg))
	}
	return opts
}
