// Command bastion boots, supervises, and inspects governed subsystem
// runtimes from declarative manifests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bastion-runtime/bastion/cmd/bastion/commands"
)

// Populated through -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(logLevel())

	// SIGINT/SIGTERM cancel the command context; long-running commands
	// treat that as the shutdown signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func logLevel() zerolog.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
