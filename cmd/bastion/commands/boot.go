package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/config"
	"github.com/bastion-runtime/bastion/pkg/eventbus"
	"github.com/bastion-runtime/bastion/pkg/governance"
	"github.com/bastion-runtime/bastion/pkg/orchestrator"
	"github.com/bastion-runtime/bastion/pkg/policy"
	"github.com/bastion-runtime/bastion/pkg/runtime"
	"github.com/bastion-runtime/bastion/pkg/stores"
	"github.com/bastion-runtime/bastion/pkg/telemetry"
)

// placeholderSubsystem stands in for subsystems declared in a manifest but
// not linked into this binary. It passes every lifecycle hook, so a boot run
// exercises ordering, gating, approval, audit, and persistence end to end.
type placeholderSubsystem struct {
	desc runtime.Descriptor
}

func (p *placeholderSubsystem) Initialize(context.Context) error  { return nil }
func (p *placeholderSubsystem) Shutdown(context.Context) error    { return nil }
func (p *placeholderSubsystem) HealthCheck(context.Context) error { return nil }

func (p *placeholderSubsystem) Capabilities() []string { return p.desc.Capabilities }

func (p *placeholderSubsystem) Status() map[string]interface{} {
	return map[string]interface{}{"placeholder": true}
}

func newBootCommand() *cobra.Command {
	var (
		profileName   string
		metricsAddr   string
		traceExporter string
		traceEndpoint string
		policyDir     string
		hold          bool
		healthEvery   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Run a boot session under a profile",
		Long: `Boot the subsystems declared in a manifest under the named profile.

Subsystems initialize in dependency order, critical tiers first. The profile
gates each subsystem through its whitelist, blacklist, and approval policy;
skipped and failed subsystems are reported. With --db, the session, audit
log, and registry snapshots are persisted for later status and replay.`,
		Example: `  # Boot the manifest under the normal profile
  bastion boot --manifest ./subsystems.yaml

  # Emergency posture with persistence
  bastion boot --manifest ./subsystems --profile emergency --db bastion.db

  # Keep running with health monitoring and a metrics endpoint
  bastion boot --manifest ./subsystems.yaml --hold --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tel, err := newTelemetry(metricsAddr, traceExporter, traceEndpoint)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			logger := tel.Logger.NewComponentLogger("bastion").Zerolog()

			loader := config.NewLoader(logger)
			manifest, err := loadManifest(loader)
			if err != nil {
				return err
			}
			profiles, err := loadProfileOverlay(loader)
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			bus := eventbus.New(logger,
				eventbus.WithObserver(tel.Metrics),
				eventbus.WithDeliverySpanHook(tel.Tracer.EventSpan))
			graph := governance.DefaultGraph(logger)
			registry := runtime.NewRegistry(logger,
				runtime.WithEventSink(orchestrator.NewBusSink(bus, "orchestrator")))

			ctrlOpts := append(controllerOptions(profiles),
				boot.WithEventPublisher(bus),
				boot.WithConsultationSource(graph),
			)
			if store != nil {
				ctrlOpts = append(ctrlOpts, boot.WithAuditSink(stores.NewAuditSink(store)))
			}
			if policyDir != "" {
				engine, err := policy.NewEngine(logger)
				if err != nil {
					return fmt.Errorf("failed to create policy engine: %w", err)
				}
				if err := engine.LoadPolicies(ctx, []string{policyDir}); err != nil {
					return fmt.Errorf("failed to load approval policies: %w", err)
				}
				ctrlOpts = append(ctrlOpts, boot.WithApprovalPolicy(engine))
			}
			controller := boot.NewController(logger, ctrlOpts...)

			orchOpts := []orchestrator.Option{
				orchestrator.WithMetrics(tel.Metrics),
				orchestrator.WithTracer(tel.Tracer),
				orchestrator.WithHealthCheckInterval(healthEvery),
			}
			if store != nil {
				orchOpts = append(orchOpts, orchestrator.WithStore(store))
			}
			orch := orchestrator.New(logger, registry, bus, graph, controller, orchOpts...)

			if err := orch.Discover(manifest, func(desc runtime.Descriptor) (runtime.Subsystem, error) {
				return &placeholderSubsystem{desc: desc}, nil
			}); err != nil {
				return err
			}

			report, bootErr := orch.Start(ctx, boot.Profile(profileName))
			if report != nil {
				printReport(report)
			}
			if bootErr != nil {
				orch.Shutdown(context.Background())
				return bootErr
			}

			if hold {
				if profilesPath != "" {
					watcher, err := config.NewWatcher(logger, profilesPath)
					if err != nil {
						return err
					}
					defer watcher.Close()
					go watcher.Run(ctx, func(changed string) {
						reloaded, err := loader.LoadProfiles(profilesPath)
						if err != nil {
							log.Error().Err(err).Str("path", changed).Msg("profile reload failed")
							return
						}
						controller.ReloadProfiles(reloaded)
					})
				}

				log.Info().Msg("boot complete, running until interrupted")
				<-ctx.Done()
			}

			// The interrupt already cancelled ctx; shut down on a fresh one.
			return orch.Shutdown(context.Background())
		},
	}

	cmd.Flags().StringVarP(&profileName, "profile", "p", string(boot.ProfileNormal), "boot profile name")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (enables metrics)")
	cmd.Flags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter: otlp, stdout, or none")
	cmd.Flags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint (e.g. localhost:4317)")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of Rego approval policies")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep running after boot until interrupted")
	cmd.Flags().DurationVar(&healthEvery, "health-interval", 30*time.Second, "health monitor period")

	return cmd
}

// newTelemetry builds the logging, tracing, and metrics bundle. A blank
// metrics address yields a no-op recorder and tracing stays off unless an
// exporter is named, so the boot path never branches on telemetry being
// enabled. Logs go to stderr so --json report output stays parseable.
func newTelemetry(metricsAddr, traceExporter, traceEndpoint string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Metrics.Enabled = metricsAddr != ""
	cfg.Metrics.ListenAddress = metricsAddr
	cfg.Tracing.Enabled = traceExporter != "" && traceExporter != "none"
	cfg.Tracing.Exporter = traceExporter
	cfg.Tracing.Endpoint = traceEndpoint

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		if err := tel.StartMetricsServer(); err != nil {
			return nil, err
		}
		log.Info().Str("addr", metricsAddr).Msg("metrics endpoint started")
	}
	return tel, nil
}

func printReport(report *orchestrator.BootReport) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		return
	}

	fmt.Printf("Session %s (%s): %s\n", report.SessionID, report.Profile, report.Status)
	fmt.Printf("  initialized: %d  skipped: %d  failed: %d\n",
		len(report.Initialized), len(report.Skipped), len(report.Failed))
	for _, id := range report.Initialized {
		fmt.Printf("  + %s\n", id)
	}
	for id, reason := range report.Skipped {
		fmt.Printf("  - %s (%s)\n", id, reason)
	}
	for id, errMsg := range report.Failed {
		fmt.Printf("  ! %s: %s\n", id, errMsg)
	}
	if report.Error != "" {
		fmt.Printf("  error: %s\n", report.Error)
	}
}
