// Package policy provides Rego-based approval policies for subsystem
// startup gating.
//
// The engine compiles Open Policy Agent (OPA) Rego modules and evaluates
// them against approval requests coming from the boot controller. Each
// policy package exposes a `deny` set; a subsystem is approved when no
// enabled policy denies it, so an empty policy set approves everything.
//
// Built-in policies ship with the engine: a baseline that rejects only
// malformed requests, plus stricter opt-in policies (consultation-guard,
// emergency-lockdown) that can be enabled for hardened boot profiles.
// Additional policies are loaded from .rego or .json files and can be
// hot-reloaded via the fsnotify watcher.
//
// Usage:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	ctrl := boot.NewController(logger, boot.WithApprovalPolicy(engine))
package policy
