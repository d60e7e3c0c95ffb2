// Package config loads subsystem manifests and boot profile documents.
//
// Manifests declare the subsystems the orchestrator should discover, in
// YAML, TOML, or JSON. Each entry converts to a runtime.Descriptor:
//
//	subsystems:
//	  - id: ethics_governance
//	    name: Ethics Governance
//	    priority: CRITICAL
//	    capabilities: [policy_enforcement]
//	  - id: tactical_edge_ai
//	    priority: HIGH
//	    dependencies: [ethics_governance]
//
// Profile documents overlay the built-in boot profiles:
//
//	profiles:
//	  air_gapped:
//	    description: offline posture
//	    blacklist: [cloud_sync, remote_updates]
//	    max_init_time: 45s
//
// Every document is validated twice: struct tags via
// go-playground/validator, then CUE schema unification. The Watcher
// hot-reloads documents when files under the watched paths change.
package config
