package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/bastion-runtime/bastion/pkg/boot"
)

// Engine evaluates Rego approval policies. It implements
// boot.ApprovalPolicy, so it plugs directly into the boot controller.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a new approval policy engine with the built-in
// policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Approve evaluates every enabled policy against the request. The request
// is approved when no policy denies it; the first denial wins otherwise.
func (e *Engine) Approve(ctx context.Context, req boot.ApprovalRequest) (boot.ApprovalDecision, error) {
	input := ApprovalInput{
		SubsystemID: req.SubsystemID,
		Priority:    req.Priority,
		MustConsult: req.MustConsult,
		Metadata:    req.Metadata,
	}
	if input.MustConsult == nil {
		input.MustConsult = []string{}
	}

	denials, err := e.EvaluateApproval(ctx, input)
	if err != nil {
		return boot.ApprovalDecision{}, err
	}

	if len(denials) > 0 {
		return boot.ApprovalDecision{
			Approved:  false,
			Reasoning: fmt.Sprintf("denied by policy %s: %s", denials[0].Policy, denials[0].Message),
		}, nil
	}

	reasoning := "approved: no policy objections"
	if req.Priority == "CRITICAL" || req.Priority == "HIGH" {
		reasoning = fmt.Sprintf("approved: %s priority subsystem, no policy objections", req.Priority)
	}
	return boot.ApprovalDecision{Approved: true, Reasoning: reasoning}, nil
}

// EvaluateApproval runs every enabled policy and collects denials.
func (e *Engine) EvaluateApproval(ctx context.Context, input ApprovalInput) ([]Denial, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var denials []Denial
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		ds, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("subsystem", input.SubsystemID).
				Msg("policy evaluation failed")
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		denials = append(denials, ds...)
	}

	e.logger.Debug().
		Str("subsystem", input.SubsystemID).
		Int("denials", len(denials)).
		Msg("approval evaluation completed")
	return denials, nil
}

// evaluatePolicy queries the policy package's deny set.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input ApprovalInput) ([]Denial, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var denials []Denial
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			denials = append(denials, e.createDenial(cp.policy, d))
		}
	}
	return denials, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(regoSrc string) string {
	for _, line := range strings.Split(regoSrc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "bastion.approval"
}

// createDenial converts a raw deny result into a Denial.
func (e *Engine) createDenial(policy *Policy, result interface{}) Denial {
	denial := Denial{Policy: policy.Name}

	switch v := result.(type) {
	case string:
		denial.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			denial.Message = msg
		}
	default:
		denial.Message = fmt.Sprintf("%v", result)
	}

	return denial
}

// LoadPolicies loads policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(&policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("policies loaded")
	return nil
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("policy compiled")
	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(_ context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(&e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtinPolicies)).
		Msg("built-in policies loaded")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// ReloadPolicies drops everything and reloads the built-in policies.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")
	return nil
}
