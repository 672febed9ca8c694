package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// Config is the data exposed to policies as data.config.
type Config struct {
	// AllowedDirs are the directories libraries may be loaded from.
	// With no directories every library is denied.
	AllowedDirs []string `json:"allowed_dirs"`

	// AllowedChecksums, when set, restricts libraries to these
	// "sha256:<hex>" digests.
	AllowedChecksums []string `json:"allowed_checksums"`

	// ReservedNames may not be requested from a library.
	ReservedNames []string `json:"reserved_names"`
}

// Engine evaluates admission policies. It implements script.Admitter.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy represents a prepared Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(ctx context.Context, cfg Config, logger zerolog.Logger) (*Engine, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    store,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.compileAndStorePolicy(ctx, &p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// newStore builds the in-memory data document from cfg. Directories are
// cleaned and resolved like library paths so prefix checks line up.
func newStore(cfg Config) (storage.Store, error) {
	normalized := Config{
		AllowedDirs:      make([]string, 0, len(cfg.AllowedDirs)),
		AllowedChecksums: make([]string, 0, len(cfg.AllowedChecksums)),
		ReservedNames:    make([]string, 0, len(cfg.ReservedNames)),
	}
	for _, d := range cfg.AllowedDirs {
		normalized.AllowedDirs = append(normalized.AllowedDirs, canonicalDir(d))
	}
	for _, c := range cfg.AllowedChecksums {
		normalized.AllowedChecksums = append(normalized.AllowedChecksums, strings.ToLower(c))
	}
	normalized.ReservedNames = append(normalized.ReservedNames, cfg.ReservedNames...)

	data, err := json.Marshal(map[string]interface{}{"config": normalized})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy data: %w", err)
	}
	return inmem.NewFromReader(bytes.NewReader(data)), nil
}

func canonicalDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Admit implements script.Admitter.
func (e *Engine) Admit(ctx context.Context, req script.AdmissionRequest) error {
	decision, err := e.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &DeniedError{Path: req.Path, Violations: decision.Violations}
	}
	return nil
}

// Evaluate evaluates every enabled policy against req.
func (e *Engine) Evaluate(ctx context.Context, req script.AdmissionRequest) (*Decision, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		messages, err := evaluatePolicy(ctx, cp, req)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", name, err)
		}

		for _, msg := range messages {
			v := Violation{Policy: name, Message: msg, Severity: cp.policy.Severity}
			if v.Severity.Blocking() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.EvaluatedAt = time.Now()
	decision.Duration = time.Since(start)

	e.logger.Debug().
		Str("path", req.Path).
		Str("instruction", req.Instruction).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Library admission evaluated")

	return decision, nil
}

// evaluatePolicy returns the deny messages of a policy.
func evaluatePolicy(ctx context.Context, cp *compiledPolicy, req script.AdmissionRequest) ([]string, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(req))
	if err != nil {
		return nil, err
	}

	var messages []string
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		set, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range set {
			switch v := d.(type) {
			case string:
				messages = append(messages, v)
			case map[string]interface{}:
				if msg, ok := v["message"].(string); ok {
					messages = append(messages, msg)
					continue
				}
				messages = append(messages, fmt.Sprintf("%v", v))
			default:
				messages = append(messages, fmt.Sprintf("%v", v))
			}
		}
	}
	sort.Strings(messages)
	return messages, nil
}

// LoadPolicies compiles additional policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// compileAndStorePolicy parses a policy and prepares its deny query.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.Debug().Str("policy", policy.Name).Str("query", query).Msg("Policy compiled")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}

var _ script.Admitter = (*Engine)(nil)
