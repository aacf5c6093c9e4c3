// Package rules provides the CEL-Go based factor rule engine. Operators write
// boolean expressions over normalized features and model scores; every rule
// that evaluates to true contributes its tag to the result's risk factors.
package rules

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// costLimit bounds the work one expression may do per evaluation.
	costLimit = 100_000
	// interruptEvery is how many comprehension iterations run between
	// context checks.
	interruptEvery = 100
)

// Engine evaluates compiled factor rules. The loaded set is immutable and
// swapped whole, so Evaluate never waits on a reload.
type Engine struct {
	env        *cel.Env
	maxWorkers int

	mu  sync.Mutex // serializes writers
	set atomic.Pointer[ruleSet]
}

// ruleSet maps a tenant (or domain.GlobalTenantID) to its rules in ID order.
type ruleSet map[string][]*CompiledRule

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.FactorRule
	Program cel.Program
}

// Match is a rule that fired.
type Match struct {
	RuleID       string
	Tag          string
	Significance float64
}

// NewEngine creates an engine that evaluates at most maxWorkers rules at once.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	opts := make([]cel.EnvOption, 0, len(variables))
	for _, v := range variables {
		opts = append(opts, cel.Variable(v.name, v.typ))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env, maxWorkers: maxWorkers}
	e.set.Store(&ruleSet{})
	return e, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.FactorRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles and loads one rule, replacing the tenant's rule with the
// same ID. Loading a disabled rule unloads it.
func (e *Engine) LoadRule(cfg *domain.FactorRule) error {
	var compiled *CompiledRule
	if cfg.Enabled {
		var err error
		if compiled, err = e.compile(cfg); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(ruleSet)
	for tenant, rules := range *e.set.Load() {
		next[tenant] = slices.DeleteFunc(slices.Clone(rules), func(r *CompiledRule) bool {
			return tenant == cfg.TenantID && r.Config.ID == cfg.ID
		})
	}
	if compiled != nil {
		next.add(compiled)
	}
	next.sort()
	e.set.Store(&next)
	return nil
}

// ReloadRules replaces every loaded rule. Nothing changes if any enabled
// rule fails to compile.
func (e *Engine) ReloadRules(configs []*domain.FactorRule) error {
	next := make(ruleSet)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next.add(compiled)
	}
	next.sort()

	e.mu.Lock()
	e.set.Store(&next)
	e.mu.Unlock()
	return nil
}

// Evaluate runs the tenant's rules and the global rules that apply to kind.
// Matches come back in rule ID order; a rule that errors is skipped.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, kind domain.ResultKind, activation map[string]any) []Match {
	rules := e.applicable(tenantID, kind)
	if len(rules) == 0 {
		return nil
	}

	fired := make([]bool, len(rules))
	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup
	for i, r := range rules {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			fired[i] = e.fires(ctx, r, activation)
		}()
	}
	wg.Wait()

	var matches []Match
	for i, r := range rules {
		if fired[i] {
			matches = append(matches, Match{
				RuleID:       r.Config.ID,
				Tag:          r.Config.Tag,
				Significance: r.Config.Significance,
			})
		}
	}
	return matches
}

func (e *Engine) fires(ctx context.Context, r *CompiledRule, activation map[string]any) bool {
	if ctx.Err() != nil {
		return false
	}
	out, _, err := r.Program.ContextEval(ctx, activation)
	if err != nil {
		slog.Debug("factor rule evaluation failed", "rule_id", r.Config.ID, "tenant_id", r.Config.TenantID, "error", err)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func (e *Engine) applicable(tenantID string, kind domain.ResultKind) []*CompiledRule {
	set := *e.set.Load()
	var out []*CompiledRule
	for _, r := range set[tenantID] {
		if r.Config.AppliesTo(kind) {
			out = append(out, r)
		}
	}
	if tenantID != domain.GlobalTenantID {
		for _, r := range set[domain.GlobalTenantID] {
			if r.Config.AppliesTo(kind) {
				out = append(out, r)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})
	return out
}

// RulesCount returns the number of loaded rules across all tenants.
func (e *Engine) RulesCount() int {
	n := 0
	for _, rules := range *e.set.Load() {
		n += len(rules)
	}
	return n
}

// GetLoadedRules returns the loaded rule configurations ordered by ID, then tenant.
func (e *Engine) GetLoadedRules() []*domain.FactorRule {
	var out []*domain.FactorRule
	for _, rules := range *e.set.Load() {
		for _, r := range rules {
			out = append(out, r.Config)
		}
	}
	slices.SortFunc(out, func(a, b *domain.FactorRule) int {
		return cmp.Or(strings.Compare(a.ID, b.ID), strings.Compare(a.TenantID, b.TenantID))
	})
	return out
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.set.Store(&ruleSet{})
	e.mu.Unlock()
	return nil
}

func (e *Engine) compile(cfg *domain.FactorRule) (*CompiledRule, error) {
	if strings.TrimSpace(cfg.Tag) == "" {
		return nil, fmt.Errorf("rule %s: tag is required", cfg.ID)
	}
	if cfg.Significance < 0 || cfg.Significance > 1 {
		return nil, fmt.Errorf("rule %s: significance must be within [0,1]", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast,
		cel.CostLimit(costLimit),
		cel.InterruptCheckFrequency(interruptEvery),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}
	return &CompiledRule{Config: cfg, Program: program}, nil
}

func (s ruleSet) add(r *CompiledRule) {
	t := r.Config.TenantID
	s[t] = slices.DeleteFunc(s[t], func(x *CompiledRule) bool { return x.Config.ID == r.Config.ID })
	s[t] = append(s[t], r)
}

func (s ruleSet) sort() {
	for t, rules := range s {
		if len(rules) == 0 {
			delete(s, t)
			continue
		}
		slices.SortFunc(rules, func(a, b *CompiledRule) int { return strings.Compare(a.Config.ID, b.Config.ID) })
	}
}
