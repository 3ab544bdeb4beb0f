package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/fraudshield/kestrel/internal/domain"
)

// Catalog holds the compiled rule set, indexed by category for matching.
// Compilation happens once per load; matching only reads.
type Catalog struct {
	mu       sync.RWMutex
	envs     map[domain.RuleCategory]*cel.Env
	compiled map[uuid.UUID]*CompiledRule
}

// CompiledRule pairs a rule definition with its pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.FraudRule
	Program cel.Program
}

// NewCatalog creates an empty catalog with one CEL environment per category.
func NewCatalog() (*Catalog, error) {
	envs := make(map[domain.RuleCategory]*cel.Env)
	for _, cat := range []domain.RuleCategory{
		domain.CategoryTransaction,
		domain.CategoryAccount,
		domain.CategoryIP,
		domain.CategoryNetwork,
		domain.CategoryDevice,
		domain.CategorySession,
	} {
		env, err := newCategoryEnv(cat)
		if err != nil {
			return nil, fmt.Errorf("failed to create environment for %s: %w", cat, err)
		}
		envs[cat] = env
	}

	return &Catalog{
		envs:     envs,
		compiled: make(map[uuid.UUID]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule's condition without loading it.
func (c *Catalog) ValidateRule(rule *domain.FraudRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := c.compileRule(rule)
	return err
}

// LoadRule compiles and loads one rule, replacing any prior version.
func (c *Catalog) LoadRule(rule *domain.FraudRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	compiled, err := c.compileRule(rule)
	if err != nil {
		return err
	}

	c.compiled[rule.ID] = compiled
	return nil
}

// RemoveRule unloads a rule. Removing an unknown rule is a no-op.
func (c *Catalog) RemoveRule(ruleID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.compiled, ruleID)
}

// ReloadRules atomically replaces the entire catalog contents.
// This enables hot-reloading of rules from the database.
func (c *Catalog) ReloadRules(rls []*domain.FraudRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[uuid.UUID]*CompiledRule, len(rls))
	for _, rule := range rls {
		compiled, err := c.compileRule(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	c.compiled = next
	return nil
}

// MatchableRules returns the rules matchable for a category at the given
// instant, ordered by priority then creation time so that equal-priority
// rules run in the order they were defined.
func (c *Catalog) MatchableRules(category domain.RuleCategory, now time.Time, testMode bool) []*CompiledRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*CompiledRule
	for _, compiled := range c.compiled {
		if compiled.Rule.Category != category {
			continue
		}
		if !compiled.Rule.MatchableAt(now, testMode) {
			continue
		}
		out = append(out, compiled)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Rule, out[j].Rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.RuleCode < b.RuleCode
	})

	return out
}

// RulesCount returns the number of loaded rules.
func (c *Catalog) RulesCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

// LoadedRules returns the currently loaded rule definitions.
func (c *Catalog) LoadedRules() []*domain.FraudRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rls := make([]*domain.FraudRule, 0, len(c.compiled))
	for _, compiled := range c.compiled {
		rls = append(rls, compiled.Rule)
	}
	return rls
}

// Close clears the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compiled = make(map[uuid.UUID]*CompiledRule)
	return nil
}

func (c *Catalog) compileRule(rule *domain.FraudRule) (*CompiledRule, error) {
	env, ok := c.envs[rule.Category]
	if !ok {
		return nil, fmt.Errorf("%w: unknown rule category %q", domain.ErrInvalidInput, rule.Category)
	}

	program, err := compileCondition(env, rule.RuleCode, rule.Condition)
	if err != nil {
		return nil, err
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
