package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
)

// Snapshot is an immutable view of the enabled rules, ordered by priority
// then ID. Callers must not modify it.
type Snapshot struct {
	Version  uint64
	Rules    []*CompiledRule
	LoadedAt time.Time
}

// Len returns the number of enabled rules.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rules)
}

// Store is the rule store. Writes go to the repository and are serialized;
// every successful write publishes a fresh snapshot. Readers take the
// current snapshot without locking.
type Store struct {
	repo     domain.RuleRepository
	compiler *Compiler
	metrics  *metrics.Metrics

	writeMu sync.Mutex
	version uint64
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store and loads the initial snapshot.
func NewStore(ctx context.Context, repo domain.RuleRepository, compiler *Compiler, m *metrics.Metrics) (*Store, error) {
	s := &Store{
		repo:     repo,
		compiler: compiler,
		metrics:  m,
	}
	s.current.Store(&Snapshot{LoadedAt: time.Now().UTC()})

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current enabled-rule snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Compiler returns the compiler used to validate submissions.
func (s *Store) Compiler() *Compiler {
	return s.compiler
}

// Create validates and persists a new rule.
func (s *Store) Create(ctx context.Context, rule *domain.FraudRule) (*domain.FraudRule, error) {
	if err := s.compiler.Validate(rule); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created := *rule
	created.ID = 0
	if err := s.repo.CreateRule(ctx, &created); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.refreshLocked(ctx)
	return &created, nil
}

// Update validates and overwrites the rule with the given id.
func (s *Store) Update(ctx context.Context, id int64, rule *domain.FraudRule) (*domain.FraudRule, error) {
	if err := s.compiler.Validate(rule); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updated := *rule
	updated.ID = id
	if err := s.repo.UpdateRule(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update rule %d: %w", id, err)
	}

	s.refreshLocked(ctx)
	return &updated, nil
}

// Toggle flips the enabled flag of a rule.
func (s *Store) Toggle(ctx context.Context, id int64) (*domain.FraudRule, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rule, err := s.repo.ToggleRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to toggle rule %d: %w", id, err)
	}

	s.refreshLocked(ctx)
	return rule, nil
}

// Delete removes a rule permanently.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}

	s.refreshLocked(ctx)
	return nil
}

// Get returns one rule.
func (s *Store) Get(ctx context.Context, id int64) (*domain.FraudRule, error) {
	return s.repo.GetRule(ctx, id)
}

// List returns every rule, enabled or not, ordered by priority then ID.
func (s *Store) List(ctx context.Context) ([]*domain.FraudRule, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	sortRules(rules)
	return rules, nil
}

// ListEnabled returns the enabled rules of the current snapshot.
func (s *Store) ListEnabled() []*domain.FraudRule {
	snap := s.Snapshot()
	out := make([]*domain.FraudRule, len(snap.Rules))
	for i, cr := range snap.Rules {
		rule := cr.Rule
		out[i] = &rule
	}
	return out
}

// Reload rebuilds the snapshot from the repository.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.rebuildLocked(ctx)
}

// refreshLocked rebuilds after a write. The write itself already
// succeeded, so a failure keeps the previous snapshot and is logged.
func (s *Store) refreshLocked(ctx context.Context) {
	if err := s.rebuildLocked(ctx); err != nil {
		slog.Error("rule snapshot refresh failed, serving previous snapshot",
			"version", s.version,
			"error", err,
		)
	}
}

func (s *Store) rebuildLocked(ctx context.Context) error {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	sortRules(rules)

	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		cr := s.compiler.Compile(rule)
		if cr.ActionErr != nil {
			slog.Warn("rule action config unreadable, dispatch will fall back",
				"rule_id", rule.ID,
				"error", cr.ActionErr,
			)
		}
		compiled = append(compiled, cr)
	}

	s.version++
	s.current.Store(&Snapshot{
		Version:  s.version,
		Rules:    compiled,
		LoadedAt: time.Now().UTC(),
	})
	s.metrics.SetEnabledRules(len(compiled))

	slog.Debug("rule snapshot published", "version", s.version, "enabled_rules", len(compiled))
	return nil
}

func sortRules(rules []*domain.FraudRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
