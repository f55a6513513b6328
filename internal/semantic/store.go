// Package semantic provides the durable store of verified rules.
//
// Rules are committed through a serialized, all-or-nothing path: the
// store assigns monotonically increasing IDs, and a rule becomes visible
// to readers only after its vector write-through has succeeded. Committed
// rules are immutable; a newer rule deprecates an older one through the
// Supersedes link rather than by mutation.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/vectorstore"
)

// CollectionName is the vector store collection for rule signatures.
const CollectionName = "semantic_rules"

var (
	// ErrRuleNotFound indicates the requested rule does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrCommitConflict indicates a restore tried to load two rules with
	// the same ID. Live commits never conflict: the store serializes them
	// and skips past any claimed ID.
	ErrCommitConflict = errors.New("rule ID already committed")
)

// Store holds committed rules in commit order with lookup by ID.
type Store struct {
	mu      sync.Mutex
	rules   map[string]*memory.Rule
	order   []string
	nextSeq int

	vectors vectorstore.Store
	journal *Journal
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithJournal attaches an append-only journal. Every successful commit
// is appended; replay it through Restore at startup.
func WithJournal(journal *Journal) Option {
	return func(s *Store) {
		s.journal = journal
	}
}

// New creates a semantic store. The vector store may be nil, in which
// case rules are held in-process only and dense retrieval over them is
// unavailable.
func New(vectors vectorstore.Store, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		rules:   make(map[string]*memory.Rule),
		nextSeq: 1,
		vectors: vectors,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads previously committed rules, keeping their IDs, and
// advances the ID sequence past the highest one seen. Used at startup to
// rebuild the store from its journal.
func (s *Store) Restore(rules []*memory.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range rules {
		if rule.ID == "" {
			return errors.New("restored rule has no ID")
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("validating restored rule %s: %w", rule.ID, err)
		}
		if _, exists := s.rules[rule.ID]; exists {
			return fmt.Errorf("%w: %s", ErrCommitConflict, rule.ID)
		}

		var seq int
		if _, err := fmt.Sscanf(rule.ID, "rule-%06d", &seq); err != nil {
			return fmt.Errorf("unrecognized rule ID %q: %w", rule.ID, err)
		}
		if seq >= s.nextSeq {
			s.nextSeq = seq + 1
		}

		s.rules[rule.ID] = rule.Clone()
		s.order = append(s.order, rule.ID)
	}
	return nil
}

// Commit assigns the next rule ID and durably records the rule. The
// write is all-or-nothing: if the vector write-through fails, the rule is
// not published and the ID is not consumed by a later retry of the same
// rule. Commits are serialized, so two concurrent commits always receive
// distinct IDs.
func (s *Store) Commit(ctx context.Context, rule *memory.Rule) (string, error) {
	if rule == nil {
		return "", errors.New("rule is nil")
	}
	if err := rule.Validate(); err != nil {
		return "", fmt.Errorf("validating rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A claimed ID means the sequence lags the published rules, which can
	// only happen after a partial restore. Skip forward to a fresh ID.
	id := fmt.Sprintf("rule-%06d", s.nextSeq)
	for _, exists := s.rules[id]; exists; _, exists = s.rules[id] {
		s.logger.Warn("rule ID already claimed, advancing sequence", zap.String("id", id))
		s.nextSeq++
		id = fmt.Sprintf("rule-%06d", s.nextSeq)
	}

	stored := rule.Clone()
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	// Vector write-through happens before the rule is published so a
	// failed write leaves no partially visible rule.
	if s.vectors != nil && len(stored.Signature) > 0 {
		if _, err := s.vectors.Add(ctx, []vectorstore.Document{ruleDocument(stored)}); err != nil {
			return "", fmt.Errorf("rule vector write-through: %w", err)
		}
	}

	s.nextSeq++
	s.rules[id] = stored
	s.order = append(s.order, id)

	if s.journal != nil {
		if err := s.journal.Append(stored); err != nil {
			// The rule is already visible; losing the journal line costs
			// durability across restarts, not correctness now.
			s.logger.Warn("rule journal append failed",
				zap.String("id", id),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("rule committed",
		zap.String("id", id),
		zap.Float64("confidence", stored.Confidence),
		zap.Int("provenance", len(stored.Provenance)),
		zap.String("supersedes", stored.Supersedes),
	)
	return id, nil
}

// Get returns a copy of the rule with the given ID.
func (s *Store) Get(id string) (*memory.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.Clone(), nil
}

// List returns all committed rules in commit order, superseded ones
// included.
func (s *Store) List(ctx context.Context) ([]*memory.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*memory.Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id].Clone())
	}
	return out, nil
}

// Active returns committed rules that no newer rule supersedes, in
// commit order.
func (s *Store) Active(ctx context.Context) ([]*memory.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	superseded := make(map[string]bool, len(s.order))
	for _, id := range s.order {
		if prior := s.rules[id].Supersedes; prior != "" {
			superseded[prior] = true
		}
	}

	var out []*memory.Rule
	for _, id := range s.order {
		if superseded[id] {
			continue
		}
		out = append(out, s.rules[id].Clone())
	}
	return out, nil
}

// CoveredEpisodes returns the set of episode IDs already cited in the
// provenance of any committed rule. The consolidation pass excludes them
// from batch selection.
func (s *Store) CoveredEpisodes() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	covered := make(map[string]bool)
	for _, id := range s.order {
		for _, epID := range s.rules[id].Provenance {
			covered[epID] = true
		}
	}
	return covered
}

// Len returns the number of committed rules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func ruleDocument(rule *memory.Rule) vectorstore.Document {
	return vectorstore.Document{
		ID:      rule.ID,
		Content: rule.Body(),
		Vector:  rule.Signature,
		Metadata: map[string]interface{}{
			"confidence": fmt.Sprintf("%.2f", rule.Confidence),
			"supersedes": rule.Supersedes,
		},
		Collection: CollectionName,
	}
}

var _ memory.RuleSink = (*Store)(nil)
