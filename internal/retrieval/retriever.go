// Package retrieval assembles task context from both memory tiers:
// verified rules first, raw episodes second.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/episodic"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/semantic"
	"github.com/fyrsmithlabs/dreamd/internal/vectorstore"
)

const (
	defaultRuleK    = 3
	defaultEpisodeK = 5
)

// Config configures retrieval depth.
type Config struct {
	// RuleK is the maximum number of rules returned.
	RuleK int

	// EpisodeK is the maximum number of episodes returned.
	EpisodeK int
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.RuleK == 0 {
		c.RuleK = defaultRuleK
	}
	if c.EpisodeK == 0 {
		c.EpisodeK = defaultEpisodeK
	}
}

// RuleHit is a retrieved rule with its similarity score.
type RuleHit struct {
	Rule  *memory.Rule
	Score float64
}

// EpisodeHit is a retrieved episode summary with its similarity score.
type EpisodeHit struct {
	ID      string
	Summary string
	Score   float64
}

// Bundle is the retrieval result for one query, rules ranked before
// episodes.
type Bundle struct {
	Rules    []RuleHit
	Episodes []EpisodeHit
}

// ruleResolver resolves a retrieved rule ID to the full committed rule.
type ruleResolver interface {
	Get(id string) (*memory.Rule, error)
}

// Retriever serves hybrid queries over the semantic and episodic tiers.
type Retriever struct {
	vectors vectorstore.Store
	rules   ruleResolver
	config  Config
	logger  *zap.Logger
}

// New creates a retriever. The rule resolver is usually the semantic
// store; it backs retrieved rule IDs with their full bodies and evidence.
func New(vectors vectorstore.Store, rules ruleResolver, config Config, logger *zap.Logger) (*Retriever, error) {
	if vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if rules == nil {
		return nil, fmt.Errorf("rule resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Retriever{vectors: vectors, rules: rules, config: config, logger: logger}, nil
}

// Retrieve returns rules and episodes similar to the query signature.
// Rules come first: a verified generalization outranks any single past
// experience. An errorType, when given, restricts the episode tier to
// that failure class; the rule tier is never filtered by it.
func (r *Retriever) Retrieve(ctx context.Context, query []float32, errorType string) (*Bundle, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query signature is empty")
	}

	bundle := &Bundle{}

	ruleHits, err := r.vectors.Search(ctx, semantic.CollectionName, query, r.config.RuleK, nil)
	if err != nil {
		return nil, fmt.Errorf("searching rules: %w", err)
	}
	for _, hit := range ruleHits {
		rule, err := r.rules.Get(hit.ID)
		if err != nil {
			// The vector index can lag the store across restarts; skip
			// hits the store no longer backs.
			r.logger.Warn("retrieved rule not in semantic store",
				zap.String("id", hit.ID),
				zap.Error(err),
			)
			continue
		}
		bundle.Rules = append(bundle.Rules, RuleHit{Rule: rule, Score: float64(hit.Score)})
	}

	var filters map[string]interface{}
	if errorType != "" {
		filters = map[string]interface{}{"error_type": errorType}
	}
	episodeHits, err := r.vectors.Search(ctx, episodic.CollectionName, query, r.config.EpisodeK, filters)
	if err != nil {
		return nil, fmt.Errorf("searching episodes: %w", err)
	}
	for _, hit := range episodeHits {
		bundle.Episodes = append(bundle.Episodes, EpisodeHit{
			ID:      hit.ID,
			Summary: hit.Content,
			Score:   float64(hit.Score),
		})
	}

	r.logger.Debug("hybrid retrieval completed",
		zap.Int("rules", len(bundle.Rules)),
		zap.Int("episodes", len(bundle.Episodes)),
		zap.String("error_type", errorType),
	)
	return bundle, nil
}

// FormatContext renders the bundle as a prompt preamble, rules before
// episodes. An empty bundle renders to an empty string.
func FormatContext(bundle *Bundle) string {
	if bundle == nil || (len(bundle.Rules) == 0 && len(bundle.Episodes) == 0) {
		return ""
	}

	var b strings.Builder
	if len(bundle.Rules) > 0 {
		b.WriteString("ESTABLISHED RULES:\n")
		for _, hit := range bundle.Rules {
			fmt.Fprintf(&b, "- %s (confidence %.2f)\n", hit.Rule.Body(), hit.Rule.Confidence)
		}
	}
	if len(bundle.Episodes) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("RELEVANT PAST EXPERIENCES:\n")
		for _, hit := range bundle.Episodes {
			fmt.Fprintf(&b, "- %s\n", hit.Summary)
		}
	}
	return b.String()
}
