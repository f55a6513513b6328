// Package synthesis proposes candidate rules from clusters of failure
// episodes using a text-generation collaborator.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/cluster"
	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
)

// ruleSchema is the structured shape a synthesis response must have.
var ruleSchema = llm.Schema{
	Name:     "candidate_rule",
	Fields:   []string{"PRECONDITION", "ACTION"},
	Required: []string{"PRECONDITION", "ACTION"},
}

// Config configures the synthesizer's retry policy.
type Config struct {
	// MaxRetries bounds attempts per cluster on transient failures.
	MaxRetries int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Synthesizer turns one failure cluster into at most one candidate rule.
type Synthesizer struct {
	generator llm.Generator
	config    Config
	logger    *zap.Logger
}

// New creates a synthesizer.
func New(generator llm.Generator, config Config, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Synthesizer{generator: generator, config: config, logger: logger}
}

// Synthesize proposes a candidate rule for the cluster. A nil candidate
// with a nil error means the cluster yielded nothing usable this pass:
// the collaborator produced a malformed response or stayed unavailable
// through all retries. Context cancellation propagates as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, c *cluster.Cluster) (*memory.CandidateRule, error) {
	if c == nil || len(c.Members) == 0 {
		return nil, fmt.Errorf("cluster has no members")
	}

	prompt := buildPrompt(c.Members)

	var fields llm.Fields
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.config.BaseBackoff * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		fields, err = s.generator.Generate(ctx, prompt, ruleSchema)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if llm.IsSchemaViolation(err) {
			// Malformed output is not retried: the same prompt tends to
			// produce the same shape. Skip the cluster this pass.
			s.logger.Warn("discarding malformed synthesis response",
				zap.Int("cluster", c.ID),
				zap.Error(err),
			)
			return nil, nil
		}
		if !llm.IsTransient(err) {
			return nil, fmt.Errorf("synthesizing rule for cluster %d: %w", c.ID, err)
		}
		s.logger.Warn("transient synthesis failure, retrying",
			zap.Int("cluster", c.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	if err != nil {
		s.logger.Warn("synthesis retries exhausted, skipping cluster",
			zap.Int("cluster", c.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	candidate := &memory.CandidateRule{
		ID:            uuid.New().String(),
		SourceCluster: c.ID,
		Precondition:  fields["PRECONDITION"],
		Action:        fields["ACTION"],
		Provenance:    c.MemberIDs(),
		Signature:     c.Centroid,
	}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("candidate for cluster %d: %w", c.ID, err)
	}

	s.logger.Debug("candidate rule synthesized",
		zap.Int("cluster", c.ID),
		zap.String("candidate", candidate.ID),
		zap.Int("provenance", len(candidate.Provenance)),
	)
	return candidate, nil
}

// buildPrompt renders the cluster's episodes as a numbered list and asks
// for one generalized IF/THEN rule covering the shared failure mode.
func buildPrompt(members []*memory.Episode) string {
	var b strings.Builder
	b.WriteString("The following task attempts all failed in a similar way:\n\n")
	for i, ep := range members {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ep.Summary())
	}
	b.WriteString("\nState one general rule that would have avoided these failures.\n")
	b.WriteString("Answer with exactly two labeled fields:\n")
	b.WriteString("PRECONDITION: <when the rule applies>\n")
	b.WriteString("ACTION: <what to do instead>\n")
	return b.String()
}
