package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for memory records.
var (
	ErrEmptyTask        = errors.New("episode task cannot be empty")
	ErrEmptySignature   = errors.New("failure episode requires a signature vector")
	ErrInvalidOutcome   = errors.New("outcome must be 'success' or 'failure'")
	ErrEmptyPrecond     = errors.New("rule precondition cannot be empty")
	ErrEmptyAction      = errors.New("rule action cannot be empty")
	ErrEmptyProvenance  = errors.New("rule provenance cannot be empty")
	ErrInvalidConfScore = errors.New("confidence must be between 0.0 and 1.0")
)

// Outcome represents the result of a task attempt or a scenario execution.
type Outcome string

const (
	// OutcomeSuccess indicates the attempt achieved its goal.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure indicates the attempt did not achieve its goal.
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether the outcome is one of the known values.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Episode is one recorded task attempt with its outcome and context.
//
// Episodes are immutable once recorded and owned exclusively by the
// episodic store. Failure episodes carry a signature vector describing
// the failure mode; the consolidation pipeline clusters on it.
type Episode struct {
	// ID is the unique episode identifier (UUID).
	ID string `json:"id"`

	// Task is a brief description of what the attempt was trying to do.
	Task string `json:"task"`

	// Context is a snapshot of the execution context at attempt time.
	Context string `json:"context,omitempty"`

	// Outcome indicates whether the attempt succeeded or failed.
	Outcome Outcome `json:"outcome"`

	// ErrorType is an optional symbolic label for the failure class
	// (e.g. "timeout", "type-error"). Used by the retriever's pre-filter.
	ErrorType string `json:"error_type,omitempty"`

	// Signature is the failure feature vector. Required for failures,
	// optional for successes.
	Signature []float32 `json:"signature,omitempty"`

	// Timestamp is when the episode was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// NewEpisode creates an episode with a generated UUID and the current time.
func NewEpisode(task, contextSnapshot string, outcome Outcome, signature []float32) (*Episode, error) {
	e := &Episode{
		ID:        uuid.New().String(),
		Task:      task,
		Context:   contextSnapshot,
		Outcome:   outcome,
		Signature: signature,
		Timestamp: time.Now(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks that the episode has valid fields.
func (e *Episode) Validate() error {
	if e.ID == "" {
		return errors.New("episode ID cannot be empty")
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return errors.New("invalid episode ID format")
	}
	if e.Task == "" {
		return ErrEmptyTask
	}
	if !e.Outcome.Valid() {
		return ErrInvalidOutcome
	}
	if e.Outcome == OutcomeFailure && len(e.Signature) == 0 {
		return ErrEmptySignature
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate recorded episodes.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Signature = append([]float32(nil), e.Signature...)
	return &clone
}

// Summary renders the episode as a single line for synthesis prompts.
func (e *Episode) Summary() string {
	var b strings.Builder
	b.WriteString(e.Task)
	if e.ErrorType != "" {
		b.WriteString(" [")
		b.WriteString(e.ErrorType)
		b.WriteString("]")
	}
	if e.Context != "" {
		b.WriteString(": ")
		b.WriteString(e.Context)
	}
	return b.String()
}

// CandidateRule is an unverified, LLM-proposed generalization derived from
// a cluster of failure episodes. It exists only during verification and is
// either promoted to a Rule or discarded.
type CandidateRule struct {
	// ID is the unique candidate identifier (UUID).
	ID string `json:"id"`

	// SourceCluster is the cluster index this candidate was derived from.
	SourceCluster int `json:"source_cluster"`

	// Precondition describes when the rule applies.
	Precondition string `json:"precondition"`

	// Action describes what to do when the precondition holds.
	Action string `json:"action"`

	// Provenance lists the episode IDs the candidate was derived from.
	Provenance []string `json:"provenance"`

	// Signature is the centroid of the source cluster's failure signatures.
	// Carried onto the committed rule for dense retrieval.
	Signature []float32 `json:"signature,omitempty"`
}

// Body renders the candidate as an IF/THEN statement.
func (c *CandidateRule) Body() string {
	return fmt.Sprintf("IF %s THEN %s", c.Precondition, c.Action)
}

// Validate checks that the candidate has valid fields.
func (c *CandidateRule) Validate() error {
	if c.Precondition == "" {
		return ErrEmptyPrecond
	}
	if c.Action == "" {
		return ErrEmptyAction
	}
	if len(c.Provenance) == 0 {
		return ErrEmptyProvenance
	}
	return nil
}

// ScenarioEvidence records the outcome of one verification scenario.
// It is the durable trace kept on a committed rule; the full scenario
// is ephemeral and discarded after the verification decision.
type ScenarioEvidence struct {
	// ScenarioID is the unique scenario identifier (UUID).
	ScenarioID string `json:"scenario_id"`

	// Input is the generated scenario input the rule's action ran against.
	Input string `json:"input,omitempty"`

	// Expected is the outcome the scenario was designed to produce.
	Expected Outcome `json:"expected"`

	// Actual is the outcome the sandbox reported.
	Actual Outcome `json:"actual,omitempty"`

	// Conclusive is false when the sandbox itself failed (infrastructure
	// error, not the rule under test). Inconclusive scenarios are excluded
	// from the acceptance ratio.
	Conclusive bool `json:"conclusive"`

	// NegativeControl marks a scenario expected to violate the rule.
	NegativeControl bool `json:"negative_control"`
}

// Matched reports whether the scenario is conclusive and the actual
// outcome matched the expected one.
func (ev ScenarioEvidence) Matched() bool {
	return ev.Conclusive && ev.Expected == ev.Actual
}

// Rule is a verified generalization committed to the semantic store.
//
// Rules are immutable after commit. A newer rule may deprecate an older
// one through the Supersedes link; the old rule is retained for audit and
// never mutated. Provenance holds weak back-references to episode IDs:
// deleting episodes does not cascade to rules.
type Rule struct {
	// ID is the unique, monotonically assigned rule identifier.
	ID string `json:"id"`

	// Precondition describes when the rule applies.
	Precondition string `json:"precondition"`

	// Action describes what to do when the precondition holds.
	Action string `json:"action"`

	// Confidence is the conclusive-match ratio observed during verification.
	Confidence float64 `json:"confidence"`

	// Provenance lists the failure episode IDs the rule was derived from.
	Provenance []string `json:"provenance"`

	// Evidence holds the per-scenario verification outcomes.
	Evidence []ScenarioEvidence `json:"evidence,omitempty"`

	// Signature is the centroid of the source cluster, used for dense
	// retrieval over the semantic store.
	Signature []float32 `json:"signature,omitempty"`

	// CreatedAt is when the rule was committed.
	CreatedAt time.Time `json:"created_at"`

	// Supersedes optionally names a prior rule this one deprecates.
	Supersedes string `json:"supersedes,omitempty"`
}

// Clone returns a deep copy. The semantic store hands out clones so
// committed rules stay immutable.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Provenance = append([]string(nil), r.Provenance...)
	clone.Evidence = append([]ScenarioEvidence(nil), r.Evidence...)
	clone.Signature = append([]float32(nil), r.Signature...)
	return &clone
}

// Body renders the rule as an IF/THEN statement.
func (r *Rule) Body() string {
	return fmt.Sprintf("IF %s THEN %s", r.Precondition, r.Action)
}

// Validate checks that the rule has valid fields. The ID is assigned by
// the semantic store at commit time and may be empty before then.
func (r *Rule) Validate() error {
	if r.Precondition == "" {
		return ErrEmptyPrecond
	}
	if r.Action == "" {
		return ErrEmptyAction
	}
	if len(r.Provenance) == 0 {
		return ErrEmptyProvenance
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return ErrInvalidConfScore
	}
	return nil
}

// EpisodeSource is the read surface the pipeline needs from the episodic
// store during batch selection.
type EpisodeSource interface {
	// QueryFailures returns a consistent snapshot of failure episodes
	// matching the filter. Episodes appended after the call are not seen
	// by an in-flight consolidation pass.
	QueryFailures(ctx context.Context, filter FailureFilter) ([]*Episode, error)
}

// RuleSink is the write surface the pipeline needs from the semantic store.
type RuleSink interface {
	// Commit atomically assigns the next rule ID and writes the rule.
	// The commit is all-or-nothing: no partially written rule is visible
	// to readers.
	Commit(ctx context.Context, rule *Rule) (string, error)

	// List returns all committed rules in commit order.
	List(ctx context.Context) ([]*Rule, error)
}

// FailureFilter bounds a failure batch selection.
type FailureFilter struct {
	// Limit caps the number of episodes returned. Zero means no cap.
	Limit int

	// Exclude holds episode IDs to skip, typically those already covered
	// by an existing rule's provenance.
	Exclude map[string]bool

	// ErrorType restricts results to a single symbolic failure class.
	// Empty matches all.
	ErrorType string
}
