// Package verify tests candidate rules against generated counterfactual
// scenarios before they are allowed into the semantic store.
//
// Verification fails closed: a candidate is accepted only on positive,
// conclusive evidence. Infrastructure trouble (a sandbox that cannot run,
// a collaborator that stays down) can never promote a rule.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/sandbox"
)

const (
	defaultScenarios       = 5
	defaultAcceptThreshold = 0.8
	defaultMaxRetries      = 3
	defaultBaseBackoff     = 500 * time.Millisecond
)

// scenarioSchema is the structured shape of a generated scenario.
var scenarioSchema = llm.Schema{
	Name:     "scenario",
	Fields:   []string{"INPUT", "EXPECTED_OUTCOME"},
	Required: []string{"INPUT"},
}

// Config configures the verifier.
type Config struct {
	// Scenarios is the number of counterfactual scenarios per candidate.
	// The last one is always a negative control.
	Scenarios int

	// AcceptThreshold is the minimum conclusive-match ratio for acceptance.
	AcceptThreshold float64

	// MaxRetries bounds per-scenario retries on transient failures.
	MaxRetries int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Scenarios == 0 {
		c.Scenarios = defaultScenarios
	}
	if c.AcceptThreshold == 0 {
		c.AcceptThreshold = defaultAcceptThreshold
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Scenarios < 2 {
		return fmt.Errorf("at least 2 scenarios required (one negative control), got %d", c.Scenarios)
	}
	if c.AcceptThreshold <= 0 || c.AcceptThreshold > 1 {
		return fmt.Errorf("accept threshold must be in (0, 1], got %f", c.AcceptThreshold)
	}
	return nil
}

// Verdict is the outcome of verifying one candidate.
type Verdict struct {
	// Accepted reports whether the candidate passed verification.
	Accepted bool

	// Confidence is the conclusive-match ratio, 0 when nothing was
	// conclusive.
	Confidence float64

	// Evidence holds the per-scenario outcomes, negative control included.
	Evidence []memory.ScenarioEvidence

	// Reason is a short human-readable explanation of the verdict.
	Reason string
}

// Verifier runs candidates through generated scenarios in a sandbox.
type Verifier struct {
	generator llm.Generator
	executor  sandbox.Executor
	config    Config
	logger    *zap.Logger
}

// New creates a verifier.
func New(generator llm.Generator, executor sandbox.Executor, config Config, logger *zap.Logger) (*Verifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Verifier{generator: generator, executor: executor, config: config, logger: logger}, nil
}

// Verify runs the candidate through the configured number of scenarios
// and decides acceptance. Acceptance requires the conclusive-match ratio
// to reach the threshold AND at least one conclusive negative control to
// fail as expected; a rule whose negative controls cannot demonstrate
// failure is vacuous. Context cancellation propagates as an error.
func (v *Verifier) Verify(ctx context.Context, candidate *memory.CandidateRule) (*Verdict, error) {
	if candidate == nil {
		return nil, fmt.Errorf("candidate is nil")
	}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("validating candidate: %w", err)
	}

	evidence := make([]memory.ScenarioEvidence, 0, v.config.Scenarios)
	for i := 0; i < v.config.Scenarios; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		negative := i == v.config.Scenarios-1
		ev := v.runScenario(ctx, candidate, negative)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		evidence = append(evidence, ev)
	}

	verdict := v.decide(evidence)
	v.logger.Info("candidate verified",
		zap.String("candidate", candidate.ID),
		zap.Bool("accepted", verdict.Accepted),
		zap.Float64("confidence", verdict.Confidence),
		zap.String("reason", verdict.Reason),
	)
	return verdict, nil
}

// runScenario generates one scenario and executes the candidate's action
// against it. Any failure of the machinery itself yields inconclusive
// evidence rather than an error: one bad scenario must not abort the
// whole verification.
func (v *Verifier) runScenario(ctx context.Context, candidate *memory.CandidateRule, negative bool) memory.ScenarioEvidence {
	ev := memory.ScenarioEvidence{
		ScenarioID:      uuid.New().String(),
		Expected:        memory.OutcomeSuccess,
		NegativeControl: negative,
	}
	if negative {
		ev.Expected = memory.OutcomeFailure
	}

	input, err := v.generateInput(ctx, candidate, negative)
	if err != nil {
		v.logger.Warn("scenario generation failed, marking inconclusive",
			zap.String("candidate", candidate.ID),
			zap.Bool("negative_control", negative),
			zap.Error(err),
		)
		return ev
	}
	ev.Input = input

	result, err := v.execute(ctx, candidate.Action, input)
	if err != nil {
		v.logger.Warn("sandbox execution failed, marking inconclusive",
			zap.String("candidate", candidate.ID),
			zap.Error(err),
		)
		return ev
	}

	ev.Actual = result.Outcome
	ev.Conclusive = true
	return ev
}

// generateInput asks the collaborator for a synthetic input, retrying
// transient failures with exponential backoff.
func (v *Verifier) generateInput(ctx context.Context, candidate *memory.CandidateRule, negative bool) (string, error) {
	prompt := buildScenarioPrompt(candidate, negative)

	var fields llm.Fields
	var err error
	for attempt := 0; attempt <= v.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := v.config.BaseBackoff * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		fields, err = v.generator.Generate(ctx, prompt, scenarioSchema)
		if err == nil {
			return fields["INPUT"], nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !llm.IsTransient(err) {
			return "", err
		}
	}
	return "", err
}

// execute runs the action in the sandbox, retrying infrastructure
// failures. A clean run that reports failure is a result, not an error.
func (v *Verifier) execute(ctx context.Context, action, input string) (*sandbox.Result, error) {
	var result *sandbox.Result
	var err error
	for attempt := 0; attempt <= v.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := v.config.BaseBackoff * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err = v.executor.Execute(ctx, action, input)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, err
}

// decide applies the fail-closed acceptance policy to the evidence.
func (v *Verifier) decide(evidence []memory.ScenarioEvidence) *Verdict {
	verdict := &Verdict{Evidence: evidence}

	conclusive := 0
	matched := 0
	controlFailed := false
	for _, ev := range evidence {
		if !ev.Conclusive {
			continue
		}
		conclusive++
		if ev.Matched() {
			matched++
		}
		if ev.NegativeControl && ev.Actual == memory.OutcomeFailure {
			controlFailed = true
		}
	}

	if conclusive == 0 {
		verdict.Reason = "no conclusive scenarios"
		return verdict
	}
	verdict.Confidence = float64(matched) / float64(conclusive)

	switch {
	case verdict.Confidence < v.config.AcceptThreshold:
		verdict.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f", verdict.Confidence, v.config.AcceptThreshold)
	case !controlFailed:
		verdict.Reason = "no negative control demonstrated failure"
	default:
		verdict.Accepted = true
		verdict.Reason = fmt.Sprintf("confidence %.2f with failing negative control", verdict.Confidence)
	}
	return verdict
}

// buildScenarioPrompt asks for a synthetic input that either satisfies the
// precondition (positive scenario) or deliberately violates it (negative
// control).
func buildScenarioPrompt(candidate *memory.CandidateRule, negative bool) string {
	mode := "satisfies"
	if negative {
		mode = "violates"
	}
	return fmt.Sprintf(
		"A proposed rule states: %s\n\n"+
			"Construct one concrete test input that %s the precondition.\n"+
			"Answer with labeled fields:\n"+
			"INPUT: <the test input>\n"+
			"EXPECTED_OUTCOME: <success or failure>\n",
		candidate.Body(), mode,
	)
}
