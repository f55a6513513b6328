package verify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/sandbox"
)

// fakeGenerator produces scenario inputs, failing on selected calls.
type fakeGenerator struct {
	calls   int
	failOn  map[int]error
	garbled map[int]bool
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, schema llm.Schema) (llm.Fields, error) {
	call := g.calls
	g.calls++
	if err, ok := g.failOn[call]; ok {
		return nil, err
	}
	if g.garbled[call] {
		return llm.ParseFields("unusable prose", schema)
	}
	mode := "positive"
	if strings.Contains(prompt, "violates") {
		mode = "negative"
	}
	return llm.Fields{"INPUT": mode + " input", "EXPECTED_OUTCOME": "success"}, nil
}

// fakeExecutor maps inputs to outcomes; unknown inputs error.
type fakeExecutor struct {
	calls    int
	outcomes map[string]memory.Outcome
	failOn   map[int]error
}

func (e *fakeExecutor) Execute(ctx context.Context, action, input string) (*sandbox.Result, error) {
	call := e.calls
	e.calls++
	if err, ok := e.failOn[call]; ok {
		return nil, err
	}
	outcome, ok := e.outcomes[input]
	if !ok {
		return nil, sandbox.ErrExecution
	}
	return &sandbox.Result{Outcome: outcome}, nil
}

func testCandidate() *memory.CandidateRule {
	return &memory.CandidateRule{
		ID:           "cand-1",
		Precondition: "the page loads content lazily",
		Action:       "wait for network idle before reading",
		Provenance:   []string{"ep-1", "ep-2"},
		Signature:    []float32{0.1, 0.9},
	}
}

// honestExecutor behaves the way a sound rule should: positive scenarios
// succeed and the negative control fails.
func honestExecutor() *fakeExecutor {
	return &fakeExecutor{outcomes: map[string]memory.Outcome{
		"positive input": memory.OutcomeSuccess,
		"negative input": memory.OutcomeFailure,
	}}
}

func newVerifier(t *testing.T, gen llm.Generator, exec sandbox.Executor, cfg Config) *Verifier {
	t.Helper()
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = time.Millisecond
	}
	v, err := New(gen, exec, cfg, nil)
	require.NoError(t, err)
	return v
}

func TestVerifier_AcceptsSoundRule(t *testing.T) {
	v := newVerifier(t, &fakeGenerator{}, honestExecutor(), Config{Scenarios: 5})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)

	assert.True(t, verdict.Accepted)
	assert.Equal(t, 1.0, verdict.Confidence)
	require.Len(t, verdict.Evidence, 5)
	assert.True(t, verdict.Evidence[4].NegativeControl)
	assert.Equal(t, memory.OutcomeFailure, verdict.Evidence[4].Actual)
}

func TestVerifier_AcceptsAtThresholdWithOneMiss(t *testing.T) {
	// One positive scenario misbehaves: 4/5 conclusive matches.
	flipped := &flippingExecutor{inner: honestExecutor(), flipCall: 2}
	v := newVerifier(t, &fakeGenerator{}, flipped, Config{Scenarios: 5, AcceptThreshold: 0.8})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.True(t, verdict.Accepted)
	assert.InDelta(t, 0.8, verdict.Confidence, 1e-9)
}

// flippingExecutor inverts the outcome of one call.
type flippingExecutor struct {
	inner    *fakeExecutor
	flipCall int
	calls    int
}

func (e *flippingExecutor) Execute(ctx context.Context, action, input string) (*sandbox.Result, error) {
	call := e.calls
	e.calls++
	result, err := e.inner.Execute(ctx, action, input)
	if err != nil {
		return nil, err
	}
	if call == e.flipCall {
		if result.Outcome == memory.OutcomeSuccess {
			result.Outcome = memory.OutcomeFailure
		} else {
			result.Outcome = memory.OutcomeSuccess
		}
	}
	return result, nil
}

func TestVerifier_RejectsBelowThreshold(t *testing.T) {
	// Every positive scenario fails: only the negative control matches.
	exec := &fakeExecutor{outcomes: map[string]memory.Outcome{
		"positive input": memory.OutcomeFailure,
		"negative input": memory.OutcomeFailure,
	}}
	v := newVerifier(t, &fakeGenerator{}, exec, Config{Scenarios: 5})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, verdict.Accepted)
	assert.InDelta(t, 0.2, verdict.Confidence, 1e-9)
	assert.Contains(t, verdict.Reason, "below threshold")
}

func TestVerifier_RejectsVacuousRule(t *testing.T) {
	// Everything "succeeds", including the negative control: the rule
	// never demonstrates the failure it claims to prevent.
	exec := &fakeExecutor{outcomes: map[string]memory.Outcome{
		"positive input": memory.OutcomeSuccess,
		"negative input": memory.OutcomeSuccess,
	}}
	v := newVerifier(t, &fakeGenerator{}, exec, Config{Scenarios: 5, AcceptThreshold: 0.5})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, "no negative control demonstrated failure", verdict.Reason)
}

func TestVerifier_FailsClosedWhenNothingConclusive(t *testing.T) {
	// The sandbox never runs: all scenarios inconclusive.
	exec := &fakeExecutor{failOn: map[int]error{}, outcomes: map[string]memory.Outcome{}}
	v := newVerifier(t, &fakeGenerator{}, exec, Config{Scenarios: 3, MaxRetries: 1})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, 0.0, verdict.Confidence)
	assert.Equal(t, "no conclusive scenarios", verdict.Reason)
}

func TestVerifier_InconclusiveScenariosExcludedFromRatio(t *testing.T) {
	// Scenario generation fails for calls 0-2 after retries; the last two
	// scenarios run and both match. Conclusive ratio is 2/2 and the
	// negative control fails as expected.
	gen := &fakeGenerator{failOn: map[int]error{}}
	// Each scenario retries MaxRetries+1 times; fail the first 3 scenarios
	// entirely (calls 0..5 with MaxRetries 1).
	for i := 0; i < 6; i++ {
		gen.failOn[i] = llm.ErrTimeout
	}
	v := newVerifier(t, gen, honestExecutor(), Config{Scenarios: 5, MaxRetries: 1})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)

	inconclusive := 0
	for _, ev := range verdict.Evidence {
		if !ev.Conclusive {
			inconclusive++
		}
	}
	assert.Equal(t, 3, inconclusive)
	assert.Equal(t, 1.0, verdict.Confidence)
	assert.True(t, verdict.Accepted)
}

func TestVerifier_SchemaViolationMarksInconclusive(t *testing.T) {
	gen := &fakeGenerator{garbled: map[int]bool{0: true}}
	v := newVerifier(t, gen, honestExecutor(), Config{Scenarios: 3, AcceptThreshold: 0.5})

	verdict, err := v.Verify(context.Background(), testCandidate())
	require.NoError(t, err)
	assert.False(t, verdict.Evidence[0].Conclusive)
	assert.True(t, verdict.Evidence[1].Conclusive)
}

func TestVerifier_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := newVerifier(t, &fakeGenerator{}, honestExecutor(), Config{Scenarios: 3})
	_, err := v.Verify(ctx, testCandidate())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifier_RejectsInvalidCandidate(t *testing.T) {
	v := newVerifier(t, &fakeGenerator{}, honestExecutor(), Config{})

	_, err := v.Verify(context.Background(), &memory.CandidateRule{Action: "x"})
	assert.ErrorIs(t, err, memory.ErrEmptyPrecond)
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(&fakeGenerator{}, honestExecutor(), Config{Scenarios: 1}, nil)
	assert.Error(t, err)

	_, err = New(&fakeGenerator{}, honestExecutor(), Config{AcceptThreshold: 1.5}, nil)
	assert.Error(t, err)
}
