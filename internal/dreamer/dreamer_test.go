package dreamer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dreamd/internal/cluster"
	"github.com/fyrsmithlabs/dreamd/internal/episodic"
	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/sandbox"
	"github.com/fyrsmithlabs/dreamd/internal/semantic"
	"github.com/fyrsmithlabs/dreamd/internal/synthesis"
	"github.com/fyrsmithlabs/dreamd/internal/verify"
)

// pipelineGenerator serves both synthesis and scenario generation. It can
// block mid-synthesis or run a hook per synthesis call for the
// concurrency tests.
type pipelineGenerator struct {
	mu         sync.Mutex
	synthCalls int
	block      chan struct{}
	entered    chan struct{}
	onSynth    func(call int) error
}

func (g *pipelineGenerator) Generate(ctx context.Context, prompt string, schema llm.Schema) (llm.Fields, error) {
	if schema.Name == "candidate_rule" {
		g.mu.Lock()
		call := g.synthCalls
		g.synthCalls++
		g.mu.Unlock()

		if g.entered != nil {
			g.entered <- struct{}{}
		}
		if g.block != nil {
			select {
			case <-g.block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if g.onSynth != nil {
			if err := g.onSynth(call); err != nil {
				return nil, err
			}
		}
		return llm.Fields{
			"PRECONDITION": "the failure mode repeats",
			"ACTION":       "apply the learned workaround",
		}, nil
	}

	input := "conforming input"
	if strings.Contains(prompt, "violates") {
		input = "violating input"
	}
	return llm.Fields{"INPUT": input, "EXPECTED_OUTCOME": "success"}, nil
}

// obedientExecutor makes every sound rule verifiable: conforming inputs
// succeed, violating inputs fail.
type obedientExecutor struct{}

func (obedientExecutor) Execute(ctx context.Context, action, input string) (*sandbox.Result, error) {
	if strings.Contains(input, "violating") {
		return &sandbox.Result{Outcome: memory.OutcomeFailure}, nil
	}
	return &sandbox.Result{Outcome: memory.OutcomeSuccess}, nil
}

// seedFailures appends five failure episodes whose signatures form two
// dense groups (three near (0.1, 0.9), two near (0.9, 0.1)).
func seedFailures(t *testing.T, store *episodic.Store) {
	t.Helper()
	signatures := [][]float32{
		{0.1, 0.9}, {0.15, 0.9}, {0.1, 0.85},
		{0.9, 0.1}, {0.95, 0.1},
	}
	for _, sig := range signatures {
		ep, err := memory.NewEpisode("fetch page", "attempt", memory.OutcomeFailure, sig)
		require.NoError(t, err)
		ep.ErrorType = "timeout"
		require.NoError(t, store.Append(context.Background(), ep))
	}
}

func newTestDreamer(t *testing.T, gen llm.Generator, episodes *episodic.Store, rules *semantic.Store, cfg Config) *Dreamer {
	t.Helper()
	verifier, err := verify.New(gen, obedientExecutor{}, verify.Config{BaseBackoff: time.Millisecond}, nil)
	require.NoError(t, err)

	d, err := New(
		episodes,
		rules,
		cluster.New(nil),
		synthesis.New(gen, synthesis.Config{BaseBackoff: time.Millisecond}, nil),
		verifier,
		cfg,
		nil,
	)
	require.NoError(t, err)
	return d
}

func TestDreamer_EndToEnd(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	seedFailures(t, episodes)

	d := newTestDreamer(t, &pipelineGenerator{}, episodes, rules, Config{})

	summary, err := d.DreamOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.EpisodesSelected)
	assert.Equal(t, 2, summary.Clusters)
	assert.Len(t, summary.Committed, 2)
	assert.Equal(t, 0, summary.Rejected)
	assert.Equal(t, 0, summary.Skipped)

	committed, err := rules.List(context.Background())
	require.NoError(t, err)
	require.Len(t, committed, 2)
	for _, rule := range committed {
		assert.Equal(t, 1.0, rule.Confidence)
		assert.NotEmpty(t, rule.Provenance)
		assert.NotEmpty(t, rule.Evidence)
		assert.NotEmpty(t, rule.Signature)
	}

	// A second pass sees every failure already covered by provenance and
	// finds nothing to consolidate.
	summary, err = d.DreamOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.EpisodesSelected)
	assert.Equal(t, 0, summary.Clusters)
	assert.Equal(t, 2, rules.Len())
}

func TestDreamer_ClusterFailureContained(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	seedFailures(t, episodes)

	// The second cluster's synthesis dies with a non-transient error. The
	// failure stays with that cluster; the sibling's rule still commits and
	// the pass reports success.
	gen := &pipelineGenerator{}
	gen.onSynth = func(call int) error {
		if call == 1 {
			return errors.New("chat completion failed with status 400")
		}
		return nil
	}
	d := newTestDreamer(t, gen, episodes, rules, Config{Concurrency: 1})

	summary, err := d.DreamOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Clusters)
	assert.Len(t, summary.Committed, 1)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Rejected)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1, rules.Len())

	// The failed cluster's episodes stay unconsolidated and get another
	// chance on the next pass.
	summary, err = d.DreamOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.EpisodesSelected)
}

func TestDreamer_MutualExclusion(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	seedFailures(t, episodes)

	gen := &pipelineGenerator{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 4),
	}
	d := newTestDreamer(t, gen, episodes, rules, Config{AcquireWait: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := d.DreamOnce(context.Background())
		done <- err
	}()

	// Wait until the first pass is inside synthesis, then try to start a
	// second pass.
	<-gen.entered
	_, err := d.DreamOnce(context.Background())
	assert.ErrorIs(t, err, ErrPassActive)

	close(gen.block)
	require.NoError(t, <-done)

	// With the lease released, a new pass runs fine.
	_, err = d.DreamOnce(context.Background())
	assert.NoError(t, err)
}

func TestDreamer_CancellationBetweenUnits(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	seedFailures(t, episodes)

	ctx, cancel := context.WithCancel(context.Background())

	// The first cluster consolidates normally; the pass is canceled when
	// the second cluster's synthesis starts.
	gen := &pipelineGenerator{}
	gen.onSynth = func(call int) error {
		if call == 1 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	d := newTestDreamer(t, gen, episodes, rules, Config{Concurrency: 1})

	summary, err := d.DreamOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The first cluster's rule stays committed; nothing partial exists
	// for the second.
	require.NotNil(t, summary)
	assert.Len(t, summary.Committed, 1)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, rules.Len())
}

func TestDreamer_TriggerQueueOneDeep(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	d := newTestDreamer(t, &pipelineGenerator{}, episodes, rules, Config{})

	// Three triggers with no consumer: one queued, two dropped, none block.
	d.Trigger()
	d.Trigger()
	d.Trigger()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	// The queued trigger is served; the store stays empty so the pass is
	// a no-op.
	require.Eventually(t, func() bool {
		return d.lease.TryAcquire()
	}, time.Second, 5*time.Millisecond)
	d.lease.Release()

	cancel()
	assert.ErrorIs(t, <-runDone, context.Canceled)
}

func TestDreamer_RunServesTriggers(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	seedFailures(t, episodes)

	d := newTestDreamer(t, &pipelineGenerator{}, episodes, rules, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	d.Trigger()
	require.Eventually(t, func() bool {
		return rules.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runDone, context.Canceled)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestScheduler_FiresTriggers(t *testing.T) {
	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	seedFailures(t, episodes)

	d := newTestDreamer(t, &pipelineGenerator{}, episodes, rules, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	s, err := NewScheduler(d, nil, WithInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())

	require.Eventually(t, func() bool {
		return rules.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil, nil)
	assert.Error(t, err)

	episodes := episodic.New(nil, nil)
	rules := semantic.New(nil, nil)
	d := newTestDreamer(t, &pipelineGenerator{}, episodes, rules, Config{})

	_, err = NewScheduler(d, nil, WithInterval(-time.Second))
	assert.Error(t, err)
}
