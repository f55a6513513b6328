package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dreamd/internal/cluster"
	"github.com/fyrsmithlabs/dreamd/internal/llm"
	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

// scriptedGenerator returns one canned response (or error) per call.
type scriptedGenerator struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, schema llm.Schema) (llm.Fields, error) {
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.responses) {
		return llm.ParseFields(g.responses[i], schema)
	}
	return nil, errors.New("no scripted response")
}

func testCluster(t *testing.T) *cluster.Cluster {
	t.Helper()
	var members []*memory.Episode
	for _, task := range []string{"fetch dashboard", "fetch report"} {
		ep, err := memory.NewEpisode(task, "page kept loading", memory.OutcomeFailure, []float32{0.1, 0.9})
		require.NoError(t, err)
		ep.ErrorType = "timeout"
		members = append(members, ep)
	}
	return &cluster.Cluster{ID: 1, Members: members, Centroid: []float32{0.1, 0.9}}
}

func TestSynthesizer_Synthesize(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"PRECONDITION: the page loads content lazily\nACTION: wait for network idle before reading",
	}}
	syn := New(gen, Config{}, nil)

	c := testCluster(t)
	candidate, err := syn.Synthesize(context.Background(), c)
	require.NoError(t, err)
	require.NotNil(t, candidate)

	assert.Equal(t, "the page loads content lazily", candidate.Precondition)
	assert.Equal(t, c.MemberIDs(), candidate.Provenance)
	assert.Equal(t, c.Centroid, candidate.Signature)
	assert.Equal(t, 1, candidate.SourceCluster)
	assert.Equal(t, "IF the page loads content lazily THEN wait for network idle before reading", candidate.Body())

	// The prompt carries every member's summary.
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "fetch dashboard [timeout]")
	assert.Contains(t, gen.prompts[0], "fetch report [timeout]")
}

func TestSynthesizer_SchemaViolationSkipsCluster(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"no labeled fields here"}}
	syn := New(gen, Config{}, nil)

	candidate, err := syn.Synthesize(context.Background(), testCluster(t))
	require.NoError(t, err)
	assert.Nil(t, candidate)
	// Malformed output is not retried.
	assert.Equal(t, 1, gen.calls)
}

func TestSynthesizer_RetriesTransientFailures(t *testing.T) {
	gen := &scriptedGenerator{
		errs:      []error{llm.ErrRateLimited, llm.ErrUnavailable, nil},
		responses: []string{"", "", "PRECONDITION: x\nACTION: y"},
	}
	syn := New(gen, Config{MaxRetries: 3, BaseBackoff: time.Millisecond}, nil)

	candidate, err := syn.Synthesize(context.Background(), testCluster(t))
	require.NoError(t, err)
	require.NotNil(t, candidate)
	assert.Equal(t, 3, gen.calls)
}

func TestSynthesizer_ExhaustedRetriesSkipsCluster(t *testing.T) {
	gen := &scriptedGenerator{
		errs: []error{llm.ErrTimeout, llm.ErrTimeout, llm.ErrTimeout, llm.ErrTimeout},
	}
	syn := New(gen, Config{MaxRetries: 3, BaseBackoff: time.Millisecond}, nil)

	candidate, err := syn.Synthesize(context.Background(), testCluster(t))
	require.NoError(t, err)
	assert.Nil(t, candidate)
	assert.Equal(t, 4, gen.calls)
}

func TestSynthesizer_CancellationPropagates(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{llm.ErrTimeout, llm.ErrTimeout}}
	syn := New(gen, Config{MaxRetries: 3, BaseBackoff: time.Minute}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := syn.Synthesize(ctx, testCluster(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesizer_EmptyCluster(t *testing.T) {
	syn := New(&scriptedGenerator{}, Config{}, nil)

	_, err := syn.Synthesize(context.Background(), &cluster.Cluster{})
	assert.Error(t, err)
}
