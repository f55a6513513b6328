package episodic

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/vectorstore"
)

func failureEpisode(t *testing.T, task, errorType string, sig []float32) *memory.Episode {
	t.Helper()
	ep, err := memory.NewEpisode(task, "", memory.OutcomeFailure, sig)
	require.NoError(t, err)
	ep.ErrorType = errorType
	return ep
}

func TestStore_AppendAndGet(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	ep := failureEpisode(t, "fetch page", "timeout", []float32{0.1, 0.9})
	require.NoError(t, store.Append(ctx, ep))
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "fetch page", got.Task)

	// The returned copy is detached from the stored record.
	got.Task = "mutated"
	again, err := store.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "fetch page", again.Task)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrEpisodeNotFound)
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	// Failure without a signature.
	ep := &memory.Episode{Task: "x", Outcome: memory.OutcomeFailure}
	assert.Error(t, store.Append(ctx, ep))

	// Duplicate ID.
	ok := failureEpisode(t, "fetch page", "", []float32{1, 0})
	require.NoError(t, store.Append(ctx, ok))
	assert.Error(t, store.Append(ctx, ok))
}

func TestStore_QueryFailures(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	success, err := memory.NewEpisode("worked", "", memory.OutcomeSuccess, nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, success))

	timeout1 := failureEpisode(t, "fetch a", "timeout", []float32{1, 0})
	timeout2 := failureEpisode(t, "fetch b", "timeout", []float32{0.9, 0.1})
	oom := failureEpisode(t, "parse c", "oom", []float32{0, 1})
	for _, ep := range []*memory.Episode{timeout1, timeout2, oom} {
		require.NoError(t, store.Append(ctx, ep))
	}

	// Only failures, in insertion order.
	all, err := store.QueryFailures(ctx, memory.FailureFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, timeout1.ID, all[0].ID)
	assert.Equal(t, oom.ID, all[2].ID)

	// Error-type filter.
	timeouts, err := store.QueryFailures(ctx, memory.FailureFilter{ErrorType: "timeout"})
	require.NoError(t, err)
	assert.Len(t, timeouts, 2)

	// Exclusion and limit.
	rest, err := store.QueryFailures(ctx, memory.FailureFilter{
		Exclude: map[string]bool{timeout1.ID: true},
		Limit:   1,
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, timeout2.ID, rest[0].ID)
}

func TestStore_QueryFailuresSnapshot(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	ep := failureEpisode(t, "fetch a", "timeout", []float32{1, 0})
	require.NoError(t, store.Append(ctx, ep))

	snap, err := store.QueryFailures(ctx, memory.FailureFilter{})
	require.NoError(t, err)

	later := failureEpisode(t, "fetch b", "timeout", []float32{0.9, 0.1})
	require.NoError(t, store.Append(ctx, later))

	assert.Len(t, snap, 1)
}

func TestStore_WriteThrough(t *testing.T) {
	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 2}, nil)
	require.NoError(t, err)
	store := New(vectors, nil)
	ctx := context.Background()

	ep := failureEpisode(t, "fetch page", "timeout", []float32{0.1, 0.9})
	require.NoError(t, store.Append(ctx, ep))

	doc, err := vectors.Get(ctx, CollectionName, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "timeout", doc.Metadata["error_type"])
}

func TestStore_ConcurrentAppend(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ep := failureEpisode(t, fmt.Sprintf("task %d", i), "timeout", []float32{1, 0})
			assert.NoError(t, store.Append(ctx, ep))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, store.Len())
}
