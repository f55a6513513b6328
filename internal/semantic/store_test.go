package semantic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
	"github.com/fyrsmithlabs/dreamd/internal/vectorstore"
)

func testRule(precond string) *memory.Rule {
	return &memory.Rule{
		Precondition: precond,
		Action:       "retry with backoff",
		Confidence:   0.8,
		Provenance:   []string{"ep-1", "ep-2"},
		Signature:    []float32{0.5, 0.5},
	}
}

func TestStore_CommitAssignsMonotonicIDs(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	id1, err := store.Commit(ctx, testRule("a"))
	require.NoError(t, err)
	id2, err := store.Commit(ctx, testRule("b"))
	require.NoError(t, err)

	assert.Equal(t, "rule-000001", id1)
	assert.Equal(t, "rule-000002", id2)

	rules, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, id1, rules[0].ID)
	assert.False(t, rules[0].CreatedAt.IsZero())
}

func TestStore_CommitRejectsInvalid(t *testing.T) {
	store := New(nil, nil)

	_, err := store.Commit(context.Background(), &memory.Rule{Action: "x"})
	assert.ErrorIs(t, err, memory.ErrEmptyPrecond)

	bad := testRule("a")
	bad.Confidence = 1.5
	_, err = store.Commit(context.Background(), bad)
	assert.ErrorIs(t, err, memory.ErrInvalidConfScore)
}

func TestStore_GetReturnsDetachedCopy(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	id, err := store.Commit(ctx, testRule("a"))
	require.NoError(t, err)

	got, err := store.Get(id)
	require.NoError(t, err)
	got.Action = "mutated"

	again, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "retry with backoff", again.Action)

	_, err = store.Get("rule-999999")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestStore_ConcurrentCommitsGetUniqueIDs(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Commit(ctx, testRule("concurrent"))
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, store.Len())
}

func TestStore_Active(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	id1, err := store.Commit(ctx, testRule("old"))
	require.NoError(t, err)

	newer := testRule("new")
	newer.Supersedes = id1
	id2, err := store.Commit(ctx, newer)
	require.NoError(t, err)

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id2, active[0].ID)

	// Superseded rules stay listed for audit.
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_CoveredEpisodes(t *testing.T) {
	store := New(nil, nil)
	ctx := context.Background()

	_, err := store.Commit(ctx, testRule("a"))
	require.NoError(t, err)

	covered := store.CoveredEpisodes()
	assert.True(t, covered["ep-1"])
	assert.True(t, covered["ep-2"])
	assert.False(t, covered["ep-3"])
}

type failingStore struct {
	vectorstore.Store
}

func (f *failingStore) Add(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	return nil, errors.New("disk full")
}

func TestStore_CommitAllOrNothing(t *testing.T) {
	store := New(&failingStore{}, nil)
	ctx := context.Background()

	_, err := store.Commit(ctx, testRule("a"))
	require.Error(t, err)

	// Nothing published and the ID was not consumed.
	assert.Equal(t, 0, store.Len())

	chromem, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 2}, nil)
	require.NoError(t, err)
	ok := New(chromem, nil)
	id, err := ok.Commit(ctx, testRule("a"))
	require.NoError(t, err)
	assert.Equal(t, "rule-000001", id)

	doc, err := chromem.Get(ctx, CollectionName, id)
	require.NoError(t, err)
	assert.Equal(t, "IF a THEN retry with backoff", doc.Content)
}
