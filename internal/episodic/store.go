// Package episodic provides the append-only store of raw task episodes.
//
// Episodes are the system's short-term record: every task attempt is
// appended with its outcome and, when available, an embedding signature.
// The in-process index is authoritative; signed episodes are additionally
// written through to a vector store collection so the retrieval path can
// run similarity search over them.
package episodic

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

// CollectionName is the vector store collection for episode signatures.
const CollectionName = "episodic_memory"

// ErrEpisodeNotFound indicates the requested episode does not exist.
var ErrEpisodeNotFound = errors.New("episode not found")

// Store holds episodes in insertion order with lookup by ID.
type Store struct {
	mu      sync.RWMutex
	entries []*memory.Episode
	byID    map[string]*memory.Episode

	vectors vectorstore.Store
	logger  *zap.Logger
}

// New creates an episodic store. The vector store may be nil, in which
// case episodes are held in-process only and dense retrieval over them is
// unavailable.
func New(vectors vectorstore.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		byID:    make(map[string]*memory.Episode),
		vectors: vectors,
		logger:  logger,
	}
}

// Append validates and records an episode. Records with a signature are
// written through to the vector store; a write-through failure does not
// reject the episode, since the in-process record is authoritative.
func (s *Store) Append(ctx context.Context, ep *memory.Episode) error {
	if ep == nil {
		return errors.New("episode is nil")
	}
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("validating episode: %w", err)
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	if _, exists := s.byID[ep.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("episode %s already recorded", ep.ID)
	}
	stored := ep.Clone()
	s.entries = append(s.entries, stored)
	s.byID[stored.ID] = stored
	total := len(s.entries)
	s.mu.Unlock()

	s.logger.Debug("episode recorded",
		zap.String("id", stored.ID),
		zap.String("outcome", string(stored.Outcome)),
		zap.String("error_type", stored.ErrorType),
		zap.Int("total", total),
	)

	if s.vectors == nil || len(stored.Signature) == 0 {
		return nil
	}
	if _, err := s.vectors.Add(ctx, []vectorstore.Document{episodeDocument(stored)}); err != nil {
		s.logger.Warn("episode vector write-through failed",
			zap.String("id", stored.ID),
			zap.Error(err),
		)
	}
	return nil
}

// Get returns a copy of the episode with the given ID.
func (s *Store) Get(id string) (*memory.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	return ep.Clone(), nil
}

// QueryFailures returns a snapshot of failure episodes matching the
// filter, in insertion order. Mutations after the call do not affect the
// returned slice.
func (s *Store) QueryFailures(ctx context.Context, filter memory.FailureFilter) ([]*memory.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Episode
	for _, ep := range s.entries {
		if ep.Outcome != memory.OutcomeFailure {
			continue
		}
		if filter.ErrorType != "" && ep.ErrorType != filter.ErrorType {
			continue
		}
		if filter.Exclude[ep.ID] {
			continue
		}
		out = append(out, ep.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of recorded episodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func episodeDocument(ep *memory.Episode) vectorstore.Document {
	return vectorstore.Document{
		ID:      ep.ID,
		Content: ep.Summary(),
		Vector:  ep.Signature,
		Metadata: map[string]interface{}{
			"task":       ep.Task,
			"outcome":    string(ep.Outcome),
			"error_type": ep.ErrorType,
		},
		Collection: CollectionName,
	}
}

var _ memory.EpisodeSource = (*Store)(nil)
