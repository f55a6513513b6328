package episodic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

// Journal is an append-only JSONL file of episodes. It is the durable
// form of the episodic tier: the in-process store is rebuilt from it at
// startup.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal opens a journal at path, creating parent directories.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	return &Journal{path: path}, nil
}

// Append writes one episode as a JSON line.
func (j *Journal) Append(ep *memory.Episode) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("validating episode: %w", err)
	}
	line, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling episode: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

// Replay loads every journaled episode into the store, in journal order.
// A missing journal file replays zero episodes. Returns the number of
// episodes loaded.
func (j *Journal) Replay(ctx context.Context, store *Store) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ep memory.Episode
		if err := json.Unmarshal(line, &ep); err != nil {
			return count, fmt.Errorf("parsing journal line %d: %w", count+1, err)
		}
		if err := store.Append(ctx, &ep); err != nil {
			return count, fmt.Errorf("replaying episode %s: %w", ep.ID, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading journal: %w", err)
	}
	return count, nil
}
