package semantic

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/dreamd/internal/memory"
)

// Journal is an append-only JSONL file of committed rules. Together with
// the vector write-through it is the durable form of the semantic tier.
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

// Append writes one committed rule as a JSON line.
func (j *Journal) Append(rule *memory.Rule) error {
	line, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshaling rule: %w", err)
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

// Replay returns every journaled rule in commit order. A missing journal
// file replays zero rules.
func (j *Journal) Replay() ([]*memory.Rule, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	var rules []*memory.Rule
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rule memory.Rule
		if err := json.Unmarshal(line, &rule); err != nil {
			return rules, fmt.Errorf("parsing journal line %d: %w", len(rules)+1, err)
		}
		rules = append(rules, &rule)
	}
	if err := scanner.Err(); err != nil {
		return rules, fmt.Errorf("reading journal: %w", err)
	}
	return rules, nil
}
