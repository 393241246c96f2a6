package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/state"
)

// Memory is an in-process store used by the local CLI and tests. Records are copied on the way
// in and out so callers never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
	writes  int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Upsert(_ context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id must not be empty")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[doc.ID] = data
	m.writes++
	return nil
}

func (m *Memory) Read(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	data, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrNotFound, id)
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// Writes returns the number of upserts performed.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
