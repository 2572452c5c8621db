package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process store, used for development and tests
type Memory struct {
	documents

	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	m := &Memory{docs: make(map[string][]byte)}
	m.documents = documents{engine: m}
	return m
}

func (m *Memory) load(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	return append([]byte(nil), doc...), nil
}

func (m *Memory) mutate(ctx context.Context, id string, fn mutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if doc, ok := m.docs[id]; ok {
		current = append([]byte(nil), doc...)
	}

	out, err := fn(current)
	if err != nil {
		return err
	}
	if out != nil {
		m.docs[id] = out
	}
	return nil
}

// Len returns the number of stored records
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}
