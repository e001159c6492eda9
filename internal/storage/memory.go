package storage

import (
	"context"
	"sync"

	"github.com/optimode/deliverkit/types"
)

// Memory keeps results in a map. It is the default for the API and tests.
type Memory struct {
	mu      sync.RWMutex
	results map[string]types.VerificationResult
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{results: make(map[string]types.VerificationResult)}
}

func (m *Memory) Upsert(_ context.Context, res types.VerificationResult) error {
	m.mu.Lock()
	m.results[Key(res.Address)] = res
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, address string) (types.VerificationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[Key(address)]
	if !ok {
		return types.VerificationResult{}, ErrNotFound
	}
	return res, nil
}

// Len returns the number of stored results.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}
