package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/autofill/internal/model"
)

// MemoryStore implements Store in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	decisions []model.ResolutionDecision
	cache     map[model.CacheKey]model.CacheEntry
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		cache:    make(map[model.CacheKey]model.CacheEntry),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(_ context.Context, stageCount *int) (*Session, error) {
	now := time.Now().UTC()
	s := Session{
		ID:         uuid.New().String(),
		State:      model.StateDetecting,
		StageCount: stageCount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return &s, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, id string, state model.StageState, stageIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: session %s", id)
	}
	s.State = state
	s.StageIndex = stageIndex
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: session %s", id)
	}
	return &s, nil
}

func (m *MemoryStore) RecordDecision(_ context.Context, d model.ResolutionDecision) error {
	m.mu.Lock()
	m.decisions = append(m.decisions, d)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListDecisions(_ context.Context, filter DecisionFilter) ([]model.ResolutionDecision, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ResolutionDecision
	for _, d := range m.decisions {
		if d.SessionID != filter.SessionID {
			continue
		}
		if filter.StageIndex != nil && d.StageIndex != *filter.StageIndex {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) GetCacheEntry(_ context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.cache[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutCacheEntry(_ context.Context, entry model.CacheEntry) error {
	m.mu.Lock()
	m.cache[entry.Key] = entry
	m.mu.Unlock()
	return nil
}
