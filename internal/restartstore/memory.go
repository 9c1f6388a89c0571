package restartstore

import (
	"context"
	"sort"
	"sync"

	"github.com/gridlink-project/gridlink/pkg/model"
)

// Memory keeps records in process memory.
type Memory struct {
	maxAttempts int

	mu      sync.RWMutex
	records map[model.RestartIdentifier]*model.RestartRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory(maxAttempts int) (*Memory, error) {
	if err := checkMaxAttempts(maxAttempts); err != nil {
		return nil, err
	}
	return &Memory{
		maxAttempts: maxAttempts,
		records:     make(map[model.RestartIdentifier]*model.RestartRecord),
	}, nil
}

func (m *Memory) Retrieve(_ context.Context, id model.RestartIdentifier) (*model.RestartRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return rec.Clone(), nil
}

func (m *Memory) Store(_ context.Context, rec *model.RestartRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Identifier()] = rec.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id model.RestartIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// List returns records ordered by identifier.
func (m *Memory) List(_ context.Context) ([]*model.RestartRecord, error) {
	m.mu.RLock()
	out := make([]*model.RestartRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (m *Memory) MaxAttempts() int { return m.maxAttempts }

func (m *Memory) Close() error { return nil }

func sortRecords(recs []*model.RestartRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Identifier().String() < recs[j].Identifier().String()
	})
}
