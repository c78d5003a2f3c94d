package qr

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	// byRoll maps roll number and issue date to a fingerprint.
	byRoll map[rollKey]string
}

type rollKey struct{ rollNo, date string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), byRoll: make(map[rollKey]string)}
}

func (m *MemoryStore) Get(_ context.Context, hash string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[hash]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Hash]; ok {
		return Record{}, ErrDuplicate
	}
	key := rollKey{rec.RollNo, rec.IssueDate}
	if _, ok := m.byRoll[key]; ok {
		return Record{}, ErrRollNoTaken
	}
	m.records[rec.Hash] = rec
	m.byRoll[key] = rec.Hash
	return rec, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	return m.filter(func(Record) bool { return true }), nil
}

func (m *MemoryStore) ListByRollNo(_ context.Context, rollNo string) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.RollNo == rollNo }), nil
}

func (m *MemoryStore) filter(keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].Hash < res[j].Hash
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res
}
