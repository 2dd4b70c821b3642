// Package memory provides in-process implementations of the store
// contracts. They back the "memory" store backend and the unit tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// CustomerStore is an in-memory routing.DestinationStore.
type CustomerStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]domain.CustomerRecord
}

// NewCustomerStore creates an empty store.
func NewCustomerStore() *CustomerStore {
	return &CustomerStore{tables: make(map[string]map[string]domain.CustomerRecord)}
}

func (s *CustomerStore) Upsert(_ context.Context, table string, records []domain.CustomerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]domain.CustomerRecord)
		s.tables[table] = t
	}
	for _, r := range records {
		t[r.CustomerID] = copyRecord(r)
	}
	return nil
}

func (s *CustomerStore) Count(_ context.Context, table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table]), nil
}

func (s *CustomerStore) ListIDs(_ context.Context, table string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tables[table]))
	for id := range s.tables[table] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *CustomerStore) List(_ context.Context, table string) ([]domain.CustomerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CustomerRecord, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func copyRecord(r domain.CustomerRecord) domain.CustomerRecord {
	attrs := make(map[string]float64, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	r.Attributes = attrs
	if r.Categories != nil {
		cats := make(map[string]string, len(r.Categories))
		for k, v := range r.Categories {
			cats[k] = v
		}
		r.Categories = cats
	}
	return r
}
