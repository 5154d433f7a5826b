package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"research_workflow_engine/internal/domain/status"
)

// StatusStore keeps definitions and status records in memory. A single
// mutex gives Swap the same all-or-nothing behaviour as the Postgres store.
type StatusStore struct {
	mu          sync.RWMutex
	definitions map[string]*status.Definition
	records     map[string]*status.Record
	order       []string
}

func NewStatusStore() *StatusStore {
	return &StatusStore{
		definitions: map[string]*status.Definition{},
		records:     map[string]*status.Record{},
	}
}

func (s *StatusStore) ListDefinitions(_ context.Context) ([]*status.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*status.Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *StatusStore) GetDefinitionByID(_ context.Context, id string) (*status.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[id]
	if !ok {
		return nil, status.ErrDefinitionNotFound
	}
	return d.Clone(), nil
}

func (s *StatusStore) CreateDefinition(_ context.Context, def *status.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.definitions {
		if d.Name == def.Name {
			return status.ErrDuplicateName
		}
	}
	s.definitions[def.ID] = def.Clone()
	return nil
}

func (s *StatusStore) UpdateDefinition(_ context.Context, def *status.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[def.ID]; !ok {
		return status.ErrDefinitionNotFound
	}
	for id, d := range s.definitions {
		if id != def.ID && d.Name == def.Name {
			return status.ErrDuplicateName
		}
	}
	s.definitions[def.ID] = def.Clone()
	return nil
}

func (s *StatusStore) IsDefinitionReferenced(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.DefinitionID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *StatusStore) GetRecord(_ context.Context, id string) (*status.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, status.ErrRecordNotFound)
	}
	return cloneRecord(r), nil
}

func (s *StatusStore) ListCurrent(_ context.Context, kind status.EntityKind, entityID string) ([]*status.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked(kind, entityID), nil
}

func (s *StatusStore) ListHistory(_ context.Context, kind status.EntityKind, entityID string) ([]*status.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*status.Record
	for _, id := range s.order {
		r := s.records[id]
		if r.Kind == kind && r.EntityID == entityID {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (s *StatusStore) Swap(_ context.Context, kind status.EntityKind, entityID, priorID string, next *status.Record, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.currentLocked(kind, entityID)
	if len(current) > 1 {
		return status.ErrMultipleCurrent
	}
	switch {
	case priorID == "" && len(current) != 0:
		return status.ErrStaleCurrent
	case priorID != "" && (len(current) == 0 || current[0].ID != priorID):
		return status.ErrStaleCurrent
	}

	if priorID != "" {
		prior := s.records[priorID]
		end := closedAt
		prior.EndDate = &end
		prior.IsCurrent = false
	}
	s.records[next.ID] = cloneRecord(next)
	s.order = append(s.order, next.ID)
	return nil
}

// PutRecord stores a record as-is. Tests use it to seed corrupt histories.
func (s *StatusStore) PutRecord(r *status.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.records[r.ID] = cloneRecord(r)
}

func (s *StatusStore) currentLocked(kind status.EntityKind, entityID string) []*status.Record {
	var out []*status.Record
	for _, id := range s.order {
		r := s.records[id]
		if r.Kind == kind && r.EntityID == entityID && r.IsCurrent {
			out = append(out, cloneRecord(r))
		}
	}
	return out
}

func cloneRecord(r *status.Record) *status.Record {
	c := *r
	if r.EndDate != nil {
		end := *r.EndDate
		c.EndDate = &end
	}
	return &c
}
