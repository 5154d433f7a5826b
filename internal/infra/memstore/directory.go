package memstore

import (
	"context"
	"sync"

	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/domain/status"
)

// Directory is an in-memory contact and entity directory.
type Directory struct {
	mu       sync.RWMutex
	contacts map[recipient.Source]map[string]recipient.Contact
	entities map[status.EntityKind]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		contacts: map[recipient.Source]map[string]recipient.Contact{},
		entities: map[status.EntityKind]map[string]struct{}{},
	}
}

func (d *Directory) AddContact(source recipient.Source, c recipient.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.contacts[source] == nil {
		d.contacts[source] = map[string]recipient.Contact{}
	}
	d.contacts[source][c.ID] = c
}

func (d *Directory) AddEntity(kind status.EntityKind, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entities[kind] == nil {
		d.entities[kind] = map[string]struct{}{}
	}
	d.entities[kind][id] = struct{}{}
}

func (d *Directory) FindContact(_ context.Context, source recipient.Source, id string) (*recipient.Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[source][id]
	if !ok {
		return nil, recipient.ErrContactNotFound
	}
	return &c, nil
}

func (d *Directory) EntityExists(_ context.Context, kind status.EntityKind, id string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entities[kind][id]
	return ok, nil
}
