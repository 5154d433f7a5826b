package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"research_workflow_engine/internal/domain/sentinel"
	"research_workflow_engine/internal/domain/status"
	"research_workflow_engine/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// InvalidationPublisher tells other processes that the catalog changed.
type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context) error
}

// DefinitionCatalog is the in-process, read-mostly cache of status
// definitions. Lookups never hit the database except on a cache miss, which
// triggers one coalesced reload.
type DefinitionCatalog struct {
	repo      status.DefinitionRepository
	publisher InvalidationPublisher
	logger    *logrus.Entry
	metrics   *metrics.Metrics
	clock     func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	byID   map[string]*status.Definition
	byName map[string]*status.Definition
}

type CatalogOption func(*DefinitionCatalog)

func WithInvalidationPublisher(p InvalidationPublisher) CatalogOption {
	return func(c *DefinitionCatalog) { c.publisher = p }
}

func WithCatalogMetrics(m *metrics.Metrics) CatalogOption {
	return func(c *DefinitionCatalog) { c.metrics = m }
}

func WithCatalogClock(clock func() time.Time) CatalogOption {
	return func(c *DefinitionCatalog) { c.clock = clock }
}

func NewDefinitionCatalog(repo status.DefinitionRepository, logger *logrus.Entry, opts ...CatalogOption) *DefinitionCatalog {
	c := &DefinitionCatalog{
		repo:   repo,
		logger: logger,
		clock:  time.Now,
		byID:   map[string]*status.Definition{},
		byName: map[string]*status.Definition{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh reloads every definition. Concurrent callers share one reload.
func (c *DefinitionCatalog) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		defs, err := c.repo.ListDefinitions(ctx)
		if err != nil {
			c.metrics.IncCatalogRefresh("error")
			return nil, fmt.Errorf("failed to load status definitions: %w", err)
		}
		byID := make(map[string]*status.Definition, len(defs))
		byName := make(map[string]*status.Definition, len(defs))
		for _, d := range defs {
			byID[d.ID] = d
			byName[d.Name] = d
		}
		c.mu.Lock()
		c.byID, c.byName = byID, byName
		c.mu.Unlock()
		c.metrics.IncCatalogRefresh("ok")
		c.logger.WithField("definitions", len(defs)).Debug("Status definition catalog loaded.")
		return nil, nil
	})
	return err
}

// ByName returns a copy of the named definition. Names are case-sensitive.
func (c *DefinitionCatalog) ByName(ctx context.Context, name string) (*status.Definition, error) {
	return c.lookup(ctx, func() (*status.Definition, bool) {
		d, ok := c.byName[name]
		return d, ok
	}, "name "+name)
}

func (c *DefinitionCatalog) ByID(ctx context.Context, id string) (*status.Definition, error) {
	return c.lookup(ctx, func() (*status.Definition, bool) {
		d, ok := c.byID[id]
		return d, ok
	}, "id "+id)
}

func (c *DefinitionCatalog) lookup(ctx context.Context, find func() (*status.Definition, bool), desc string) (*status.Definition, error) {
	c.mu.RLock()
	d, ok := find()
	c.mu.RUnlock()
	if ok {
		return d.Clone(), nil
	}

	// A definition created by another process shows up after one reload.
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	d, ok = find()
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", desc, status.ErrDefinitionNotFound)
	}
	return d.Clone(), nil
}

// List returns every cached definition ordered by name.
func (c *DefinitionCatalog) List() []*status.Definition {
	c.mu.RLock()
	out := make([]*status.Definition, 0, len(c.byID))
	for _, d := range c.byID {
		out = append(out, d.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Create adds a definition and refreshes the cache.
func (c *DefinitionCatalog) Create(ctx context.Context, def *status.Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return fmt.Errorf("status definition name is required: %w", sentinel.ErrInvalidRequest)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.NotifyRoles = status.NormalizeRoles(def.NotifyRoles)
	now := c.clock()
	def.CreatedAt, def.UpdatedAt = now, now

	if err := c.repo.CreateDefinition(ctx, def); err != nil {
		return fmt.Errorf("failed to create status definition %q: %w", def.Name, err)
	}
	c.afterEdit(ctx, def)
	return nil
}

// UpdateMetadata edits a definition in place. Renaming is refused once any
// status record references the definition.
func (c *DefinitionCatalog) UpdateMetadata(ctx context.Context, def *status.Definition) error {
	existing, err := c.repo.GetDefinitionByID(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("failed to load status definition %s: %w", def.ID, err)
	}

	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return fmt.Errorf("status definition name is required: %w", sentinel.ErrInvalidRequest)
	}
	if def.Name != existing.Name {
		referenced, err := c.repo.IsDefinitionReferenced(ctx, def.ID)
		if err != nil {
			return fmt.Errorf("failed to check references for %s: %w", def.ID, err)
		}
		if referenced {
			return fmt.Errorf("rename %q to %q: %w", existing.Name, def.Name, status.ErrDefinitionInUse)
		}
	}

	def.NotifyRoles = status.NormalizeRoles(def.NotifyRoles)
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = c.clock()
	if err := c.repo.UpdateDefinition(ctx, def); err != nil {
		return fmt.Errorf("failed to update status definition %s: %w", def.ID, err)
	}
	c.afterEdit(ctx, def)
	return nil
}

func (c *DefinitionCatalog) afterEdit(ctx context.Context, def *status.Definition) {
	log := c.logger.WithFields(logrus.Fields{"definition_id": def.ID, "name": def.Name})
	// A reload already in flight may predate the write.
	c.group.Forget("refresh")
	if err := c.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Catalog refresh after edit failed; periodic refresh will catch up.")
	}
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishInvalidation(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("Failed to publish catalog invalidation.")
	}
}
