package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"research_workflow_engine/internal/domain/sentinel"
	"research_workflow_engine/internal/domain/status"
	"research_workflow_engine/internal/infra/logger"
	"research_workflow_engine/internal/infra/memstore"

	"github.com/stretchr/testify/suite"
)

// staleOnceRepo loses the first Swap as if another writer got there first.
type staleOnceRepo struct {
	*memstore.StatusStore
	mu    sync.Mutex
	stale bool
	swaps int
}

func (r *staleOnceRepo) Swap(ctx context.Context, kind status.EntityKind, entityID, priorID string, next *status.Record, closedAt time.Time) error {
	r.mu.Lock()
	r.swaps++
	first := !r.stale
	r.stale = true
	r.mu.Unlock()
	if first {
		return status.ErrStaleCurrent
	}
	return r.StatusStore.Swap(ctx, kind, entityID, priorID, next, closedAt)
}

type StatusLedgerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *memstore.StatusStore
	dir     *memstore.Directory
	clock   *testClock
	catalog *DefinitionCatalog
	ledger  *StatusLedger
}

func TestStatusLedgerSuite(t *testing.T) {
	suite.Run(t, new(StatusLedgerSuite))
}

func (s *StatusLedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.NewStatusStore()
	s.dir = memstore.NewDirectory()
	seedContacts(s.dir)
	seedDefinitions(s.store, "workshop", "normal progress", "viva")
	s.clock = newTestClock(baseTime)
	s.catalog = NewDefinitionCatalog(s.store, logger.Discard())
	s.Require().NoError(s.catalog.Refresh(s.ctx))
	s.ledger = NewStatusLedger(s.store, s.dir, s.catalog, logger.Discard(), WithLedgerClock(s.clock.Now))
}

func (s *StatusLedgerSuite) transition(entityID, name string) *status.Record {
	rec, err := s.ledger.Transition(s.ctx, TransitionRequest{Kind: status.EntityStudent, EntityID: entityID, StatusName: name})
	s.Require().NoError(err)
	return rec
}

func (s *StatusLedgerSuite) assertSingleCurrent(kind status.EntityKind, entityID string) {
	history, err := s.ledger.History(s.ctx, kind, entityID)
	s.Require().NoError(err)
	current := 0
	for _, r := range history {
		if r.IsCurrent {
			current++
			s.Nil(r.EndDate, "current record %s must be open", r.ID)
		} else {
			s.NotNil(r.EndDate, "closed record %s must have an end date", r.ID)
		}
	}
	s.Equal(1, current)
}

func (s *StatusLedgerSuite) TestTwoTransitionsKeepOneCurrent() {
	first := s.transition("S1", "workshop")
	s.clock.Advance(72 * time.Hour)
	second := s.transition("S1", "normal progress")

	history, err := s.ledger.History(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Require().Len(history, 2)

	s.Equal(first.ID, history[0].ID)
	s.False(history[0].IsCurrent)
	s.Require().NotNil(history[0].EndDate)
	s.Equal(second.StartDate, *history[0].EndDate)

	s.Equal(second.ID, history[1].ID)
	s.True(history[1].IsCurrent)
	s.Nil(history[1].EndDate)
	s.Equal("def-normal progress", history[1].DefinitionID)
}

func (s *StatusLedgerSuite) TestTransitionTo() {
	updatedBy := "admin-7"
	conditions := "resubmit chapter 3"
	rec, err := s.ledger.TransitionTo(s.ctx, status.EntityBook, "B1", "def-viva", &updatedBy, &conditions)
	s.Require().NoError(err)
	s.Equal(status.EntityBook, rec.Kind)
	s.Equal(baseTime, rec.StartDate)
	s.Equal(&updatedBy, rec.UpdatedBy)
	s.Equal(&conditions, rec.Conditions)

	current, err := s.ledger.Current(s.ctx, status.EntityBook, "B1")
	s.Require().NoError(err)
	s.Equal(rec.ID, current.ID)
}

func (s *StatusLedgerSuite) TestTransitionErrors() {
	s.Run("unknown entity", func() {
		_, err := s.ledger.Transition(s.ctx, TransitionRequest{Kind: status.EntityStudent, EntityID: "ghost", StatusName: "workshop"})
		s.ErrorIs(err, status.ErrEntityNotFound)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("unknown definition name", func() {
		_, err := s.ledger.Transition(s.ctx, TransitionRequest{Kind: status.EntityStudent, EntityID: "S1", StatusName: "graduated"})
		s.ErrorIs(err, status.ErrDefinitionNotFound)
	})

	s.Run("unknown definition id", func() {
		_, err := s.ledger.TransitionTo(s.ctx, status.EntityStudent, "S1", "def-missing", nil, nil)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("invalid kind", func() {
		_, err := s.ledger.TransitionTo(s.ctx, status.EntityKind("THESIS"), "S1", "def-viva", nil, nil)
		s.ErrorIs(err, sentinel.ErrInvalidRequest)
	})

	history, err := s.ledger.History(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *StatusLedgerSuite) TestConcurrentTransitionsLeaveOneCurrent() {
	names := []string{"workshop", "normal progress", "viva"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ledger.Transition(s.ctx, TransitionRequest{
				Kind:       status.EntityStudent,
				EntityID:   "S2",
				StatusName: names[i%len(names)],
			})
			s.NoError(err)
		}(i)
	}
	wg.Wait()

	history, err := s.ledger.History(s.ctx, status.EntityStudent, "S2")
	s.Require().NoError(err)
	s.Len(history, 30)
	s.assertSingleCurrent(status.EntityStudent, "S2")
}

func (s *StatusLedgerSuite) TestStaleSwapIsRetried() {
	repo := &staleOnceRepo{StatusStore: s.store}
	ledger := NewStatusLedger(repo, s.dir, s.catalog, logger.Discard())

	_, err := ledger.Transition(s.ctx, TransitionRequest{Kind: status.EntityProposal, EntityID: "P1", StatusName: "workshop"})
	s.Require().NoError(err)
	s.Equal(2, repo.swaps)
	s.assertSingleCurrent(status.EntityProposal, "P1")
}

func (s *StatusLedgerSuite) TestMultipleCurrentIsNeverRepaired() {
	for _, id := range []string{"r-a", "r-b"} {
		s.store.PutRecord(&status.Record{
			ID:           id,
			Kind:         status.EntityStudent,
			EntityID:     "S1",
			DefinitionID: "def-workshop",
			StartDate:    baseTime,
			IsCurrent:    true,
		})
	}

	_, err := s.ledger.Transition(s.ctx, TransitionRequest{Kind: status.EntityStudent, EntityID: "S1", StatusName: "viva"})
	s.ErrorIs(err, sentinel.ErrInvariantViolation)

	history, err := s.ledger.History(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Len(history, 2)
	for _, r := range history {
		s.True(r.IsCurrent)
	}

	_, err = s.ledger.Current(s.ctx, status.EntityStudent, "S1")
	s.ErrorIs(err, status.ErrMultipleCurrent)
}

func (s *StatusLedgerSuite) TestIsCurrent() {
	first := s.transition("S1", "workshop")
	ok, err := s.ledger.IsCurrent(s.ctx, first.ID)
	s.Require().NoError(err)
	s.True(ok)

	s.transition("S1", "viva")
	ok, err = s.ledger.IsCurrent(s.ctx, first.ID)
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.ledger.IsCurrent(s.ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StatusLedgerSuite) TestHealth() {
	// workshop: warning at 10 days, critical at 20.
	s.transition("S1", "workshop")

	health, _, err := s.ledger.Health(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Equal(status.HealthOK, health)

	s.clock.Advance(11 * 24 * time.Hour)
	health, _, err = s.ledger.Health(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Equal(status.HealthWarning, health)

	s.clock.Advance(10 * 24 * time.Hour)
	health, _, err = s.ledger.Health(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Equal(status.HealthCritical, health)

	_, _, err = s.ledger.Health(s.ctx, status.EntityBook, "B1")
	s.ErrorIs(err, status.ErrRecordNotFound)
}
