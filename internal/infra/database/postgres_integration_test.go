//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"research_workflow_engine/internal/app"
	"research_workflow_engine/internal/domain/notification"
	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/domain/status"
	"research_workflow_engine/internal/infra/database"
	"research_workflow_engine/internal/infra/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresSuite struct {
	suite.Suite
	ctx        context.Context
	container  *tcpostgres.PostgresContainer
	db         *sql.DB
	statuses   *database.PostgresStatusRepository
	notifs     *database.PostgresNotificationRepository
	directory  *database.PostgresDirectory
	workshopID string
	progressID string
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("research"),
		tcpostgres.WithUsername("research"),
		tcpostgres.WithPassword("research"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.db, err = database.NewPostgresConnection(dsn)
	s.Require().NoError(err)
	s.Require().NoError(database.Migrate(s.ctx, s.db))
	s.Require().NoError(database.Migrate(s.ctx, s.db), "migrations are idempotent")

	s.statuses = database.NewPostgresStatusRepository(s.db)
	s.notifs = database.NewPostgresNotificationRepository(s.db)
	s.directory = database.NewPostgresDirectory(s.db)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if err := testcontainers.TerminateContainer(s.container); err != nil {
		s.T().Logf("failed to terminate postgres container: %v", err)
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE notifications, status_records, status_definitions,
		proposals, books, users, students, examiners, staff CASCADE`)
	s.Require().NoError(err)

	_, err = s.db.ExecContext(s.ctx, `INSERT INTO students (id, name, email) VALUES
		('S1', 'Sarah Student', 'sarah@uni.example'), ('S2', 'Sol Student', NULL)`)
	s.Require().NoError(err)
	_, err = s.db.ExecContext(s.ctx, `INSERT INTO examiners (id, name, email, secondary_email) VALUES
		('E2', 'Eve Examiner', NULL, 'eve@home.example')`)
	s.Require().NoError(err)

	now := time.Now().UTC()
	s.workshopID, s.progressID = uuid.NewString(), uuid.NewString()
	for id, name := range map[string]string{s.workshopID: "workshop", s.progressID: "normal progress"} {
		s.Require().NoError(s.statuses.CreateDefinition(s.ctx, &status.Definition{
			ID: id, Name: name, WarningDays: 30, CriticalDays: 60,
			NotifyRoles: []string{"SUPERVISOR"}, IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))
	}
}

func (s *PostgresSuite) newLedger() *app.StatusLedger {
	catalog := app.NewDefinitionCatalog(s.statuses, logger.Discard())
	s.Require().NoError(catalog.Refresh(s.ctx))
	return app.NewStatusLedger(s.statuses, s.directory, catalog, logger.Discard())
}

func (s *PostgresSuite) TestDefinitions() {
	defs, err := s.statuses.ListDefinitions(s.ctx)
	s.Require().NoError(err)
	s.Len(defs, 2)

	err = s.statuses.CreateDefinition(s.ctx, &status.Definition{ID: uuid.NewString(), Name: "workshop"})
	s.ErrorIs(err, status.ErrDuplicateName)

	def, err := s.statuses.GetDefinitionByID(s.ctx, s.workshopID)
	s.Require().NoError(err)
	s.Equal([]string{"SUPERVISOR"}, def.NotifyRoles)

	_, err = s.statuses.GetDefinitionByID(s.ctx, uuid.NewString())
	s.ErrorIs(err, status.ErrDefinitionNotFound)
	_, err = s.statuses.GetRecord(s.ctx, "not-a-uuid")
	s.ErrorIs(err, status.ErrRecordNotFound)
}

func (s *PostgresSuite) TestTwoTransitionsLeaveOneCurrent() {
	ledger := s.newLedger()

	first, err := ledger.Transition(s.ctx, app.TransitionRequest{Kind: status.EntityStudent, EntityID: "S1", StatusName: "workshop"})
	s.Require().NoError(err)
	second, err := ledger.Transition(s.ctx, app.TransitionRequest{Kind: status.EntityStudent, EntityID: "S1", StatusName: "normal progress"})
	s.Require().NoError(err)

	history, err := ledger.History(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(first.ID, history[0].ID)
	s.False(history[0].IsCurrent)
	s.Require().NotNil(history[0].EndDate)
	s.Equal(second.ID, history[1].ID)
	s.True(history[1].IsCurrent)
	s.Nil(history[1].EndDate)

	referenced, err := s.statuses.IsDefinitionReferenced(s.ctx, s.workshopID)
	s.Require().NoError(err)
	s.True(referenced)
}

func (s *PostgresSuite) TestUnknownEntityIsRejected() {
	_, err := s.newLedger().Transition(s.ctx, app.TransitionRequest{Kind: status.EntityProposal, EntityID: "P404", StatusName: "workshop"})
	s.ErrorIs(err, status.ErrEntityNotFound)
}

// Two ledgers have independent in-process locks, so only the database keeps
// the entity at one current record.
func (s *PostgresSuite) TestConcurrentLedgersKeepSingleCurrent() {
	ledgers := []*app.StatusLedger{s.newLedger(), s.newLedger()}
	names := []string{"workshop", "normal progress"}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledgers[i%2].Transition(s.ctx, app.TransitionRequest{
				Kind: status.EntityStudent, EntityID: "S2", StatusName: names[i%2],
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.ErrorIs(err, status.ErrStaleCurrent, "only optimistic conflicts may surface")
	}

	current, err := s.statuses.ListCurrent(s.ctx, status.EntityStudent, "S2")
	s.Require().NoError(err)
	s.Len(current, 1)

	history, err := s.statuses.ListHistory(s.ctx, status.EntityStudent, "S2")
	s.Require().NoError(err)
	for _, r := range history {
		s.Equal(r.IsCurrent, r.EndDate == nil)
	}
}

func (s *PostgresSuite) TestSwapRejectsStalePrior() {
	now := time.Now().UTC()
	rec := func() *status.Record {
		return &status.Record{ID: uuid.NewString(), Kind: status.EntityStudent, EntityID: "S1", DefinitionID: s.workshopID, StartDate: now, IsCurrent: true}
	}
	first := rec()
	s.Require().NoError(s.statuses.Swap(s.ctx, status.EntityStudent, "S1", "", first, now))
	s.ErrorIs(s.statuses.Swap(s.ctx, status.EntityStudent, "S1", "", rec(), now), status.ErrStaleCurrent)
	s.ErrorIs(s.statuses.Swap(s.ctx, status.EntityStudent, "S1", uuid.NewString(), rec(), now), status.ErrStaleCurrent)

	current, err := s.statuses.ListCurrent(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.Require().Len(current, 1)
	s.Equal(first.ID, current[0].ID)
}

func (s *PostgresSuite) TestDirectory() {
	c, err := s.directory.FindContact(s.ctx, recipient.SourceExaminers, "E2")
	s.Require().NoError(err)
	s.Empty(c.PrimaryEmail)
	s.Equal("eve@home.example", c.SecondaryEmail)

	_, err = s.directory.FindContact(s.ctx, recipient.SourceStaff, "nobody")
	s.ErrorIs(err, recipient.ErrContactNotFound)

	ok, err := s.directory.EntityExists(s.ctx, status.EntityStudent, "S1")
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.directory.EntityExists(s.ctx, status.EntityBook, "B1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresSuite) TestNotificationConditionalWrites() {
	scheduled := time.Now().UTC().Truncate(time.Microsecond)
	ref := "S1"
	n := &notification.Notification{
		ID:                uuid.NewString(),
		Type:              notification.TypeEmail,
		Status:            notification.StatusPending,
		Title:             "Workshop",
		Message:           "<p>Hello {{.name}}</p>",
		RecipientCategory: recipient.CategoryStudent,
		RecipientRef:      &ref,
		RecipientEmail:    "sarah@uni.example",
		RecipientName:     "Sarah Student",
		ScheduledFor:      scheduled,
		Metadata:          map[string]string{"name": "Sarah"},
		CreatedAt:         scheduled,
		UpdatedAt:         scheduled,
	}
	s.Require().NoError(s.notifs.Create(s.ctx, n))

	pending, err := s.notifs.ListByStatus(s.ctx, notification.StatusPending)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("Sarah", pending[0].Metadata["name"])
	s.Equal(recipient.CategoryStudent, pending[0].RecipientCategory)

	next := scheduled.Add(2 * time.Second)
	failedAt := scheduled.Add(500 * time.Millisecond)
	s.Require().NoError(s.notifs.RecordRetry(s.ctx, n.ID, 0, next, "451 later", failedAt))
	s.ErrorIs(s.notifs.RecordRetry(s.ctx, n.ID, 0, next, "451 later", failedAt), notification.ErrNotPending)

	got, err := s.notifs.GetByID(s.ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(1, got.RetryCount)
	s.True(next.Equal(got.ScheduledFor))
	s.True(failedAt.Equal(got.UpdatedAt))
	s.Require().NotNil(got.LastError)

	s.Require().NoError(s.notifs.MarkSent(s.ctx, n.ID, next.Add(time.Second)))
	s.ErrorIs(s.notifs.MarkCancelled(s.ctx, n.ID, nil, next), notification.ErrNotPending)
	s.ErrorIs(s.notifs.MarkFailed(s.ctx, n.ID, "late", next), notification.ErrNotPending)
	s.ErrorIs(s.notifs.MarkSent(s.ctx, uuid.NewString(), next), notification.ErrNotFound)
	s.ErrorIs(s.notifs.MarkCancelled(s.ctx, "missing", nil, next), notification.ErrNotFound)
	_, err = s.notifs.GetByID(s.ctx, "foo")
	s.ErrorIs(err, notification.ErrNotFound)

	got, err = s.notifs.GetByID(s.ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(notification.StatusSent, got.Status)
	s.Require().NotNil(got.SentAt)
}
