package app

import (
	"context"
	"sync"
	"time"

	"research_workflow_engine/internal/domain/recipient"
	"research_workflow_engine/internal/domain/status"
	"research_workflow_engine/internal/infra/memstore"
)

var baseTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type armCall struct {
	id string
	at time.Time
}

// fakeTimer records Arm and Disarm without firing anything.
type fakeTimer struct {
	mu       sync.Mutex
	armed    map[string]time.Time
	arms     []armCall
	disarmed []string
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{armed: map[string]time.Time{}}
}

func (t *fakeTimer) Arm(id string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed[id] = at
	t.arms = append(t.arms, armCall{id: id, at: at})
}

func (t *fakeTimer) Disarm(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.armed, id)
	t.disarmed = append(t.disarmed, id)
}

func (t *fakeTimer) armedAt(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.armed[id]
	return at, ok
}

func (t *fakeTimer) armCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.arms)
}

// take pops the pending deadline for id, as the real queue does when firing.
func (t *fakeTimer) take(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.armed[id]
	delete(t.armed, id)
	return at, ok
}

type recordingAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.texts)
}

// seedDefinitions stores one definition per name and returns them by name.
func seedDefinitions(store *memstore.StatusStore, names ...string) map[string]*status.Definition {
	out := map[string]*status.Definition{}
	for i, name := range names {
		d := &status.Definition{
			ID:           "def-" + name,
			Name:         name,
			WarningDays:  10 * (i + 1),
			CriticalDays: 20 * (i + 1),
			IsActive:     true,
			CreatedAt:    baseTime,
			UpdatedAt:    baseTime,
		}
		_ = store.CreateDefinition(context.Background(), d)
		out[name] = d
	}
	return out
}

func seedContacts(dir *memstore.Directory) {
	dir.AddContact(recipient.SourceStudents, recipient.Contact{ID: "S1", Name: "Sarah Student", PrimaryEmail: "sarah@uni.example"})
	dir.AddContact(recipient.SourceUsers, recipient.Contact{ID: "U1", Name: "Una User", PrimaryEmail: "una@uni.example"})
	dir.AddContact(recipient.SourceExaminers, recipient.Contact{ID: "E1", Name: "Ed Examiner", PrimaryEmail: "ed@uni.example", SecondaryEmail: "ed@home.example"})
	dir.AddContact(recipient.SourceExaminers, recipient.Contact{ID: "E2", Name: "Eve Examiner", SecondaryEmail: "eve@home.example"})
	dir.AddContact(recipient.SourceStaff, recipient.Contact{ID: "ST1", Name: "Sam Supervisor", PrimaryEmail: "sam@uni.example"})
	dir.AddContact(recipient.SourceStaff, recipient.Contact{ID: "ST2", Name: "Cleo Chair", SecondaryEmail: "cleo@home.example"})
	dir.AddContact(recipient.SourceUsers, recipient.Contact{ID: "U2", Name: "No Mail", SecondaryEmail: "fallback@home.example"})
	dir.AddEntity(status.EntityStudent, "S1")
	dir.AddEntity(status.EntityStudent, "S2")
	dir.AddEntity(status.EntityProposal, "P1")
	dir.AddEntity(status.EntityBook, "B1")
}
