// internal/domain/status/status.go
package status

import (
	"sort"
	"strings"
	"time"
)

// EntityKind identifies which lifecycle a status record belongs to.
type EntityKind string

const (
	EntityStudent  EntityKind = "STUDENT"
	EntityProposal EntityKind = "PROPOSAL"
	EntityBook     EntityKind = "BOOK"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityStudent, EntityProposal, EntityBook:
		return true
	}
	return false
}

// Definition is a named status type. Names are opaque to the engine.
type Definition struct {
	ID                   string
	Name                 string
	Description          string
	ExpectedDurationDays int
	WarningDays          int
	CriticalDays         int
	DelayDays            int
	NotifyRoles          []string
	Color                string
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone returns a deep copy so cached definitions stay read-only.
func (d *Definition) Clone() *Definition {
	c := *d
	c.NotifyRoles = append([]string(nil), d.NotifyRoles...)
	return &c
}

// HealthAt reports how long an entity has sat in this status against the
// definition's warning and critical thresholds. Zero thresholds are ignored.
func (d *Definition) HealthAt(startedAt, now time.Time) Health {
	days := int(now.Sub(startedAt).Hours() / 24)
	switch {
	case d.CriticalDays > 0 && days >= d.CriticalDays:
		return HealthCritical
	case d.WarningDays > 0 && days >= d.WarningDays:
		return HealthWarning
	}
	return HealthOK
}

// NormalizeRoles trims, deduplicates and sorts notify roles.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Record is one entry in an entity's status history. At most one record per
// (Kind, EntityID) has IsCurrent set, and it is the only one without an EndDate.
type Record struct {
	ID           string
	Kind         EntityKind
	EntityID     string
	DefinitionID string
	StartDate    time.Time
	EndDate      *time.Time
	IsCurrent    bool
	Conditions   *string
	UpdatedBy    *string
}

type Health string

const (
	HealthOK       Health = "OK"
	HealthWarning  Health = "WARNING"
	HealthCritical Health = "CRITICAL"
)
