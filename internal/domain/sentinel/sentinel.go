package sentinel

import "errors"

// Sentinel errors shared across the domain packages. Stores and services wrap
// these so callers can branch with errors.Is regardless of which entity failed.
//
// - ErrNotFound: entity does not exist
// - ErrConflict: a conditional write lost against a concurrent change
// - ErrInvalidRequest: caller supplied malformed input
// - ErrInvariantViolation: persisted data breaks a rule the engine relies on; never auto-repaired
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvariantViolation = errors.New("invariant violation")
)
