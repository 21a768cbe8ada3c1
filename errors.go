package gtmi

import (
	"errors"
	"fmt"
)

// Custom errors
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrValidation           = errors.New("validation failed")
	ErrConflict             = errors.New("sequence allocation conflict")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrInvalidInput         = errors.New("invalid input")
)

// Specific invalid-state kinds, matchable both as themselves and as
// ErrInvalidState.
var (
	ErrAlreadyAcquired = fmt.Errorf("%w: unit already acquired", ErrInvalidState)
	ErrAlreadyInRepair = fmt.Errorf("%w: unit already in repair", ErrInvalidState)
)

// invalidStateErr names the offending unit status.
func invalidStateErr(status UnitStatus) error {
	return fmt.Errorf("%w: unit is %s", ErrInvalidState, status)
}

// validationErr carries a stable machine-readable code so callers can render
// precise messages without string-matching.
func validationErr(code string) error {
	return fmt.Errorf("%w: %s", ErrValidation, code)
}

// transitionErr names the state/action pair with no workflow edge.
func transitionErr(state string, action WorkflowAction) error {
	return fmt.Errorf("%w: no transition from %s for %s", ErrTransitionNotAllowed, state, action)
}
