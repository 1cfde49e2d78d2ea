package checkrun

import (
	"errors"
	"fmt"

	"truckcheck-backend/internal/store"
)

var (
	// ErrNotFound means the appliance, run or result is not in the caller's station.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the operation is not allowed on a completed run.
	ErrInvalidState = errors.New("check run is already completed")
	// ErrDependency wraps store failures.
	ErrDependency = errors.New("dependency failure")
)

// ValidationError reports malformed input. It is returned before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// storeErr maps a store error onto the coordinator's error kinds.
func storeErr(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrDependency, err)
}
