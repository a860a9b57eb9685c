// Package fault defines the classified errors the inventory core returns
// across the storage boundary. Callers match them with errors.Is/errors.As;
// every one of them means the enclosing transaction was rolled back whole.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks a concurrent mutation on the same variant. The
	// caller may retry the whole operation.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrNotFound marks a missing variant, purchase order, reception or order.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a state change the entity's lifecycle
	// does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func InvalidTransition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// InsufficientStockError rejects a sale line that would drive a
// non-backorderable SKU negative.
type InsufficientStockError struct {
	SKU       string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}
