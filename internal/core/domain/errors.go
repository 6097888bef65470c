package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrForbidden         = errors.New("forbidden")

	// ErrStockChanged is returned by stores when a guarded decrement matched no row.
	ErrStockChanged = errors.New("stock changed during checkout")
)

// ValidationError reports malformed or missing checkout input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// TransactionAbortedError wraps a storage conflict or timeout. Nothing from the
// aborted attempt persisted, so the same request can be submitted again.
type TransactionAbortedError struct {
	Err error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction aborted, try again: %v", e.Err)
}

func (e *TransactionAbortedError) Unwrap() error {
	return e.Err
}

func IsRetryable(err error) bool {
	var aborted *TransactionAbortedError
	return errors.As(err, &aborted)
}
