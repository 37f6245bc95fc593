package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStockConflict is returned by ProductRepository.DecrementStock when
	// the conditional write finds less stock than requested.
	ErrStockConflict = errors.New("stock below requested quantity")

	ErrUserNotFound  = errors.New("user not found")
	ErrOrderNotFound = errors.New("order not found")
)

type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product with ID %s not found", e.ProductID)
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Not enough stock for product %s (available %d, requested %d)",
		e.ProductName, e.Available, e.Requested)
}

// PersistenceError wraps a storage failure unrelated to business rules.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRejection reports whether err is an expected business outcome rather
// than a fault.
func IsRejection(err error) bool {
	var (
		inv *InvalidInputError
		pnf *ProductNotFoundError
		ins *InsufficientStockError
	)
	switch {
	case errors.As(err, &inv), errors.As(err, &pnf), errors.As(err, &ins):
		return true
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrOrderNotFound):
		return true
	}
	return false
}
