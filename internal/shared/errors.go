package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a ledger cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverReturn indicates a return exceeds the quantity still outstanding on a sale line.
	ErrOverReturn = errors.New("return exceeds outstanding quantity")
	// ErrUnauthorized indicates a missing or invalid bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller's role may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// InsufficientStockError carries the quantities behind an ErrInsufficientStock.
type InsufficientStockError struct {
	MedicineID int64
	Available  int64
	Requested  int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for medicine %d: available %d, requested %d", e.MedicineID, e.Available, e.Requested)
}

// Is reports whether target is ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// OverReturnError carries the quantities behind an ErrOverReturn.
type OverReturnError struct {
	SaleID      int64
	MedicineID  int64
	Outstanding int64
	Requested   int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("sale %d medicine %d: %d outstanding, %d requested for return", e.SaleID, e.MedicineID, e.Outstanding, e.Requested)
}

// Is reports whether target is ErrOverReturn.
func (e *OverReturnError) Is(target error) bool {
	return target == ErrOverReturn
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
