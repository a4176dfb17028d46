package core

import (
	"errors"
	"fmt"
)

// Error classes. Callers match them with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrConcurrency = errors.New("concurrent modification, retry the operation")
)

// ValidationError describes why a single field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

var (
	ErrInvalidAmount        = invalid("amount", "must be greater than zero")
	ErrInvalidType          = invalid("type", "must be income or expense")
	ErrInvalidDate          = invalid("date", "must be a calendar day")
	ErrEmptyName            = invalid("name", "cannot be empty")
	ErrNameTooLong          = invalid("name", "too long (max 120 characters)")
	ErrDescriptionTooLong   = invalid("description", "too long (max 255 characters)")
	ErrPaymentMethodTooLong = invalid("payment_method", "too long (max 50 characters)")
	ErrNegativeOpening      = invalid("balance", "opening balance cannot be negative")
	ErrMissingOwner         = invalid("owner", "cannot be empty")
	ErrMissingAccount       = invalid("account", "is required")
	ErrMissingCategory      = invalid("category", "is required")
	ErrCategoryTypeMismatch = invalid("category", "type does not match transaction type")
	ErrForeignReference     = invalid("reference", "unknown account or category")
	ErrInvalidPeriod        = invalid("period", "year or month out of range")
	ErrInvalidMoneyFormat   = invalid("amount", "not a decimal number")
)

// NotFound wraps ErrNotFound with the kind of entity that was looked up.
// Missing and foreign-owned entities produce the same error.
func NotFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}
