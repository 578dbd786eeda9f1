package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no payment exists with the given ID.
	ErrNotFound = errors.New("payment: not found")
	// ErrVersionConflict is returned when an update lost a concurrent race.
	ErrVersionConflict = errors.New("payment: concurrent update conflict")
)

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment: invalid %s: %s", e.Field, e.Message)
}

// InvalidTransitionError reports a command run from the wrong status.
type InvalidTransitionError struct {
	PaymentID string
	Status    Status
	Command   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("payment %s: cannot %s a %s payment", e.PaymentID, e.Command, e.Status)
}

// UnsupportedError reports a currency or method the configured provider
// rejects.
type UnsupportedError struct {
	Provider string
	Currency string
	Method   string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("payment: provider %s does not support %s via %s", e.Provider, e.Currency, e.Method)
}
