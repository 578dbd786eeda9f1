// Package provider abstracts the external payment processor.
//
// The pipeline calls a Provider with no database transaction open. Every
// error a Provider returns must be classified: definitive rejections fail
// the payment and are safe to cache, indeterminate failures mean the
// provider's state is unknown and the command may be retried.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Result is what a provider call produced.
type Result struct {
	// Reference is the provider's identifier for the payment, stable
	// across commands (e.g. a payment intent ID).
	Reference string
	// Raw optional provider-specific detail for logs.
	Raw map[string]string
}

// Provider is a payment processor adapter.
type Provider interface {
	// Name identifies the provider in logs and stored payments.
	Name() string
	// Supports reports whether the provider handles the given currency
	// and payment method.
	Supports(currency, method string) bool

	Initialize(ctx context.Context, req Request) (*Result, error)
	Authorize(ctx context.Context, req Request) (*Result, error)
	Capture(ctx context.Context, req Request) (*Result, error)
	Refund(ctx context.Context, req Request) (*Result, error)
}

// Request carries what a provider needs for one operation.
type Request struct {
	PaymentID   string
	Reference   string // provider reference from a previous command
	AmountMinor int64
	Currency    string
	Method      string
	Description string
	Metadata    map[string]string
}

// Error is a classified provider failure.
//
// Indeterminate means the call may or may not have taken effect at the
// provider; such errors are never cached against an idempotency key.
type Error struct {
	Op            string
	Code          string
	Message       string
	Indeterminate bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed: %s (%s)", e.Op, e.Message, e.Code)
}

// IsIndeterminate reports whether err is a provider error whose effect
// at the provider is unknown.
func IsIndeterminate(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Indeterminate
}

// AsError unwraps err to a classified provider error, if it is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}
