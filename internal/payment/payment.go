// Package payment implements the idempotent payment command pipeline.
//
// Each command (initialize, authorize, capture, refund) is checked against
// the idempotency store, validated against the payment's state machine,
// executed against the provider with no database transaction open, and then
// committed: ledger rows, the payment update, and the idempotency record
// land in one atomic unit or not at all.
package payment

import (
	"context"
	"time"
)

// Status is a payment's position in its lifecycle.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusAuthorized  Status = "authorized"
	StatusCaptured    Status = "captured"
	StatusRefunded    Status = "refunded"
	StatusFailed      Status = "failed"
)

// Command names, used as the idempotency scope and in metrics.
const (
	CommandInitialize = "initialize"
	CommandAuthorize  = "authorize"
	CommandCapture    = "capture"
	CommandRefund     = "refund"
)

// Payment is one payment moving through the pipeline.
type Payment struct {
	ID              string            `json:"id"`
	EntityType      string            `json:"entityType"`
	EntityID        string            `json:"entityId"`
	AmountMinor     int64             `json:"amountMinor"`
	Currency        string            `json:"currency"`
	Method          string            `json:"method"`
	Status          Status            `json:"status"`
	Provider        string            `json:"provider"`
	ProviderRef     string            `json:"providerRef,omitempty"`
	AuthorizedMinor int64             `json:"authorizedMinor"`
	CapturedMinor   int64             `json:"capturedMinor"`
	RefundedMinor   int64             `json:"refundedMinor"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// RemainingMinor is the captured amount not yet refunded.
func (p *Payment) RemainingMinor() int64 {
	return p.CapturedMinor - p.RefundedMinor
}

// transitions maps each command to the statuses it may run from.
var transitions = map[string][]Status{
	CommandAuthorize: {StatusInitialized},
	CommandCapture:   {StatusAuthorized},
	CommandRefund:    {StatusCaptured},
}

// CanRun reports whether command is legal from the payment's current status.
func (p *Payment) CanRun(command string) bool {
	for _, s := range transitions[command] {
		if p.Status == s {
			return true
		}
	}
	return false
}

// Store persists payments.
//
// Update must bump Version; implementations reject an update whose version
// does not match the stored row so two racing commands cannot both win.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	List(ctx context.Context, entityType, entityID string, limit int) ([]*Payment, error)
}
