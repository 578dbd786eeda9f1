// Package events notifies listeners about payment lifecycle changes.
//
// Emission is fire and forget: a sink that is slow or failing never blocks
// or fails the command that produced the event.
package events

import (
	"context"
	"time"

	"github.com/finwire/paycore/internal/idgen"
	"github.com/finwire/paycore/internal/logging"
	"github.com/finwire/paycore/internal/traces"
)

// Type identifies a payment lifecycle event.
type Type string

const (
	PaymentInitialized    Type = "payment.initialized"
	PaymentAuthorized     Type = "payment.authorized"
	PaymentCaptured       Type = "payment.captured"
	PaymentRefundRecorded Type = "payment.refund.recorded"
	PaymentRefunded       Type = "payment.refunded"
	PaymentFailed         Type = "payment.failed"
)

// Event is one payment lifecycle notification.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	PaymentID   string    `json:"paymentId"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	AmountMinor int64     `json:"amountMinor"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	TraceID     string    `json:"traceId,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Sink receives events. Deliver runs on the emitter's goroutine per event;
// implementations own their timeouts and retries.
type Sink interface {
	Deliver(ctx context.Context, evt *Event)
}

// Emitter fans events out to sinks.
type Emitter struct {
	sinks []Sink
}

// NewEmitter creates an emitter over the given sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Emit assigns the event an ID and trace, logs it, and dispatches it to
// every sink on its own goroutine. It never returns an error.
func (e *Emitter) Emit(ctx context.Context, evt Event) {
	evt.ID = idgen.Event()
	evt.OccurredAt = time.Now().UTC()
	if tid := traces.TraceID(ctx); tid != "" {
		evt.TraceID = tid
	}

	logging.L(ctx).Info("payment event",
		"event_id", evt.ID,
		"event_type", string(evt.Type),
		"payment_id", evt.PaymentID,
		"status", evt.Status,
	)
	eventsEmitted.WithLabelValues(string(evt.Type)).Inc()

	// Detach from the request context so an in-flight delivery survives
	// the HTTP response. Sinks bound their own deadlines.
	logger := logging.L(ctx)
	bg := logging.WithLogger(context.Background(), logger)
	for _, sink := range e.sinks {
		cp := evt
		go sink.Deliver(bg, &cp)
	}
}
