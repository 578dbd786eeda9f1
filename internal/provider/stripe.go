package provider

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/finwire/paycore/internal/metrics"
)

// Stripe adapts Stripe PaymentIntents with manual capture to the Provider
// interface. Initialize creates the intent, Authorize confirms it, Capture
// captures it, and Refund refunds against it.
type Stripe struct {
	api *client.API
}

// NewStripe creates a Stripe provider with the given secret key.
func NewStripe(apiKey string) *Stripe {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Stripe{api: api}
}

// NewStripeWithClient creates a Stripe provider over an existing client.
// Tests use this with a client pointed at a stub backend.
func NewStripeWithClient(api *client.API) *Stripe {
	return &Stripe{api: api}
}

func (s *Stripe) Name() string { return "stripe" }

// Supports accepts any currency Stripe settles; validation of unsupported
// currencies is delegated to the API itself. Only card payments are wired.
func (s *Stripe) Supports(currency, method string) bool {
	return currency != "" && (method == "" || method == "card")
}

func (s *Stripe) Initialize(ctx context.Context, req Request) (*Result, error) {
	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(req.Description),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("payment_id", req.PaymentID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, s.classify("initialize", err)
	}
	metrics.ProviderCallsTotal.WithLabelValues("initialize", "success").Inc()
	return &Result{Reference: pi.ID}, nil
}

func (s *Stripe) Authorize(ctx context.Context, req Request) (*Result, error) {
	pi, err := s.api.PaymentIntents.Confirm(req.Reference, &stripe.PaymentIntentConfirmParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, s.classify("authorize", err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		metrics.ProviderCallsTotal.WithLabelValues("authorize", "error").Inc()
		return nil, &Error{
			Op:      "authorize",
			Code:    "unexpected_status",
			Message: "payment intent is " + string(pi.Status) + ", expected requires_capture",
		}
	}
	metrics.ProviderCallsTotal.WithLabelValues("authorize", "success").Inc()
	return &Result{Reference: pi.ID}, nil
}

func (s *Stripe) Capture(ctx context.Context, req Request) (*Result, error) {
	pi, err := s.api.PaymentIntents.Capture(req.Reference, &stripe.PaymentIntentCaptureParams{
		Params:          stripe.Params{Context: ctx},
		AmountToCapture: stripe.Int64(req.AmountMinor),
	})
	if err != nil {
		return nil, s.classify("capture", err)
	}
	metrics.ProviderCallsTotal.WithLabelValues("capture", "success").Inc()
	return &Result{Reference: pi.ID}, nil
}

func (s *Stripe) Refund(ctx context.Context, req Request) (*Result, error) {
	ref, err := s.api.Refunds.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(req.Reference),
		Amount:        stripe.Int64(req.AmountMinor),
	})
	if err != nil {
		return nil, s.classify("refund", err)
	}
	metrics.ProviderCallsTotal.WithLabelValues("refund", "success").Inc()
	return &Result{Reference: ref.ID}, nil
}

// classify maps a Stripe error to the pipeline's definitive/indeterminate
// split. Card declines and invalid requests are definitive. API errors,
// rate limits, and anything that is not a typed Stripe error (timeouts,
// connection resets) are indeterminate.
func (s *Stripe) classify(op string, err error) error {
	metrics.ProviderCallsTotal.WithLabelValues(op, "error").Inc()

	var se *stripe.Error
	if !errors.As(err, &se) {
		return &Error{Op: op, Code: "network", Message: err.Error(), Indeterminate: true}
	}

	switch se.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		return &Error{Op: op, Code: string(se.Code), Message: se.Msg}
	default:
		return &Error{Op: op, Code: string(se.Code), Message: se.Msg, Indeterminate: true}
	}
}
