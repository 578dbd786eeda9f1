package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/finwire/paycore/internal/events"
	"github.com/finwire/paycore/internal/idempotency"
	"github.com/finwire/paycore/internal/idgen"
	"github.com/finwire/paycore/internal/ledger"
	"github.com/finwire/paycore/internal/logging"
	"github.com/finwire/paycore/internal/metrics"
	"github.com/finwire/paycore/internal/provider"
	"github.com/finwire/paycore/internal/storage"
	"github.com/finwire/paycore/internal/traces"
	"github.com/finwire/paycore/internal/validation"
)

// PlatformEntityType is the ledger entity type for the platform itself.
const PlatformEntityType = "platform"

// FailureInfo is a stored, replayable provider rejection.
type FailureInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is a completed command's outcome. Exactly one of Payment-success
// or Failure is meaningful; StatusCode is what the HTTP layer should send.
type Result struct {
	Payment    *Payment     `json:"payment,omitempty"`
	Failure    *FailureInfo `json:"failure,omitempty"`
	StatusCode int          `json:"statusCode"`
	Replayed   bool         `json:"-"`
}

// commandResponse is the envelope persisted against an idempotency key.
type commandResponse struct {
	Payment *Payment     `json:"payment,omitempty"`
	Failure *FailureInfo `json:"failure,omitempty"`
}

// DefaultMethod is assumed when an initialize request names no payment
// method.
const DefaultMethod = "card"

// InitializeRequest creates a new payment.
type InitializeRequest struct {
	EntityType  string            `json:"entityType"`
	EntityID    string            `json:"entityId"`
	AmountMinor int64             `json:"amountMinor"`
	Currency    string            `json:"currency"`
	Method      string            `json:"method,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Service runs payment commands through the pipeline.
type Service struct {
	store          Store
	ledger         *ledger.Ledger
	idem           *idempotency.Manager
	prov           provider.Provider
	emitter        *events.Emitter
	db             *sql.DB // nil when running on memory stores
	platformEntity string
}

// NewService wires the pipeline. db may be nil for memory-backed setups;
// the atomic unit then degrades to sequential writes, with the payment's
// version check applied first so a lost race stops before any ledger row
// is written.
func NewService(store Store, led *ledger.Ledger, idem *idempotency.Manager, prov provider.Provider, emitter *events.Emitter, db *sql.DB, platformEntity string) *Service {
	return &Service{
		store:          store,
		ledger:         led,
		idem:           idem,
		prov:           prov,
		emitter:        emitter,
		db:             db,
		platformEntity: platformEntity,
	}
}

func (s *Service) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	return storage.WithinTx(ctx, s.db, fn)
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// List returns an entity's payments, newest first.
func (s *Service) List(ctx context.Context, entityType, entityID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.List(ctx, entityType, entityID, limit)
}

// Initialize validates the request, registers the payment with the provider,
// and persists it in the initialized state. No ledger rows are written;
// money has not moved yet.
func (s *Service) Initialize(ctx context.Context, key string, req InitializeRequest) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "payment.initialize",
		traces.Command(CommandInitialize),
		traces.AmountMinor(req.AmountMinor),
		traces.Currency(req.Currency),
	)
	defer span.End()

	return s.run(ctx, CommandInitialize, key, func(ctx context.Context) (*Result, error) {
		req.Method = strings.ToLower(strings.TrimSpace(req.Method))
		if req.Method == "" {
			req.Method = DefaultMethod
		}
		if err := s.validateInitialize(req); err != nil {
			return nil, err
		}

		pay := &Payment{
			ID:          idgen.Payment(),
			EntityType:  req.EntityType,
			EntityID:    strings.TrimSpace(req.EntityID),
			AmountMinor: req.AmountMinor,
			Currency:    strings.ToUpper(req.Currency),
			Method:      req.Method,
			Status:      StatusInitialized,
			Provider:    s.prov.Name(),
			Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
			Metadata:    req.Metadata,
			Version:     1,
			CreatedAt:   time.Now().UTC(),
			UpdatedAt:   time.Now().UTC(),
		}

		res, err := s.prov.Initialize(ctx, provider.Request{
			PaymentID:   pay.ID,
			AmountMinor: pay.AmountMinor,
			Currency:    pay.Currency,
			Method:      pay.Method,
			Description: pay.Description,
			Metadata:    pay.Metadata,
		})
		if err != nil {
			return s.providerFailure(ctx, key, CommandInitialize, pay, true, err)
		}
		pay.ProviderRef = res.Reference

		result := &Result{Payment: pay, StatusCode: http.StatusCreated}
		err = s.withinTx(ctx, func(ctx context.Context) error {
			if err := s.store.Create(ctx, pay); err != nil {
				return err
			}
			return s.storeIdem(ctx, key, CommandInitialize, pay.ID, result)
		})
		if err != nil {
			return s.resolveCommit(ctx, key, CommandInitialize, err)
		}

		s.emit(ctx, events.PaymentInitialized, pay)
		return result, nil
	})
}

// Authorize places a hold: the provider confirms the payment and the paying
// entity is debited.
func (s *Service) Authorize(ctx context.Context, key, paymentID string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "payment.authorize",
		traces.Command(CommandAuthorize),
		traces.PaymentID(paymentID),
	)
	defer span.End()

	return s.run(ctx, CommandAuthorize, key, func(ctx context.Context) (*Result, error) {
		pay, err := s.loadFor(ctx, CommandAuthorize, paymentID)
		if err != nil {
			return nil, err
		}

		res, err := s.prov.Authorize(ctx, provider.Request{
			PaymentID:   pay.ID,
			Reference:   pay.ProviderRef,
			AmountMinor: pay.AmountMinor,
			Currency:    pay.Currency,
		})
		if err != nil {
			return s.providerFailure(ctx, key, CommandAuthorize, pay, false, err)
		}

		pay.Status = StatusAuthorized
		pay.AuthorizedMinor = pay.AmountMinor
		pay.ProviderRef = res.Reference
		result := &Result{Payment: pay, StatusCode: http.StatusOK}

		err = s.withinTx(ctx, func(ctx context.Context) error {
			// Version check first: a lost race aborts before any ledger row.
			if err := s.store.Update(ctx, pay); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, ledger.RecordRequest{
				EntityType:  pay.EntityType,
				EntityID:    pay.EntityID,
				AmountMinor: pay.AmountMinor,
				Currency:    pay.Currency,
				Direction:   ledger.DirectionDebit,
				PaymentID:   pay.ID,
				Description: "authorization hold",
			}); err != nil {
				return err
			}
			return s.storeIdem(ctx, key, CommandAuthorize, pay.ID, result)
		})
		if err != nil {
			return s.resolveCommit(ctx, key, CommandAuthorize, err)
		}

		s.emit(ctx, events.PaymentAuthorized, pay)
		return result, nil
	})
}

// Capture settles an authorized payment: the provider captures the hold and
// the platform entity is credited.
func (s *Service) Capture(ctx context.Context, key, paymentID string) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "payment.capture",
		traces.Command(CommandCapture),
		traces.PaymentID(paymentID),
	)
	defer span.End()

	return s.run(ctx, CommandCapture, key, func(ctx context.Context) (*Result, error) {
		pay, err := s.loadFor(ctx, CommandCapture, paymentID)
		if err != nil {
			return nil, err
		}

		res, err := s.prov.Capture(ctx, provider.Request{
			PaymentID:   pay.ID,
			Reference:   pay.ProviderRef,
			AmountMinor: pay.AmountMinor,
			Currency:    pay.Currency,
		})
		if err != nil {
			return s.providerFailure(ctx, key, CommandCapture, pay, false, err)
		}

		pay.Status = StatusCaptured
		pay.CapturedMinor = pay.AmountMinor
		pay.ProviderRef = res.Reference
		result := &Result{Payment: pay, StatusCode: http.StatusOK}

		err = s.withinTx(ctx, func(ctx context.Context) error {
			if err := s.store.Update(ctx, pay); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, ledger.RecordRequest{
				EntityType:  PlatformEntityType,
				EntityID:    s.platformEntity,
				AmountMinor: pay.AmountMinor,
				Currency:    pay.Currency,
				Direction:   ledger.DirectionCredit,
				PaymentID:   pay.ID,
				Description: "capture",
			}); err != nil {
				return err
			}
			return s.storeIdem(ctx, key, CommandCapture, pay.ID, result)
		})
		if err != nil {
			return s.resolveCommit(ctx, key, CommandCapture, err)
		}

		s.emit(ctx, events.PaymentCaptured, pay)
		return result, nil
	})
}

// Refund returns part or all of a captured payment to the paying entity.
// amountMinor of 0 means the full remaining amount. The payment moves to
// refunded once the cumulative refunds reach the captured amount.
func (s *Service) Refund(ctx context.Context, key, paymentID string, amountMinor int64) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "payment.refund",
		traces.Command(CommandRefund),
		traces.PaymentID(paymentID),
		traces.AmountMinor(amountMinor),
	)
	defer span.End()

	return s.run(ctx, CommandRefund, key, func(ctx context.Context) (*Result, error) {
		pay, err := s.loadFor(ctx, CommandRefund, paymentID)
		if err != nil {
			return nil, err
		}

		if amountMinor == 0 {
			amountMinor = pay.RemainingMinor()
		}
		if amountMinor < 0 {
			return nil, &ValidationError{Field: "amountMinor", Message: "must be positive"}
		}
		if amountMinor > pay.RemainingMinor() {
			return nil, &ValidationError{
				Field:   "amountMinor",
				Message: fmt.Sprintf("refund of %d exceeds remaining %d", amountMinor, pay.RemainingMinor()),
			}
		}

		if _, err := s.prov.Refund(ctx, provider.Request{
			PaymentID:   pay.ID,
			Reference:   pay.ProviderRef,
			AmountMinor: amountMinor,
			Currency:    pay.Currency,
		}); err != nil {
			return s.providerFailure(ctx, key, CommandRefund, pay, false, err)
		}

		pay.RefundedMinor += amountMinor
		if pay.RefundedMinor >= pay.CapturedMinor {
			pay.Status = StatusRefunded
		}
		result := &Result{Payment: pay, StatusCode: http.StatusOK}

		err = s.withinTx(ctx, func(ctx context.Context) error {
			if err := s.store.Update(ctx, pay); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, ledger.RecordRequest{
				EntityType:  pay.EntityType,
				EntityID:    pay.EntityID,
				AmountMinor: amountMinor,
				Currency:    pay.Currency,
				Direction:   ledger.DirectionCredit,
				PaymentID:   pay.ID,
				Description: "refund",
			}); err != nil {
				return err
			}
			return s.storeIdem(ctx, key, CommandRefund, pay.ID, result)
		})
		if err != nil {
			return s.resolveCommit(ctx, key, CommandRefund, err)
		}

		if pay.Status == StatusRefunded {
			s.emit(ctx, events.PaymentRefunded, pay)
		} else {
			s.emit(ctx, events.PaymentRefundRecorded, pay)
		}
		return result, nil
	})
}

// run wraps a command with the idempotency fast path, metrics, and logging.
func (s *Service) run(ctx context.Context, command, key string, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	start := time.Now()

	if key != "" {
		rec, err := s.idem.Check(ctx, key, command)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			metrics.CommandsTotal.WithLabelValues(command, "replayed").Inc()
			logging.Command(ctx, command, rec.PaymentID).Info("command replayed from idempotency store")
			return resultFromRecord(rec)
		}
	}

	result, err := fn(ctx)

	metrics.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	switch {
	case err != nil && provider.IsIndeterminate(err):
		metrics.CommandsTotal.WithLabelValues(command, "indeterminate").Inc()
	case err != nil:
		metrics.CommandsTotal.WithLabelValues(command, "error").Inc()
	case result.Failure != nil:
		metrics.CommandsTotal.WithLabelValues(command, "rejected").Inc()
	case result.Replayed:
		metrics.CommandsTotal.WithLabelValues(command, "replayed").Inc()
	default:
		metrics.CommandsTotal.WithLabelValues(command, "success").Inc()
	}
	return result, err
}

// loadFor fetches the payment and enforces the state machine.
func (s *Service) loadFor(ctx context.Context, command, paymentID string) (*Payment, error) {
	pay, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !pay.CanRun(command) {
		return nil, &InvalidTransitionError{PaymentID: pay.ID, Status: pay.Status, Command: command}
	}
	return pay, nil
}

func (s *Service) validateInitialize(req InitializeRequest) error {
	if strings.TrimSpace(req.EntityType) == "" || strings.TrimSpace(req.EntityID) == "" {
		return &ValidationError{Field: "entity", Message: "entityType and entityId are required"}
	}
	if req.AmountMinor <= 0 {
		return &ValidationError{Field: "amountMinor", Message: "must be a positive number of minor units"}
	}
	if !validation.IsValidCurrency(strings.TrimSpace(req.Currency)) {
		return &ValidationError{Field: "currency", Message: "must be a three-letter currency code"}
	}
	if !s.prov.Supports(strings.ToUpper(req.Currency), req.Method) {
		return &UnsupportedError{Provider: s.prov.Name(), Currency: req.Currency, Method: req.Method}
	}
	return nil
}

// providerFailure handles a failed provider call. Definitive rejections
// are cached for replay and return a Result. Rejections before settlement
// (initialize, authorize, capture) mark the payment failed; a rejected
// refund leaves the payment captured and refundable, since money already
// moved and the refund can legitimately be retried later. Indeterminate
// failures leave no trace and bubble up as errors.
func (s *Service) providerFailure(ctx context.Context, key, command string, pay *Payment, isNew bool, provErr error) (*Result, error) {
	log := logging.Command(ctx, command, pay.ID)

	if provider.IsIndeterminate(provErr) {
		log.Warn("provider call indeterminate, nothing recorded", "error", provErr)
		return nil, provErr
	}

	pe, ok := provider.AsError(provErr)
	if !ok {
		return nil, provErr
	}

	failsPayment := command != CommandRefund
	if failsPayment {
		pay.Status = StatusFailed
	}
	result := &Result{
		Failure:    &FailureInfo{Code: pe.Code, Message: pe.Message},
		Payment:    pay,
		StatusCode: http.StatusPaymentRequired,
	}

	err := s.withinTx(ctx, func(ctx context.Context) error {
		switch {
		case isNew:
			if err := s.store.Create(ctx, pay); err != nil {
				return err
			}
		case failsPayment:
			if err := s.store.Update(ctx, pay); err != nil {
				return err
			}
		}
		return s.storeIdem(ctx, key, command, pay.ID, result)
	})
	if err != nil {
		return s.resolveCommit(ctx, key, command, err)
	}

	log.Info("provider rejected command", "code", pe.Code)
	if failsPayment {
		s.emit(ctx, events.PaymentFailed, pay)
	}
	return result, nil
}

// storeIdem records the command outcome when an idempotency key was given.
func (s *Service) storeIdem(ctx context.Context, key, command, paymentID string, result *Result) error {
	if key == "" {
		return nil
	}
	_, err := s.idem.StoreResult(ctx, key, command, paymentID, result.StatusCode, commandResponse{
		Payment: result.Payment,
		Failure: result.Failure,
	})
	return err
}

// resolveCommit turns a failed atomic unit into the right outcome. A lost
// idempotency race means some concurrent request already completed this
// command; its stored result is returned and this attempt's work was
// rolled back.
func (s *Service) resolveCommit(ctx context.Context, key, command string, err error) (*Result, error) {
	if !errors.Is(err, idempotency.ErrDuplicateKey) {
		return nil, err
	}
	rec, checkErr := s.idem.Check(ctx, key, command)
	if checkErr != nil {
		return nil, checkErr
	}
	if rec == nil {
		return nil, err
	}
	logging.Command(ctx, command, rec.PaymentID).Info("lost idempotency race, replaying winner")
	return resultFromRecord(rec)
}

func resultFromRecord(rec *idempotency.Record) (*Result, error) {
	var resp commandResponse
	if err := json.Unmarshal(rec.Response, &resp); err != nil {
		return nil, fmt.Errorf("stored idempotency response corrupt for %s/%s: %w", rec.Command, rec.Key, err)
	}
	return &Result{
		Payment:    resp.Payment,
		Failure:    resp.Failure,
		StatusCode: rec.StatusCode,
		Replayed:   true,
	}, nil
}

func (s *Service) emit(ctx context.Context, typ events.Type, pay *Payment) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, events.Event{
		Type:        typ,
		PaymentID:   pay.ID,
		EntityType:  pay.EntityType,
		EntityID:    pay.EntityID,
		AmountMinor: pay.AmountMinor,
		Currency:    pay.Currency,
		Status:      string(pay.Status),
	})
}
