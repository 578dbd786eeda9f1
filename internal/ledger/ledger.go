// Package ledger records money movement and maintains per-entity balances.
//
// Two tables back it: an append-only transaction log and a materialized
// balance per (entityType, entityID, currency). Both are written in one
// atomic unit per movement; the balance is adjusted with the storage
// engine's native arithmetic so concurrent writers cannot lose an update.
//
// Sign convention: rows are recorded from the entity's own perspective.
// A credit increases the entity's balance, a debit decreases it. The
// payment pipeline debits the paying customer on authorize, credits the
// platform entity on capture, and credits the customer back on refund.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/finwire/paycore/internal/idgen"
)

var (
	ErrInvalidAmount    = errors.New("ledger: amount must be a positive number of minor units")
	ErrInvalidDirection = errors.New("ledger: direction must be credit or debit")
	ErrMissingEntity    = errors.New("ledger: entity type and ID are required")
	ErrMissingCurrency  = errors.New("ledger: currency is required")
)

// Direction is the side of a ledger transaction.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction is one immutable, directional money movement. Rows are never
// updated or deleted; corrections are new transactions.
type Transaction struct {
	ID          string            `json:"id"`
	PaymentID   string            `json:"paymentId,omitempty"`
	EntityType  string            `json:"entityType"`
	EntityID    string            `json:"entityId"`
	AmountMinor int64             `json:"amountMinor"`
	Currency    string            `json:"currency"`
	Direction   Direction         `json:"direction"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// SignedAmount returns the balance delta this transaction applies:
// positive for credits, negative for debits.
func (t *Transaction) SignedAmount() int64 {
	if t.Direction == DirectionDebit {
		return -t.AmountMinor
	}
	return t.AmountMinor
}

// Balance is the materialized running total for one entity and currency.
type Balance struct {
	EntityType        string    `json:"entityType"`
	EntityID          string    `json:"entityId"`
	Currency          string    `json:"currency"`
	BalanceMinor      int64     `json:"balanceMinor"`
	LastTransactionID string    `json:"lastTransactionId,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// RecordRequest describes one movement to record.
type RecordRequest struct {
	EntityType  string
	EntityID    string
	AmountMinor int64
	Currency    string
	Direction   Direction
	PaymentID   string
	Description string
	Metadata    map[string]string
}

// ListOptions narrows and pages a transaction listing.
type ListOptions struct {
	Currency string // empty = all currencies for the entity
	Cursor   string // opaque, from a previous page
	Limit    int
}

// EntityTotals is the recomputed credit/debit sum for one balance key,
// produced for the consistency verifier.
type EntityTotals struct {
	EntityType  string
	EntityID    string
	Currency    string
	CreditMinor int64
	DebitMinor  int64
	Count       int64
}

// CalculatedBalance is the balance implied by the transaction log alone.
func (t EntityTotals) CalculatedBalance() int64 {
	return t.CreditMinor - t.DebitMinor
}

// Store persists the transaction log and materialized balances.
//
// RecordTransaction must insert the row and adjust the balance in one
// atomic unit; a failure of either persists neither. ReplaceBalance
// exists solely for the guarded rebuild path of the verifier.
type Store interface {
	RecordTransaction(ctx context.Context, txn *Transaction) error
	GetBalance(ctx context.Context, entityType, entityID, currency string) (int64, error)
	ListTransactions(ctx context.Context, entityType, entityID string, opts ListOptions) ([]*Transaction, string, error)
	ListByPayment(ctx context.Context, paymentID string) ([]*Transaction, error)
	AllBalances(ctx context.Context) ([]*Balance, error)
	TransactionTotals(ctx context.Context) ([]EntityTotals, error)
	ReplaceBalance(ctx context.Context, bal *Balance) error
}

// Ledger validates and records money movement.
type Ledger struct {
	store Store
}

// New creates a new ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

const defaultListLimit = 50

// Record validates the request, assigns a transaction ID, and writes the
// transaction plus balance adjustment atomically.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*Transaction, error) {
	if req.EntityType == "" || req.EntityID == "" {
		return nil, ErrMissingEntity
	}
	if req.Currency == "" {
		return nil, ErrMissingCurrency
	}
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Direction != DirectionCredit && req.Direction != DirectionDebit {
		return nil, ErrInvalidDirection
	}

	txn := &Transaction{
		ID:          idgen.Transaction(),
		PaymentID:   req.PaymentID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Direction:   req.Direction,
		Description: req.Description,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	start := time.Now()
	if err := l.store.RecordTransaction(ctx, txn); err != nil {
		return nil, err
	}
	transactionsRecorded.WithLabelValues(string(req.Direction)).Inc()
	recordDuration.Observe(time.Since(start).Seconds())

	return txn, nil
}

// GetBalance returns the stored balance in minor units. Unknown keys are 0,
// never an error or a missing value.
func (l *Ledger) GetBalance(ctx context.Context, entityType, entityID, currency string) (int64, error) {
	return l.store.GetBalance(ctx, entityType, entityID, currency)
}

// ListTransactions returns the entity's transactions newest-first with an
// opaque, strictly decreasing cursor.
func (l *Ledger) ListTransactions(ctx context.Context, entityType, entityID string, opts ListOptions) ([]*Transaction, string, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	return l.store.ListTransactions(ctx, entityType, entityID, opts)
}

// ListByPayment returns every transaction recorded against a payment.
func (l *Ledger) ListByPayment(ctx context.Context, paymentID string) ([]*Transaction, error) {
	return l.store.ListByPayment(ctx, paymentID)
}

// Store exposes the underlying store for the verifier.
func (l *Ledger) Store() Store {
	return l.store
}
