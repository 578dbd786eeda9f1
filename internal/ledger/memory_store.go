package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finwire/paycore/internal/pagination"
)

type balanceKey struct {
	entityType string
	entityID   string
	currency   string
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	txns     []*Transaction
	balances map[balanceKey]*Balance
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]*Balance),
	}
}

func (m *MemoryStore) RecordTransaction(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *txn
	m.txns = append(m.txns, &cp)

	key := balanceKey{txn.EntityType, txn.EntityID, txn.Currency}
	bal, ok := m.balances[key]
	if !ok {
		bal = &Balance{
			EntityType: txn.EntityType,
			EntityID:   txn.EntityID,
			Currency:   txn.Currency,
		}
		m.balances[key] = bal
	}
	bal.BalanceMinor += txn.SignedAmount()
	bal.LastTransactionID = txn.ID
	bal.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetBalance(ctx context.Context, entityType, entityID, currency string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bal, ok := m.balances[balanceKey{entityType, entityID, currency}]
	if !ok {
		return 0, nil
	}
	return bal.BalanceMinor, nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, entityType, entityID string, opts ListOptions) ([]*Transaction, string, error) {
	cursor, err := pagination.Decode(opts.Cursor)
	if err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	var matched []*Transaction
	for _, t := range m.txns {
		if t.EntityType != entityType || t.EntityID != entityID {
			continue
		}
		if opts.Currency != "" && t.Currency != opts.Currency {
			continue
		}
		matched = append(matched, t)
	}
	m.mu.RUnlock()

	// Newest first; ID breaks created-at ties the same way Postgres does.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if cursor != nil {
		idx := 0
		for idx < len(matched) {
			t := matched[idx]
			if t.CreatedAt.Before(cursor.CreatedAt) ||
				(t.CreatedAt.Equal(cursor.CreatedAt) && t.ID < cursor.ID) {
				break
			}
			idx++
		}
		matched = matched[idx:]
	}

	if len(matched) > opts.Limit+1 {
		matched = matched[:opts.Limit+1]
	}
	page, next, _ := pagination.ComputePage(matched, opts.Limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, nil
}

func (m *MemoryStore) ListByPayment(ctx context.Context, paymentID string) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Transaction
	for _, t := range m.txns {
		if t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) AllBalances(ctx context.Context) ([]*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Balance, 0, len(m.balances))
	for _, b := range m.balances {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

func (m *MemoryStore) TransactionTotals(ctx context.Context) ([]EntityTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := make(map[balanceKey]*EntityTotals)
	for _, t := range m.txns {
		key := balanceKey{t.EntityType, t.EntityID, t.Currency}
		tot, ok := acc[key]
		if !ok {
			tot = &EntityTotals{EntityType: t.EntityType, EntityID: t.EntityID, Currency: t.Currency}
			acc[key] = tot
		}
		if t.Direction == DirectionDebit {
			tot.DebitMinor += t.AmountMinor
		} else {
			tot.CreditMinor += t.AmountMinor
		}
		tot.Count++
	}
	out := make([]EntityTotals, 0, len(acc))
	for _, tot := range acc {
		out = append(out, *tot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

func (m *MemoryStore) ReplaceBalance(ctx context.Context, bal *Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *bal
	cp.UpdatedAt = time.Now().UTC()
	m.balances[balanceKey{bal.EntityType, bal.EntityID, bal.Currency}] = &cp
	return nil
}
