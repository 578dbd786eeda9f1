// Package verify checks that materialized balances match the transaction log.
//
// The transaction log is the source of truth. For every balance key the
// verifier recomputes credits minus debits and compares the result to the
// stored balance; any difference is an inconsistency. Rebuild overwrites
// the stored balances from the recomputed totals, guarded behind an
// explicit force flag.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/finwire/paycore/internal/ledger"
	"github.com/finwire/paycore/internal/logging"
)

// Inconsistency is one balance key whose stored value disagrees with the log.
type Inconsistency struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Currency   string `json:"currency"`
	Stored     int64  `json:"storedMinor"`
	Calculated int64  `json:"calculatedMinor"`
	Diff       int64  `json:"diffMinor"`
}

// Report is the outcome of one verification run.
type Report struct {
	StartedAt           time.Time       `json:"startedAt"`
	Duration            time.Duration   `json:"duration"`
	TransactionsScanned int64           `json:"transactionsScanned"`
	BalancesChecked     int             `json:"balancesChecked"`
	Consistent          int             `json:"consistent"`
	Inconsistent        []Inconsistency `json:"inconsistent,omitempty"`
}

// Pass reports whether the run found no inconsistencies.
func (r *Report) Pass() bool {
	return len(r.Inconsistent) == 0
}

// Verifier recomputes balances from the ledger's transaction log.
type Verifier struct {
	store ledger.Store
}

// New creates a verifier over the ledger store.
func New(store ledger.Store) *Verifier {
	return &Verifier{store: store}
}

// Run performs one full verification pass.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{StartedAt: start.UTC()}

	totals, err := v.store.TransactionTotals(ctx)
	if err != nil {
		verifyErrors.Inc()
		return nil, fmt.Errorf("recompute totals: %w", err)
	}

	balances, err := v.store.AllBalances(ctx)
	if err != nil {
		verifyErrors.Inc()
		return nil, fmt.Errorf("load balances: %w", err)
	}

	stored := make(map[string]*ledger.Balance, len(balances))
	for _, b := range balances {
		stored[balanceID(b.EntityType, b.EntityID, b.Currency)] = b
	}

	seen := make(map[string]bool, len(totals))
	for _, t := range totals {
		report.TransactionsScanned += t.Count
		report.BalancesChecked++
		key := balanceID(t.EntityType, t.EntityID, t.Currency)
		seen[key] = true

		calculated := t.CalculatedBalance()
		var storedMinor int64
		if b, ok := stored[key]; ok {
			storedMinor = b.BalanceMinor
		}
		if storedMinor == calculated {
			report.Consistent++
			continue
		}
		report.Inconsistent = append(report.Inconsistent, Inconsistency{
			EntityType: t.EntityType,
			EntityID:   t.EntityID,
			Currency:   t.Currency,
			Stored:     storedMinor,
			Calculated: calculated,
			Diff:       storedMinor - calculated,
		})
	}

	// Balance rows with no transactions behind them are also inconsistent
	// unless they hold zero.
	for key, b := range stored {
		if seen[key] || b.BalanceMinor == 0 {
			continue
		}
		report.BalancesChecked++
		report.Inconsistent = append(report.Inconsistent, Inconsistency{
			EntityType: b.EntityType,
			EntityID:   b.EntityID,
			Currency:   b.Currency,
			Stored:     b.BalanceMinor,
			Calculated: 0,
			Diff:       b.BalanceMinor,
		})
	}

	report.Duration = time.Since(start)
	verifyMismatches.Set(float64(len(report.Inconsistent)))
	verifyDuration.Observe(report.Duration.Seconds())
	verifyRuns.Inc()

	log := logging.L(ctx)
	if report.Pass() {
		log.Info("balance verification passed",
			"balances", report.BalancesChecked,
			"transactions", report.TransactionsScanned,
			"duration", report.Duration,
		)
	} else {
		log.Error("balance verification found inconsistencies",
			"count", len(report.Inconsistent),
			"balances", report.BalancesChecked,
		)
	}
	return report, nil
}

// RebuildResult reports what a rebuild did, or would do.
type RebuildResult struct {
	Report    *Report `json:"report"`
	Rewritten int     `json:"rewritten"`
	DryRun    bool    `json:"dryRun"`
}

// Rebuild recomputes every inconsistent balance from the transaction log
// and overwrites the stored rows. Without force it only reports what it
// would rewrite.
func (v *Verifier) Rebuild(ctx context.Context, force bool) (*RebuildResult, error) {
	report, err := v.Run(ctx)
	if err != nil {
		return nil, err
	}

	result := &RebuildResult{Report: report, DryRun: !force}
	if !force || report.Pass() {
		return result, nil
	}

	for _, inc := range report.Inconsistent {
		err := v.store.ReplaceBalance(ctx, &ledger.Balance{
			EntityType:   inc.EntityType,
			EntityID:     inc.EntityID,
			Currency:     inc.Currency,
			BalanceMinor: inc.Calculated,
		})
		if err != nil {
			return nil, fmt.Errorf("rewrite balance %s/%s/%s: %w", inc.EntityType, inc.EntityID, inc.Currency, err)
		}
		result.Rewritten++
		logging.L(ctx).Warn("balance rewritten from transaction log",
			"entity_type", inc.EntityType,
			"entity_id", inc.EntityID,
			"currency", inc.Currency,
			"was", inc.Stored,
			"now", inc.Calculated,
		)
	}
	return result, nil
}

func balanceID(entityType, entityID, currency string) string {
	return entityType + "\x00" + entityID + "\x00" + currency
}
