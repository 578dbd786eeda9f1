// Command payops runs operational maintenance against a paycore database.
//
// Usage:
//
//	go run ./cmd/payops cleanup [--dry-run] [--json]       # Remove expired idempotency records
//	go run ./cmd/payops cleanup-older-than <days> [--dry-run] [--json]
//	go run ./cmd/payops stats [--json]                     # Idempotency store statistics
//	go run ./cmd/payops verify-ledger [--json]             # Exit 0 when balances match the log, 1 otherwise
//	go run ./cmd/payops rebuild-balances [--force] [--json]
//
// All subcommands require DATABASE_URL. Cleanup is safe to run concurrently
// with live traffic; rebuild-balances is a dry run unless --force is given.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/finwire/paycore/internal/idempotency"
	"github.com/finwire/paycore/internal/ledger"
	"github.com/finwire/paycore/internal/verify"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	dryRun := hasFlag(args, "--dry-run")
	asJSON := hasFlag(args, "--json")
	force := hasFlag(args, "--force")

	db, err := openDB()
	if err != nil {
		fatal(err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch command {
	case "cleanup":
		runCleanup(ctx, db, dryRun, asJSON)
	case "cleanup-older-than":
		days := positionalInt(args, "cleanup-older-than requires a number of days")
		runCleanupOlderThan(ctx, db, days, dryRun, asJSON)
	case "stats":
		runStats(ctx, db, asJSON)
	case "verify-ledger":
		runVerify(ctx, db, asJSON)
	case "rebuild-balances":
		runRebuild(ctx, db, force, asJSON)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: payops <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  cleanup [--dry-run] [--json]                       remove expired idempotency records")
	fmt.Println("  cleanup-older-than <days> [--dry-run] [--json]     remove idempotency records older than N days")
	fmt.Println("  stats [--json]                                     idempotency store statistics")
	fmt.Println("  verify-ledger [--json]                             check stored balances against the transaction log")
	fmt.Println("  rebuild-balances [--force] [--json]                rewrite inconsistent balances from the log (dry run by default)")
}

func openDB() (*sql.DB, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runCleanup(ctx context.Context, db *sql.DB, dryRun, asJSON bool) {
	mgr := idempotency.NewManager(idempotency.NewPostgresStore(db), nil, 0)

	result, err := mgr.Cleanup(ctx, dryRun)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(result)
		return
	}
	if result.DryRun {
		fmt.Printf("dry run: %d expired records would be deleted (store %d, cache %d)\n",
			result.StoreRemoved+result.CacheRemoved, result.StoreRemoved, result.CacheRemoved)
	} else {
		fmt.Printf("deleted %d expired records (store %d, cache %d)\n",
			result.StoreRemoved+result.CacheRemoved, result.StoreRemoved, result.CacheRemoved)
	}
}

func runCleanupOlderThan(ctx context.Context, db *sql.DB, days int, dryRun, asJSON bool) {
	mgr := idempotency.NewManager(idempotency.NewPostgresStore(db), nil, 0)

	result, err := mgr.CleanupOlderThan(ctx, time.Duration(days)*24*time.Hour, dryRun)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(result)
		return
	}
	if result.DryRun {
		fmt.Printf("dry run: %d records older than %d days would be deleted\n", result.StoreRemoved, days)
	} else {
		fmt.Printf("deleted %d records older than %d days\n", result.StoreRemoved, days)
	}
}

func runStats(ctx context.Context, db *sql.DB, asJSON bool) {
	mgr := idempotency.NewManager(idempotency.NewPostgresStore(db), nil, 0)

	stats, err := mgr.Stats(ctx)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(stats)
		return
	}
	fmt.Printf("total records:   %d\n", stats.Total)
	fmt.Printf("expired records: %d\n", stats.Expired)
	if !stats.Oldest.IsZero() {
		fmt.Printf("oldest record:   %s\n", stats.Oldest.Format(time.RFC3339))
	}
	for cmd, n := range stats.ByCommand {
		fmt.Printf("  %-12s %d\n", cmd, n)
	}
}

func runVerify(ctx context.Context, db *sql.DB, asJSON bool) {
	v := verify.New(ledger.NewPostgresStore(db))

	report, err := v.Run(ctx)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(report)
	} else {
		fmt.Printf("scanned %d transactions across %d balances in %s\n",
			report.TransactionsScanned, report.BalancesChecked, report.Duration.Round(time.Millisecond))
		for _, inc := range report.Inconsistent {
			fmt.Printf("MISMATCH %s/%s %s: stored=%d calculated=%d diff=%d\n",
				inc.EntityType, inc.EntityID, inc.Currency, inc.Stored, inc.Calculated, inc.Diff)
		}
		if report.Pass() {
			fmt.Println("PASS: all balances match the transaction log")
		} else {
			fmt.Printf("FAIL: %d inconsistent balances\n", len(report.Inconsistent))
		}
	}

	if !report.Pass() {
		os.Exit(1)
	}
}

func runRebuild(ctx context.Context, db *sql.DB, force, asJSON bool) {
	v := verify.New(ledger.NewPostgresStore(db))

	result, err := v.Rebuild(ctx, force)
	if err != nil {
		fatal(err)
	}

	if asJSON {
		printJSON(result)
		return
	}
	if result.DryRun {
		fmt.Printf("dry run: %d balances would be rewritten (pass --force to apply)\n", len(result.Report.Inconsistent))
	} else {
		fmt.Printf("rewrote %d balances from the transaction log\n", result.Rewritten)
	}
}

// Helpers

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// positionalInt returns the first non-flag argument parsed as an int.
func positionalInt(args []string, errMsg string) int {
	for _, a := range args {
		if len(a) > 0 && a[0] == '-' {
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			fatal(fmt.Errorf("%s, got %q", errMsg, a))
		}
		return n
	}
	fatal(fmt.Errorf("%s", errMsg))
	return 0
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
