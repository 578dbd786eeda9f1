// Package idgen generates cryptographically random identifiers.
//
// Every durable record in paycore carries a prefixed ID so that a bare
// string in a log line is self-describing: pay_ for payments, txn_ for
// ledger transactions, evt_ for lifecycle events, req_ for HTTP requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Well-known prefixes.
const (
	PrefixPayment     = "pay_"
	PrefixTransaction = "txn_"
	PrefixEvent       = "evt_"
	PrefixRequest     = "req_"
)

// New generates a random ID with the given prefix (prefix + 24 hex chars).
func New(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Payment returns a new payment ID.
func Payment() string { return New(PrefixPayment) }

// Transaction returns a new ledger transaction ID.
func Transaction() string { return New(PrefixTransaction) }

// Event returns a new lifecycle event ID.
func Event() string { return New(PrefixEvent) }

// Request returns a new HTTP request ID.
func Request() string { return New(PrefixRequest) }
