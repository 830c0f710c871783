package models

import (
	"fmt"
	"math"
	"time"
)

// TokenType identifies a supported asset.
type TokenType string

const (
	// TokenSOL is the network's base asset.
	TokenSOL TokenType = "SOL"
	// TokenUSDC is the supported stable asset.
	TokenUSDC TokenType = "USDC"
)

// Token decimals, i.e. how many digits of the integer amount sit below
// one whole unit of the asset.
const (
	SolDecimals  = 9
	UsdcDecimals = 6
)

// TransactionValidity is the fixed lifetime of a signed transaction,
// dictated by the ledger's own transaction-lifetime limit. It is not
// configurable per transaction.
const TransactionValidity = 120 * time.Second

// Valid reports whether the token is one of the supported assets.
func (t TokenType) Valid() bool {
	return t == TokenSOL || t == TokenUSDC
}

// Decimals returns the number of decimal places for the token.
func (t TokenType) Decimals() int {
	if t == TokenUSDC {
		return UsdcDecimals
	}
	return SolDecimals
}

// ParseToken converts a string into a TokenType.
func ParseToken(s string) (TokenType, error) {
	t := TokenType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported token %q", s)
	}
	return t, nil
}

// ToSmallestUnit converts a human-readable amount into the asset's
// smallest denomination (lamports for SOL, micro-USDC for USDC).
func ToSmallestUnit(amount float64, token TokenType) uint64 {
	return uint64(math.Round(amount * math.Pow10(token.Decimals())))
}

// FromSmallestUnit converts an integer amount in the smallest
// denomination back into a human-readable value.
func FromSmallestUnit(units uint64, token TokenType) float64 {
	return float64(units) / math.Pow10(token.Decimals())
}

// FormatAmount renders an integer amount for display.
func FormatAmount(units uint64, token TokenType) string {
	decimals := 4
	if token == TokenUSDC {
		decimals = 2
	}
	return fmt.Sprintf("%.*f %s", decimals, FromSmallestUnit(units, token), token)
}

// TxStatus defines the possible states of a pending transaction.
type TxStatus string

const (
	// StatusPending means the transaction was received locally and has
	// not yet been broadcast.
	StatusPending TxStatus = "pending"
	// StatusBroadcasting means a broadcast attempt is in flight.
	StatusBroadcasting TxStatus = "broadcasting"
	// StatusConfirmed means the network accepted and confirmed the
	// transaction.
	StatusConfirmed TxStatus = "confirmed"
	// StatusFinalized means the irreversible confirmation tier was
	// reached.
	StatusFinalized TxStatus = "finalized"
	// StatusFailed means broadcasting gave up after exhausting retries
	// or hit a non-retryable execution error.
	StatusFailed TxStatus = "failed"
	// StatusExpired means the validity window closed before a terminal
	// state was reached. Expired transactions are never retried.
	StatusExpired TxStatus = "expired"
)

// Terminal reports whether the status is an end state.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFinalized, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// status transition. Writing the same status again is always allowed.
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusBroadcasting || next == StatusExpired
	case StatusBroadcasting:
		return next == StatusConfirmed || next == StatusFinalized ||
			next == StatusFailed || next == StatusExpired
	case StatusConfirmed:
		return next == StatusFinalized
	}
	return false
}

// SignedTransaction is an immutable, network-ready transaction signed
// by the sender. The payload is the opaque signed wire form; everything
// else is metadata carried alongside it for display and bookkeeping.
type SignedTransaction struct {
	ID        string    `json:"id"`
	Payload   string    `json:"payload"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    uint64    `json:"amount"`
	Token     TokenType `json:"token"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the transaction's validity window has closed.
func (tx *SignedTransaction) Expired(now time.Time) bool {
	return now.After(tx.ExpiresAt)
}

// PendingTransaction is a SignedTransaction tracked by the durable
// queue, plus its mutable broadcast bookkeeping.
type PendingTransaction struct {
	SignedTransaction

	Status TxStatus `json:"status"`
	// NetworkSignature is assigned once the network accepts the
	// transaction. When acceptance is inferred from an
	// "already processed" response it holds the transaction's own ID.
	NetworkSignature  string    `json:"network_signature,omitempty"`
	BroadcastAttempts int       `json:"broadcast_attempts"`
	LastAttemptAt     time.Time `json:"last_attempt_at,omitzero"`
	Error             string    `json:"error,omitempty"`
}
