// Package ledger defines the wallet's view of the ledger network: the
// handful of read/submit primitives the transaction pipeline needs.
package ledger

import "context"

// Anchor is a recent ledger checkpoint a new transaction is anchored
// to. The validity height bounds how long the network will accept the
// transaction.
type Anchor struct {
	Checkpoint     string `json:"checkpoint"`
	ValidityHeight uint64 `json:"validity_height"`
}

// Confirmation tiers reported by the network, weakest to strongest.
const (
	TierProcessed = "processed"
	TierConfirmed = "confirmed"
	TierFinalized = "finalized"
)

// SignatureStatus is the network-reported state of one submitted
// transaction signature.
type SignatureStatus struct {
	Signature string `json:"signature"`
	// Tier is empty when the network has not seen the signature yet.
	Tier string `json:"confirmation_tier,omitempty"`
	// Err carries the on-chain execution error, if any. An execution
	// error is terminal; the transaction will never confirm.
	Err string `json:"err,omitempty"`
}

// Client exposes the ledger-network primitives used by the wallet.
type Client interface {
	// Health checks basic connectivity to the network.
	Health(ctx context.Context) error

	// GetAnchor fetches a recent checkpoint to anchor a new
	// transaction to.
	GetAnchor(ctx context.Context) (Anchor, error)

	// Submit sends the raw signed payload and returns the network
	// signature id. It may fail with a retryable error or with an
	// "already processed" error for a duplicate submission.
	Submit(ctx context.Context, payload string) (string, error)

	// GetStatuses reports the confirmation status of the given
	// signatures, in the same order.
	GetStatuses(ctx context.Context, signatures []string) ([]SignatureStatus, error)

	// GetBalance returns the balance of address in the base asset's
	// smallest denomination.
	GetBalance(ctx context.Context, address string) (uint64, error)
}
