package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// Builder validation and availability errors.
var (
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrUnsupportedToken   = errors.New("unsupported token")
	ErrInvalidAddress     = errors.New("invalid recipient address")
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// wireTransaction is the signed wire form carried in
// SignedTransaction.Payload, base64(JSON)-encoded.
type wireTransaction struct {
	Checkpoint     string           `json:"checkpoint"`
	ValidityHeight uint64           `json:"validity_height"`
	Sender         string           `json:"sender"`
	Recipient      string           `json:"recipient"`
	Amount         uint64           `json:"amount"`
	Token          models.TokenType `json:"token"`
	Memo           string           `json:"memo,omitempty"`
	Signature      string           `json:"signature"`
}

// signingBytes is the canonical serialization covered by the signature.
func (w *wireTransaction) signingBytes() []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s|%d|%s|%s",
		w.Checkpoint, w.ValidityHeight, w.Sender, w.Recipient, w.Amount, w.Token, w.Memo))
}

// Builder produces signed transactions anchored to a recent ledger
// checkpoint. It does not persist or broadcast anything; its only side
// effect is the network read that fetches the anchor.
type Builder struct {
	ledger ledger.Client
	clock  clock.Clock
	logger *zap.Logger
}

// NewBuilder creates a transaction builder.
func NewBuilder(lc ledger.Client, clk clock.Clock, logger *zap.Logger) *Builder {
	return &Builder{ledger: lc, clock: clk, logger: logger}
}

// Build constructs and signs a transfer from w to recipient. The
// transaction's validity window is fixed at creation time to
// models.TransactionValidity; it is independent of any later retry
// loop and cannot be configured per call.
func (b *Builder) Build(ctx context.Context, w *Wallet, recipient string, amount uint64, token models.TokenType, memo string) (*models.SignedTransaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if !token.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedToken, token)
	}
	if _, err := DecodeAddress(recipient); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	anchor, err := b.ledger.GetAnchor(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	wire := wireTransaction{
		Checkpoint:     anchor.Checkpoint,
		ValidityHeight: anchor.ValidityHeight,
		Sender:         w.Address(),
		Recipient:      recipient,
		Amount:         amount,
		Token:          token,
		Memo:           memo,
	}
	wire.Signature = base58.Encode(w.Sign(wire.signingBytes()))

	raw, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	now := b.clock.Now()
	tx := &models.SignedTransaction{
		ID:        "tx_" + uuid.NewString(),
		Payload:   base64.StdEncoding.EncodeToString(raw),
		Sender:    wire.Sender,
		Recipient: recipient,
		Amount:    amount,
		Token:     token,
		Memo:      memo,
		CreatedAt: now,
		ExpiresAt: now.Add(models.TransactionValidity),
	}

	b.logger.Info("built signed transaction",
		zap.String("id", tx.ID),
		zap.String("token", string(token)),
		zap.Uint64("amount", amount),
		zap.Time("expires_at", tx.ExpiresAt))

	return tx, nil
}

// VerifyPayload checks a wire payload's signature against its declared
// sender. Used when a transaction arrives over the proximity link.
func VerifyPayload(payload string) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	var wire wireTransaction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return fmt.Errorf("decode wire transaction: %w", err)
	}
	pub, err := DecodeAddress(wire.Sender)
	if err != nil {
		return err
	}
	sig, err := base58.Decode(wire.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(pub, wire.signingBytes(), sig) {
		return errors.New("signature verification failed")
	}
	return nil
}
