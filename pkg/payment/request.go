// Package payment defines the payment request a receiver advertises,
// shared by the proximity protocol and the visual-code path.
package payment

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/wallet"
)

// RequestType is the discriminant value for payment requests on the
// wire.
const RequestType = "payment_request"

// Version of the request schema. Bumped on incompatible changes.
const Version = 1

// DefaultExpiration matches the ephemeral receive-key lifetime.
const DefaultExpiration = 15 * time.Minute

// ErrInvalidRequest is returned when a decoded request fails
// validation.
var ErrInvalidRequest = errors.New("invalid payment request")

// Request is the recipient-advertised payment request. It is transient:
// built for one receive session and never persisted.
type Request struct {
	Type             string           `json:"type"`
	Version          int              `json:"version"`
	RecipientAddress string           `json:"recipient_address"`
	// EphemeralID links the request to the one-time receive key, so
	// the key can be marked used when the payment arrives.
	EphemeralID string           `json:"ephemeral_id,omitempty"`
	Amount      string           `json:"amount,omitempty"`
	Token       models.TokenType `json:"token,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// Params configures NewRequest. Amount and Token are optional; a
// request without them lets the sender choose.
type Params struct {
	RecipientAddress string
	EphemeralID      string
	Amount           uint64
	Token            models.TokenType
	Expiration       time.Duration
	Now              time.Time
}

// NewRequest builds a payment request expiring after params.Expiration
// (DefaultExpiration if zero).
func NewRequest(params Params) Request {
	exp := params.Expiration
	if exp == 0 {
		exp = DefaultExpiration
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	req := Request{
		Type:             RequestType,
		Version:          Version,
		RecipientAddress: params.RecipientAddress,
		EphemeralID:      params.EphemeralID,
		Token:            params.Token,
		ExpiresAt:        now.Add(exp),
	}
	if params.Amount > 0 {
		req.Amount = strconv.FormatUint(params.Amount, 10)
	}
	return req
}

// Validate checks the discriminant, version and required fields.
func (r *Request) Validate() error {
	if r.Type != RequestType {
		return fmt.Errorf("%w: type %q", ErrInvalidRequest, r.Type)
	}
	if r.Version != Version {
		return fmt.Errorf("%w: version %d", ErrInvalidRequest, r.Version)
	}
	if _, err := wallet.DecodeAddress(r.RecipientAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Amount != "" {
		if _, err := strconv.ParseUint(r.Amount, 10, 64); err != nil {
			return fmt.Errorf("%w: amount %q", ErrInvalidRequest, r.Amount)
		}
	}
	if r.Token != "" && !r.Token.Valid() {
		return fmt.Errorf("%w: token %q", ErrInvalidRequest, r.Token)
	}
	if r.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrInvalidRequest)
	}
	return nil
}

// Expired reports whether the request is past its deadline.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// AmountUnits returns the requested amount in smallest units, or 0 if
// the request leaves the amount open.
func (r *Request) AmountUnits() uint64 {
	if r.Amount == "" {
		return 0
	}
	v, _ := strconv.ParseUint(r.Amount, 10, 64)
	return v
}
