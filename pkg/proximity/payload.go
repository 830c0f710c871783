// Package proximity implements the short-range transfer protocol:
// tagged payloads, chunk framing for a small-MTU link, and the
// advertiser/initiator session roles.
package proximity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/payment"
	"github.com/fabrknt/fabcash/pkg/wallet"
)

// PayloadType discriminates the payload union on the wire.
type PayloadType string

const (
	TypePaymentRequest PayloadType = "payment_request"
	TypeTransaction    PayloadType = "transaction"
	TypeAck            PayloadType = "ack"
)

// PayloadVersion is the current schema version, carried per variant so
// each can evolve independently.
const PayloadVersion = 1

// Codec errors.
var (
	ErrInvalidPayload = errors.New("proximity: invalid payload")
	ErrExpiredPayload = errors.New("proximity: payload expired")
)

// Payload is the tagged union carried over the proximity link:
// a payment request, a signed transaction, or an acknowledgement.
type Payload interface {
	payloadType() PayloadType
}

// RequestPayload wraps a payment request for transmission.
type RequestPayload struct {
	payment.Request
}

func (RequestPayload) payloadType() PayloadType { return TypePaymentRequest }

// TransactionPayload carries a signed transaction from the sender back
// to the receiver.
type TransactionPayload struct {
	Type          PayloadType      `json:"type"`
	Version       int              `json:"version"`
	TxBase64      string           `json:"tx_base64"`
	SenderAddress string           `json:"sender_address"`
	Amount        string           `json:"amount"`
	Token         models.TokenType `json:"token"`
	ExpiresAt     time.Time        `json:"expires_at"`
	// MemoHash is an optional integrity hash over the memo; the memo
	// itself never crosses the proximity link.
	MemoHash string `json:"memo_hash,omitempty"`
}

func (TransactionPayload) payloadType() PayloadType { return TypeTransaction }

// NewTransactionPayload builds the wire payload for a signed
// transaction.
func NewTransactionPayload(tx *models.SignedTransaction) TransactionPayload {
	return TransactionPayload{
		Type:          TypeTransaction,
		Version:       PayloadVersion,
		TxBase64:      tx.Payload,
		SenderAddress: tx.Sender,
		Amount:        strconv.FormatUint(tx.Amount, 10),
		Token:         tx.Token,
		ExpiresAt:     tx.ExpiresAt,
	}
}

// Validate checks the discriminant and required fields.
func (p *TransactionPayload) Validate() error {
	if p.Type != TypeTransaction || p.Version != PayloadVersion {
		return fmt.Errorf("%w: bad type/version", ErrInvalidPayload)
	}
	if p.TxBase64 == "" {
		return fmt.Errorf("%w: empty transaction", ErrInvalidPayload)
	}
	if _, err := wallet.DecodeAddress(p.SenderAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := strconv.ParseUint(p.Amount, 10, 64); err != nil {
		return fmt.Errorf("%w: amount %q", ErrInvalidPayload, p.Amount)
	}
	if !p.Token.Valid() {
		return fmt.Errorf("%w: token %q", ErrInvalidPayload, p.Token)
	}
	if p.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: missing expiry", ErrInvalidPayload)
	}
	return nil
}

// AmountUnits returns the carried amount in smallest units.
func (p *TransactionPayload) AmountUnits() uint64 {
	v, _ := strconv.ParseUint(p.Amount, 10, 64)
	return v
}

// AckPayload acknowledges receipt of a transaction payload.
type AckPayload struct {
	Type    PayloadType `json:"type"`
	Version int         `json:"version"`
	Success bool        `json:"success"`
	TxID    string      `json:"tx_id,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (AckPayload) payloadType() PayloadType { return TypeAck }

// Encode serializes a payload to the compact base64(JSON) form the
// chunker splits for transmission.
func Encode(p Payload) (string, error) {
	var v any
	switch pl := p.(type) {
	case RequestPayload:
		v = pl.Request
	case *RequestPayload:
		v = pl.Request
	case TransactionPayload, *TransactionPayload, AckPayload, *AckPayload:
		v = pl
	default:
		return "", fmt.Errorf("%w: unknown payload %T", ErrInvalidPayload, p)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses an encoded payload, dispatching on the type
// discriminant and validating the selected variant. Unknown types and
// malformed variants are rejected as ErrInvalidPayload without side
// effects.
func Decode(encoded string) (Payload, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var envelope struct {
		Type PayloadType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch envelope.Type {
	case TypePaymentRequest:
		var req payment.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return RequestPayload{Request: req}, nil

	case TypeTransaction:
		var tp TransactionPayload
		if err := json.Unmarshal(raw, &tp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := tp.Validate(); err != nil {
			return nil, err
		}
		return tp, nil

	case TypeAck:
		var ack AckPayload
		if err := json.Unmarshal(raw, &ack); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return ack, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, envelope.Type)
	}
}
