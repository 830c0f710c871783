package shield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/google/uuid"
)

const fallbackStorageKey = "fabcash_privacy_balance_cache"

// WithdrawFeeBasisPoints is the pool's withdrawal fee (0.35%).
const WithdrawFeeBasisPoints = 35

// ErrInsufficientShielded is returned when a withdrawal exceeds the
// shielded balance.
var ErrInsufficientShielded = errors.New("shield: insufficient shielded balance")

// FallbackLedger is a local stand-in for the privacy pool used when
// the backend is unreachable. It only tracks balances in the secure
// store; it provides none of the privacy guarantees of the real pool
// and exists for demo purposes.
type FallbackLedger struct {
	mu    sync.Mutex
	store keystore.Store
}

// Make sure we conform to the interface
var _ Client = (*FallbackLedger)(nil)

// NewFallbackLedger creates a fallback ledger over the secure store.
func NewFallbackLedger(ks keystore.Store) *FallbackLedger {
	return &FallbackLedger{store: ks}
}

func (f *FallbackLedger) loadLocked() (Balance, error) {
	raw, ok, err := f.store.Get(fallbackStorageKey)
	if err != nil || !ok {
		return Balance{}, err
	}
	var b Balance
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return Balance{}, fmt.Errorf("decode fallback balance: %w", err)
	}
	return b, nil
}

func (f *FallbackLedger) saveLocked(b Balance) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return f.store.Set(fallbackStorageKey, string(data))
}

// Health always succeeds; the fallback is local.
func (f *FallbackLedger) Health(ctx context.Context) error {
	return nil
}

func (f *FallbackLedger) Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.loadLocked()
	if err != nil {
		return "", err
	}
	switch token {
	case models.TokenUSDC:
		b.Usdc += amount
	default:
		b.Sol += amount
	}
	if err := f.saveLocked(b); err != nil {
		return "", err
	}
	return "mock_shield_" + uuid.NewString(), nil
}

func (f *FallbackLedger) Withdraw(ctx context.Context, token models.TokenType, amount uint64, recipient string) (WithdrawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := f.loadLocked()
	if err != nil {
		return WithdrawResult{}, err
	}
	available := b.Sol
	if token == models.TokenUSDC {
		available = b.Usdc
	}
	if amount > available {
		return WithdrawResult{}, ErrInsufficientShielded
	}

	fee := amount * WithdrawFeeBasisPoints / 10_000
	if token == models.TokenUSDC {
		b.Usdc -= amount
	} else {
		b.Sol -= amount
	}
	if err := f.saveLocked(b); err != nil {
		return WithdrawResult{}, err
	}
	return WithdrawResult{
		Signature: "mock_withdraw_" + uuid.NewString(),
		Amount:    amount - fee,
		Fee:       fee,
	}, nil
}

func (f *FallbackLedger) Balance(ctx context.Context) (Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

// Clear wipes the fallback pool state.
func (f *FallbackLedger) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Delete(fallbackStorageKey)
}
