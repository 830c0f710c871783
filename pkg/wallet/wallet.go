// Package wallet holds the master wallet material and builds signed,
// network-ready transactions.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/mr-tron/base58"
)

const walletStorageKey = "fabcash_wallet"

// ErrNoWalletMaterial is returned when wallet material exists but
// cannot be used. This is one of the few fatal conditions in the
// system.
var ErrNoWalletMaterial = errors.New("wallet: signing material unavailable")

// Wallet is the device's long-lived keypair. Private material never
// leaves the struct except through Sign.
type Wallet struct {
	priv      ed25519.PrivateKey
	pub       ed25519.PublicKey
	createdAt time.Time
}

type walletRecord struct {
	KeypairBase64 string    `json:"keypair_base64"`
	CreatedAt     time.Time `json:"created_at"`
}

// LoadOrCreate loads the master wallet from the secure store, creating
// and persisting a fresh keypair on first use.
func LoadOrCreate(store keystore.Store) (*Wallet, error) {
	raw, ok, err := store.Get(walletStorageKey)
	if err != nil {
		return nil, fmt.Errorf("read wallet record: %w", err)
	}
	if ok {
		var rec walletRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoWalletMaterial, err)
		}
		seed, err := base64.StdEncoding.DecodeString(rec.KeypairBase64)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("%w: malformed keypair record", ErrNoWalletMaterial)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return &Wallet{
			priv:      priv,
			pub:       priv.Public().(ed25519.PublicKey),
			createdAt: rec.CreatedAt,
		}, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate wallet keypair: %w", err)
	}
	w := &Wallet{priv: priv, pub: pub, createdAt: time.Now()}
	rec := walletRecord{
		KeypairBase64: base64.StdEncoding.EncodeToString(priv.Seed()),
		CreatedAt:     w.createdAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := store.Set(walletStorageKey, string(data)); err != nil {
		return nil, fmt.Errorf("persist wallet record: %w", err)
	}
	return w, nil
}

// Address returns the wallet's public address in base58.
func (w *Wallet) Address() string {
	return base58.Encode(w.pub)
}

// Sign signs msg with the wallet's private key.
func (w *Wallet) Sign(msg []byte) []byte {
	return ed25519.Sign(w.priv, msg)
}

// CreatedAt reports when the wallet material was first generated.
func (w *Wallet) CreatedAt() time.Time {
	return w.createdAt
}

// DecodeAddress validates a base58 public address and returns its raw
// bytes.
func DecodeAddress(addr string) (ed25519.PublicKey, error) {
	b, err := base58.Decode(addr)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	return ed25519.PublicKey(b), nil
}
