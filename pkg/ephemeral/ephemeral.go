// Package ephemeral issues short-lived receive keypairs so every
// receive session gets an unlinkable one-time address.
package ephemeral

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const storagePrefix = "fabcash_ephemeral_"

// DefaultExpiration is the receive-session lifetime of a fresh key.
const DefaultExpiration = 15 * time.Minute

// Key is a short-lived receive keypair. The private half never leaves
// the struct except through Sign.
type Key struct {
	ID            string
	PublicAddress string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Used          bool

	priv ed25519.PrivateKey
}

// Sign signs msg with the key's private half.
func (k *Key) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Expired reports whether the key's receive window has closed.
func (k *Key) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

type keyRecord struct {
	ID            string    `json:"id"`
	PublicAddress string    `json:"public_address"`
	SeedBase64    string    `json:"seed_base64"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Used          bool      `json:"used"`
}

// Manager owns the ephemeral key lifecycle: generation, use marking,
// sweep listing and expiry cleanup. Keys live sealed in the secure
// store and cached in memory.
type Manager struct {
	mu     sync.Mutex
	store  keystore.Store
	clock  clock.Clock
	logger *zap.Logger
	cache  map[string]*Key
}

// NewManager creates a key manager and warms the cache from storage,
// so keys survive process restarts.
func NewManager(ks keystore.Store, clk clock.Clock, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		store:  ks,
		clock:  clk,
		logger: logger,
		cache:  make(map[string]*Key),
	}
	keys, err := ks.List(storagePrefix)
	if err != nil {
		return nil, fmt.Errorf("list ephemeral keys: %w", err)
	}
	for _, storageKey := range keys {
		id := strings.TrimPrefix(storageKey, storagePrefix)
		if _, err := m.loadLocked(id); err != nil {
			logger.Warn("skipping unreadable ephemeral key", zap.String("id", id), zap.Error(err))
		}
	}
	return m, nil
}

// Generate creates, persists and caches a new key expiring after the
// given duration (DefaultExpiration if zero).
func (m *Manager) Generate(expiration time.Duration) (*Key, error) {
	if expiration == 0 {
		expiration = DefaultExpiration
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}

	now := m.clock.Now()
	key := &Key{
		ID:            "eph_" + uuid.NewString(),
		PublicAddress: base58.Encode(pub),
		CreatedAt:     now,
		ExpiresAt:     now.Add(expiration),
		priv:          priv,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(key); err != nil {
		return nil, err
	}
	m.cache[key.ID] = key

	m.logger.Info("generated ephemeral key",
		zap.String("id", key.ID),
		zap.String("address", key.PublicAddress),
		zap.Time("expires_at", key.ExpiresAt))
	out := *key
	return &out, nil
}

// Get returns the key with the given id, or nil if unknown. Cache hits
// perform no storage I/O.
func (m *Manager) Get(id string) (*Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.cache[id]; ok {
		out := *key
		return &out, nil
	}
	key, err := m.loadLocked(id)
	if err != nil || key == nil {
		return nil, err
	}
	out := *key
	return &out, nil
}

// loadLocked reads a key record from storage into the cache.
func (m *Manager) loadLocked(id string) (*Key, error) {
	raw, ok, err := m.store.Get(storagePrefix + id)
	if err != nil || !ok {
		return nil, err
	}
	var rec keyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode ephemeral key %s: %w", id, err)
	}
	seed, err := base64.StdEncoding.DecodeString(rec.SeedBase64)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("malformed seed for ephemeral key %s", id)
	}
	key := &Key{
		ID:            rec.ID,
		PublicAddress: rec.PublicAddress,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		Used:          rec.Used,
		priv:          ed25519.NewKeyFromSeed(seed),
	}
	m.cache[id] = key
	return key, nil
}

func (m *Manager) persistLocked(key *Key) error {
	rec := keyRecord{
		ID:            key.ID,
		PublicAddress: key.PublicAddress,
		SeedBase64:    base64.StdEncoding.EncodeToString(key.priv.Seed()),
		CreatedAt:     key.CreatedAt,
		ExpiresAt:     key.ExpiresAt,
		Used:          key.Used,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Set(storagePrefix+key.ID, string(data))
}

// MarkUsed flips the key's used flag. The transition is one-way and
// idempotent; marking an already-used or unknown key is a no-op.
func (m *Manager) MarkUsed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.cache[id]
	if !ok {
		var err error
		if key, err = m.loadLocked(id); err != nil || key == nil {
			return err
		}
	}
	if key.Used {
		return nil
	}
	key.Used = true
	if err := m.persistLocked(key); err != nil {
		key.Used = false
		return err
	}
	m.logger.Info("ephemeral key marked used", zap.String("id", id))
	return nil
}

// KeysToSweep returns every key holding received-but-unswept funds:
// used and not yet expired.
func (m *Manager) KeysToSweep() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []Key
	for _, key := range m.cache {
		if key.Used && !key.Expired(now) {
			out = append(out, *key)
		}
	}
	return out
}

// CleanupExpired deletes keys that are expired and never used. Used
// keys are retained even when expired: deleting them before a sweep
// would orphan the funds they received.
func (m *Manager) CleanupExpired() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cleaned := 0
	for id, key := range m.cache {
		if key.Expired(now) && !key.Used {
			if err := m.store.Delete(storagePrefix + id); err != nil {
				return cleaned, err
			}
			delete(m.cache, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		m.logger.Info("cleaned up expired ephemeral keys", zap.Int("count", cleaned))
	}
	return cleaned, nil
}

// ClearAll unconditionally wipes every key, used or not. Only the
// emergency shield orchestrator calls this.
func (m *Manager) ClearAll() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	storageKeys, err := m.store.List(storagePrefix)
	if err != nil {
		return 0, err
	}
	for _, sk := range storageKeys {
		if err := m.store.Delete(sk); err != nil {
			return 0, err
		}
	}
	count := len(m.cache)
	if n := len(storageKeys); n > count {
		count = n
	}
	m.cache = make(map[string]*Key)
	m.logger.Info("cleared all ephemeral keys", zap.Int("count", count))
	return count, nil
}

// ActiveCount returns the number of cached keys.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
