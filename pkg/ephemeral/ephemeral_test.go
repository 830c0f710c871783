package ephemeral

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *keystore.MemStore, *clock.Fake) {
	t.Helper()
	ks := keystore.NewMemStore()
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	m, err := NewManager(ks, clk, zap.NewNop())
	require.NoError(t, err)
	return m, ks, clk
}

func TestGenerate(t *testing.T) {
	m, _, clk := newTestManager(t)

	key, err := m.Generate(0)
	require.NoError(t, err)

	assert.NotEmpty(t, key.ID)
	assert.Equal(t, clk.Now(), key.CreatedAt)
	assert.Equal(t, clk.Now().Add(DefaultExpiration), key.ExpiresAt)
	assert.False(t, key.Used)

	// The address is a real public key the key can sign for.
	pub, err := wallet.DecodeAddress(key.PublicAddress)
	require.NoError(t, err)
	sig := key.Sign([]byte("msg"))
	assert.True(t, ed25519.Verify(pub, []byte("msg"), sig))

	t.Run("Custom expiration", func(t *testing.T) {
		key, err := m.Generate(5 * time.Minute)
		require.NoError(t, err)
		assert.Equal(t, clk.Now().Add(5*time.Minute), key.ExpiresAt)
	})

	t.Run("Distinct addresses per key", func(t *testing.T) {
		a, err := m.Generate(0)
		require.NoError(t, err)
		b, err := m.Generate(0)
		require.NoError(t, err)
		assert.NotEqual(t, a.PublicAddress, b.PublicAddress)
	})
}

func TestGetUsesCache(t *testing.T) {
	m, ks, _ := newTestManager(t)
	key, err := m.Generate(0)
	require.NoError(t, err)

	before := ks.GetCalls
	got, err := m.Get(key.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key.PublicAddress, got.PublicAddress)
	// Cache hit: no storage read.
	assert.Equal(t, before, ks.GetCalls)

	t.Run("Unknown id", func(t *testing.T) {
		got, err := m.Get("eph_unknown")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestKeysSurviveRestart(t *testing.T) {
	ks := keystore.NewMemStore()
	clk := clock.NewFake(time.Now())
	m1, err := NewManager(ks, clk, zap.NewNop())
	require.NoError(t, err)

	key, err := m1.Generate(0)
	require.NoError(t, err)
	require.NoError(t, m1.MarkUsed(key.ID))

	m2, err := NewManager(ks, clk, zap.NewNop())
	require.NoError(t, err)

	got, err := m2.Get(key.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key.PublicAddress, got.PublicAddress)
	assert.True(t, got.Used)

	// The reloaded key can still sign.
	pub, err := wallet.DecodeAddress(got.PublicAddress)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, []byte("m"), got.Sign([]byte("m"))))
}

func TestMarkUsed(t *testing.T) {
	m, _, _ := newTestManager(t)
	key, err := m.Generate(0)
	require.NoError(t, err)

	require.NoError(t, m.MarkUsed(key.ID))
	got, err := m.Get(key.ID)
	require.NoError(t, err)
	assert.True(t, got.Used)

	t.Run("Idempotent", func(t *testing.T) {
		assert.NoError(t, m.MarkUsed(key.ID))
	})

	t.Run("Unknown id is a no-op", func(t *testing.T) {
		assert.NoError(t, m.MarkUsed("eph_unknown"))
	})
}

func TestKeysToSweepAndCleanup(t *testing.T) {
	m, _, clk := newTestManager(t)

	// Four keys covering the used x expired matrix. T0: all fresh with a
	// 15 minute lifetime.
	freshUnused, err := m.Generate(0)
	require.NoError(t, err)
	freshUsed, err := m.Generate(0)
	require.NoError(t, err)
	longUnused, err := m.Generate(time.Hour)
	require.NoError(t, err)
	longUsed, err := m.Generate(time.Hour)
	require.NoError(t, err)

	require.NoError(t, m.MarkUsed(freshUsed.ID))
	require.NoError(t, m.MarkUsed(longUsed.ID))

	// T0+20m: the 15-minute keys are expired, the 1-hour keys are not.
	clk.Advance(20 * time.Minute)

	sweep := m.KeysToSweep()
	require.Len(t, sweep, 1)
	assert.Equal(t, longUsed.ID, sweep[0].ID)

	cleaned, err := m.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	// The expired-but-used key survives cleanup: its funds are unswept.
	got, err := m.Get(freshUsed.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	gone, err := m.Get(freshUnused.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := m.Get(longUnused.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
	assert.Equal(t, 3, m.ActiveCount())
}

func TestClearAll(t *testing.T) {
	m, ks, _ := newTestManager(t)
	_, err := m.Generate(0)
	require.NoError(t, err)
	key, err := m.Generate(0)
	require.NoError(t, err)
	require.NoError(t, m.MarkUsed(key.ID))

	count, err := m.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Zero(t, m.ActiveCount())

	// Storage is wiped too, used keys included.
	keys, err := ks.List("fabcash_ephemeral_")
	assert.NoError(t, err)
	assert.Empty(t, keys)
}
