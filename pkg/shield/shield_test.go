package shield

import (
	"context"
	"errors"
	"testing"

	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockClient avoids an import cycle with the mocks subpackage.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockClient) Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error) {
	args := m.Called(ctx, token, amount)
	return args.String(0), args.Error(1)
}

func (m *mockClient) Withdraw(ctx context.Context, token models.TokenType, amount uint64, recipient string) (WithdrawResult, error) {
	args := m.Called(ctx, token, amount, recipient)
	return args.Get(0).(WithdrawResult), args.Error(1)
}

func (m *mockClient) Balance(ctx context.Context) (Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(Balance), args.Error(1)
}

func TestFallbackLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("Deposit accumulates per asset", func(t *testing.T) {
		f := NewFallbackLedger(keystore.NewMemStore())

		sig, err := f.Deposit(ctx, models.TokenSOL, 1_000_000_000)
		require.NoError(t, err)
		assert.NotEmpty(t, sig)
		_, err = f.Deposit(ctx, models.TokenSOL, 500_000_000)
		require.NoError(t, err)
		_, err = f.Deposit(ctx, models.TokenUSDC, 2_000_000)
		require.NoError(t, err)

		b, err := f.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_500_000_000), b.Sol)
		assert.Equal(t, uint64(2_000_000), b.Usdc)
	})

	t.Run("Withdraw takes the fee", func(t *testing.T) {
		f := NewFallbackLedger(keystore.NewMemStore())
		_, err := f.Deposit(ctx, models.TokenSOL, 1_000_000_000)
		require.NoError(t, err)

		res, err := f.Withdraw(ctx, models.TokenSOL, 1_000_000_000, "recipient")
		require.NoError(t, err)
		// 0.35% of 1 SOL.
		assert.Equal(t, uint64(3_500_000), res.Fee)
		assert.Equal(t, uint64(996_500_000), res.Amount)

		b, err := f.Balance(ctx)
		require.NoError(t, err)
		assert.Zero(t, b.Sol)
	})

	t.Run("Insufficient balance", func(t *testing.T) {
		f := NewFallbackLedger(keystore.NewMemStore())
		_, err := f.Withdraw(ctx, models.TokenSOL, 1, "recipient")
		assert.ErrorIs(t, err, ErrInsufficientShielded)
	})

	t.Run("Balance survives restart on the same store", func(t *testing.T) {
		ks := keystore.NewMemStore()
		f1 := NewFallbackLedger(ks)
		_, err := f1.Deposit(ctx, models.TokenUSDC, 42)
		require.NoError(t, err)

		f2 := NewFallbackLedger(ks)
		b, err := f2.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), b.Usdc)
	})

	t.Run("Clear wipes the cache", func(t *testing.T) {
		f := NewFallbackLedger(keystore.NewMemStore())
		_, err := f.Deposit(ctx, models.TokenSOL, 100)
		require.NoError(t, err)
		require.NoError(t, f.Clear())

		b, err := f.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, Balance{}, b)
	})
}

func TestService_UsesBackendWhenHealthy(t *testing.T) {
	backend := new(mockClient)
	svc := NewService(backend, keystore.NewMemStore(), zap.NewNop())
	ctx := context.Background()

	backend.On("Health", mock.Anything).Return(nil).Once()
	backend.On("Deposit", mock.Anything, models.TokenSOL, uint64(100)).Return("sig_backend", nil)

	require.NoError(t, svc.Init(ctx))
	assert.False(t, svc.Mock())

	sig, err := svc.Deposit(ctx, models.TokenSOL, 100)
	require.NoError(t, err)
	assert.Equal(t, "sig_backend", sig)
	backend.AssertExpectations(t)
}

func TestService_FallsBackWhenUnreachable(t *testing.T) {
	backend := new(mockClient)
	svc := NewService(backend, keystore.NewMemStore(), zap.NewNop())
	ctx := context.Background()

	backend.On("Health", mock.Anything).Return(errors.New("connection refused")).Once()

	require.NoError(t, svc.Init(ctx))
	assert.True(t, svc.Mock())

	// Deposits land in the local fallback ledger, not the backend.
	_, err := svc.Deposit(ctx, models.TokenSOL, 100)
	require.NoError(t, err)
	b, err := svc.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), b.Sol)
	backend.AssertNotCalled(t, "Deposit", mock.Anything, mock.Anything, mock.Anything)

	t.Run("Init is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Init(ctx))
		backend.AssertNumberOfCalls(t, "Health", 1)
	})
}

func TestService_RequiresInit(t *testing.T) {
	svc := NewService(new(mockClient), keystore.NewMemStore(), zap.NewNop())
	ctx := context.Background()

	_, err := svc.Deposit(ctx, models.TokenSOL, 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.Balance(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = svc.Withdraw(ctx, models.TokenSOL, 1, "recipient")
	assert.ErrorIs(t, err, ErrNotInitialized)
}
