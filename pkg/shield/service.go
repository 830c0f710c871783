package shield

import (
	"context"
	"errors"
	"sync"

	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/models"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned when the service is used before Init.
var ErrNotInitialized = errors.New("shield: service not initialized")

// Service fronts the privacy pool. Init probes the real backend and
// silently degrades to the local fallback ledger when it is
// unreachable, so the emergency path works offline.
type Service struct {
	mu       sync.Mutex
	backend  Client
	fallback *FallbackLedger
	active   Client
	mock     bool
	logger   *zap.Logger
}

// NewService creates a shield service over the given backend client.
func NewService(backend Client, ks keystore.Store, logger *zap.Logger) *Service {
	return &Service{
		backend:  backend,
		fallback: NewFallbackLedger(ks),
		logger:   logger,
	}
}

// Init selects the active pool implementation. Idempotent.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil
	}

	if err := s.backend.Health(ctx); err != nil {
		// Demo-only path: balances are tracked locally with none of the
		// pool's privacy guarantees.
		s.logger.Warn("shield backend unreachable, using local fallback ledger",
			zap.Error(err))
		s.active = s.fallback
		s.mock = true
		return nil
	}
	s.logger.Info("connected to shield backend")
	s.active = s.backend
	return nil
}

// Mock reports whether the service degraded to the fallback ledger.
func (s *Service) Mock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mock
}

func (s *Service) client() (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNotInitialized
	}
	return s.active, nil
}

// Deposit shields amount of token.
func (s *Service) Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error) {
	c, err := s.client()
	if err != nil {
		return "", err
	}
	return c.Deposit(ctx, token, amount)
}

// Withdraw unshields amount of token to recipient.
func (s *Service) Withdraw(ctx context.Context, token models.TokenType, amount uint64, recipient string) (WithdrawResult, error) {
	c, err := s.client()
	if err != nil {
		return WithdrawResult{}, err
	}
	return c.Withdraw(ctx, token, amount, recipient)
}

// Balance returns the shielded balances.
func (s *Service) Balance(ctx context.Context) (Balance, error) {
	c, err := s.client()
	if err != nil {
		return Balance{}, err
	}
	return c.Balance(ctx)
}

// ClearCache erases locally cached pool state. Part of the emergency
// trace-clearing path.
func (s *Service) ClearCache() error {
	return s.fallback.Clear()
}
