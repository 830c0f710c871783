// Package mocks contains a testify mock of the shield client.
package mocks

import (
	"context"

	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/shield"
	"github.com/stretchr/testify/mock"
)

// Client is a mock implementation of shield.Client.
type Client struct {
	mock.Mock
}

var _ shield.Client = (*Client)(nil)

func (m *Client) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Client) Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error) {
	args := m.Called(ctx, token, amount)
	return args.String(0), args.Error(1)
}

func (m *Client) Withdraw(ctx context.Context, token models.TokenType, amount uint64, recipient string) (shield.WithdrawResult, error) {
	args := m.Called(ctx, token, amount, recipient)
	return args.Get(0).(shield.WithdrawResult), args.Error(1)
}

func (m *Client) Balance(ctx context.Context) (shield.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(shield.Balance), args.Error(1)
}
