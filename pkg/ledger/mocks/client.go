// Package mocks contains a testify mock of the ledger client.
package mocks

import (
	"context"

	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/stretchr/testify/mock"
)

// Client is a mock implementation of ledger.Client.
type Client struct {
	mock.Mock
}

var _ ledger.Client = (*Client)(nil)

func (m *Client) Health(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Client) GetAnchor(ctx context.Context) (ledger.Anchor, error) {
	args := m.Called(ctx)
	return args.Get(0).(ledger.Anchor), args.Error(1)
}

func (m *Client) Submit(ctx context.Context, payload string) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *Client) GetStatuses(ctx context.Context, signatures []string) ([]ledger.SignatureStatus, error) {
	args := m.Called(ctx, signatures)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.SignatureStatus), args.Error(1)
}

func (m *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint64), args.Error(1)
}
