// Package mocks contains testify mocks of the proximity transport.
package mocks

import (
	"context"

	"github.com/fabrknt/fabcash/pkg/proximity"
	"github.com/stretchr/testify/mock"
)

// Transport is a mock implementation of proximity.Transport.
type Transport struct {
	mock.Mock
}

var _ proximity.Transport = (*Transport)(nil)

func (m *Transport) Advertise(ctx context.Context, service string) (proximity.Conn, error) {
	args := m.Called(ctx, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(proximity.Conn), args.Error(1)
}

func (m *Transport) Scan(ctx context.Context, service string) ([]proximity.Peer, error) {
	args := m.Called(ctx, service)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]proximity.Peer), args.Error(1)
}

func (m *Transport) Connect(ctx context.Context, peerID string) (proximity.Conn, error) {
	args := m.Called(ctx, peerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(proximity.Conn), args.Error(1)
}

// Conn is a mock implementation of proximity.Conn.
type Conn struct {
	mock.Mock
}

var _ proximity.Conn = (*Conn)(nil)

func (m *Conn) WriteChunk(ctx context.Context, characteristic string, chunk []byte) error {
	return m.Called(ctx, characteristic, chunk).Error(0)
}

func (m *Conn) ReadChunks(ctx context.Context, characteristic string) (<-chan []byte, error) {
	args := m.Called(ctx, characteristic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan []byte), args.Error(1)
}

func (m *Conn) Close() error {
	return m.Called().Error(0)
}
