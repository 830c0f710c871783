package proximity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/ephemeral"
	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/ledger"
	ledger_mocks "github.com/fabrknt/fabcash/pkg/ledger/mocks"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/payment"
	"github.com/fabrknt/fabcash/pkg/pending"
	"github.com/fabrknt/fabcash/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLink is an in-memory duplex link keyed by characteristic. Both
// session roles hold a Conn over the same link, which gives the ordered
// per-characteristic delivery the real transport guarantees.
type fakeLink struct {
	mu     sync.Mutex
	chans  map[string]chan []byte
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{chans: make(map[string]chan []byte)}
}

func (l *fakeLink) ch(characteristic string) chan []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chans[characteristic]
	if !ok {
		c = make(chan []byte, 64)
		l.chans[characteristic] = c
	}
	return c
}

type fakeConn struct{ link *fakeLink }

func (c *fakeConn) WriteChunk(ctx context.Context, characteristic string, chunk []byte) error {
	c.link.mu.Lock()
	if c.link.closed {
		c.link.mu.Unlock()
		return ErrSessionStopped
	}
	c.link.mu.Unlock()

	out := append([]byte(nil), chunk...)
	select {
	case c.link.ch(characteristic) <- out:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) ReadChunks(ctx context.Context, characteristic string) (<-chan []byte, error) {
	return c.link.ch(characteristic), nil
}

func (c *fakeConn) Close() error {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if c.link.closed {
		return nil
	}
	c.link.closed = true
	for _, ch := range c.link.chans {
		close(ch)
	}
	return nil
}

// fakeTransport hands both roles a Conn over one shared link.
type fakeTransport struct{ link *fakeLink }

func (t *fakeTransport) Advertise(ctx context.Context, service string) (Conn, error) {
	return &fakeConn{link: t.link}, nil
}

func (t *fakeTransport) Scan(ctx context.Context, service string) ([]Peer, error) {
	return []Peer{{ID: "peer-1", Name: "fabcash", RSSI: -40}}, nil
}

func (t *fakeTransport) Connect(ctx context.Context, peerID string) (Conn, error) {
	return &fakeConn{link: t.link}, nil
}

type sessionFixture struct {
	transport  *fakeTransport
	store      *pending.Store
	keys       *ephemeral.Manager
	clk        *clock.Fake
	advertiser *Session
	initiator  *Session
	sender     *wallet.Wallet
	builder    *wallet.Builder
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewFake(time.Now())

	store, err := pending.NewStore(keystore.NewMemStore(), logger)
	require.NoError(t, err)
	keys, err := ephemeral.NewManager(keystore.NewMemStore(), clk, logger)
	require.NoError(t, err)

	transport := &fakeTransport{link: newFakeLink()}
	deps := Deps{Transport: transport, Store: store, Keys: keys, Clock: clk, Logger: logger}

	sender, err := wallet.LoadOrCreate(keystore.NewMemStore())
	require.NoError(t, err)
	mockLedger := new(ledger_mocks.Client)
	mockLedger.On("GetAnchor", mock.Anything).
		Return(ledger.Anchor{Checkpoint: "Hash111", ValidityHeight: 1}, nil)

	return &sessionFixture{
		transport:  transport,
		store:      store,
		keys:       keys,
		clk:        clk,
		advertiser: NewSession(RoleAdvertiser, deps),
		initiator:  NewSession(RoleInitiator, Deps{Transport: transport, Clock: clk, Logger: logger}),
		sender:     sender,
		builder:    wallet.NewBuilder(mockLedger, clk, logger),
	}
}

func (f *sessionFixture) paymentRequest(t *testing.T) payment.Request {
	t.Helper()
	key, err := f.keys.Generate(0)
	require.NoError(t, err)
	return payment.NewRequest(payment.Params{
		RecipientAddress: key.PublicAddress,
		EphemeralID:      key.ID,
		Amount:           100,
		Token:            models.TokenSOL,
		Now:              f.clk.Now(),
	})
}

func TestSession_EndToEndTransfer(t *testing.T) {
	f := newSessionFixture(t)
	req := f.paymentRequest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type advResult struct {
		txID string
		err  error
	}
	advDone := make(chan advResult, 1)
	go func() {
		txID, err := f.advertiser.Advertise(ctx, req)
		advDone <- advResult{txID, err}
	}()

	peers, err := f.initiator.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	sentID, err := f.initiator.SendPayment(ctx, peers[0].ID, func(ctx context.Context, got payment.Request) (*models.SignedTransaction, error) {
		// The initiator sees exactly the advertised request.
		assert.Equal(t, req.RecipientAddress, got.RecipientAddress)
		assert.Equal(t, req.EphemeralID, got.EphemeralID)
		return f.builder.Build(ctx, f.sender, got.RecipientAddress, got.AmountUnits(), got.Token, "")
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sentID)
	assert.Equal(t, StateCompleted, f.initiator.State())

	adv := <-advDone
	require.NoError(t, adv.err)
	assert.Equal(t, StateCompleted, f.advertiser.State())

	// The received transaction is queued under a fresh local id.
	rec := f.store.Get(adv.txID)
	require.NotNil(t, rec)
	assert.NotEqual(t, sentID, adv.txID)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, f.sender.Address(), rec.Sender)
	assert.Equal(t, req.RecipientAddress, rec.Recipient)
	assert.Equal(t, uint64(100), rec.Amount)

	// The receive key is consumed.
	key, err := f.keys.Get(req.EphemeralID)
	require.NoError(t, err)
	assert.True(t, key.Used)
}

func TestSession_AdvertiserRejectsExpiredTransaction(t *testing.T) {
	f := newSessionFixture(t)
	req := f.paymentRequest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	advDone := make(chan error, 1)
	go func() {
		_, err := f.advertiser.Advertise(ctx, req)
		advDone <- err
	}()

	_, err := f.initiator.SendPayment(ctx, "peer-1", func(ctx context.Context, got payment.Request) (*models.SignedTransaction, error) {
		tx, err := f.builder.Build(ctx, f.sender, got.RecipientAddress, 100, models.TokenSOL, "")
		if err != nil {
			return nil, err
		}
		tx.ExpiresAt = f.clk.Now().Add(-time.Second)
		return tx, nil
	})
	assert.ErrorIs(t, err, ErrRejectedByPeer)
	assert.Equal(t, StateError, f.initiator.State())

	assert.ErrorIs(t, <-advDone, ErrExpiredPayload)
	assert.Equal(t, StateError, f.advertiser.State())
	assert.Empty(t, f.store.List())

	// The receive key is not consumed by a rejected transfer.
	key, err := f.keys.Get(req.EphemeralID)
	require.NoError(t, err)
	assert.False(t, key.Used)
}

func TestSession_WrongRole(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.initiator.Advertise(ctx, f.paymentRequest(t))
	assert.ErrorIs(t, err, ErrWrongRole)

	_, err = f.advertiser.Scan(ctx)
	assert.ErrorIs(t, err, ErrWrongRole)

	_, err = f.advertiser.SendPayment(ctx, "peer-1", nil)
	assert.ErrorIs(t, err, ErrWrongRole)
}

func TestSession_AdvertiseRejectsInvalidRequest(t *testing.T) {
	f := newSessionFixture(t)
	req := f.paymentRequest(t)
	req.RecipientAddress = "garbage"

	_, err := f.advertiser.Advertise(context.Background(), req)
	assert.ErrorIs(t, err, payment.ErrInvalidRequest)
	// Validation failure precedes any transport work.
	assert.Equal(t, StateIdle, f.advertiser.State())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	req := f.paymentRequest(t)
	ctx := context.Background()

	advDone := make(chan error, 1)
	go func() {
		_, err := f.advertiser.Advertise(ctx, req)
		advDone <- err
	}()

	// Wait until the request is published, then stop mid-receive.
	conn := &fakeConn{link: f.transport.link}
	ch, err := conn.ReadChunks(ctx, PaymentRequestCharUUID)
	require.NoError(t, err)
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("advertiser never published the request")
	}

	f.advertiser.Stop()
	f.advertiser.Stop()
	f.advertiser.Stop()

	assert.ErrorIs(t, <-advDone, ErrSessionStopped)

	t.Run("Stopped session rejects new work", func(t *testing.T) {
		_, err := f.advertiser.Advertise(ctx, req)
		assert.ErrorIs(t, err, ErrSessionStopped)
	})
}
