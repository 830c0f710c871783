package proximity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/ephemeral"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/payment"
	"github.com/fabrknt/fabcash/pkg/pending"
	"github.com/fabrknt/fabcash/pkg/wallet"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role selects which side of the exchange a session plays.
type Role string

const (
	// RoleAdvertiser is the receiver: it publishes a payment request
	// and waits for a signed transaction.
	RoleAdvertiser Role = "advertiser"
	// RoleInitiator is the sender: it discovers an advertiser, reads
	// the request and writes back a signed transaction.
	RoleInitiator Role = "initiator"
)

// State of a session. Advertisers move idle -> initializing ->
// advertising -> receiving -> completed; initiators move idle ->
// scanning -> connecting -> connected -> sending -> completed. Either
// can land in error.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateScanning     State = "scanning"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateAdvertising  State = "advertising"
	StateSending      State = "sending"
	StateReceiving    State = "receiving"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Session errors.
var (
	ErrWrongRole      = errors.New("proximity: operation not valid for session role")
	ErrSessionStopped = errors.New("proximity: session stopped")
	ErrRejectedByPeer = errors.New("proximity: peer rejected transaction")
)

// BuildFunc builds and signs a transaction satisfying the received
// payment request. The initiator owns signing; the session only
// carries the result.
type BuildFunc func(ctx context.Context, req payment.Request) (*models.SignedTransaction, error)

// Deps wires a session's collaborators. Store and Keys are only used
// by the advertiser role.
type Deps struct {
	Transport Transport
	Store     *pending.Store
	Keys      *ephemeral.Manager
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Session is one proximity exchange, polymorphic over role so the
// framing and chunking logic exists exactly once.
type Session struct {
	mu      sync.Mutex
	role    Role
	state   State
	conn    Conn
	stopped bool

	transport Transport
	store     *pending.Store
	keys      *ephemeral.Manager
	clock     clock.Clock
	logger    *zap.Logger
}

// NewSession creates an idle session for the given role.
func NewSession(role Role, deps Deps) *Session {
	return &Session{
		role:      role,
		state:     StateIdle,
		transport: deps.Transport,
		store:     deps.Store,
		keys:      deps.Keys,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop tears the session down. It is safe to call from any state,
// including mid-chunk-transfer, and is idempotent: the connection is
// closed at most once and no subscriptions are left dangling.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("closing proximity connection", zap.Error(err))
		}
		s.conn = nil
	}
	if s.state != StateCompleted && s.state != StateError {
		s.state = StateIdle
	}
}

func (s *Session) setState(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionStopped
	}
	s.state = st
	return nil
}

func (s *Session) setConn(c Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		c.Close()
		return ErrSessionStopped
	}
	s.conn = c
	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	if !s.stopped {
		s.state = StateError
	}
	s.mu.Unlock()
	return err
}

// Advertise publishes req and blocks until a signed transaction
// arrives, is validated and is queued, or the session is stopped. It
// returns the id of the queued pending transaction.
func (s *Session) Advertise(ctx context.Context, req payment.Request) (string, error) {
	if s.role != RoleAdvertiser {
		return "", ErrWrongRole
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := s.setState(StateInitializing); err != nil {
		return "", err
	}

	conn, err := s.transport.Advertise(ctx, ServiceUUID)
	if err != nil {
		return "", s.fail(fmt.Errorf("advertise: %w", err))
	}
	if err := s.setConn(conn); err != nil {
		return "", err
	}
	if err := s.setState(StateAdvertising); err != nil {
		return "", err
	}

	// Publish the request so the initiator can read it.
	if err := s.writePayload(ctx, conn, PaymentRequestCharUUID, RequestPayload{Request: req}); err != nil {
		return "", s.fail(err)
	}

	encoded, err := s.readPayload(ctx, conn, TransactionCharUUID, StateReceiving)
	if err != nil {
		return "", s.fail(err)
	}

	txID, err := s.acceptTransaction(ctx, conn, req, encoded)
	if err != nil {
		return "", s.fail(err)
	}

	if err := s.setState(StateCompleted); err != nil {
		return "", err
	}
	return txID, nil
}

// acceptTransaction validates the received payload and, if acceptable,
// queues it and marks the receive key used. Invalid or expired payloads
// are rejected with a negative ack and leave no stored state behind.
func (s *Session) acceptTransaction(ctx context.Context, conn Conn, req payment.Request, encoded string) (string, error) {
	decoded, err := Decode(encoded)
	if err != nil {
		s.writeAck(ctx, conn, AckPayload{Type: TypeAck, Version: PayloadVersion, Error: err.Error()})
		return "", err
	}
	tp, ok := decoded.(TransactionPayload)
	if !ok {
		err := fmt.Errorf("%w: expected transaction, got %T", ErrInvalidPayload, decoded)
		s.writeAck(ctx, conn, AckPayload{Type: TypeAck, Version: PayloadVersion, Error: err.Error()})
		return "", err
	}
	if s.clock.Now().After(tp.ExpiresAt) {
		s.writeAck(ctx, conn, AckPayload{Type: TypeAck, Version: PayloadVersion, Error: "transaction expired"})
		return "", ErrExpiredPayload
	}
	if err := wallet.VerifyPayload(tp.TxBase64); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		s.writeAck(ctx, conn, AckPayload{Type: TypeAck, Version: PayloadVersion, Error: err.Error()})
		return "", err
	}

	tx := models.SignedTransaction{
		ID:        "tx_" + uuid.NewString(),
		Payload:   tp.TxBase64,
		Sender:    tp.SenderAddress,
		Recipient: req.RecipientAddress,
		Amount:    tp.AmountUnits(),
		Token:     tp.Token,
		CreatedAt: s.clock.Now(),
		ExpiresAt: tp.ExpiresAt,
	}
	if _, err := s.store.Add(tx); err != nil {
		s.writeAck(ctx, conn, AckPayload{Type: TypeAck, Version: PayloadVersion, Error: "could not queue transaction"})
		return "", err
	}
	if req.EphemeralID != "" {
		if err := s.keys.MarkUsed(req.EphemeralID); err != nil {
			s.logger.Warn("marking ephemeral key used",
				zap.String("id", req.EphemeralID), zap.Error(err))
		}
	}

	s.writeAck(ctx, conn, AckPayload{Type: TypeAck, Version: PayloadVersion, Success: true, TxID: tx.ID})
	s.logger.Info("received transaction over proximity link",
		zap.String("id", tx.ID),
		zap.String("sender", tx.Sender),
		zap.Uint64("amount", tx.Amount))
	return tx.ID, nil
}

// Scan discovers nearby advertisers.
func (s *Session) Scan(ctx context.Context) ([]Peer, error) {
	if s.role != RoleInitiator {
		return nil, ErrWrongRole
	}
	if err := s.setState(StateScanning); err != nil {
		return nil, err
	}
	peers, err := s.transport.Scan(ctx, ServiceUUID)
	if err != nil {
		return nil, s.fail(fmt.Errorf("scan: %w", err))
	}
	return peers, nil
}

// SendPayment connects to peerID, reads its payment request, has build
// produce a signed transaction for it, transfers the transaction and
// waits for the acknowledgement. It returns the sent transaction's id.
func (s *Session) SendPayment(ctx context.Context, peerID string, build BuildFunc) (string, error) {
	if s.role != RoleInitiator {
		return "", ErrWrongRole
	}
	if err := s.setState(StateConnecting); err != nil {
		return "", err
	}

	conn, err := s.transport.Connect(ctx, peerID)
	if err != nil {
		return "", s.fail(fmt.Errorf("connect to %s: %w", peerID, err))
	}
	if err := s.setConn(conn); err != nil {
		return "", err
	}
	if err := s.setState(StateConnected); err != nil {
		return "", err
	}

	encoded, err := s.readPayload(ctx, conn, PaymentRequestCharUUID, StateConnected)
	if err != nil {
		return "", s.fail(err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		return "", s.fail(err)
	}
	reqPayload, ok := decoded.(RequestPayload)
	if !ok {
		return "", s.fail(fmt.Errorf("%w: expected payment request, got %T", ErrInvalidPayload, decoded))
	}
	req := reqPayload.Request
	if req.Expired(s.clock.Now()) {
		return "", s.fail(fmt.Errorf("%w: payment request", ErrExpiredPayload))
	}

	tx, err := build(ctx, req)
	if err != nil {
		return "", s.fail(fmt.Errorf("build transaction: %w", err))
	}

	if err := s.setState(StateSending); err != nil {
		return "", err
	}
	if err := s.writePayload(ctx, conn, TransactionCharUUID, NewTransactionPayload(tx)); err != nil {
		return "", s.fail(err)
	}

	ackEncoded, err := s.readPayload(ctx, conn, AckCharUUID, StateSending)
	if err != nil {
		return "", s.fail(err)
	}
	ackDecoded, err := Decode(ackEncoded)
	if err != nil {
		return "", s.fail(err)
	}
	ack, ok := ackDecoded.(AckPayload)
	if !ok {
		return "", s.fail(fmt.Errorf("%w: expected ack, got %T", ErrInvalidPayload, ackDecoded))
	}
	if !ack.Success {
		return "", s.fail(fmt.Errorf("%w: %s", ErrRejectedByPeer, ack.Error))
	}

	if err := s.setState(StateCompleted); err != nil {
		return "", err
	}
	s.logger.Info("sent transaction over proximity link", zap.String("id", tx.ID))
	return tx.ID, nil
}

// writePayload encodes, chunks and writes a payload sequentially.
func (s *Session) writePayload(ctx context.Context, conn Conn, characteristic string, p Payload) error {
	encoded, err := Encode(p)
	if err != nil {
		return err
	}
	for _, chunk := range Chunk(encoded) {
		if err := conn.WriteChunk(ctx, characteristic, chunk); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}
	return nil
}

// writeAck is best-effort; a lost ack does not undo local state.
func (s *Session) writeAck(ctx context.Context, conn Conn, ack AckPayload) {
	if err := s.writePayload(ctx, conn, AckCharUUID, ack); err != nil {
		s.logger.Warn("writing ack", zap.Error(err))
	}
}

// readPayload subscribes to a characteristic and reassembles chunks
// until the final flag arrives. receivingState is entered on the first
// chunk.
func (s *Session) readPayload(ctx context.Context, conn Conn, characteristic string, receivingState State) (string, error) {
	ch, err := conn.ReadChunks(ctx, characteristic)
	if err != nil {
		return "", fmt.Errorf("subscribe to %s: %w", characteristic, err)
	}

	r := NewReassembler()
	first := true
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				if s.isStopped() {
					return "", ErrSessionStopped
				}
				return "", fmt.Errorf("%w: connection closed mid-transfer", ErrInvalidPayload)
			}
			if first {
				first = false
				if err := s.setState(receivingState); err != nil {
					return "", err
				}
			}
			done, err := r.Add(chunk)
			if err != nil {
				return "", err
			}
			if done {
				return r.Payload(), nil
			}
		}
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
