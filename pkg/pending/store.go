// Package pending is the durable, keyed-by-id queue of signed
// transactions awaiting broadcast, with the status state machine that
// makes money movement auditable.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/models"
	"go.uber.org/zap"
)

const storageKey = "fabcash_pending_transactions"

// Store errors.
var (
	// ErrDuplicateID is returned by Add when the id is already queued.
	// Re-adding is a caller bug, not an idempotent operation.
	ErrDuplicateID = errors.New("pending: transaction id already queued")

	// ErrIllegalTransition is returned by Update for a status change
	// the state machine does not allow.
	ErrIllegalTransition = errors.New("pending: illegal status transition")
)

// Update is a partial mutation of a pending transaction. Nil fields are
// left unchanged.
type Update struct {
	Status            *models.TxStatus
	NetworkSignature  *string
	BroadcastAttempts *int
	LastAttemptAt     *time.Time
	Error             *string
}

// Store keeps pending transactions in memory and flushes every mutation
// to the secure store before returning, so an abrupt restart resumes
// from the last completed mutation.
type Store struct {
	mu     sync.Mutex
	store  keystore.Store
	cache  map[string]*models.PendingTransaction
	logger *zap.Logger
}

// NewStore loads the persisted snapshot and returns a ready store.
// Records found in the broadcasting state are kept as-is: the outcome
// of the interrupted broadcast is unknown and retrying is safe.
func NewStore(ks keystore.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{
		store:  ks,
		cache:  make(map[string]*models.PendingTransaction),
		logger: logger,
	}

	raw, ok, err := ks.Get(storageKey)
	if err != nil {
		return nil, fmt.Errorf("load pending transactions: %w", err)
	}
	if ok {
		var records []*models.PendingTransaction
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			return nil, fmt.Errorf("decode pending transactions: %w", err)
		}
		for _, rec := range records {
			s.cache[rec.ID] = rec
		}
		logger.Info("loaded pending transaction queue", zap.Int("count", len(records)))
	}
	return s, nil
}

// persistLocked flushes the full queue snapshot. Callers hold s.mu.
func (s *Store) persistLocked() error {
	records := make([]*models.PendingTransaction, 0, len(s.cache))
	for _, tx := range s.cache {
		records = append(records, tx)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode pending transactions: %w", err)
	}
	return s.store.Set(storageKey, string(data))
}

// Add inserts tx with status pending and zero attempts.
func (s *Store) Add(tx models.SignedTransaction) (*models.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[tx.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, tx.ID)
	}

	rec := &models.PendingTransaction{
		SignedTransaction: tx,
		Status:            models.StatusPending,
	}
	s.cache[tx.ID] = rec
	if err := s.persistLocked(); err != nil {
		delete(s.cache, tx.ID)
		return nil, err
	}

	s.logger.Info("queued transaction",
		zap.String("id", tx.ID),
		zap.Uint64("amount", tx.Amount),
		zap.String("token", string(tx.Token)))
	out := *rec
	return &out, nil
}

// Update merges upd into the record for id. An unknown id returns
// (nil, nil): cleanup races are expected and a lookup miss is not a
// system error.
func (s *Store) Update(id string, upd Update) (*models.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cache[id]
	if !ok {
		return nil, nil
	}

	prev := *rec
	if upd.Status != nil {
		if !rec.Status.CanTransitionTo(*upd.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, *upd.Status)
		}
		rec.Status = *upd.Status
	}
	if upd.NetworkSignature != nil {
		rec.NetworkSignature = *upd.NetworkSignature
	}
	if upd.BroadcastAttempts != nil {
		rec.BroadcastAttempts = *upd.BroadcastAttempts
	}
	if upd.LastAttemptAt != nil {
		rec.LastAttemptAt = *upd.LastAttemptAt
	}
	if upd.Error != nil {
		rec.Error = *upd.Error
	}

	if err := s.persistLocked(); err != nil {
		*rec = prev
		return nil, err
	}
	out := *rec
	return &out, nil
}

// Get returns the record for id, or nil if unknown.
func (s *Store) Get(id string) *models.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cache[id]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

// List returns all records, newest first.
func (s *Store) List() []models.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(*models.PendingTransaction) bool { return true })
}

// ListByStatus returns all records in any of the given statuses,
// newest first.
func (s *Store) ListByStatus(statuses ...models.TxStatus) []models.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(tx *models.PendingTransaction) bool {
		for _, st := range statuses {
			if tx.Status == st {
				return true
			}
		}
		return false
	})
}

// History returns all terminal records, newest first.
func (s *Store) History() []models.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(tx *models.PendingTransaction) bool {
		return tx.Status.Terminal()
	})
}

func (s *Store) snapshotLocked(keep func(*models.PendingTransaction) bool) []models.PendingTransaction {
	var out []models.PendingTransaction
	for _, tx := range s.cache {
		if keep(tx) {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PendingCount returns the number of records still awaiting a terminal
// state.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tx := range s.cache {
		if tx.Status == models.StatusPending || tx.Status == models.StatusBroadcasting {
			n++
		}
	}
	return n
}

// Remove deletes the record for id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[id]; !ok {
		return nil
	}
	delete(s.cache, id)
	return s.persistLocked()
}

// ClearTerminal removes all confirmed, finalized, failed and expired
// records, returning the count removed. Explicitly user- or
// policy-triggered; records are never dropped silently.
func (s *Store) ClearTerminal() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for id, tx := range s.cache {
		if tx.Status.Terminal() {
			delete(s.cache, id)
			cleared++
		}
	}
	if cleared == 0 {
		return 0, nil
	}
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	s.logger.Info("cleared terminal transactions", zap.Int("count", cleared))
	return cleared, nil
}

// ClearAll wipes the entire queue, history included, and removes the
// snapshot from storage. Used by the emergency shield orchestrator.
func (s *Store) ClearAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.cache)
	s.cache = make(map[string]*models.PendingTransaction)
	if err := s.store.Delete(storageKey); err != nil {
		return 0, err
	}
	s.logger.Info("cleared all transactions", zap.Int("count", count))
	return count, nil
}
