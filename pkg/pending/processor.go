package pending

import (
	"context"
	"time"

	"github.com/fabrknt/fabcash/pkg/broadcast"
	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/fabrknt/fabcash/pkg/models"
	"go.uber.org/zap"
)

// Broadcaster is the slice of the broadcast engine the processor needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, tx *models.PendingTransaction) broadcast.Result
}

// Summary reports the outcome of one processing pass.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Processor drives queued transactions through the broadcast engine.
// Transactions are handled strictly sequentially within a pass; no
// parallel broadcasts are attempted.
type Processor struct {
	store  *Store
	engine Broadcaster
	ledger ledger.Client
	clock  clock.Clock
	logger *zap.Logger
}

// NewProcessor creates a processor over the given store and engine.
func NewProcessor(store *Store, engine Broadcaster, lc ledger.Client, clk clock.Clock, logger *zap.Logger) *Processor {
	return &Processor{store: store, engine: engine, ledger: lc, clock: clk, logger: logger}
}

// ProcessPending broadcasts every queued transaction once. Records
// still marked broadcasting are included: the only way a record can be
// in that state at the start of a pass is a crash mid-broadcast, and
// retrying is safe because the network deduplicates submissions.
// Offline (failed health check) is not an error; the pass is skipped.
func (p *Processor) ProcessPending(ctx context.Context) (Summary, error) {
	if err := p.ledger.Health(ctx); err != nil {
		p.logger.Debug("network unreachable, skipping pass", zap.Error(err))
		return Summary{}, nil
	}

	queue := p.store.ListByStatus(models.StatusPending, models.StatusBroadcasting)
	summary := Summary{Processed: len(queue)}

	for i := range queue {
		tx := &queue[i]
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if tx.Expired(p.clock.Now()) {
			if err := p.markExpired(tx.ID); err != nil {
				return summary, err
			}
			summary.Failed++
			continue
		}

		status := models.StatusBroadcasting
		attempts := tx.BroadcastAttempts + 1
		now := p.clock.Now()
		updated, err := p.store.Update(tx.ID, Update{
			Status:            &status,
			BroadcastAttempts: &attempts,
			LastAttemptAt:     &now,
		})
		if err != nil {
			return summary, err
		}
		if updated == nil {
			// Cleared from under us between listing and updating.
			continue
		}

		result := p.engine.Broadcast(ctx, updated)
		if err := p.reconcile(updated.ID, result); err != nil {
			return summary, err
		}
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	return summary, nil
}

func (p *Processor) markExpired(id string) error {
	status := models.StatusExpired
	errMsg := "transaction expired before broadcast"
	_, err := p.store.Update(id, Update{Status: &status, Error: &errMsg})
	if err == nil {
		p.logger.Warn("transaction expired in queue", zap.String("id", id))
	}
	return err
}

// reconcile writes the engine's result back into the store. Every
// outcome lands in the record's status/error fields; nothing is raised
// for an individual transaction failure.
func (p *Processor) reconcile(id string, result broadcast.Result) error {
	upd := Update{Status: &result.Status}
	if result.Signature != "" {
		upd.NetworkSignature = &result.Signature
	}
	if result.Err != "" {
		upd.Error = &result.Err
	}
	_, err := p.store.Update(id, upd)
	if err != nil {
		return err
	}

	if result.Success {
		p.logger.Info("transaction broadcast",
			zap.String("id", id),
			zap.String("signature", result.Signature),
			zap.String("status", string(result.Status)))
	} else {
		p.logger.Warn("transaction not broadcast",
			zap.String("id", id),
			zap.String("status", string(result.Status)),
			zap.String("error", result.Err))
	}
	return nil
}

// Run invokes ProcessPending every interval until ctx is cancelled.
func (p *Processor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("processing pass failed", zap.Error(err))
			}
		}
	}
}
