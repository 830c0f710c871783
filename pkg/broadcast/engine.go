// Package broadcast submits signed transactions to the ledger network
// with bounded retry, and polls for confirmation.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/fabrknt/fabcash/pkg/models"
	"go.uber.org/zap"
)

const (
	// MaxRetries is the submission attempt cap per broadcast call.
	MaxRetries = 3
	// InitialRetryDelay seeds the exponential backoff between attempts.
	InitialRetryDelay = 1 * time.Second
	// ConfirmTimeout bounds confirmation polling after a successful
	// submission. It is measured independently of the transaction's own
	// validity window.
	ConfirmTimeout = 30 * time.Second
	// ConfirmPollInterval is the fixed gap between status polls.
	ConfirmPollInterval = 1 * time.Second
)

// Result is the outcome of one broadcast call. Failures are data, not
// errors: the caller records them on the pending record.
type Result struct {
	Success   bool
	Signature string
	Status    models.TxStatus
	Err       string
}

// Engine broadcasts transactions. It holds no per-transaction state;
// idempotency across duplicate submissions is delegated to the
// network's own "already processed" semantics.
type Engine struct {
	ledger ledger.Client
	clock  clock.Clock
	logger *zap.Logger
}

// NewEngine creates a broadcast engine.
func NewEngine(lc ledger.Client, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{ledger: lc, clock: clk, logger: logger}
}

// Broadcast submits tx and waits for confirmation. An expired
// transaction is rejected without any network call. An
// "already processed" submission error is reclassified as success,
// with the transaction's own id standing in for the unavailable
// network signature.
func (e *Engine) Broadcast(ctx context.Context, tx *models.PendingTransaction) Result {
	if tx.Expired(e.clock.Now()) {
		return Result{Status: models.StatusExpired, Err: "transaction expired"}
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := InitialRetryDelay << (attempt - 1)
			if err := e.clock.Sleep(ctx, delay); err != nil {
				return Result{Status: models.StatusFailed, Err: err.Error()}
			}
		}

		sig, err := e.ledger.Submit(ctx, tx.Payload)
		if err != nil {
			if ledger.IsAlreadyProcessed(err) {
				e.logger.Info("duplicate submission already accepted by network",
					zap.String("id", tx.ID))
				return Result{Success: true, Signature: tx.ID, Status: models.StatusConfirmed}
			}
			lastErr = err
			e.logger.Warn("broadcast attempt failed",
				zap.String("id", tx.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		status, pollErr := e.waitForConfirmation(ctx, sig)
		if pollErr == nil {
			return Result{Success: true, Signature: sig, Status: status}
		}
		if errors.Is(pollErr, errExecutionFailed) {
			// On-chain execution errors are terminal; resubmitting the
			// same payload cannot succeed.
			return Result{Signature: sig, Status: models.StatusFailed, Err: pollErr.Error()}
		}
		lastErr = pollErr
		e.logger.Warn("confirmation not reached",
			zap.String("id", tx.ID),
			zap.String("signature", sig),
			zap.Error(pollErr))
	}

	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return Result{Status: models.StatusFailed, Err: errMsg}
}

var (
	errExecutionFailed = errors.New("transaction execution failed")
	errConfirmTimeout  = errors.New("confirmation timed out")
)

// waitForConfirmation polls signature status at a fixed interval until
// a confirmation tier is reached, an execution error is observed, or
// ConfirmTimeout elapses.
func (e *Engine) waitForConfirmation(ctx context.Context, sig string) (models.TxStatus, error) {
	deadline := e.clock.Now().Add(ConfirmTimeout)

	for e.clock.Now().Before(deadline) {
		statuses, err := e.ledger.GetStatuses(ctx, []string{sig})
		if err == nil && len(statuses) > 0 {
			st := statuses[0]
			if st.Err != "" {
				return models.StatusFailed, fmt.Errorf("%w: %s", errExecutionFailed, st.Err)
			}
			switch st.Tier {
			case ledger.TierFinalized:
				return models.StatusFinalized, nil
			case ledger.TierConfirmed:
				return models.StatusConfirmed, nil
			}
		} else if err != nil {
			e.logger.Debug("status poll failed", zap.String("signature", sig), zap.Error(err))
		}

		if err := e.clock.Sleep(ctx, ConfirmPollInterval); err != nil {
			return models.StatusFailed, err
		}
	}
	return models.StatusBroadcasting, errConfirmTimeout
}
