// Package crackdown implements the emergency shield pipeline: move all
// funds into the privacy pool, then erase local traces.
package crackdown

import (
	"context"
	"fmt"

	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/shield"
	"go.uber.org/zap"
)

// MinBalanceForFees is the base-asset headroom kept unshielded so the
// wallet can still pay network fees afterwards (0.01 SOL).
const MinBalanceForFees uint64 = 10_000_000

// StepStatus is the reported state of one pipeline step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Step names, in execution order.
const (
	StepInitPrivacy  = "Initializing privacy"
	StepShieldSol    = "Shielding SOL"
	StepShieldUsdc   = "Shielding USDC"
	StepClearHistory = "Clearing transactions"
	StepClearKeys    = "Clearing keys"
)

// Step is one pipeline step's reported progress.
type Step struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Details string     `json:"details,omitempty"`
}

// ProgressFunc receives each step update together with a snapshot of
// all steps.
type ProgressFunc func(step Step, all []Step)

// Result aggregates the pipeline outcome. Success is false if any step
// failed, even though later steps still ran.
type Result struct {
	Success             bool   `json:"success"`
	SolShielded         uint64 `json:"sol_shielded"`
	UsdcShielded        uint64 `json:"usdc_shielded"`
	TransactionsCleared int    `json:"transactions_cleared"`
	KeysCleared         int    `json:"keys_cleared"`
	Steps               []Step `json:"steps"`
}

// Pool is the slice of the shield service the pipeline needs.
type Pool interface {
	Init(ctx context.Context) error
	Deposit(ctx context.Context, token models.TokenType, amount uint64) (string, error)
	Balance(ctx context.Context) (shield.Balance, error)
	ClearCache() error
}

// Funds reads the wallet's public balance per asset.
type Funds interface {
	Balance(ctx context.Context, token models.TokenType) (uint64, error)
}

// TxClearer wipes the transaction queue and history.
type TxClearer interface {
	ClearAll() (int, error)
}

// KeyClearer wipes all ephemeral keys.
type KeyClearer interface {
	ClearAll() (int, error)
}

// Orchestrator runs the five-step emergency pipeline. A failed
// privacy-init fails both shielding steps (they depend on it); the two
// clearing steps always run, since erasing local traces is the minimum
// viable protection even when shielding fails.
type Orchestrator struct {
	pool   Pool
	funds  Funds
	txs    TxClearer
	keys   KeyClearer
	logger *zap.Logger
}

// NewOrchestrator wires the pipeline's collaborators.
func NewOrchestrator(pool Pool, funds Funds, txs TxClearer, keys KeyClearer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{pool: pool, funds: funds, txs: txs, keys: keys, logger: logger}
}

// Activate runs the pipeline. Every step outcome is recorded and
// reported through onProgress (which may be nil); per-step failures do
// not abort the pipeline.
func (o *Orchestrator) Activate(ctx context.Context, onProgress ProgressFunc) Result {
	steps := []Step{
		{Name: StepInitPrivacy, Status: StepPending},
		{Name: StepShieldSol, Status: StepPending},
		{Name: StepShieldUsdc, Status: StepPending},
		{Name: StepClearHistory, Status: StepPending},
		{Name: StepClearKeys, Status: StepPending},
	}
	update := func(i int, status StepStatus, details string) {
		steps[i].Status = status
		steps[i].Details = details
		if onProgress != nil {
			snapshot := make([]Step, len(steps))
			copy(snapshot, steps)
			onProgress(snapshot[i], snapshot)
		}
		if status == StepFailed {
			o.logger.Error("crackdown step failed",
				zap.String("step", steps[i].Name), zap.String("details", details))
		}
	}

	var result Result

	update(0, StepInProgress, "")
	initErr := o.pool.Init(ctx)
	if initErr != nil {
		update(0, StepFailed, initErr.Error())
		update(1, StepFailed, "privacy init failed")
		update(2, StepFailed, "privacy init failed")
	} else {
		update(0, StepCompleted, "privacy system ready")
		result.SolShielded = o.shieldAsset(ctx, 1, models.TokenSOL, MinBalanceForFees, update)
		result.UsdcShielded = o.shieldAsset(ctx, 2, models.TokenUSDC, 0, update)
	}

	update(3, StepInProgress, "")
	if cleared, err := o.txs.ClearAll(); err != nil {
		update(3, StepFailed, err.Error())
	} else {
		result.TransactionsCleared = cleared
		update(3, StepCompleted, fmt.Sprintf("%d transactions cleared", cleared))
	}

	update(4, StepInProgress, "")
	if cleared, err := o.keys.ClearAll(); err != nil {
		update(4, StepFailed, err.Error())
	} else {
		result.KeysCleared = cleared
		if err := o.pool.ClearCache(); err != nil {
			o.logger.Warn("clearing privacy cache", zap.Error(err))
		}
		update(4, StepCompleted, fmt.Sprintf("%d keys cleared", cleared))
	}

	result.Steps = steps
	result.Success = true
	for _, st := range steps {
		if st.Status == StepFailed {
			result.Success = false
			break
		}
	}

	o.logger.Info("crackdown pipeline finished",
		zap.Bool("success", result.Success),
		zap.Uint64("sol_shielded", result.SolShielded),
		zap.Uint64("usdc_shielded", result.UsdcShielded),
		zap.Int("transactions_cleared", result.TransactionsCleared),
		zap.Int("keys_cleared", result.KeysCleared))
	return result
}

// shieldAsset deposits the wallet's balance of token into the pool,
// keeping headroom unshielded, and returns the amount shielded.
func (o *Orchestrator) shieldAsset(ctx context.Context, stepIdx int, token models.TokenType, headroom uint64, update func(int, StepStatus, string)) uint64 {
	update(stepIdx, StepInProgress, "")

	balance, err := o.funds.Balance(ctx, token)
	if err != nil {
		update(stepIdx, StepFailed, err.Error())
		return 0
	}
	var toShield uint64
	if balance > headroom {
		toShield = balance - headroom
	}
	if toShield == 0 {
		update(stepIdx, StepCompleted, fmt.Sprintf("no %s to shield", token))
		return 0
	}

	if _, err := o.pool.Deposit(ctx, token, toShield); err != nil {
		update(stepIdx, StepFailed, err.Error())
		return 0
	}
	update(stepIdx, StepCompleted, models.FormatAmount(toShield, token)+" shielded")
	return toShield
}

// Status reports what the pipeline would act on: public and shielded
// balances and whether there is anything worth shielding.
type Status struct {
	PublicSol    uint64 `json:"public_sol"`
	PublicUsdc   uint64 `json:"public_usdc"`
	ShieldedSol  uint64 `json:"shielded_sol"`
	ShieldedUsdc uint64 `json:"shielded_usdc"`
	CanActivate  bool   `json:"can_activate"`
}

// Status returns the current crackdown readiness report.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	sol, err := o.funds.Balance(ctx, models.TokenSOL)
	if err != nil {
		return Status{}, err
	}
	usdc, err := o.funds.Balance(ctx, models.TokenUSDC)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		PublicSol:   sol,
		PublicUsdc:  usdc,
		CanActivate: sol > MinBalanceForFees || usdc > 0,
	}
	if err := o.pool.Init(ctx); err == nil {
		if b, err := o.pool.Balance(ctx); err == nil {
			st.ShieldedSol = b.Sol
			st.ShieldedUsdc = b.Usdc
		}
	}
	return st, nil
}
