// Package handlers exposes the wallet core over a local HTTP control
// surface.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fabrknt/fabcash/pkg/crackdown"
	"github.com/fabrknt/fabcash/pkg/ephemeral"
	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/payment"
	"github.com/fabrknt/fabcash/pkg/pending"
	"github.com/fabrknt/fabcash/pkg/qr"
	"github.com/fabrknt/fabcash/pkg/wallet"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WalletHandler holds the wallet core's dependencies and serves the
// control API.
type WalletHandler struct {
	Wallet    *wallet.Wallet
	Builder   *wallet.Builder
	Store     *pending.Store
	Processor *pending.Processor
	Keys      *ephemeral.Manager
	Ledger    ledger.Client
	Crackdown *crackdown.Orchestrator
	Logger    *zap.Logger
}

// Routes mounts the API on a chi router.
func (h *WalletHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/balance", h.GetBalance)
	r.Post("/transactions", h.SendTransaction)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Delete("/transactions", h.ClearTerminal)
	r.Post("/transactions/process", h.ProcessTransactions)
	r.Post("/requests", h.CreatePaymentRequest)
	r.Post("/crackdown", h.ActivateCrackdown)
	r.Get("/crackdown/status", h.CrackdownStatus)
	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Health reports process liveness and network reachability.
func (h *WalletHandler) Health(w http.ResponseWriter, r *http.Request) {
	online := h.Ledger.Health(r.Context()) == nil
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": online,
	})
}

// GetBalance returns the wallet's public base-asset balance.
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Ledger.GetBalance(r.Context(), h.Wallet.Address())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to fetch balance: %v", err), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"address":   h.Wallet.Address(),
		"balance":   balance,
		"formatted": models.FormatAmount(balance, models.TokenSOL),
	})
}

// SendTransaction builds, signs and queues a transfer. Broadcasting
// happens asynchronously via the processor.
func (h *WalletHandler) SendTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Amount    uint64 `json:"amount"`
		Token     string `json:"token"`
		Memo      string `json:"memo,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	token, err := models.ParseToken(req.Token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.Builder.Build(r.Context(), h.Wallet, req.Recipient, req.Amount, token, req.Memo)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount),
			errors.Is(err, wallet.ErrUnsupportedToken),
			errors.Is(err, wallet.ErrInvalidAddress):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, wallet.ErrNetworkUnavailable):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, fmt.Sprintf("Failed to build transaction: %v", err), http.StatusInternalServerError)
		}
		return
	}

	queued, err := h.Store.Add(*tx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to queue transaction: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, queued)
}

// ListTransactions returns the full queue, newest first.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Store.List())
}

// GetTransaction returns one queued transaction by id.
func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx := h.Store.Get(id)
	if tx == nil {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// ClearTerminal removes all terminal records.
func (h *WalletHandler) ClearTerminal(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.Store.ClearTerminal()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to clear transactions: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// ProcessTransactions runs one broadcast pass immediately.
func (h *WalletHandler) ProcessTransactions(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Processor.ProcessPending(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Processing pass failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// CreatePaymentRequest issues a fresh ephemeral receive key and returns
// the payment request plus its visual-code encoding.
func (h *WalletHandler) CreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount            uint64 `json:"amount,omitempty"`
		Token             string `json:"token,omitempty"`
		ExpirationMinutes int    `json:"expiration_minutes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var token models.TokenType
	if req.Token != "" {
		var err error
		if token, err = models.ParseToken(req.Token); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	expiration := time.Duration(req.ExpirationMinutes) * time.Minute
	key, err := h.Keys.Generate(expiration)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to generate receive key: %v", err), http.StatusInternalServerError)
		return
	}

	paymentReq := payment.NewRequest(payment.Params{
		RecipientAddress: key.PublicAddress,
		EphemeralID:      key.ID,
		Amount:           req.Amount,
		Token:            token,
		Expiration:       expiration,
	})
	code, err := qr.Encode(paymentReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode request: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"request": paymentReq,
		"qr":      code,
	})
}

// ActivateCrackdown runs the emergency shield pipeline synchronously.
func (h *WalletHandler) ActivateCrackdown(w http.ResponseWriter, r *http.Request) {
	// Detach from the request context: an aborted request must not
	// interrupt trace clearing.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result := h.Crackdown.Activate(ctx, func(step crackdown.Step, _ []crackdown.Step) {
		h.Logger.Info("crackdown progress",
			zap.String("step", step.Name),
			zap.String("status", string(step.Status)),
			zap.String("details", step.Details))
	})
	respondJSON(w, http.StatusOK, result)
}

// CrackdownStatus reports balances and activation readiness.
func (h *WalletHandler) CrackdownStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Crackdown.Status(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read status: %v", err), http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
