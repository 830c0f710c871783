// Command shieldd is a demo privacy-pool backend for local development.
// It exposes the same HTTP API the wallet's shield client consumes,
// backed by an in-memory ledger.
package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/middleware"
	"github.com/fabrknt/fabcash/pkg/models"
	"github.com/fabrknt/fabcash/pkg/shield"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type server struct {
	pool   *shield.FallbackLedger
	logger *zap.Logger
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	s := &server{
		pool:   shield.NewFallbackLedger(keystore.NewMemStore()),
		logger: logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Get("/api/health", s.health)
	router.Post("/api/shield", s.deposit)
	router.Post("/api/withdraw", s.withdraw)
	router.Get("/api/balance", s.balance)

	port := os.Getenv("SHIELD_PORT")
	if port == "" {
		port = "3000"
	}
	logger.Info("starting shield backend", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  models.TokenType `json:"token"`
		Amount uint64           `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount == 0 {
		respondError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	sig, err := s.pool.Deposit(r.Context(), req.Token, req.Amount)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

func (s *server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token     models.TokenType `json:"token"`
		Amount    uint64           `json:"amount"`
		Recipient string           `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Recipient == "" {
		respondError(w, http.StatusBadRequest, "recipient is required")
		return
	}
	result, err := s.pool.Withdraw(r.Context(), req.Token, req.Amount, req.Recipient)
	if err != nil {
		if errors.Is(err, shield.ErrInsufficientShielded) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *server) balance(w http.ResponseWriter, r *http.Request) {
	b, err := s.pool.Balance(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, b)
}
