package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fabrknt/fabcash/pkg/broadcast"
	"github.com/fabrknt/fabcash/pkg/clock"
	"github.com/fabrknt/fabcash/pkg/crackdown"
	"github.com/fabrknt/fabcash/pkg/ephemeral"
	"github.com/fabrknt/fabcash/pkg/handlers"
	"github.com/fabrknt/fabcash/pkg/keystore"
	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/fabrknt/fabcash/pkg/middleware"
	"github.com/fabrknt/fabcash/pkg/pending"
	"github.com/fabrknt/fabcash/pkg/shield"
	"github.com/fabrknt/fabcash/pkg/wallet"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultProcessInterval = 30 * time.Second

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	dataDir := os.Getenv("FABCASH_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		logger.Fatal("creating data directory", zap.Error(err))
	}

	storeKey, err := loadStoreKey(dataDir)
	if err != nil {
		logger.Fatal("loading store key", zap.Error(err))
	}
	ks, err := keystore.OpenBolt(filepath.Join(dataDir, "fabcash.db"), storeKey)
	if err != nil {
		logger.Fatal("opening keystore", zap.Error(err))
	}
	defer ks.Close()

	rpcURL := os.Getenv("FABCASH_RPC_URL")
	if rpcURL == "" {
		logger.Fatal("FABCASH_RPC_URL environment variable not set")
	}
	lc := ledger.NewRPCClient(rpcURL)
	clk := clock.System{}

	w, err := wallet.LoadOrCreate(ks)
	if err != nil {
		logger.Fatal("loading wallet", zap.Error(err))
	}
	logger.Info("wallet ready", zap.String("address", w.Address()))

	store, err := pending.NewStore(ks, logger)
	if err != nil {
		logger.Fatal("loading pending transactions", zap.Error(err))
	}
	keys, err := ephemeral.NewManager(ks, clk, logger)
	if err != nil {
		logger.Fatal("loading ephemeral keys", zap.Error(err))
	}

	builder := wallet.NewBuilder(lc, clk, logger)
	engine := broadcast.NewEngine(lc, clk, logger)
	processor := pending.NewProcessor(store, engine, lc, clk, logger)

	shieldURL := os.Getenv("FABCASH_SHIELD_URL")
	if shieldURL == "" {
		shieldURL = "http://localhost:3000"
	}
	pool := shield.NewService(shield.NewHTTPClient(shieldURL), ks, logger)
	orchestrator := crackdown.NewOrchestrator(
		pool,
		crackdown.LedgerFunds{Ledger: lc, Address: w.Address()},
		store,
		keys,
		logger,
	)

	handler := &handlers.WalletHandler{
		Wallet:    w,
		Builder:   builder,
		Store:     store,
		Processor: processor,
		Keys:      keys,
		Ledger:    lc,
		Crackdown: orchestrator,
		Logger:    logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Mount("/", handler.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := defaultProcessInterval
	if v := os.Getenv("FABCASH_PROCESS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		} else {
			logger.Warn("invalid FABCASH_PROCESS_INTERVAL, using default", zap.String("value", v))
		}
	}
	go processor.Run(ctx, interval)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := keys.CleanupExpired(); err != nil {
					logger.Warn("cleaning up expired keys", zap.Error(err))
				}
			}
		}
	}()

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080" // Default port if not specified
	}
	server := &http.Server{Addr: ":" + port, Handler: router}

	go func() {
		logger.Info("starting server", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

// loadStoreKey resolves the at-rest encryption key: the
// FABCASH_STORE_KEY environment variable (base64) wins, otherwise a key
// file in the data directory is used, generated on first run.
func loadStoreKey(dataDir string) ([]byte, error) {
	if v := os.Getenv("FABCASH_STORE_KEY"); v != "" {
		return base64.StdEncoding.DecodeString(v)
	}

	keyPath := filepath.Join(dataDir, "store.key")
	if raw, err := os.ReadFile(keyPath); err == nil {
		return base64.StdEncoding.DecodeString(string(raw))
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := keystore.NewStoreKey()
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
