package main

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prizepick/auth"
	"prizepick/codes"
	"prizepick/config"
	"prizepick/game"
	httpserver "prizepick/http"
	"prizepick/layout"
	"prizepick/logger"
	"prizepick/store"
	"prizepick/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting prizepick server...")
	logger.Infof("Configuration loaded - Server port: %s, store: %s", cfg.ServerPort, cfg.StoreDriver)
	if cfg.GeneratedTokenSecret {
		logger.Warnf("TOKEN_SECRET not set, sessions will not survive a restart")
	}
	if cfg.GeneratedAdminKey {
		logger.Warnf("ADMIN_KEY not set, generated admin key: %s", cfg.AdminKey)
	}

	// Initialize storage
	db, err := openStore(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()
	logger.Info("Store initialized successfully")

	// Initialize services
	hasher := codes.Hasher{Cost: cfg.BcryptCost}
	engine := game.NewEngine(db, layout.NewRandomShuffler(), game.WithStoreTimeout(cfg.StoreTimeout))
	lobby := game.NewLobby(engine, hasher)
	tokens := auth.NewTokenManager([]byte(cfg.TokenSecret), cfg.TokenTTL)
	authService := auth.NewService(db, lobby, hasher, tokens, cfg.StoreTimeout)
	lobbyFeed := ws.NewLobbyManager(lobby)
	wsManager := ws.NewManager(engine, lobbyFeed)

	// Initialize HTTP server
	server := httpserver.NewServer(httpserver.Deps{
		Auth:          authService,
		AdminGate:     auth.NewAdminGate(cfg.AdminKey),
		Lobby:         lobby,
		Engine:        engine,
		Games:         wsManager,
		LobbyFeed:     lobbyFeed,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	defer server.Close()
	srv := server.GetHTTPServer(cfg.ServerPort)

	// Start server in a goroutine
	go func() {
		logger.Infof("Server listening on http://localhost%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.DBPath)
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
