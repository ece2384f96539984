package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aptospilot/aptospilot/internal/aptos"
	"github.com/aptospilot/aptospilot/internal/assistant"
	"github.com/aptospilot/aptospilot/internal/auth"
	"github.com/aptospilot/aptospilot/internal/config"
	"github.com/aptospilot/aptospilot/internal/crypto"
	"github.com/aptospilot/aptospilot/internal/idp"
	"github.com/aptospilot/aptospilot/internal/keyless"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/aptospilot/aptospilot/internal/mcptools"
	"github.com/aptospilot/aptospilot/internal/server"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/aptospilot/aptospilot/internal/telemetry"
)

const (
	mcpPath          = "/mcp"
	limiterSweepTick = time.Minute
	shutdownTimeout  = 30 * time.Second
)

// AptosPilot is the assembled application: HTTP surface, storage and the
// background sweepers.
type AptosPilot struct {
	config      config.Config
	httpServer  *server.HTTPServer
	storage     storage.Store
	cleanups    []*storage.CleanupManager
	shutdownTel func(context.Context) error
}

// NewAptosPilot builds every dependency from cfg. Nothing starts until Run.
func NewAptosPilot(ctx context.Context, cfg config.Config, version string) (*AptosPilot, error) {
	log.LogInfoWithFields("aptospilot", "Building application", map[string]any{
		"baseURL":        cfg.Server.BaseURL,
		"storage":        cfg.Storage.Kind,
		"provider":       cfg.Auth.Provider,
		"defaultNetwork": cfg.DefaultNetwork,
	})

	shutdownTel, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	store, err := setupStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	networks, err := setupNetworks(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup networks: %w", err)
	}

	provider, err := idp.NewProvider(ctx, cfg.Auth, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to setup identity provider: %w", err)
	}

	manager := auth.NewManager(auth.Options{
		Provider:       provider,
		Deriver:        keyless.NewService(cfg.Keyless.PepperURL, cfg.Keyless.ProverURL, &http.Client{Timeout: cfg.Keyless.Timeout}),
		Balance:        balanceFunc(networks),
		EphemeralTTL:   cfg.Auth.EphemeralTTL,
		AllowedDomains: cfg.Auth.AllowedDomains,
	})

	signingKey, err := crypto.DeriveKey([]byte(cfg.Server.CookieSecret), "profile-cookie")
	if err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	csrfKey, err := crypto.DeriveKey([]byte(cfg.Server.CookieSecret), "csrf")
	if err != nil {
		return nil, fmt.Errorf("failed to derive CSRF key: %w", err)
	}

	trustedProxies, err := cfg.Server.TrustedPrefixes()
	if err != nil {
		return nil, err
	}

	chat, limiter := setupAssistant(cfg.Assistant)

	handler := server.NewRouter(server.RouterConfig{
		Store:          store,
		Signer:         crypto.NewTokenSigner(signingKey, cfg.Server.ProfileTTL),
		CSRF:           crypto.NewCSRFProtection(csrfKey, cfg.Server.ProfileTTL),
		ProfileTTL:     cfg.Server.ProfileTTL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: trustedProxies,
		Auth:           server.NewAuthHandlers(manager, networks, "/"),
		Chain:          server.NewChainHandlers(networks),
		AI:             server.NewAIHandlers(chat, limiter),
		MCP:            mcptools.New(networks, version, mcpPath).Handler(),
		MCPPath:        mcpPath,
	})

	cleanups := []*storage.CleanupManager{
		storage.NewCleanupManager("ephemeral-keys", cfg.Auth.SweepInterval, auth.NewSweeper(store).Sweep),
		storage.NewCleanupManager("rate-limiter", limiterSweepTick, limiter.Sweep),
	}

	return &AptosPilot{
		config:      cfg,
		httpServer:  server.NewHTTPServer(handler, cfg.Server.Addr),
		storage:     store,
		cleanups:    cleanups,
		shutdownTel: shutdownTel,
	}, nil
}

// Run serves until a signal or server error, then shuts down gracefully.
func (a *AptosPilot) Run() error {
	log.LogInfoWithFields("aptospilot", "Starting application", map[string]any{
		"addr": a.config.Server.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, cm := range a.cleanups {
		cm.Start(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("aptospilot", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("aptospilot", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("aptospilot", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	serverErr := a.httpServer.Stop(shutdownCtx)
	if serverErr != nil {
		log.LogErrorWithFields("aptospilot", "HTTP server shutdown error", map[string]any{
			"error": serverErr.Error(),
		})
	}

	for _, cm := range a.cleanups {
		cm.Stop()
	}
	if err := a.storage.Close(); err != nil {
		log.LogWarnWithFields("aptospilot", "Closing storage failed", map[string]any{"error": err.Error()})
	}
	if err := a.shutdownTel(shutdownCtx); err != nil {
		log.LogWarnWithFields("aptospilot", "Flushing traces failed", map[string]any{"error": err.Error()})
	}

	log.LogInfoWithFields("aptospilot", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return serverErr
}

// setupStorage opens the configured profile store. Persistent backends
// encrypt values with a key derived from storage.encryptionKey.
func setupStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Kind == config.StorageMemory {
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
		return storage.NewMemoryStorage(), nil
	}

	key, err := crypto.DeriveKey([]byte(cfg.EncryptionKey), "storage")
	if err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	switch cfg.Kind {
	case config.StorageSQLite:
		log.LogInfoWithFields("storage", "Using SQLite storage", map[string]any{"path": cfg.Path})
		sqlStorage, err := storage.NewSQLStorage(cfg.Path, encryptor)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite storage: %w", err)
		}
		return sqlStorage, nil
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		firestoreStorage, err := storage.NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, encryptor)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return firestoreStorage, nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}

func setupNetworks(cfg config.Config) (*aptos.Networks, error) {
	nodeURLs := make(map[string]string, len(cfg.Networks))
	for name, n := range cfg.Networks {
		nodeURLs[name] = n.NodeURL
	}
	return aptos.NewNetworks(nodeURLs, cfg.DefaultNetwork, &http.Client{Timeout: 10 * time.Second})
}

func balanceFunc(networks *aptos.Networks) auth.BalanceFunc {
	return func(ctx context.Context, network, address string) (uint64, error) {
		client, err := networks.Get(network)
		if err != nil {
			return 0, err
		}
		return client.Balance(ctx, address)
	}
}

// setupAssistant leaves the chat service unconfigured when no API key is
// set, so requests fail with a clear error rather than at startup.
func setupAssistant(cfg config.AssistantConfig) (*assistant.Service, *assistant.Limiter) {
	var gen assistant.Generator
	if cfg.APIKey != "" {
		gen = assistant.NewGeminiClient(cfg.BaseURL, cfg.Model, string(cfg.APIKey), &http.Client{Timeout: 30 * time.Second})
	}
	return assistant.NewService(gen, cfg.MaxMessageLength), assistant.NewLimiter(cfg.RequestsPerMinute, time.Minute)
}
