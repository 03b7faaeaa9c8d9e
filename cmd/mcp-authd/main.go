// Command mcp-authd runs the OAuth 2.1 authorization server together with
// the protected MCP resource endpoint. Configuration comes from the
// environment; a local .env file is loaded when present.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	authd "github.com/giantswarm/mcp-authd"
	"github.com/giantswarm/mcp-authd/mcpserver"
	"github.com/giantswarm/mcp-authd/providers/mock"
	"github.com/giantswarm/mcp-authd/storage"
	"github.com/giantswarm/mcp-authd/storage/memory"
	"github.com/giantswarm/mcp-authd/storage/valkey"
)

const (
	serverName    = "mcp-authd"
	serverVersion = "1.0.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is required")
	}

	serverURL := envOr("SERVER_URL", "http://localhost:8080")
	listenAddr := envOr("LISTEN_ADDR", ":8080")

	store, cleanup, err := newStore(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	identity := mock.New()

	handler, err := authd.NewHandler(authd.Config{
		ServerURL:     serverURL,
		SigningSecret: []byte(secret),
		Store:         store,
		Identity:      identity,
		RateLimit: authd.RateLimitConfig{
			Enabled:           envBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: envInt("RATE_LIMIT_RPS", 10),
			Burst:             envInt("RATE_LIMIT_BURST", 20),
		},
		TrustProxy:        envBool("TRUST_PROXY", false),
		TrustedProxyCount: envInt("TRUSTED_PROXY_COUNT", 1),
		EnableAudit:       envBool("AUDIT_ENABLED", true),
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer handler.Close()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	mcp := mcpserver.New(handler.Server().Issuer(), serverName, serverVersion, logger, handler.Instrumentation())
	mux.Handle("/mcp", mcp)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", listenAddr, "server_url", serverURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// newStore selects the storage backend from STORAGE_BACKEND.
func newStore(logger *slog.Logger) (storage.Store, func(), error) {
	switch backend := envOr("STORAGE_BACKEND", "memory"); backend {
	case "memory":
		store := memory.New()
		store.SetLogger(logger)
		return store, store.Stop, nil

	case "valkey":
		cfg := valkey.Config{
			Address:   envOr("VALKEY_ADDR", "localhost:6379"),
			Password:  os.Getenv("VALKEY_PASSWORD"),
			DB:        envInt("VALKEY_DB", 0),
			KeyPrefix: os.Getenv("VALKEY_KEY_PREFIX"),
			Logger:    logger,
		}
		if envBool("VALKEY_TLS", false) {
			cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, errors.New("unknown STORAGE_BACKEND: " + backend)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch envOr("LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
