// Filesystem API Server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - Read/write/edit/delete endpoints confined to allowed roots
// - Two-phase delete confirmation (file, memory or postgres store)
// - Filename and content search
// - SSE real-time change events
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/imrandevofficial/openapi-servers/internal/api"
	"github.com/imrandevofficial/openapi-servers/internal/config"
	"github.com/imrandevofficial/openapi-servers/internal/confirm"
	"github.com/imrandevofficial/openapi-servers/internal/events"
	"github.com/imrandevofficial/openapi-servers/internal/logging"
	"github.com/imrandevofficial/openapi-servers/internal/metrics"
	"github.com/imrandevofficial/openapi-servers/internal/roots"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Filesystem API Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Validate the allowed directory roots
	guard, err := roots.New(cfg.AllowedDirectories)
	if err != nil {
		logging.Fatal("allowed directories invalid", zap.Error(err))
	}
	logging.Info("allowed directories validated", zap.Strings("roots", guard.Roots()))

	// Initialize the confirmation store
	ttl := time.Duration(cfg.ConfirmTTLSeconds) * time.Second
	var store confirm.Store
	switch cfg.ConfirmBackend {
	case "memory":
		store = confirm.NewMemoryStore(ttl)
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		store, err = confirm.NewPostgresStore(ctx, cfg.DatabaseURL, ttl)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
	default:
		store, err = confirm.NewFileStore(cfg.ConfirmFile, ttl)
		if err != nil {
			logging.Fatal("confirmation file init failed", zap.Error(err))
		}
	}
	defer store.Close()
	logging.Info("confirmation store initialized",
		zap.String("backend", cfg.ConfirmBackend),
		zap.Duration("ttl", ttl))

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	// Create API server
	srv := api.NewServer(guard, store, broadcaster, cfg)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic purge of expired confirmations
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.Purge(ctx); err != nil {
					logging.Error("confirmation purge failed", zap.Error(err))
				} else if n > 0 {
					logging.Info("purged expired confirmations", zap.Int("count", n))
				}
				if n, err := store.Len(ctx); err == nil {
					metrics.SetPendingConfirmations(n)
				}
			}
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
