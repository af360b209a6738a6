// Command parceld serves the shipment ledger over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ParcelLedger/internal/api/handler"
	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"github.com/jmerrifield20/ParcelLedger/internal/config"
	"github.com/jmerrifield20/ParcelLedger/internal/identity"
	"github.com/jmerrifield20/ParcelLedger/internal/shipment"
	"github.com/jmerrifield20/ParcelLedger/internal/store"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("parceld exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(config.New(), os.Getenv("PARCEL_CONFIG"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Ledger ───────────────────────────────────────────────────────────────
	backend, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	adapter := chain.NewAdapter(backend, cfg.Ledger.Key, logger)
	ledger, err := adapter.LoadOrNew(ctx, shipment.Genesis{Message: cfg.Ledger.GenesisMessage})
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	svc := shipment.NewService(ledger, logger)
	svc.SetAppendRecorder(handler.RecordLedgerAppend)

	entries, root := svc.Stats()
	handler.SetShipmentsGauge(float64(entries - 1))
	if err := svc.Verify(ctx); err != nil {
		// Served anyway so operators can inspect the damage via /ledger/verify.
		logger.Error("ledger failed verification at startup", zap.Error(err))
	}
	logger.Info("ledger loaded",
		zap.String("key", adapter.Key()),
		zap.Int("entries", entries),
		zap.String("root", root),
	)

	// ── Operator tokens ──────────────────────────────────────────────────────
	var tokens *identity.TokenIssuer
	if cfg.Server.JWTSecret != "" {
		tokens, err = identity.NewTokenIssuer([]byte(cfg.Server.JWTSecret), "parceld", cfg.Server.TokenTTL)
		if err != nil {
			return fmt.Errorf("operator tokens: %w", err)
		}
	} else {
		logger.Warn("server.jwt_secret not set; write routes are open")
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())
	if len(cfg.Server.CORSOrigins) > 0 {
		router.Use(handler.CORS(cfg.Server.CORSOrigins))
	}
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(1 << 20))
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewShipmentHandler(svc, tokens, logger).Register(v1)
	handler.NewLedgerHandler(svc, logger).Register(v1)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("parceld HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down parceld...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("parceld stopped")
	return nil
}
