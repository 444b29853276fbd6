package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	x402pay "github.com/vitwit/x402pay"
	"github.com/vitwit/x402pay/clients"
	"github.com/vitwit/x402pay/config"
	"github.com/vitwit/x402pay/ledger"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/server"
)

const sweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.NewZapLogger(cfg.Engine.LogLevel)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store ledger.Store
	if cfg.DBSource != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer dbPool.Close()

		pg := ledger.NewPostgresStore(dbPool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("Unable to migrate database: %v", err)
		}
		store = pg
	} else {
		zl.Warn("DB_SOURCE not set, using in-memory ledger", nil)
		store = ledger.NewMemoryStore()
	}

	client, err := clients.NewSolanaClient(cfg.Engine.Network, cfg.RPCURL(), cfg.Engine.PollInterval)
	if err != nil {
		log.Fatalf("Unable to create Solana client: %v", err)
	}

	opts := []x402pay.Option{x402pay.WithLogger(zl)}
	if cfg.Engine.EnableMetrics {
		opts = append(opts, x402pay.WithMetrics(metrics.NewPrometheusRecorder(nil)))
	}

	engine, err := x402pay.New(cfg.Engine, client, store, opts...)
	if err != nil {
		log.Fatalf("Unable to create payment engine: %v", err)
	}
	defer engine.Close()

	go sweep(ctx, engine, zl)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewHandler(engine, zl).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ConfirmTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Error("server shutdown failed", map[string]any{"error": err})
		}
	}()

	zl.Info("server starting", map[string]any{
		"port":    cfg.Port,
		"network": cfg.Engine.Network.String(),
		"env":     cfg.Env,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

// sweep periodically looks for failed quotes whose payment landed anyway.
func sweep(ctx context.Context, engine *x402pay.X402, log logger.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts, err := engine.ReconcileFailed(ctx, x402pay.DefaultSweepLimit)
			if err != nil {
				log.Warn("reconciliation sweep failed", map[string]any{"error": err})
				continue
			}
			if len(alerts) > 0 {
				log.Error("reconciliation sweep found paid quotes that were not credited", map[string]any{
					"count": len(alerts),
				})
			}
		}
	}
}
