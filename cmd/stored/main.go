package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cipherstore/config"
	"cipherstore/internal/crypto"
	"cipherstore/internal/delivery"
	"cipherstore/internal/devices"
	"cipherstore/internal/expiry"
	"cipherstore/internal/metrics"
	"cipherstore/internal/store"
	"cipherstore/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	mode := logger.DevelopmentMode
	if cfg.AppMode == "production" {
		mode = logger.ProductionMode
	}
	log := logger.New(mode)
	logger.SetGlobalLogger(log)

	st, err := store.Open(cfg.DBPath, cfg.AppMode != "production")
	if err != nil {
		log.Errorf("failed to open store: %v", err)
		return
	}
	defer st.Close()

	var sealer crypto.Sealer = crypto.NoopSealer{}
	if cfg.SealerKeyHex != "" {
		s, err := crypto.NewXChaChaSealerFromHex(cfg.SealerKeyHex)
		if err != nil {
			log.Errorf("invalid sealer key: %v", err)
			return
		}
		sealer = s
	}

	met := metrics.New()

	expiryEngine := expiry.NewEngine(st.Messages, st.Perf, log, met)
	expiryRunner := expiry.NewRunner(expiryEngine, cfg.ExpirySweepInterval)

	queueService := delivery.NewService(st.Queue, st.Messages, delivery.DefaultBackoff(), sealer, log, met).
		WithMaxRetries(cfg.QueueMaxRetries)
	registry := devices.NewRegistry(st.Devices, st.Audit, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	expiryRunner.Start(ctx)

	// The transport belongs to the sync orchestrator; until one attaches,
	// the daemon only runs the maintenance sweeps.
	go func() {
		ticker := time.NewTicker(cfg.QueueSweepInterval)
		defer ticker.Stop()
		maxAge := time.Duration(cfg.QueueMaxAgeDays) * 24 * time.Hour
		pruneAge := time.Duration(cfg.DevicePruneDays) * 24 * time.Hour
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := queueService.PurgeStale(ctx, maxAge); err != nil {
					log.Errorf("queue purge failed: %v", err)
				}
				if _, err := registry.PruneUntrusted(ctx, pruneAge); err != nil {
					log.Errorf("device prune failed: %v", err)
				}
				if upcoming, err := expiryEngine.Upcoming(ctx, cfg.ExpiryHorizon); err == nil && len(upcoming) > 0 {
					log.Infof("%d messages expire within %s", len(upcoming), cfg.ExpiryHorizon)
				}
			}
		}
	}()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: met.Handler()}
	go func() {
		log.Infof("metrics listening on %s", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Infof("shutting down")
}
