// Command server runs the price aggregation engine behind its HTTP API,
// with the staleness sweeper scheduled in-process.
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
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"grocery-price/internal/api"
	"grocery-price/internal/catalog"
	"grocery-price/internal/config"
	"grocery-price/internal/crawlqueue"
	"grocery-price/internal/ingest"
	"grocery-price/internal/logger"
	"grocery-price/internal/pricing"
	"grocery-price/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	arbiter := pricing.NewArbiter(pricing.Policy{UserOverrideTTL: cfg.UserOverrideTTL}, log)
	ledger := pricing.NewLedger(st, arbiter, log)
	aggregator := pricing.NewAggregator(st, log)
	cat := catalog.New(st, log)

	queueCfg := crawlqueue.DefaultConfig()
	queueCfg.LeaseWindow = cfg.LeaseWindow
	queueCfg.MaxFailures = cfg.MaxCrawlFailures
	queueCfg.RetryBackoff = cfg.CrawlRetryBackoff
	queue := crawlqueue.New(st, queueCfg, log)

	var limiter *rate.Limiter
	if cfg.IngestRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.IngestRatePerSec), 1)
	}
	pipeline := ingest.NewPipeline(cat, ledger, aggregator, queue, limiter, log)

	sweeper := crawlqueue.NewSweeper(st, queue, cfg.StaleAfter, cfg.SweepLimit, log)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.NewHandlers(st, pipeline, ledger, aggregator, queue, log), cfg.CORSOrigins)

	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("backend", cfg.StoreBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreBackend == "memory" {
		return store.NewMemory(), nil
	}
	return store.NewSQLite(cfg.DataDir)
}
