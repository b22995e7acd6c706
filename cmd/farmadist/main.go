package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/farmadist/farmadist/internal/app"
	"github.com/farmadist/farmadist/internal/exchange"
	"github.com/farmadist/farmadist/internal/masterdata"
	"github.com/farmadist/farmadist/internal/platform/cache"
	"github.com/farmadist/farmadist/internal/platform/db"
	"github.com/farmadist/farmadist/internal/sequence"
	"github.com/farmadist/farmadist/internal/shared"
	"github.com/farmadist/farmadist/internal/stock"
	"github.com/farmadist/farmadist/jobs"
)

// providerResolver adapts the master data service to the consultation
// loader's lookup port.
type providerResolver struct {
	lookups *masterdata.Service
}

func (p providerResolver) ProviderName(ctx context.Context, code string) (string, error) {
	provider, err := p.lookups.Provider(ctx, code)
	if err != nil {
		return "", err
	}
	return provider.Name, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	lookupRepo := masterdata.NewRepository(dbpool)
	lookupCache := masterdata.NewCache(redisClient, cfg.LookupCacheTTL)
	lookupService := masterdata.NewService(lookupRepo, lookupCache)
	lookupHandler := masterdata.NewHandler(logger, lookupService)

	sequenceStore := sequence.NewStore(dbpool)

	stockRepo := stock.NewRepository(dbpool)
	stockService := stock.NewService(stockRepo)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	exchangeRepo := exchange.NewRepository(dbpool, cfg.DonorWarehouse)
	catalog := exchange.NewCatalog(exchangeRepo)
	saga := exchange.NewSaga(exchangeRepo, stockService, sequenceStore, jobClient, cfg.DonorWarehouse, logger)
	loader := exchange.NewConsultationLoader(exchangeRepo, providerResolver{lookups: lookupService}, logger)
	drafts := exchange.NewDraftStore()
	exchangeService := exchange.NewService(drafts, catalog, saga, exchangeRepo, sequenceStore, loader, auditLogger, logger)
	exchangeHandler := exchange.NewHandler(logger, exchangeService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		MasterDataHandler: lookupHandler,
		ExchangeHandler:   exchangeHandler,
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
