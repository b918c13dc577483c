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

	"github.com/larder-scm/larder-scm/internal/app"
	"github.com/larder-scm/larder-scm/internal/auth"
	"github.com/larder-scm/larder-scm/internal/catalog"
	"github.com/larder-scm/larder-scm/internal/consumption"
	"github.com/larder-scm/larder-scm/internal/itemrequests"
	"github.com/larder-scm/larder-scm/internal/mail"
	"github.com/larder-scm/larder-scm/internal/platform/cache"
	"github.com/larder-scm/larder-scm/internal/platform/db"
	"github.com/larder-scm/larder-scm/internal/requests"
	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
	"github.com/larder-scm/larder-scm/internal/supplierorders"
	"github.com/larder-scm/larder-scm/internal/users"
	"github.com/larder-scm/larder-scm/jobs"
)

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

	sessionManager := shared.NewSessionManager(redisClient, "larder_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()
	mailQueue := mail.NewQueue(asynqClient, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	catalogService := catalog.NewService(catalog.NewRepository(dbpool))
	catalogHandler := catalog.NewHandler(logger, catalogService)

	stockService := stock.NewService(stock.NewRepository(dbpool))
	stockHandler := stock.NewHandler(logger, stockService)

	requestsService := requests.NewService(requests.NewRepository(dbpool))
	requestsHandler := requests.NewHandler(logger, requestsService)

	orderService := supplierorders.NewService(supplierorders.NewRepository(dbpool), mailQueue, logger, cfg.AppBaseURL)
	orderHandler := supplierorders.NewHandler(logger, orderService)

	itemRequestService := itemrequests.NewService(itemrequests.NewRepository(dbpool), mailQueue, logger)
	itemRequestHandler := itemrequests.NewHandler(logger, itemRequestService)

	draftStore := consumption.NewDraftStore(redisClient, cfg.ConsumptionDraftTTL)
	consumptionService := consumption.NewService(consumption.NewRepository(dbpool), requestsService, draftStore, logger)
	consumptionHandler := consumption.NewHandler(logger, consumptionService)

	usersService := users.NewService(users.NewRepository(dbpool))
	usersHandler := users.NewHandler(logger, usersService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		SessionManager:       sessionManager,
		CSRFManager:          csrfManager,
		AuthService:          authService,
		AuthHandler:          authHandler,
		CatalogHandler:       catalogHandler,
		StockHandler:         stockHandler,
		RequestsHandler:      requestsHandler,
		SupplierOrderHandler: orderHandler,
		ItemRequestHandler:   itemRequestHandler,
		ConsumptionHandler:   consumptionHandler,
		UsersHandler:         usersHandler,
		JobHandler:           jobHandler,
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
