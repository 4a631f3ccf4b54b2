package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-chat/internal/api/http"
	"github.com/spec-kit/support-chat/internal/api/http/handlers"
	"github.com/spec-kit/support-chat/internal/api/ws"
	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/observability"
	"github.com/spec-kit/support-chat/internal/persistence"
	"github.com/spec-kit/support-chat/internal/realtime"
	"github.com/spec-kit/support-chat/internal/repository"
	"github.com/spec-kit/support-chat/internal/repository/memstore"
	"github.com/spec-kit/support-chat/internal/service"
	"github.com/spec-kit/support-chat/internal/worker"
)

func main() {
	flags := pflag.NewFlagSet("support-chat", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	envFile := flags.String("env-file", "", "path to a .env file loaded before the environment")
	migrate := flags.Bool("migrate", false, "apply embedded migrations regardless of POSTGRES_RUN_MIGRATIONS")
	_ = flags.Parse(os.Args[1:])

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("failed to load env file: %v", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *migrate {
		cfg.Postgres.RunMigrations = true
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	var store repository.Store
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		store = repository.NewPostgresStore(pg.PoolHandle())
	} else {
		store = memstore.New().Store()
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)

	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:    store.Users,
		Revocations: auth.NewRevocationStore(redis.Client),
		Logger:      logger,
	})
	if err := authService.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:               store,
		Dispatcher:          dispatcher,
		Logger:              logger,
		StoreTimeout:        cfg.Lifecycle.StoreTimeout(),
		InactivityThreshold: cfg.Inactivity.Threshold(),
	})

	broadcaster := realtime.NewBroadcaster(logger, metrics)
	registry := realtime.NewRegistry(broadcaster, cfg.Realtime.SendQueueSize, logger, metrics)

	worker.StartSubscribers(dispatcher, logger,
		realtime.NewBridge(broadcaster, logger),
		service.NewNotificationService(logger),
	)

	if cfg.Inactivity.Enabled {
		monitor := worker.NewInactivityMonitor(cfg.Inactivity, store.Tickets, ticketService, logger, metrics)
		go monitor.Run(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		ErrorHandler:          httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{
		Timeout:     cfg.App.RequestTimeout(),
		CORSOrigins: cfg.CORS.Origins(),
	})
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Users:   handlers.NewUsersHandler(authService),
		Tickets: handlers.NewTicketsHandler(ticketService),
		Socket: ws.NewHandler(ws.Dependencies{
			Authenticator: authService,
			Tickets:       ticketService,
			Registry:      registry,
			Broadcaster:   broadcaster,
			Config:        cfg.Realtime,
			Logger:        logger,
		}),
		AuthMiddleware: auth.NewAuthMiddleware(authService),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("fiber listen: %w", err)
	case sig := <-shutdownSignal():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	cancel()
	registry.Close()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}

func shutdownSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
