package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mazz-seven/shopify-tools/internal/httpapi"
	"github.com/mazz-seven/shopify-tools/internal/metrics"
	"github.com/mazz-seven/shopify-tools/internal/webhook"
	"github.com/mazz-seven/shopify-tools/pkg/config"
	"github.com/mazz-seven/shopify-tools/pkg/db"
	"github.com/mazz-seven/shopify-tools/pkg/sessionstore"
	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.AppEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store shopify.SessionStore
		guard webhook.ReplayGuard = webhook.NewMemoryReplayGuard()
	)
	switch cfg.SessionStore {
	case "memory":
		store = sessionstore.NewMemory()
	case "redis":
		cli, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis open")
		}
		defer func() { _ = cli.Close() }()
		store = sessionstore.NewRedis(cli)
		guard = webhook.NewRedisReplayGuard(cli)
	case "postgres":
		if cfg.RunMigrations {
			if err := db.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("migrate")
			}
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres open")
		}
		defer pool.Close()
		store = sessionstore.NewPostgres(pool)
	case "mongo":
		cli, err := db.OpenMongo(ctx, cfg.MongoURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("mongo open")
		}
		defer func() { _ = cli.Disconnect(context.Background()) }()
		store = sessionstore.NewMongo(cli.Database("shopify_app"))
	}

	app := &shopify.App{
		ClientID:     cfg.Shopify.APIKey,
		ClientSecret: cfg.Shopify.APISecret,
		APIVersion:   cfg.Shopify.APIVersion,
		AppURL:       cfg.AppURL,
		Scopes:       cfg.Shopify.Scopes,
		Embedded:     cfg.Shopify.Embedded,
		OnlineTokens: cfg.Shopify.OnlineTokens,
		ClockDrift:   cfg.Shopify.ClockDrift,
		ShopDomains:  cfg.Shopify.ShopDomains,
		Logger:       logger,
	}

	desired := cfg.DesiredWebhooks()
	reconcile := func(ctx context.Context, s *shopify.Session) error {
		rc := shopify.Reconciler{Desired: desired, Logger: logger}
		created, err := rc.Reconcile(ctx, shopify.NewClient(app, s))
		metrics.WebhookSubscriptionsCreated.Add(float64(len(created)))
		return err
	}

	auth := &shopify.Auth{
		App:   app,
		Store: store,
		Exchanger: shopify.Exchanger{
			App:  app,
			Post: metrics.InstrumentPost(shopify.DefaultPost(app)),
		},
		DesiredWebhooks: desired,
		PostAuthHook:    reconcile,
		InstallHook: func(ctx context.Context, s *shopify.Session) error {
			logger.Info().Str("shop", s.Shop).Str("scope", s.Scope).Msg("app installed")
			return reconcile(ctx, s)
		},
		UpdateHook: func(ctx context.Context, s *shopify.Session) error {
			logger.Info().Str("shop", s.Shop).Str("scope", s.Scope).Msg("authorization updated")
			return reconcile(ctx, s)
		},
	}

	handlers := webhook.NewRegistry()
	handlers.Handle(webhook.TopicOrdersPaid, webhook.OrdersPaidHandler(logger))
	handlers.Handle(webhook.TopicAppUninstalled, webhook.AppUninstalledHandler(store, logger))

	router := httpapi.NewRouter(httpapi.Dependencies{
		Cfg:      cfg,
		Logger:   logger,
		App:      app,
		Auth:     auth,
		Guard:    guard,
		Handlers: handlers,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.SessionStore).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http serve")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
}
