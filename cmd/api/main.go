package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"atelier/internal/adapter/repo"
	"atelier/internal/credit"
	"atelier/internal/http/handlers"
	"atelier/internal/http/httpapi"
	"atelier/internal/infra"
	"atelier/internal/infra/geoip"
	"atelier/internal/middleware"
	"atelier/internal/notify"
	"atelier/internal/pricing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	prices := pricing.Default()
	if cfg.PricingPath != "" {
		prices, err = pricing.Load(cfg.PricingPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PricingPath).Msg("api: pricing table failed to load")
		}
	}

	var publisher notify.Publisher
	if cfg.RedisURL != "" {
		redisPub, err := notify.NewRedisPublisher(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: redis connection failed")
		}
		defer redisPub.Close()
		publisher = redisPub
	}
	var alerts *notify.AlertDispatcher
	if cfg.AlertWebhookURL != "" {
		alerts = notify.NewAlertDispatcher(&notify.WebhookSender{URL: cfg.AlertWebhookURL}, 0, logger)
	}
	notifier := notify.NewNotifier(publisher, alerts, logger)

	app := handlers.NewApp(
		repo.NewWorkItemRepository(runner),
		repo.NewAgentRunRepository(runner),
		credit.NewService(repo.NewCreditStore(runner), logger),
		prices,
		notifier,
		logger,
	)

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip database unavailable")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   lookup,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
