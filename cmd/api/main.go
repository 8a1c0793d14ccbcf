package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/storefront-checkout/internal/api"
	"github.com/example/storefront-checkout/internal/auth"
	"github.com/example/storefront-checkout/internal/checkout"
	"github.com/example/storefront-checkout/internal/config"
	"github.com/example/storefront-checkout/internal/infrastructure/kafka"
	"github.com/example/storefront-checkout/internal/logging"
	"github.com/example/storefront-checkout/internal/query"
)

func main() {
	logger := logging.New("api")
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logger = logging.New("api")

	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("backend", cfg.StoreBackend).
		Strs("kafka_brokers", cfg.Brokers()).
		Str("kafka_topic", cfg.KafkaTopic).
		Int("max_attempts", cfg.CheckoutMaxAttempts).
		Dur("timeout", cfg.CheckoutTimeout).
		Msg("starting storefront checkout")

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	defer b.close()

	opts := []checkout.Option{
		checkout.WithMaxAttempts(cfg.CheckoutMaxAttempts),
		checkout.WithTimeout(cfg.CheckoutTimeout),
		checkout.WithLogger(logging.New("checkout")),
	}
	if b.catalog != nil {
		opts = append(opts, checkout.WithCatalog(b.catalog))
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers, cfg.KafkaTopic, logging.New("kafka"))
		defer producer.Close()
		opts = append(opts, checkout.WithPublisher(producer))
	}
	coordinator := checkout.NewCoordinator(b.store, opts...)

	jwtService := auth.NewJWTService(cfg.JWTSecret, 15*time.Minute)
	handlers := api.NewHandlers(coordinator, query.NewHandler(b.store, logging.New("query")), b.store, logger)
	router := api.NewRouter(api.RouterConfig{
		Handlers: handlers,
		Verifier: jwtService,
		Logger:   logging.New("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	// in-flight checkouts get their full timeout to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CheckoutTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
