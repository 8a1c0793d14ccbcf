package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/storefront-checkout/internal/config"
	"github.com/example/storefront-checkout/internal/email"
	"github.com/example/storefront-checkout/internal/infrastructure/kafka"
	"github.com/example/storefront-checkout/internal/logging"
	"github.com/example/storefront-checkout/internal/notification"
	"github.com/rs/zerolog"
)

var errNoBrokers = errors.New("KAFKA_BROKERS is required")

func main() {
	logger := logging.New("notifier")
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logger = logging.New("notifier")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("notifier stopped")
	}
	logger.Info().Msg("shutting down")
}

// run consumes order events until ctx is done.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return errNoBrokers
	}

	logger.Info().
		Strs("kafka_brokers", brokers).
		Str("topic", cfg.KafkaTopic).
		Str("group", cfg.KafkaConsumerGroup).
		Str("smtp", cfg.SMTPHost+":"+cfg.SMTPPort).
		Str("from", cfg.SMTPFrom).
		Msg("starting email notifier")

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	handler := notification.NewHandler(emailSvc, logger)

	consumer := kafka.NewConsumer(brokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup, logging.New("kafka"))
	defer consumer.Close()

	if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
