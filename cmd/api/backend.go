package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/storefront-checkout/internal/catalog"
	"github.com/example/storefront-checkout/internal/config"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
	"github.com/rs/zerolog"
)

type backend struct {
	store   store.Store
	catalog catalog.Lookup
	close   func()
}

// openBackend connects the configured inventory and order store. The
// product catalog is only available alongside Postgres.
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return &backend{store: store.NewMemoryStore(), close: func() {}}, nil

	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.RunMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info().Msg("connected to PostgreSQL, schema up to date")
		return &backend{
			store:   store.NewPostgresStore(db),
			catalog: catalog.NewPostgresCatalog(db),
			close:   func() { db.Close() },
		}, nil

	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		logger.Info().
			Str("region", cfg.AWSRegion).
			Str("inventory_table", cfg.DynamoInventoryTable).
			Str("orders_table", cfg.DynamoOrdersTable).
			Msg("using DynamoDB")
		return &backend{
			store: store.NewDynamoStore(client, cfg.DynamoInventoryTable, cfg.DynamoOrdersTable),
			close: func() {},
		}, nil

	case config.BackendRedis:
		client, err := store.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		return &backend{
			store: store.NewRedisStore(client),
			close: func() { client.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
