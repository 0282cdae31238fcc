package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goevery/crawlcast/internal/source"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// buildSource creates the configured data source wrapped in a circuit breaker.
// The returned closer releases the source's client.
func buildSource(ctx context.Context, logger *zap.Logger, settings Settings) (source.DataSource, func(context.Context) error, error) {
	var dataSource source.DataSource
	closer := func(context.Context) error { return nil }

	switch settings.SourceKind {
	case "http":
		if settings.SourceURL == "" {
			return nil, nil, errors.New("SOURCE_URL is required for the http source")
		}

		dataSource = source.NewHTTPSource(
			&http.Client{Timeout: settings.FetchTimeout},
			source.HTTPSourceOptions{
				URL:          settings.SourceURL,
				Selector:     settings.SourceSelector,
				Prefix:       settings.SourcePrefix,
				EmptyPayload: settings.SourceEmptyPayload,
				UserAgent:    settings.SourceUserAgent,
				MaxBodyBytes: int64(settings.SourceMaxBodyBytes),
			},
		)
	case "redis":
		redisOptions, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}

		client := redis.NewClient(redisOptions)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()

			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}

		dataSource = source.NewRedisSource(client, settings.SourceRedisKey)
		closer = func(context.Context) error { return client.Close() }
	case "mongodb":
		client, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongodb: %w", err)
		}

		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)

			return nil, nil, fmt.Errorf("ping mongodb: %w", err)
		}

		dataSource = source.NewMongoSource(client, settings.MongoDBDatabase, settings.MongoDBCollection, settings.SourceField)
		closer = client.Disconnect
	default:
		return nil, nil, fmt.Errorf("unknown SOURCE_KIND %q", settings.SourceKind)
	}

	logger.Info("data source configured",
		zap.String("kind", settings.SourceKind))

	breaker := source.NewBreakerSource(
		logger,
		settings.SourceKind,
		dataSource,
		uint32(settings.BreakerFailures),
		settings.BreakerOpenTimeout,
	)

	return breaker, closer, nil
}
