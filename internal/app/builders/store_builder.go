// Package builders constructs the infrastructure pieces of the application
// from configuration.
package builders

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aatumaykin/jobrelay/internal/config"
	"github.com/aatumaykin/jobrelay/internal/logger"
	"github.com/aatumaykin/jobrelay/internal/stream"
)

// Infra holds the shared backends. Client is nil unless a component is
// configured to use Redis.
type Infra struct {
	Client *redis.Client
	Store  stream.Store
}

// Close releases the Redis connection, if any.
func (i *Infra) Close() error {
	if i.Client == nil {
		return nil
	}
	return i.Client.Close()
}

// BuildInfra connects to Redis when the stream store or the whitelist needs
// it and creates the stream store.
func BuildInfra(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	needsRedis := cfg.Stream.Store == config.StoreRedis ||
		(cfg.Validator.Enabled && cfg.Validator.Store == config.StoreRedis)
	if needsRedis {
		client, err := stream.NewRedisClient(ctx, stream.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Username:    cfg.Redis.Username,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout(),
		})
		if err != nil {
			return nil, err
		}
		infra.Client = client
		log.Info("connected to redis", logger.Field{Key: "addr", Value: cfg.Redis.Addr})
	}

	switch cfg.Stream.Store {
	case config.StoreRedis:
		infra.Store = stream.NewRedisStore(infra.Client)
	case config.StoreMemory:
		infra.Store = stream.NewMemoryStore()
		log.Warn("using in-memory stream store, events do not survive a restart")
	default:
		_ = infra.Close()
		return nil, fmt.Errorf("unsupported stream store: %s", cfg.Stream.Store)
	}
	return infra, nil
}
