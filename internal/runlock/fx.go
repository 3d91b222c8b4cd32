package runlock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dunning/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("runlock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig uses Redis when REDIS_ADDR is set and falls back to an
// in-process lock otherwise.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	log = log.Named("runlock")
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, using in-process run lock")
		return NewMemoryLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return NewRedisLocker(client)
}
