package gateway

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/rentgw/internal/config"
	"github.com/vyrodovalexey/rentgw/internal/observability"
	"github.com/vyrodovalexey/rentgw/internal/ratelimit/store"
)

// OpenStore opens the configured counter store.
func OpenStore(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
	metrics *store.Metrics,
) (store.Store, error) {
	switch cfg.RateLimit.Store.Type {
	case config.StoreMemory:
		return store.NewMemoryStore(cfg.RateLimit.Store.CleanupInterval.Duration()), nil

	case config.StoreRedis:
		redisCfg := cfg.ToRedisConfig()
		s, err := store.NewRedisStore(ctx, redisCfg,
			store.WithRedisLogger(logger),
			store.WithRedisMetrics(metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisCfg.Address, err)
		}
		logger.Info("rate limit store connected",
			observability.String("type", config.StoreRedis),
			observability.String("address", redisCfg.Address),
		)
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.RateLimit.Store.Type)
	}
}
