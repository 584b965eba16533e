package session

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/R3E-Network/habit_ledger/internal/config"
	"github.com/R3E-Network/habit_ledger/internal/errors"
	"github.com/R3E-Network/habit_ledger/internal/projection"
	"github.com/R3E-Network/habit_ledger/internal/projection/postgres"
	redisstore "github.com/R3E-Network/habit_ledger/internal/projection/redis"
)

// OpenPersister connects the configured projection backend. The memory
// driver returns a nil persister. The returned close function is never nil.
func OpenPersister(ctx context.Context, cfg config.StorageConfig) (projection.Persister, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", config.StorageMemory:
		return nil, noop, nil

	case config.StoragePostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, noop, errors.Transport("connect postgres", err)
		}
		if err := postgres.Apply(ctx, db); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("apply migrations: %w", err)
		}
		return postgres.New(db), db.Close, nil

	case config.StorageRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, errors.Configuration(errors.ReasonInvalidConfiguration, fmt.Errorf("redis url: %w", err))
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, errors.Transport("connect redis", err)
		}
		return redisstore.New(client, cfg.RedisPrefix), client.Close, nil
	}
	return nil, noop, errors.Configurationf(errors.ReasonInvalidConfiguration, "unknown storage driver %q", cfg.Driver)
}
