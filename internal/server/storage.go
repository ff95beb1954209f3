package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/config"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/repomanager"
	"github.com/redis/go-redis/v9"
)

// Storage holds the open database handles and the repository manager built
// on top of them.
type Storage struct {
	DB    *sql.DB
	Redis redis.UniversalClient
	Repos repomanager.RepositoryManager
}

// OpenStorage connects to PostgreSQL, applies migrations and, when the token
// store is redis, connects to Redis and routes refresh tokens there.
func OpenStorage(ctx context.Context, cfg *config.Config, log logging.Logger) (*Storage, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	st := &Storage{DB: db}

	var opts []repomanager.Option
	if cfg.TokenStore == config.StoreRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = db.Close()
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
		st.Redis = rdb
		opts = append(opts, repomanager.WithRefreshTokenStore(refreshtokens.NewRedisRepository(rdb, cfg.RedisPrefix)))
		log.Info(ctx, "refresh tokens stored in redis", "addr", cfg.RedisAddr)
	}

	st.Repos = repomanager.NewPostgresRepositoryManager(opts...)
	if err := st.Repos.RunMigrations(ctx, db); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	return st, nil
}

func (s *Storage) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}
