package refreshtokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps a record readable for a while after it expires, so
// a late refresh attempt is answered with "expired" rather than "invalid".
const DefaultRetention = 24 * time.Hour

// RedisRepository stores each record as a JSON string with a TTL, plus a
// per-user set of token IDs and a sorted set of IDs scored by expiry.
//
// Keys:
//
//	<prefix>:rt:<id>       record
//	<prefix>:user:<userID> set of ids
//	<prefix>:expiry        zset id -> expiry (unix microseconds)
type RedisRepository struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "tokenkeeper"
	}
	return &RedisRepository{rdb: rdb, prefix: prefix, retention: DefaultRetention, now: time.Now}
}

func (r *RedisRepository) tokenKey(id string) string   { return r.prefix + ":rt:" + id }
func (r *RedisRepository) userKey(userID string) string { return r.prefix + ":user:" + userID }
func (r *RedisRepository) expiryKey() string            { return r.prefix + ":expiry" }

func (r *RedisRepository) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(r.now()) + r.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (r *RedisRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	rec := *token
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode refresh token: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, r.tokenKey(rec.ID), data, r.ttl(rec.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: refresh token %s", common.ErrStorageConflict, rec.ID)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.userKey(rec.UserID), rec.ID)
		pipe.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(rec.ExpiresAt.UnixMicro()), Member: rec.ID})
		return nil
	})
	if err != nil {
		r.rdb.Del(ctx, r.tokenKey(rec.ID))
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) FindByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	data, err := r.rdb.Get(ctx, r.tokenKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}

	t := &models.RefreshToken{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode refresh token %s: %w", id, err)
	}
	return t, nil
}

// DeleteByID relies on DEL's reply to decide which of several concurrent
// callers actually removed the record.
func (r *RedisRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	t, err := r.FindByID(ctx, id)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return false, err
	}

	var del *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.tokenKey(id))
		pipe.ZRem(ctx, r.expiryKey(), id)
		if t != nil {
			pipe.SRem(ctx, r.userKey(t.UserID), id)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *RedisRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	ids, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, 0, len(ids))
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			dels = append(dels, pipe.Del(ctx, r.tokenKey(id)))
			pipe.ZRem(ctx, r.expiryKey(), id)
			pipe.SRem(ctx, r.userKey(userID), id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	var n int64
	for _, d := range dels {
		n += d.Val()
	}
	return n, nil
}

func (r *RedisRepository) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	owners := make(map[string]string, len(ids))
	for _, id := range ids {
		rec, err := r.FindByID(ctx, id)
		if err == nil {
			owners[id] = rec.UserID
		}
	}

	rems := make([]*redis.IntCmd, 0, len(ids))
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			rems = append(rems, pipe.ZRem(ctx, r.expiryKey(), id))
			pipe.Del(ctx, r.tokenKey(id))
			if uid, ok := owners[id]; ok {
				pipe.SRem(ctx, r.userKey(uid), id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	var n int64
	for _, c := range rems {
		n += c.Val()
	}
	return n, nil
}
