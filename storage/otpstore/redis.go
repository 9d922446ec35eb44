// Package otpstore keeps pending verification codes in Redis.
package otpstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/otp"
)

// expiredGrace keeps codes a little past their expiry so that Verify reports them as expired.
const expiredGrace = time.Minute

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ otp.Store = (*RedisStore)(nil)

func NewRedisClient(conf core.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "otp:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(email string) string { return s.prefix + email }

func (s *RedisStore) Save(ctx context.Context, code otp.Code) error {
	data, err := json.Marshal(code)
	if err != nil {
		return errors.Wrap(err, "encoding otp")
	}
	ttl := time.Until(code.ExpiresAt) + expiredGrace
	if ttl <= 0 {
		ttl = expiredGrace
	}
	return errors.Wrap(s.rdb.Set(ctx, s.key(code.Email), data, ttl).Err(), "saving otp")
}

func (s *RedisStore) Get(ctx context.Context, email string) (otp.Code, error) {
	data, err := s.rdb.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return otp.Code{}, otp.ErrNotFound
	}
	if err != nil {
		return otp.Code{}, errors.Wrap(err, "getting otp")
	}
	var code otp.Code
	if err := json.Unmarshal(data, &code); err != nil {
		return otp.Code{}, errors.Wrap(err, "decoding otp")
	}
	return code, nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	return errors.Wrap(s.rdb.Del(ctx, s.key(email)).Err(), "deleting otp")
}
