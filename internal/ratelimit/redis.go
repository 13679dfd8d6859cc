package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps Redis transport failures.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// The TTL is set on the first hit only (fixed window) and repaired if a
// previous call died between INCR and PEXPIRE.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

var blockScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'until')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'reason', ARGV[1], 'until', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return 1
`)

// RedisStore shares counters and blocks between instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewStore builds the store selected by RATE_LIMIT_STORE.
func NewStore(ctx context.Context, rl config.RateLimitConfig, rc config.RedisConfig, logger *slog.Logger) (Store, error) {
	if rl.Store != "redis" {
		logger.Info("using in-memory rate limit store")
		return NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logger.Info("using redis rate limit store", slog.String("addr", rc.Addr))
	return NewRedisStore(client, rc.KeyPrefix), nil
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) blockKey(address string) string {
	return s.key("block", address)
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected reply %v", ErrStoreUnavailable, res)
	}
	return int(res[0]), now.Add(time.Duration(res[1]) * time.Millisecond), nil
}

func (s *RedisStore) Count(ctx context.Context, key string, _ time.Time) (int, error) {
	n, err := s.client.Get(ctx, s.key(key)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Block(ctx context.Context, block models.BlockedAddress) error {
	err := blockScript.Run(ctx, s.client, []string{s.blockKey(block.Address)},
		block.Reason, block.Until.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Unblock(ctx context.Context, address string) (bool, error) {
	n, err := s.client.Del(ctx, s.blockKey(address)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Blocked(ctx context.Context, address string, now time.Time) (*models.BlockedAddress, error) {
	fields, err := s.client.HGetAll(ctx, s.blockKey(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	b, ok := parseBlock(address, fields)
	if !ok || !now.Before(b.Until) {
		return nil, nil
	}
	return &b, nil
}

func (s *RedisStore) ListBlocked(ctx context.Context, now time.Time) ([]models.BlockedAddress, error) {
	prefix := s.blockKey("")
	blocks := make([]models.BlockedAddress, 0)

	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		b, ok := parseBlock(strings.TrimPrefix(key, prefix), fields)
		if ok && now.Before(b.Until) {
			blocks = append(blocks, b)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Until.After(blocks[j].Until) })
	return blocks, nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseBlock(address string, fields map[string]string) (models.BlockedAddress, bool) {
	raw, ok := fields["until"]
	if !ok {
		return models.BlockedAddress{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return models.BlockedAddress{}, false
	}
	return models.BlockedAddress{
		Address: address,
		Reason:  fields["reason"],
		Until:   time.UnixMilli(ms),
	}, true
}
