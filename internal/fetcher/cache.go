package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"flight-deal-scanner/internal/domain"
)

// RedisCache keeps live search results in Redis.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps a redis client; ttl defaults to 30 minutes.
func NewRedisCache(client redis.Cmdable, ttl time.Duration, prefix string) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if prefix == "" {
		prefix = "flightcache"
	}
	return &RedisCache{client: client, ttl: ttl, prefix: prefix}
}

// Key derives the cache key for a query.
func (c *RedisCache) Key(q Query) string {
	fingerprint := strings.Join([]string{
		q.DepartureDate,
		q.ReturnDate,
		strconv.Itoa(q.Adults),
		strconv.Itoa(q.Children),
		strconv.Itoa(q.Infants),
		q.Cabin,
		q.Currency,
	}, "|")
	sum := sha1.Sum([]byte(fingerprint))
	return fmt.Sprintf("%s:%s_%s_%s", c.prefix, q.Route.Origin, q.Route.Destination, hex.EncodeToString(sum[:]))
}

// Get returns cached fares; a miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, q Query) ([]domain.FareSample, bool, error) {
	raw, err := c.client.Get(ctx, c.Key(q)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var fares []domain.FareSample
	if err := json.Unmarshal(raw, &fares); err != nil {
		return nil, false, fmt.Errorf("decode cached fares: %w", err)
	}
	return fares, len(fares) > 0, nil
}

// Set stores fares under the query key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, q Query, fares []domain.FareSample) error {
	body, err := json.Marshal(fares)
	if err != nil {
		return fmt.Errorf("encode fares: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(q), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
