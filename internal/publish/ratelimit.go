package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Per-platform ceilings on publishes within a rolling 24 hour window.
// TikTok and Instagram enforce hard API quotas; the YouTube and Twitter
// values stay safely under their points-based limits.
var platformCeilings = map[Platform]int{
	PlatformYouTube:   20,
	PlatformTikTok:    10,
	PlatformInstagram: 25,
	PlatformTwitter:   50,
}

// Ceiling returns the rolling 24h publish ceiling for a platform.
func Ceiling(platform Platform) int {
	return platformCeilings[platform]
}

const rateWindow = 24 * time.Hour

// RateLimiter answers whether another publish to a platform is allowed
// right now, and records successful publishes into the window.
type RateLimiter interface {
	Allow(ctx context.Context, platform Platform) (bool, error)
	Record(ctx context.Context, platform Platform) error
}

// RedisRateLimiter keeps one sorted set per platform, scored by publish
// time in unix milliseconds. Entries older than the window are trimmed
// on every check, giving a true rolling window rather than a resetting
// bucket.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func rateKey(platform Platform) string {
	return fmt.Sprintf("publish:window:%s", platform)
}

// Allow trims expired entries and compares the remaining count against
// the platform's ceiling. It does not reserve a slot; Record is called
// only after the platform accepted the upload, so failed attempts never
// consume budget.
func (l *RedisRateLimiter) Allow(ctx context.Context, platform Platform) (bool, error) {
	ceiling, ok := platformCeilings[platform]
	if !ok {
		return false, fmt.Errorf("unknown platform %q", platform)
	}

	key := rateKey(platform)
	windowStart := time.Now().Add(-rateWindow).UnixMilli()

	if err := l.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart)).Err(); err != nil {
		return false, fmt.Errorf("failed to trim rate window: %w", err)
	}

	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count rate window: %w", err)
	}

	return count < int64(ceiling), nil
}

// Record appends one publish to the platform's window.
func (l *RedisRateLimiter) Record(ctx context.Context, platform Platform) error {
	key := rateKey(platform)
	now := time.Now()

	if err := l.client.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to record publish: %w", err)
	}

	// The set only needs to outlive its newest entry.
	if err := l.client.Expire(ctx, key, rateWindow).Err(); err != nil {
		return fmt.Errorf("failed to set rate window expiry: %w", err)
	}
	return nil
}
