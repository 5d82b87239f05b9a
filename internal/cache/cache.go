// Package cache implements the advisory resolution cache in front of
// the link store: dedup-by-destination, object snapshot, redirect
// target and visitor membership regions, all in Redis. Every failure
// here degrades to a miss; the store stays authoritative.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/observability"
)

const (
	dedupPrefix    = "dedup:"
	objectPrefix   = "obj:"
	redirectPrefix = "redirect:"
	visitorPrefix  = "visitors:"
	attemptPrefix  = "attempts:"
)

// Options configure TTLs and the per-operation timeout.
type Options struct {
	// TTL bounds the dedup and object regions.
	TTL time.Duration
	// OpTimeout bounds each Redis call; a timeout counts as a miss.
	OpTimeout time.Duration
	// DefaultRedirectTTL applies to redirect entries of links without
	// an expiry of their own.
	DefaultRedirectTTL time.Duration
	// VisitorSetTTL bounds the per-link visitor membership set.
	VisitorSetTTL time.Duration
}

// ResolutionCache wraps the Redis client with a circuit breaker so a
// struggling cache turns into fast misses instead of stalled redirects.
type ResolutionCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a resolution cache. metrics may be nil.
func New(client *redis.Client, opts Options, logger *slog.Logger, metrics *observability.Metrics) *ResolutionCache {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "resolution-cache",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &ResolutionCache{
		client:  client,
		breaker: breaker,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// DedupKey returns the content fingerprint a destination URL is
// deduplicated under.
func DedupKey(normalizedURL string) string {
	sum := md5.Sum([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// GetDedup looks up the canonical code already assigned to a
// destination URL.
func (c *ResolutionCache) GetDedup(ctx context.Context, normalizedURL string) (string, bool) {
	code, ok := c.get(ctx, dedupPrefix+DedupKey(normalizedURL))
	c.observe("dedup", ok)
	return code, ok
}

// SetDedup records the canonical code for a destination URL.
func (c *ResolutionCache) SetDedup(ctx context.Context, normalizedURL, code string) {
	c.set(ctx, dedupPrefix+DedupKey(normalizedURL), code, c.opts.TTL)
}

// GetObject returns the cached link snapshot for a code or alias.
func (c *ResolutionCache) GetObject(ctx context.Context, key string) (*model.ShortLink, bool) {
	raw, ok := c.get(ctx, objectPrefix+lower(key))
	c.observe("object", ok)
	if !ok {
		return nil, false
	}
	var link model.ShortLink
	if err := json.Unmarshal([]byte(raw), &link); err != nil {
		c.logger.Warn("discarding undecodable cached link",
			slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	return &link, true
}

// SetObject caches the link snapshot under its code and, when present,
// its alias.
func (c *ResolutionCache) SetObject(ctx context.Context, link *model.ShortLink) {
	data, err := json.Marshal(link)
	if err != nil {
		c.logger.Warn("failed to serialize link for cache",
			slog.String("code", link.Code), slog.String("error", err.Error()))
		return
	}
	c.set(ctx, objectPrefix+lower(link.Code), string(data), c.opts.TTL)
	if link.Alias != nil {
		c.set(ctx, objectPrefix+lower(*link.Alias), string(data), c.opts.TTL)
	}
}

// GetRedirect returns the cached destination URL for a code or alias.
func (c *ResolutionCache) GetRedirect(ctx context.Context, key string) (string, bool) {
	dest, ok := c.get(ctx, redirectPrefix+lower(key))
	c.observe("redirect", ok)
	return dest, ok
}

// SetRedirect caches the destination under the link's code and alias.
// TTL is the remaining time to expiry, or the configured default for
// links that never expire; already-expired links are not cached.
func (c *ResolutionCache) SetRedirect(ctx context.Context, link *model.ShortLink) {
	ttl := c.opts.DefaultRedirectTTL
	if link.ExpiresAt != nil {
		ttl = time.Until(*link.ExpiresAt)
		if ttl <= 0 {
			return
		}
	}
	c.set(ctx, redirectPrefix+lower(link.Code), link.DestinationURL, ttl)
	if link.Alias != nil {
		c.set(ctx, redirectPrefix+lower(*link.Alias), link.DestinationURL, ttl)
	}
}

// Evict drops the object and redirect entries for the given keys.
// Old keys are always evicted before new entries are written, so a
// reader never sees a stale entry under a retired alias.
func (c *ResolutionCache) Evict(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		c.del(ctx, objectPrefix+lower(key), redirectPrefix+lower(key))
	}
}

// EvictDedup drops the dedup fingerprint of a destination URL.
func (c *ResolutionCache) EvictDedup(ctx context.Context, normalizedURL string) {
	c.del(ctx, dedupPrefix+DedupKey(normalizedURL))
}

// EvictLink drops every region associated with a link: object and
// redirect entries for code and alias, the dedup fingerprint for its
// destination, the visitor set and the password attempt counter.
func (c *ResolutionCache) EvictLink(ctx context.Context, link *model.ShortLink) {
	keys := []string{
		objectPrefix + lower(link.Code),
		redirectPrefix + lower(link.Code),
		dedupPrefix + DedupKey(link.DestinationURL),
		visitorPrefix + lower(link.Code),
		attemptPrefix + lower(link.Code),
	}
	if link.Alias != nil {
		keys = append(keys,
			objectPrefix+lower(*link.Alias),
			redirectPrefix+lower(*link.Alias))
	}
	c.del(ctx, keys...)
}

// AddVisitor records a hashed visitor fingerprint for a link and
// reports whether it was unseen. Cache trouble reports false: the
// unique-visitor counter must stay monotonic, so overcounting on a
// flaky cache is worse than missing a visit.
func (c *ResolutionCache) AddVisitor(ctx context.Context, code, fingerprint string) bool {
	key := visitorPrefix + lower(code)
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		added, err := c.client.SAdd(ctx, key, fingerprint).Result()
		if err != nil {
			return nil, err
		}
		if added == 1 {
			c.client.Expire(ctx, key, c.opts.VisitorSetTTL)
		}
		return added == 1, nil
	})
	if err != nil {
		c.logger.Warn("visitor membership check failed",
			slog.String("code", code), slog.String("error", err.Error()))
		return false
	}
	return result.(bool)
}

// IncrementAttempts bumps the failed-password counter for a link and
// returns the count within the current window. The window TTL starts
// with the first failure. Cache trouble reports 1 so a broken cache
// never locks anyone out.
func (c *ResolutionCache) IncrementAttempts(ctx context.Context, code string, window time.Duration) int64 {
	key := attemptPrefix + lower(code)
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		n, err := c.client.Incr(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			c.client.Expire(ctx, key, window)
		}
		return n, nil
	})
	if err != nil {
		c.logger.Warn("password attempt counter unavailable",
			slog.String("code", code), slog.String("error", err.Error()))
		return 1
	}
	return result.(int64)
}

// Attempts returns the current failed-password count for a link.
func (c *ResolutionCache) Attempts(ctx context.Context, code string) int64 {
	raw, ok := c.get(ctx, attemptPrefix+lower(code))
	if !ok {
		return 0
	}
	var n int64
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return 0
		}
		n = n*10 + int64(raw[i]-'0')
	}
	return n
}

// Ping reports cache connectivity for health checks.
func (c *ResolutionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type lookup struct {
	value string
	found bool
}

func (c *ResolutionCache) get(ctx context.Context, key string) (string, bool) {
	// A miss is resolved inside the breaker call so it never counts
	// as a failure.
	result, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		value, err := c.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return lookup{}, nil
		}
		if err != nil {
			return nil, err
		}
		return lookup{value: value, found: true}, nil
	})
	if err != nil {
		c.logger.Debug("cache read failed, treating as miss",
			slog.String("key", key), slog.String("error", err.Error()))
		return "", false
	}
	l := result.(lookup)
	return l.value, l.found
}

func (c *ResolutionCache) set(ctx context.Context, key, value string, ttl time.Duration) {
	_, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		return nil, c.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		c.logger.Warn("cache write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (c *ResolutionCache) del(ctx context.Context, keys ...string) {
	_, err := c.execute(ctx, func(ctx context.Context) (any, error) {
		return nil, c.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		c.logger.Warn("cache eviction failed",
			slog.String("keys", strings.Join(keys, ",")), slog.String("error", err.Error()))
	}
}

func (c *ResolutionCache) execute(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	return c.breaker.Execute(func() (any, error) {
		return op(ctx)
	})
}

func (c *ResolutionCache) observe(region string, hit bool) {
	if c.metrics == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.metrics.CacheLookups.WithLabelValues(region, outcome).Inc()
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
