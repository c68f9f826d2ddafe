package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AnalysisKey identifies a cointegration request. Two requests with the same
// key over the same window produce the same report.
type AnalysisKey struct {
	Exchange  string
	Symbols   []string
	Window    int
	Lags      int
	Model     string
	Level     string
	LogPrices bool
}

// String renders the key in the form used inside Redis.
func (k AnalysisKey) String() string {
	scale := "raw"
	if k.LogPrices {
		scale = "log"
	}
	return strings.Join([]string{
		k.Exchange,
		strings.Join(k.Symbols, ","),
		"w" + strconv.Itoa(k.Window),
		"l" + strconv.Itoa(k.Lags),
		k.Model,
		strings.TrimSuffix(k.Level, "%"),
		scale,
	}, ":")
}

// AnalysisCacheEntry represents a cached report with metadata
type AnalysisCacheEntry struct {
	Report    *models.CointegrationReport `json:"report"`
	CachedAt  time.Time                   `json:"cached_at"`
	ExpiresAt time.Time                   `json:"expires_at"`
}

// AnalysisCacheStats tracks cache performance metrics
type AnalysisCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// RedisAnalysisCache stores cointegration reports in Redis.
type RedisAnalysisCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *logrus.Logger

	mu    sync.RWMutex
	stats AnalysisCacheStats
}

// NewRedisAnalysisCache creates a new Redis-based report cache
func NewRedisAnalysisCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisAnalysisCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisAnalysisCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "cointegration:",
		logger: logger,
	}
}

func (c *RedisAnalysisCache) record(f func(*AnalysisCacheStats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// Get retrieves a cached report. Redis and decoding failures count as misses.
func (c *RedisAnalysisCache) Get(ctx context.Context, key AnalysisKey) (*models.CointegrationReport, bool) {
	cacheKey := c.prefix + key.String()

	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record(func(s *AnalysisCacheStats) { s.Misses++ })
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", cacheKey).Warn("Redis error reading cointegration report")
		c.record(func(s *AnalysisCacheStats) { s.Misses++; s.Errors++ })
		return nil, false
	}

	var entry AnalysisCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Report == nil {
		c.logger.WithField("key", cacheKey).Warn("Discarding undecodable cached report")
		c.record(func(s *AnalysisCacheStats) { s.Misses++; s.Errors++ })
		return nil, false
	}

	c.record(func(s *AnalysisCacheStats) { s.Hits++ })
	return entry.Report, true
}

// Set stores a report with the cache TTL.
func (c *RedisAnalysisCache) Set(ctx context.Context, key AnalysisKey, report *models.CointegrationReport) error {
	cacheKey := c.prefix + key.String()

	now := time.Now()
	data, err := json.Marshal(AnalysisCacheEntry{
		Report:    report,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	})
	if err != nil {
		return fmt.Errorf("error serializing report for %s: %w", cacheKey, err)
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.record(func(s *AnalysisCacheStats) { s.Errors++ })
		return fmt.Errorf("redis error caching report for %s: %w", cacheKey, err)
	}

	c.record(func(s *AnalysisCacheStats) { s.Sets++ })
	c.logger.WithFields(logrus.Fields{"key": cacheKey, "ttl": c.ttl.String()}).Debug("Cached cointegration report")
	return nil
}

// GetStats returns current cache statistics
func (c *RedisAnalysisCache) GetStats() AnalysisCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// HitRate returns hits as a percentage of lookups.
func (s AnalysisCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// LogStats logs current cache performance statistics
func (c *RedisAnalysisCache) LogStats() {
	stats := c.GetStats()
	c.logger.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"errors":   stats.Errors,
		"hit_rate": fmt.Sprintf("%.2f%%", stats.HitRate()),
	}).Info("Analysis cache stats")
}

func (c *RedisAnalysisCache) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning cache keys: %w", err)
	}
	return keys, nil
}

// Clear removes all cached reports.
func (c *RedisAnalysisCache) Clear(ctx context.Context) (int, error) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("error clearing cache: %w", err)
	}

	c.logger.WithField("count", len(keys)).Info("Cleared analysis cache entries")
	return len(keys), nil
}

// CachedKeys returns the keys of all cached reports without the prefix.
func (c *RedisAnalysisCache) CachedKeys(ctx context.Context) ([]string, error) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, c.prefix))
	}
	return out, nil
}
