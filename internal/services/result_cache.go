package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

const cacheBreakerName = "redis-result-cache"

// Consecutive Redis failures that open the breaker.
const cacheBreakerTrip = 5

// ResultCache stores serialized query results in Redis. Keys embed the catalog
// version, so a rebuild makes older entries unreachable and they age out by TTL.
//
// Redis calls go through a circuit breaker. While it is open every lookup is a
// miss and writes are skipped, so an outage costs one timeout per half-open trial instead
// of one per request.
type ResultCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	ttl     time.Duration
	metrics *Metrics
	logger  *logrus.Logger
}

// NewResultCache creates a cache. A nil client disables caching.
func NewResultCache(client *redis.Client, ttl time.Duration, metrics *Metrics, logger *logrus.Logger) *ResultCache {
	c := &ResultCache{
		client:  client,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cacheBreakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cacheBreakerTrip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Result cache circuit breaker changed state")
		},
	})

	return c
}

// Key builds a cache key scoped to one index snapshot. Replicas share Redis, so
// the snapshot must be globally unique rather than a per-process counter.
func (c *ResultCache) Key(kind string, snapshot string, parts ...interface{}) string {
	key := fmt.Sprintf("hybridrec:%s:%s", kind, snapshot)
	for _, p := range parts {
		key += fmt.Sprintf(":%v", p)
	}
	return key
}

// Get decodes the cached value at key into dest and reports whether it was found.
// Redis failures are logged and reported as a miss.
func (c *ResultCache) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		switch {
		case isBreakerRejection(err):
			c.observe("bypassed")
			return false
		case !errors.Is(err, redis.Nil):
			c.logger.WithError(err).WithField("key", key).Warn("Result cache read failed")
		}
		c.observe("miss")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cache entry")
		c.observe("miss")
		return false
	}

	c.observe("hit")
	return true
}

// Set stores value at key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, key string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to encode cache entry")
		return
	}

	_, err = c.breaker.Execute(func() ([]byte, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil && !isBreakerRejection(err) {
		c.logger.WithError(err).WithField("key", key).Warn("Result cache write failed")
	}
}

// BreakerState reports the circuit breaker state for health reporting.
func (c *ResultCache) BreakerState() gobreaker.State {
	if c == nil || c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

func (c *ResultCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
