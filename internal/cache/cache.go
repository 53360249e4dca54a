// Package cache keeps recipe rating aggregates in Redis for cheap reads.
// A nil *RatingCache is valid and behaves as a permanently empty cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/recipeshare/internal/domain"
)

const ratingKeyPrefix = "recipeshare:rating:"

// RatingCache is a write-through cache of domain.RatingAggregate values.
type RatingCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewRatingCache parses a redis:// URL and verifies the server answers.
func NewRatingCache(ctx context.Context, redisURL string, ttl time.Duration, logger logrus.FieldLogger) (*RatingCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := NewWithClient(redis.NewClient(opts), ttl, logger)
	if err := c.client.Ping(ctx).Err(); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *RatingCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RatingCache{client: client, ttl: ttl, logger: logger.WithField("component", "rating-cache")}
}

func ratingKey(recipeID string) string {
	return ratingKeyPrefix + recipeID
}

// Get returns the cached aggregate and whether it was present. Errors are
// logged and reported as a miss.
func (c *RatingCache) Get(ctx context.Context, recipeID string) (domain.RatingAggregate, bool) {
	if c == nil {
		return domain.RatingAggregate{}, false
	}
	payload, err := c.client.Get(ctx, ratingKey(recipeID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("recipe_id", recipeID).Warn("rating cache read failed")
		}
		return domain.RatingAggregate{}, false
	}
	var agg domain.RatingAggregate
	if err := json.Unmarshal(payload, &agg); err != nil {
		c.logger.WithError(err).WithField("recipe_id", recipeID).Warn("rating cache entry corrupt")
		return domain.RatingAggregate{}, false
	}
	return agg, true
}

// Set stores an aggregate.
func (c *RatingCache) Set(ctx context.Context, recipeID string, agg domain.RatingAggregate) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, ratingKey(recipeID), payload, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("recipe_id", recipeID).Warn("rating cache write failed")
	}
}

// Fill stores an aggregate read from the store only when no entry exists, so
// a value written by AggregateUpdated in the meantime is never replaced by an
// older read.
func (c *RatingCache) Fill(ctx context.Context, recipeID string, agg domain.RatingAggregate) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(agg)
	if err != nil {
		return
	}
	if err := c.client.SetNX(ctx, ratingKey(recipeID), payload, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("recipe_id", recipeID).Warn("rating cache fill failed")
	}
}

// AggregateUpdated refreshes the entry after the aggregator stored a new value.
func (c *RatingCache) AggregateUpdated(ctx context.Context, recipeID string, agg domain.RatingAggregate) {
	c.Set(ctx, recipeID, agg)
}

// Invalidate drops the entry for a recipe.
func (c *RatingCache) Invalidate(ctx context.Context, recipeID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, ratingKey(recipeID)).Err(); err != nil {
		c.logger.WithError(err).WithField("recipe_id", recipeID).Warn("rating cache invalidate failed")
	}
}

// HealthCheck pings redis.
func (c *RatingCache) HealthCheck(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RatingCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
