package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedDatabaseService serves GetImageByID from redis when possible.
// Cache failures are logged and never fail a request; the database stays the source of truth.
type CachedDatabaseService struct {
	DatabaseService
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

func NewCachedDatabaseService(inner DatabaseService, client *redis.Client, ttl time.Duration, keyPrefix string) *CachedDatabaseService {
	return &CachedDatabaseService{
		DatabaseService: inner,
		client:          client,
		ttl:             ttl,
		keyPrefix:       keyPrefix,
	}
}

func (c *CachedDatabaseService) cacheKey(id int64) string {
	return fmt.Sprintf("%simage:%d", c.keyPrefix, id)
}

// versionKey counts the updates of image id. A fill only lands if the count did not move
// between the database read and the cache write.
func (c *CachedDatabaseService) versionKey(id int64) string {
	return fmt.Sprintf("%simage:%d:version", c.keyPrefix, id)
}

func (c *CachedDatabaseService) GetImageByID(ctx context.Context, id int64) (*Image, error) {
	key := c.cacheKey(id)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var image Image
		jsonErr := json.Unmarshal(cached, &image)
		if jsonErr == nil {
			slog.Debug("image cache hit", "image_id", id)
			return &image, nil
		}
		slog.Warn("discarding unreadable cache entry", "image_id", id, "error", jsonErr)
	case errors.Is(err, redis.Nil):
		slog.Debug("image cache miss", "image_id", id)
	default:
		slog.Warn("image cache read failed", "image_id", id, "error", err)
	}

	version, versionErr := c.readVersion(ctx, c.client, id)

	image, err := c.DatabaseService.GetImageByID(ctx, id)
	if err != nil || image == nil {
		return image, err
	}

	if versionErr != nil {
		slog.Warn("image cache version read failed; skipping fill", "image_id", id, "error", versionErr)
		return image, nil
	}
	if err := c.fill(ctx, image, version); err != nil {
		slog.Warn("image cache write failed", "image_id", id, "error", err)
	}
	return image, nil
}

// fill stores image unless an update bumped its version after version was read.
func (c *CachedDatabaseService) fill(ctx context.Context, image *Image, version int64) error {
	encoded, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("failed to encode image for cache: %w", err)
	}

	versionKey := c.versionKey(image.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.readVersion(ctx, tx, image.ID)
		if err != nil {
			return err
		}
		if current != version {
			slog.Debug("image changed during cache fill; skipping", "image_id", image.ID)
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.cacheKey(image.ID), encoded, c.ttl)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, redis.TxFailedErr) {
		slog.Debug("image changed during cache fill; skipping", "image_id", image.ID)
		return nil
	}
	return err
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *CachedDatabaseService) readVersion(ctx context.Context, client getter, id int64) (int64, error) {
	version, err := client.Get(ctx, c.versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// UpdateImage writes through to the database, then bumps the version and drops the cached copy.
func (c *CachedDatabaseService) UpdateImage(ctx context.Context, id int64, contentType string, data []byte, originalName *string) error {
	if err := c.DatabaseService.UpdateImage(ctx, id, contentType, data, originalName); err != nil {
		return err
	}

	versionKey := c.versionKey(id)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		if c.ttl > 0 {
			// outlives every entry filled against an older version
			pipe.Expire(ctx, versionKey, 2*c.ttl)
		}
		pipe.Del(ctx, c.cacheKey(id))
		return nil
	})
	if err != nil {
		slog.Warn("image cache invalidation failed", "image_id", id, "error", err)
	}
	return nil
}

func (c *CachedDatabaseService) Close() error {
	dbErr := c.DatabaseService.Close()
	cacheErr := c.client.Close()
	return errors.Join(dbErr, cacheErr)
}
