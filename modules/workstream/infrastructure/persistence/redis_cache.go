package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
)

const defaultCacheTTL = 15 * time.Minute

// RedisPermissionCache is the shared-cache implementation of
// services.PermissionCache. Reads and writes are best effort: a Redis
// error on the read path is a miss and on the write path is logged and
// dropped, because resolution stays correct without the cache. Evict is
// the exception; it reports failure so the triggering mutation fails
// instead of leaving stale entries behind.
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

func NewRedisPermissionCache(client *redis.Client, logger *logrus.Logger) *RedisPermissionCache {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if logger != nil {
		entry = logger.WithField("component", "permission_cache")
	}
	return &RedisPermissionCache{
		client: client,
		ttl:    defaultCacheTTL,
		logger: entry,
	}
}

func resolutionCacheKey(workstreamID, userID uuid.UUID) string {
	return "perm:" + workstreamID.String() + ":" + userID.String()
}

func treeCacheKey(rootID uuid.UUID) string {
	return "tree:" + rootID.String()
}

// nodeIndexKey is a set of all cache keys derived from one node, so Evict
// can find them without scanning the keyspace.
func nodeIndexKey(nodeID uuid.UUID) string {
	return "node:" + nodeID.String() + ":keys"
}

// nodeEpochKey holds the node's eviction counter. It carries no TTL: an
// expired epoch would let a stale in-flight fill sneak past the version
// check.
func nodeEpochKey(nodeID uuid.UUID) string {
	return "node:" + nodeID.String() + ":epoch"
}

// Epoch returns the node's current eviction counter. A read failure counts
// as epoch 0; the fill path re-reads the key under WATCH, so a wrong value
// here can only drop a fill, never admit a stale one.
func (c *RedisPermissionCache) Epoch(ctx context.Context, nodeID uuid.UUID) uint64 {
	epoch, err := c.client.Get(ctx, nodeEpochKey(nodeID)).Uint64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("epoch read failed")
		}
		return 0
	}
	return epoch
}

func (c *RedisPermissionCache) GetResolution(ctx context.Context, workstreamID, userID uuid.UUID) (services.Resolution, bool) {
	raw, err := c.client.Get(ctx, resolutionCacheKey(workstreamID, userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("resolution cache read failed")
		}
		return services.Resolution{}, false
	}
	var res services.Resolution
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		c.logger.WithError(err).Warn("resolution cache entry corrupted")
		return services.Resolution{}, false
	}
	return res, true
}

func (c *RedisPermissionCache) SetResolution(ctx context.Context, workstreamID, userID uuid.UUID, res services.Resolution, epoch uint64) {
	payload, err := json.Marshal(res)
	if err != nil {
		c.logger.WithError(err).Warn("resolution cache encode failed")
		return
	}
	c.store(ctx, workstreamID, resolutionCacheKey(workstreamID, userID), payload, epoch)
}

func (c *RedisPermissionCache) GetTree(ctx context.Context, rootID uuid.UUID) ([]workstream.Workstream, bool) {
	raw, err := c.client.Get(ctx, treeCacheKey(rootID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("tree cache read failed")
		}
		return nil, false
	}
	var nodes []workstream.Workstream
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		c.logger.WithError(err).Warn("tree cache entry corrupted")
		return nil, false
	}
	return nodes, true
}

func (c *RedisPermissionCache) SetTree(ctx context.Context, rootID uuid.UUID, nodes []workstream.Workstream, epoch uint64) {
	payload, err := json.Marshal(nodes)
	if err != nil {
		c.logger.WithError(err).Warn("tree cache encode failed")
		return
	}
	c.store(ctx, rootID, treeCacheKey(rootID), payload, epoch)
}

// store writes the entry only while the node's epoch still matches the one
// the caller observed before reading the source data. The epoch key is
// WATCHed, so an eviction racing this fill aborts the transaction and the
// stale value is dropped.
func (c *RedisPermissionCache) store(ctx context.Context, nodeID uuid.UUID, key string, payload []byte, epoch uint64) {
	epochKey := nodeEpochKey(nodeID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, epochKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, c.ttl)
			pipe.SAdd(ctx, nodeIndexKey(nodeID), key)
			pipe.Expire(ctx, nodeIndexKey(nodeID), c.ttl)
			return nil
		})
		return err
	}, epochKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		c.logger.WithError(err).Warn("cache write failed")
	}
}

// Evict bumps each node's epoch, then drops every cached entry derived from
// it, and returns how many keys were removed. The epoch goes first so a
// fill racing the eviction fails its version check.
func (c *RedisPermissionCache) Evict(ctx context.Context, nodeIDs []uuid.UUID) (int, error) {
	evicted := 0
	for _, nodeID := range nodeIDs {
		if err := c.client.Incr(ctx, nodeEpochKey(nodeID)).Err(); err != nil {
			return evicted, err
		}
		index := nodeIndexKey(nodeID)
		keys, err := c.client.SMembers(ctx, index).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return evicted, err
		}
		keys = append(keys, index)
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return evicted, err
		}
		evicted += int(n)
	}
	return evicted, nil
}
