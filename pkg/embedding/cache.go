package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "emb:"

// CachedEmbedder memoizes vectors in Redis keyed by model and text hash. Redis failures fall through
// to the wrapped embedder; they are never surfaced to callers.
type CachedEmbedder struct {
	next  Embedder
	redis *redis.Client
	ttl   time.Duration
	model string
}

func NewCachedEmbedder(next Embedder, client *redis.Client, ttl time.Duration, model string) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{next: next, redis: client, ttl: ttl, model: model}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.redis == nil {
		return c.next.Embed(ctx, text)
	}

	key := c.cacheKey(text)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var vector []float32
		if err := json.Unmarshal(data, &vector); err == nil && len(vector) > 0 {
			logger.Log.WithField("key", key).Debug("embedding cache hit")
			return vector, nil
		}
	} else if err != redis.Nil {
		logger.Log.WithError(err).Warn("embedding cache read failed")
	}

	vector, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(vector); err == nil {
		if err := c.redis.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			logger.Log.WithError(err).Warn("embedding cache write failed")
		}
	}
	return vector, nil
}
