package embedding

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"medassist-go/internal/apperr"
	"medassist-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/blake2b"
)

// Cache stores embeddings by content key. Entries never expire.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// CachedClient is a read-through cache in front of another Client. A vector is only written
// after the upstream call succeeded; cache failures are logged and never fail the request.
type CachedClient struct {
	next  Client
	cache Cache
	model string
}

// NewCachedClient wraps next. model namespaces the keys so switching models never returns stale vectors.
func NewCachedClient(next Client, cache Cache, model string) *CachedClient {
	return &CachedClient{next: next, cache: cache, model: model}
}

func (c *CachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.ErrEmptyInput
	}
	key := CacheKey(c.model, text)
	if vec, ok, err := c.cache.Get(ctx, key); err != nil {
		log.Warnf("[EmbeddingCache] 读取缓存失败, key: %s, error: %v", key, err)
	} else if ok {
		return vec, nil
	}

	vec, err := c.next.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, vec); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败, key: %s, error: %v", key, err)
	}
	return vec, nil
}

// CacheKey derives the cache key from a BLAKE2b-256 digest of the text.
func CacheKey(model, text string) string {
	sum := blake2b.Sum256([]byte(text))
	return "embedding:" + model + ":" + hex.EncodeToString(sum[:])
}

// RedisCache keeps vectors as JSON arrays in Redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, data, 0).Err()
}

// MemoryCache is a process-local cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]float32)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.entries[key]
	return vec, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	m.entries[key] = vec
	m.mu.Unlock()
	return nil
}

// Len reports the number of cached vectors.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
