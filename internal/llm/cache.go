package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache 保存同一提示、同一采样数下的回复文本。
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, texts []string) error
}

// CacheKey 由提示与采样数计算缓存键。
func CacheKey(prompt string, numResponses int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(numResponses) + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// MemoryCache 是带过期时间的进程内 LRU 缓存。
type MemoryCache struct {
	lru *expirable.LRU[string, []string]
}

// NewMemoryCache 创建内存缓存，ttl 不大于 0 时条目不过期。
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []string](size, nil, ttl)}
}

// Get 实现 Cache。
func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool, error) {
	texts, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), texts...), true, nil
}

// Set 实现 Cache。
func (c *MemoryCache) Set(_ context.Context, key string, texts []string) error {
	c.lru.Add(key, append([]string(nil), texts...))
	return nil
}

type cachedClient struct {
	next   Client
	cache  Cache
	logger *slog.Logger
}

// WithCache 为 Client 增加响应缓存。缓存读写失败只记录日志，不影响调用。
func WithCache(next Client, cache Cache, logger *slog.Logger) Client {
	if cache == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedClient{next: next, cache: cache, logger: logger}
}

func (c *cachedClient) Query(ctx context.Context, prompt string, numResponses int) ([]string, error) {
	key := CacheKey(prompt, numResponses)
	texts, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("读取响应缓存失败", "error", err)
	}
	if ok {
		c.logger.Debug("命中响应缓存", "key", key[:12])
		return texts, nil
	}

	texts, err = c.next.Query(ctx, prompt, numResponses)
	if err != nil {
		return nil, err
	}
	// 部分采样失败时不缓存，避免后续同样的请求一直拿到更少的样本。
	if len(texts) != numResponses {
		return texts, nil
	}
	if err := c.cache.Set(ctx, key, texts); err != nil {
		c.logger.Warn("写入响应缓存失败", "error", err)
	}
	return texts, nil
}
