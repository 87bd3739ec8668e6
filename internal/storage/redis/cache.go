package redis

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/llm"
)

// Config 描述缓存连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type kvClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// ResponseCache 以 JSON 数组保存同一提示的回复文本。
type ResponseCache struct {
	client kvClient
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewResponseCache 连接 Redis 并校验可用性。
func NewResponseCache(ctx context.Context, cfg Config) (*ResponseCache, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 地址不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	cache := newResponseCache(client, cfg.Prefix, cfg.TTL)
	cache.closer = client.Close
	return cache, nil
}

func newResponseCache(client kvClient, prefix string, ttl time.Duration) *ResponseCache {
	if prefix == "" {
		prefix = "chemresponse:llm:"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &ResponseCache{client: client, prefix: prefix, ttl: ttl}
}

// Get 实现 llm.Cache。
func (c *ResponseCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取模型缓存失败")
	}
	var texts []string
	if err := json.Unmarshal(raw, &texts); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析模型缓存失败", xerrors.WithRetryable(false))
	}
	return texts, true, nil
}

// Set 实现 llm.Cache。
func (c *ResponseCache) Set(ctx context.Context, key string, texts []string) error {
	encoded, err := json.Marshal(texts)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码模型缓存失败")
	}
	if err := c.client.Set(ctx, c.prefix+key, encoded, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入模型缓存失败")
	}
	return nil
}

// Close 关闭连接。
func (c *ResponseCache) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

var _ llm.Cache = (*ResponseCache)(nil)
