package cli

import (
	"context"
	"fmt"
	"time"

	"ChemResponse-Chain/internal/auth"
	"ChemResponse-Chain/internal/config"
	"ChemResponse-Chain/internal/knowledge"
	"ChemResponse-Chain/internal/llm"
	"ChemResponse-Chain/internal/llm/gemini"
	"ChemResponse-Chain/internal/llm/openai"
	"ChemResponse-Chain/internal/observability/alerting"
	"ChemResponse-Chain/internal/report"
	"ChemResponse-Chain/internal/storage/mysql"
	"ChemResponse-Chain/internal/storage/redis"
	"ChemResponse-Chain/internal/task"
	"ChemResponse-Chain/pkg/logger"
)

// closers 按注册的逆序释放资源。
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.L().Warn("释放资源失败", "error", err)
		}
	}
}

// buildLLM 组装 供应商客户端 -> 重试 -> 并发采样 -> 缓存 的调用链。
func buildLLM(ctx context.Context, cfg config.LLMConfig, cleanup *closers) (llm.Client, *llm.Sampler, error) {
	log := logger.Named("llm")

	var completer llm.Completer
	switch cfg.Provider {
	case "openai", "deepseek":
		client, err := openai.NewClient(openai.Config{
			APIKey:      cfg.ResolveAPIKey(),
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Timeout:     cfg.Timeout(),
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Stop:        cfg.Stop,
		})
		if err != nil {
			return nil, nil, err
		}
		completer = client
	case "gemini":
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.ResolveAPIKey(),
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Stop:        cfg.Stop,
		})
		if err != nil {
			return nil, nil, err
		}
		completer = client
	default:
		return nil, nil, fmt.Errorf("不支持的 llm.provider: %s", cfg.Provider)
	}

	completer = llm.WithRetry(completer, llm.RetryPolicy{Attempts: cfg.MaxRetries, Base: cfg.RetryBase()}, log)
	sampler := llm.NewSampler(completer,
		llm.WithMaxConcurrent(cfg.MaxConcurrent),
		llm.WithUsage(llm.NewUsage(cfg.PromptTokenCost, cfg.ResponseTokenCost)),
		llm.WithLogger(log),
	)

	var cache llm.Cache
	switch cfg.Cache.Driver {
	case "memory":
		cache = llm.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL())
	case "redis":
		rc, err := redis.NewResponseCache(ctx, redis.Config{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			TTL:      cfg.Cache.TTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(rc.Close)
		cache = rc
	}
	if cache == nil {
		return sampler, sampler, nil
	}
	return llm.WithCache(sampler, cache, log), sampler, nil
}

func buildStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "mysql":
		db, err := mysql.OpenAndMigrate(ctx, mysql.Config{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		return task.NewMySQLStore(db)
	case "memory", "":
		return task.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func buildQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Prefix,
			BlockWait: 5 * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
	case "memory", "":
		return task.NewMemoryQueue(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildSink(cfg config.ReportConfig) (report.Sink, error) {
	switch cfg.Driver {
	case "s3":
		return report.NewS3Sink(report.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
	case "file", "":
		return report.NewFileSink(cfg.Dir)
	default:
		return nil, fmt.Errorf("未知的报告驱动: %s", cfg.Driver)
	}
}

func buildAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Audit()}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

func buildAuth(cfg config.AuthConfig) (*auth.Service, error) {
	tokens := make([]auth.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens = append(tokens, auth.Token{Name: t.Name, Value: t.Resolve(), Permissions: t.Permissions})
	}
	svc, err := auth.NewService(tokens)
	if err != nil {
		return nil, fmt.Errorf("初始化访问令牌失败: %w", err)
	}
	return svc, nil
}

// buildKnowledge 返回 nil 表示不附加参考资料。
func buildKnowledge(cfg config.KnowledgeConfig) (knowledge.Provider, error) {
	if cfg.Disabled {
		return nil, nil
	}
	if cfg.Path != "" {
		return knowledge.LoadStaticProvider(cfg.Path, cfg.MaxResults)
	}
	return knowledge.Builtin(cfg.MaxResults)
}
