package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath 为未显式指定配置路径时读取的环境变量。
const EnvConfigPath = "CHEMRESPONSE_CONFIG"

// Config 描述了服务在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	TaskQueue TaskQueueConfig `yaml:"task_queue"`
	Report    ReportConfig    `yaml:"report"`
	Logging   LoggingConfig   `yaml:"logging"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Auth      AuthConfig      `yaml:"auth"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address        string `yaml:"address"`
	MetricsAddress string `yaml:"metrics_address"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider          string      `yaml:"provider"`
	Model             string      `yaml:"model"`
	BaseURL           string      `yaml:"base_url"`
	APIKey            string      `yaml:"api_key"`
	APIKeyEnv         string      `yaml:"api_key_env"`
	Temperature       float64     `yaml:"temperature"`
	MaxTokens         int         `yaml:"max_tokens"`
	Stop              []string    `yaml:"stop"`
	TimeoutSeconds    int         `yaml:"timeout_seconds"`
	MaxConcurrent     int         `yaml:"max_concurrent"`
	MaxRetries        int         `yaml:"max_retries"`
	RetryBaseMillis   int         `yaml:"retry_base_ms"`
	PromptTokenCost   float64     `yaml:"prompt_token_cost"`
	ResponseTokenCost float64     `yaml:"response_token_cost"`
	Cache             CacheConfig `yaml:"cache"`
}

// Timeout 返回单次请求的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryBase 返回指数退避的初始间隔。
func (c LLMConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMillis) * time.Millisecond
}

// ResolveAPIKey 优先使用显式配置的密钥，否则读取 APIKeyEnv 指向的环境变量。
func (c LLMConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

// CacheConfig 描述模型响应缓存。
type CacheConfig struct {
	Driver     string      `yaml:"driver"`
	Size       int         `yaml:"size"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// TTL 返回缓存过期时间。
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// PipelineConfig 控制三阶段流水线的采样行为。
type PipelineConfig struct {
	NumResponses int `yaml:"num_responses"`
}

// StorageConfig 统一描述运行记录的存储后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `yaml:"task_store"`
}

// TaskStoreConfig 支持内存和 MySQL 两种实现。
type TaskStoreConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Retries      int    `yaml:"retries"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// TaskQueueConfig 描述运行任务的投递队列。
type TaskQueueConfig struct {
	Driver   string         `yaml:"driver"`
	Worker   int            `yaml:"worker"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 为 Redis 连接参数，队列与缓存共用。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// ReportConfig 描述预案文档的落盘位置。
type ReportConfig struct {
	Driver string   `yaml:"driver"`
	Dir    string   `yaml:"dir"`
	S3     S3Config `yaml:"s3"`
}

// S3Config 为兼容 S3 的对象存储参数。
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// KnowledgeConfig 控制危化品参考资料。Path 为空时使用内置资料。
type KnowledgeConfig struct {
	Disabled   bool   `yaml:"disabled"`
	Path       string `yaml:"path"`
	MaxResults int    `yaml:"max_results"`
}

// AuthConfig 配置 REST 接口的访问令牌，列表为空时接口不做认证。
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig 描述一个访问令牌。
type TokenConfig struct {
	Name        string   `yaml:"name"`
	Token       string   `yaml:"token"`
	TokenEnv    string   `yaml:"token_env"`
	Permissions []string `yaml:"permissions"`
}

// Resolve 返回令牌值，未直接配置时读取 TokenEnv。
func (t TokenConfig) Resolve() string {
	if t.Token != "" {
		return t.Token
	}
	if t.TokenEnv != "" {
		return os.Getenv(t.TokenEnv)
	}
	return ""
}

// Load 负责解析指定路径的配置文件。path 为空时依次尝试 CHEMRESPONSE_CONFIG，
// 都没有时返回一份只包含默认值的配置。
func Load(path string) (*Config, error) {
	loadDotEnv()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 读取当前目录下的 .env，文件不存在时忽略。
func loadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	llm := &c.LLM
	if llm.Provider == "" {
		llm.Provider = "deepseek"
	}
	llm.Provider = strings.ToLower(llm.Provider)
	if llm.BaseURL == "" {
		switch llm.Provider {
		case "deepseek":
			llm.BaseURL = "https://api.deepseek.com/v1"
		case "openai":
			llm.BaseURL = "https://api.openai.com/v1"
		}
	}
	if llm.Model == "" {
		switch llm.Provider {
		case "gemini":
			llm.Model = "gemini-2.5-flash"
		case "openai":
			llm.Model = "gpt-4o-mini"
		default:
			llm.Model = "deepseek-chat"
		}
	}
	if llm.APIKeyEnv == "" {
		llm.APIKeyEnv = strings.ToUpper(llm.Provider) + "_API_KEY"
	}
	if llm.MaxTokens <= 0 {
		llm.MaxTokens = 4096
	}
	if llm.TimeoutSeconds <= 0 {
		llm.TimeoutSeconds = 60
	}
	if llm.MaxConcurrent <= 0 {
		llm.MaxConcurrent = 10
	}
	if llm.MaxRetries <= 0 {
		llm.MaxRetries = 3
	}
	if llm.RetryBaseMillis <= 0 {
		llm.RetryBaseMillis = 500
	}
	if llm.Cache.Driver == "" {
		llm.Cache.Driver = "none"
	}
	if llm.Cache.Size <= 0 {
		llm.Cache.Size = 256
	}
	if llm.Cache.TTLSeconds <= 0 {
		llm.Cache.TTLSeconds = 3600
	}
	if llm.Cache.Redis.Prefix == "" {
		llm.Cache.Redis.Prefix = "chemresponse:llm:"
	}

	if c.Pipeline.NumResponses == 0 {
		c.Pipeline.NumResponses = 1
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	q := &c.TaskQueue
	if q.Driver == "" {
		q.Driver = "memory"
	}
	if q.Worker <= 0 {
		q.Worker = 2
	}
	if q.Buffer <= 0 {
		q.Buffer = 64
	}
	if q.Redis.Prefix == "" {
		q.Redis.Prefix = "chemresponse:runs"
	}
	if q.RabbitMQ.Queue == "" {
		q.RabbitMQ.Queue = "chemresponse.runs"
	}

	if c.Report.Driver == "" {
		c.Report.Driver = "file"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = filepath.Join(baseDir, "results")
	} else if !filepath.IsAbs(c.Report.Dir) {
		c.Report.Dir = filepath.Join(baseDir, c.Report.Dir)
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
	if c.Knowledge.Path != "" && !filepath.IsAbs(c.Knowledge.Path) {
		c.Knowledge.Path = filepath.Join(baseDir, c.Knowledge.Path)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}
}

// Validate 拒绝无法运行的配置组合。
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.NumResponses < 1 {
		errs = append(errs, fmt.Errorf("pipeline.num_responses 必须大于 0，当前为 %d", c.Pipeline.NumResponses))
	}
	if !oneOf(c.LLM.Provider, "openai", "deepseek", "gemini") {
		errs = append(errs, fmt.Errorf("不支持的 llm.provider: %s", c.LLM.Provider))
	}
	if !oneOf(c.LLM.Cache.Driver, "none", "memory", "redis") {
		errs = append(errs, fmt.Errorf("不支持的 llm.cache.driver: %s", c.LLM.Cache.Driver))
	}
	if !oneOf(c.Storage.TaskStore.Driver, "memory", "mysql") {
		errs = append(errs, fmt.Errorf("不支持的 storage.task_store.driver: %s", c.Storage.TaskStore.Driver))
	}
	if c.Storage.TaskStore.Driver == "mysql" && c.Storage.TaskStore.DSN == "" {
		errs = append(errs, errors.New("storage.task_store.dsn 不能为空"))
	}
	if !oneOf(c.TaskQueue.Driver, "memory", "redis", "rabbitmq") {
		errs = append(errs, fmt.Errorf("不支持的 task_queue.driver: %s", c.TaskQueue.Driver))
	}
	if !oneOf(c.Report.Driver, "file", "s3") {
		errs = append(errs, fmt.Errorf("不支持的 report.driver: %s", c.Report.Driver))
	}
	if c.Report.Driver == "s3" && c.Report.S3.Bucket == "" {
		errs = append(errs, errors.New("report.s3.bucket 不能为空"))
	}
	for i, token := range c.Auth.Tokens {
		if token.Name == "" {
			errs = append(errs, fmt.Errorf("auth.tokens[%d].name 不能为空", i))
		}
		if token.Token == "" && token.TokenEnv == "" {
			errs = append(errs, fmt.Errorf("auth.tokens[%d] 需要 token 或 token_env", i))
		}
	}
	return errors.Join(errs...)
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}
