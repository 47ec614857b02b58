package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config 描述 conciergd 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Vault    VaultConfig    `yaml:"vault"`
	Proposal ProposalConfig `yaml:"proposal"`
	OTP      OTPConfig      `yaml:"otp"`
	Engine   EngineConfig   `yaml:"engine"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Alerting AlertingConfig `yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
// MetricsAddress 非空时额外启动一个 /metrics 端点。
type ServerConfig struct {
	Address        string `yaml:"address"`
	MetricsAddress string `yaml:"metrics_address"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	AuditPath   string   `yaml:"audit_path"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `yaml:"task_store"`
	Cache     CacheConfig     `yaml:"cache"`
}

// TaskStoreConfig 描述任务、凭证、验证码与执行流水的持久化后端。
// memory 驱动仅用于开发与测试。
type TaskStoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig 描述任务读缓存使用的 Redis 连接。
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// QueueConfig 描述确认队列的驱动与工作协程数量。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Worker   int            `yaml:"worker"`
	Redis    RedisQueue     `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisQueue 描述 Redis 队列的连接参数。
type RedisQueue struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Queue     string `yaml:"queue"`
	BlockWait int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// VaultConfig 描述凭证保险库的主密钥来源。
// MasterKeyEnv 优先于明文 MasterKey，避免密钥进配置文件。
type VaultConfig struct {
	MasterKey    string `yaml:"master_key"`
	MasterKeyEnv string `yaml:"master_key_env"`
}

// ProposalConfig 描述提案规则的加载方式。
// RulesPath 为空时使用内置规则。
type ProposalConfig struct {
	RulesPath string `yaml:"rules_path"`
}

// OTPConfig 描述一次性验证码的有效期与等待参数。
type OTPConfig struct {
	TTLMinutes          int `yaml:"ttl_minutes"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	WaitTimeoutSeconds  int `yaml:"wait_timeout_seconds"`
	DedupWindowSeconds  int `yaml:"dedup_window_seconds"`
}

// EngineConfig 描述执行引擎的重试策略。
type EngineConfig struct {
	MaxStepRetries int `yaml:"max_step_retries"`
	BackoffMS      int `yaml:"backoff_ms"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// AlertingConfig 控制终态失败的告警派发。
type AlertingConfig struct {
	Enabled      bool     `yaml:"enabled"`
	EmailTo      []string `yaml:"email_to"`
	SlackChannel string   `yaml:"slack_channel"`
}

// Load 解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.Cache.TTLSeconds <= 0 {
		c.Storage.Cache.TTLSeconds = 60
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}
	if c.OTP.TTLMinutes <= 0 {
		c.OTP.TTLMinutes = 10
	}
	if c.OTP.PollIntervalSeconds <= 0 {
		c.OTP.PollIntervalSeconds = 5
	}
	if c.OTP.WaitTimeoutSeconds <= 0 {
		c.OTP.WaitTimeoutSeconds = 60
	}
	if c.OTP.DedupWindowSeconds <= 0 {
		c.OTP.DedupWindowSeconds = 120
	}
	if c.Engine.MaxStepRetries <= 0 {
		c.Engine.MaxStepRetries = 2
	}
	if c.Engine.BackoffMS <= 0 {
		c.Engine.BackoffMS = 500
	}
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// ResolveVaultKey 按优先级返回保险库主密钥。
func (c *Config) ResolveVaultKey() (string, error) {
	if c.Vault.MasterKeyEnv != "" {
		if key := os.Getenv(c.Vault.MasterKeyEnv); key != "" {
			return key, nil
		}
	}
	if c.Vault.MasterKey != "" {
		return c.Vault.MasterKey, nil
	}
	return "", errors.New("凭证保险库缺少主密钥配置")
}
