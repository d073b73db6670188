package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"AgentNFT-Chain/pkg/logger"
)

// 支持的存储与队列驱动。
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverBadger   = "badger"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Config 描述 agentd 启动阶段需要加载的全部配置。
type Config struct {
	Ledger   LedgerConfig   `json:"ledger" yaml:"ledger"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	TxPool   TxPoolConfig   `json:"txpool" yaml:"txpool"`
	Events   EventsConfig   `json:"events" yaml:"events"`
	API      APIConfig      `json:"api" yaml:"api"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
	Logic    LogicConfig    `json:"logic" yaml:"logic"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
}

// LedgerConfig 描述链标识、合约地址与创世状态。
type LedgerConfig struct {
	ChainID      uint64        `json:"chain_id" yaml:"chain_id"`
	TokenAddress string        `json:"token_address" yaml:"token_address"`
	Genesis      GenesisConfig `json:"genesis" yaml:"genesis"`
}

// GenesisConfig 仅在仓库为空时生效。Alloc 的金额为十进制字符串。
type GenesisConfig struct {
	Governance string            `json:"governance" yaml:"governance"`
	Timestamp  uint64            `json:"timestamp" yaml:"timestamp"`
	Alloc      map[string]string `json:"alloc" yaml:"alloc"`
}

// StorageConfig 选择账本状态的持久化后端。
type StorageConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池，账本仓库与交易池共用。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
}

// TxPoolConfig 描述交易池的存储、队列与重试参数。
type TxPoolConfig struct {
	Store            string         `json:"store" yaml:"store"`
	Queue            string         `json:"queue" yaml:"queue"`
	Workers          int            `json:"workers" yaml:"workers"`
	MaxRetries       int            `json:"max_retries" yaml:"max_retries"`
	RetryDelayMillis int            `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	Redis            RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ         RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 同时用于交易队列（Queue）与事件频道（Channel）。
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Queue    string `json:"queue" yaml:"queue"`
	Channel  string `json:"channel" yaml:"channel"`
}

// RabbitMQConfig 同时用于交易队列（Queue）与事件交换机（Exchange）。
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
	Durable  bool   `json:"durable" yaml:"durable"`
}

// EventsConfig 描述事件的进程内缓冲与外部广播。
type EventsConfig struct {
	BufferSize int            `json:"buffer_size" yaml:"buffer_size"`
	Redis      RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// APIConfig 控制 HTTP 服务。
type APIConfig struct {
	Address            string `json:"address" yaml:"address"`
	WaitTimeoutSeconds int    `json:"wait_timeout_seconds" yaml:"wait_timeout_seconds"`
}

// MetricsConfig 控制独立的 Prometheus 端口，API 端口上的 /metrics 始终可用。
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	Log      bool            `json:"log" yaml:"log"`
	Webhooks []WebhookConfig `json:"webhooks" yaml:"webhooks"`
}

// WebhookConfig 描述单个 webhook。Format 取值 json、slack 或 dingtalk。
type WebhookConfig struct {
	URL            string `json:"url" yaml:"url"`
	Format         string `json:"format" yaml:"format"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// LogicConfig 描述启动时部署的逻辑模块。
type LogicConfig struct {
	Builtins  []string          `json:"builtins" yaml:"builtins"`
	Addresses map[string]string `json:"addresses" yaml:"addresses"`
	Plugins   string            `json:"plugins" yaml:"plugins"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的配置文件，.yaml 与 .yml 按 YAML 解析，其余按 JSON 解析。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.API.WaitTimeoutSeconds <= 0 {
		c.API.WaitTimeoutSeconds = 10
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}

	if c.TxPool.Store == "" {
		c.TxPool.Store = DriverMemory
	}
	if c.TxPool.Queue == "" {
		c.TxPool.Queue = DriverMemory
	}
	if c.TxPool.Workers <= 0 {
		c.TxPool.Workers = 1
	}
	if c.TxPool.MaxRetries <= 0 {
		c.TxPool.MaxRetries = 3
	}
	if c.TxPool.RetryDelayMillis <= 0 {
		c.TxPool.RetryDelayMillis = 200
	}
	if c.TxPool.Redis.Queue == "" {
		c.TxPool.Redis.Queue = "agentnft:txpool"
	}
	if c.TxPool.RabbitMQ.Queue == "" {
		c.TxPool.RabbitMQ.Queue = "agentnft.txpool"
	}

	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 256
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "agentnft:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "agentnft.events"
	}

	for i := range c.Alerting.Webhooks {
		if c.Alerting.Webhooks[i].Format == "" {
			c.Alerting.Webhooks[i].Format = "json"
		}
		if c.Alerting.Webhooks[i].TimeoutSeconds <= 0 {
			c.Alerting.Webhooks[i].TimeoutSeconds = 5
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
	if c.Logic.Plugins != "" {
		c.Logic.Plugins = resolve(baseDir, c.Logic.Plugins, "")
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, filepath.Join("logs", "audit.log"))
	}
}

func resolve(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查配置的内部一致性。
func (c *Config) Validate() error {
	if c.Ledger.ChainID == 0 {
		return errors.New("ledger.chain_id 不能为 0")
	}
	if !isAddress(c.Ledger.TokenAddress) {
		return fmt.Errorf("ledger.token_address 无效: %q", c.Ledger.TokenAddress)
	}
	if c.Ledger.Genesis.Governance != "" && !isAddress(c.Ledger.Genesis.Governance) {
		return fmt.Errorf("ledger.genesis.governance 无效: %q", c.Ledger.Genesis.Governance)
	}
	if _, err := c.Ledger.Genesis.Allocations(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverFile, DriverBadger:
	case DriverMySQL:
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return errors.New("storage.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储驱动 %q", c.Storage.Driver)
	}

	switch c.TxPool.Store {
	case DriverMemory:
	case DriverMySQL:
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return errors.New("txpool.store 为 mysql 时需要 storage.mysql.dsn")
		}
	default:
		return fmt.Errorf("不支持的交易池存储 %q", c.TxPool.Store)
	}

	switch c.TxPool.Queue {
	case DriverMemory:
	case DriverRedis:
		if c.TxPool.Redis.Address == "" {
			return errors.New("txpool.redis.address 不能为空")
		}
	case DriverRabbitMQ:
		if c.TxPool.RabbitMQ.URL == "" {
			return errors.New("txpool.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的交易池队列 %q", c.TxPool.Queue)
	}

	if c.Events.Redis.Enabled && c.Events.Redis.Address == "" {
		return errors.New("events.redis.address 不能为空")
	}
	if c.Events.RabbitMQ.Enabled && c.Events.RabbitMQ.URL == "" {
		return errors.New("events.rabbitmq.url 不能为空")
	}
	for i, hook := range c.Alerting.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("alerting.webhooks[%d].url 不能为空", i)
		}
	}
	for name, addr := range c.Logic.Addresses {
		if !isAddress(addr) {
			return fmt.Errorf("logic.addresses.%s 无效: %q", name, addr)
		}
	}
	return nil
}

// Allocations 解析创世分配。
func (g GenesisConfig) Allocations() (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(g.Alloc))
	for addr, amount := range g.Alloc {
		if !isAddress(addr) {
			return nil, fmt.Errorf("ledger.genesis.alloc 地址无效: %q", addr)
		}
		value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
		if !ok || value.Sign() < 0 {
			return nil, fmt.Errorf("ledger.genesis.alloc[%s] 金额无效: %q", addr, amount)
		}
		out[common.HexToAddress(addr)] = value
	}
	return out, nil
}

// LogicAddresses 返回固定部署地址。
func (l LogicConfig) LogicAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(l.Addresses))
	for name, addr := range l.Addresses {
		out[name] = common.HexToAddress(addr)
	}
	return out
}

// ConnMaxLifetime 返回连接最大存活时间。
func (m MySQLConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(m.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最大空闲时间。
func (m MySQLConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(m.ConnMaxIdleTimeSeconds) * time.Second
}

// RetryDelay 返回重新入队前的等待时间。
func (t TxPoolConfig) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelayMillis) * time.Millisecond
}

// WaitTimeout 返回 ?wait=true 的最长等待时间。
func (a APIConfig) WaitTimeout() time.Duration {
	return time.Duration(a.WaitTimeoutSeconds) * time.Second
}

func isAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
