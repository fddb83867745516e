// Package config 管理服务配置（YAML）
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/session"
	"github.com/zoeyai/zoeysight/pkg/vision"
)

// 目录来源驱动
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Config 服务配置
type Config struct {
	Server  ServerConfig    `yaml:"server"`
	Session session.Options `yaml:"session"`
	Catalog CatalogConfig   `yaml:"catalog"`
	Vision  vision.Config   `yaml:"vision"`
	Logging LoggingConfig   `yaml:"logging"`
}

// ServerConfig HTTP / gRPC 监听配置
type ServerConfig struct {
	Listen          string `yaml:"listen"`
	GRPCListen      string `yaml:"grpc_listen"` // 为空时不启动 gRPC
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	PIDFile         string `yaml:"pid_file"` // 为空时不检查重复启动
}

// CatalogConfig 目录来源配置
type CatalogConfig struct {
	Driver string      `yaml:"driver"` // memory, file, redis
	Dir    string      `yaml:"dir"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 目录来源
type RedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			GRPCListen:      ":50051",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
			ShutdownSec:     10,
		},
		Session: session.DefaultOptions(),
		Catalog: CatalogConfig{
			Driver: DriverFile,
			Dir:    "catalogs",
			Redis:  RedisConfig{KeyPrefix: "zoeysight:catalog:"},
		},
		Vision:  vision.DefaultConfig(),
		Logging: LoggingConfig{Env: "local", Level: "info"},
	}
}

// ApplyDefaults 填充空字段
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = d.Server.ReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = d.Server.WriteTimeoutSec
	}
	if c.Server.ShutdownSec <= 0 {
		c.Server.ShutdownSec = d.Server.ShutdownSec
	}
	if c.Session.ChunkSize <= 0 {
		c.Session.ChunkSize = d.Session.ChunkSize
	}
	if c.Session.MaxMessageBytes <= 0 {
		c.Session.MaxMessageBytes = d.Session.MaxMessageBytes
	}
	if c.Catalog.Driver == "" {
		c.Catalog.Driver = d.Catalog.Driver
	}
	if c.Catalog.Driver == DriverFile && c.Catalog.Dir == "" {
		c.Catalog.Dir = d.Catalog.Dir
	}
	if c.Catalog.Redis.KeyPrefix == "" {
		c.Catalog.Redis.KeyPrefix = d.Catalog.Redis.KeyPrefix
	}
	if c.Vision.Extractor.Algorithm == "" {
		c.Vision.Extractor = d.Vision.Extractor
	}
	c.Vision.Extractor = c.Vision.Extractor.WithAlgorithm(c.Vision.Extractor.Algorithm)
	if c.Logging.Env == "" {
		c.Logging.Env = d.Logging.Env
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Session.ChunkSize > c.Session.MaxMessageBytes {
		errs = append(errs, fmt.Errorf("session.chunk_size %d exceeds max_message_bytes %d",
			c.Session.ChunkSize, c.Session.MaxMessageBytes))
	}
	switch c.Catalog.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Catalog.Dir == "" {
			errs = append(errs, errors.New("catalog.dir is required for the file driver"))
		}
	case DriverRedis:
		if len(c.Catalog.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("catalog.redis.addrs is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.driver must be memory, file or redis, got %q", c.Catalog.Driver))
	}
	switch c.Logging.Env {
	case "local", "dev", "docker", "prod":
	default:
		errs = append(errs, fmt.Errorf("logging.env must be local, dev, docker or prod, got %q", c.Logging.Env))
	}
	if err := c.Vision.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewSource 按驱动创建目录来源
func (c CatalogConfig) NewSource() (catalog.Source, error) {
	switch c.Driver {
	case DriverMemory:
		return catalog.NewMemorySource(), nil
	case DriverFile:
		return catalog.NewFileSource(c.Dir), nil
	case DriverRedis:
		src, err := catalog.NewRedisSource(catalog.RedisConfig{
			Addrs:     c.Redis.Addrs,
			Username:  c.Redis.Username,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("未知的目录驱动: %s", c.Driver)
	}
}

// NewLogger 按日志配置创建 logger
func (c LoggingConfig) NewLogger() (*logger.Logger, error) {
	l, err := logger.NewWithEnv(c.Env)
	if err != nil {
		return nil, err
	}
	l.SetLevel(logger.ParseLevel(c.Level))
	if c.File != "" {
		if err := l.SetFile(true, c.File); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Parse 解析 YAML，先展开环境变量，未给出的字段保留默认值
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}

// envVarRegex 匹配 ${VAR} 和 ${VAR:-default}
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器，配置文件位于 ~/.zoeysight/config.yaml
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewManagerWithDir(filepath.Join(homeDir, ".zoeysight"))
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.yaml"),
	}
}

// NewManagerWithFile 使用指定的配置文件
func NewManagerWithFile(path string) *Manager {
	return &Manager{
		configDir:  filepath.Dir(path),
		configFile: path,
	}
}

// Load 加载配置，文件不存在时返回默认配置
func (m *Manager) Load() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(m.configFile)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save 保存配置
func (m *Manager) Save(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// Clear 清除配置
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.configFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetConfigDir 获取配置目录
func (m *Manager) GetConfigDir() string {
	return m.configDir
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}

// 全局配置管理器
var defaultManager = NewManager()

// GetDefaultManager 获取默认配置管理器
func GetDefaultManager() *Manager {
	return defaultManager
}

// Load 使用默认管理器加载配置
func Load() (*Config, error) {
	return defaultManager.Load()
}

// Save 使用默认管理器保存配置
func Save(cfg *Config) error {
	return defaultManager.Save(cfg)
}

// Clear 使用默认管理器清除配置
func Clear() error {
	return defaultManager.Clear()
}
