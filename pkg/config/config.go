package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/goccy/go-yaml"
)

// Config 应用配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Paths   PathsConfig   `yaml:"paths"`
	Models  ModelsConfig  `yaml:"models"`
	Engine  EngineConfig  `yaml:"engine"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Archive ArchiveConfig `yaml:"archive"`
	Events  EventsConfig  `yaml:"events"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxUploadSize string `yaml:"max_upload_size"` // 例如 "2GB"、"500MB"

	maxUploadBytes int64
}

// MaxUploadBytes 解析后的上传大小上限
func (s ServerConfig) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PathsConfig 工作目录
type PathsConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// UploadsDir 上传文件目录
func (p PathsConfig) UploadsDir() string { return filepath.Join(p.BaseDir, "uploads") }

// TranscriptionsDir 转写结果目录
func (p PathsConfig) TranscriptionsDir() string { return filepath.Join(p.BaseDir, "transcriptions") }

// TmpDir 临时产物目录（zip、合并文本）
func (p PathsConfig) TmpDir() string { return filepath.Join(p.BaseDir, "tmp") }

// LogFile 应用日志文件
func (p PathsConfig) LogFile() string { return filepath.Join(p.BaseDir, "app.log") }

// EnsureDirs 创建所有工作目录
func (p PathsConfig) EnsureDirs() error {
	for _, dir := range []string{p.UploadsDir(), p.TranscriptionsDir(), p.TmpDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	return nil
}

// ModelsConfig 本地模型目录与下载源
type ModelsConfig struct {
	Dir    string `yaml:"dir"`
	HubURL string `yaml:"hub_url"` // 为空表示不下载，交给引擎处理
}

// EngineConfig whisper.cpp / ffmpeg 可执行文件
type EngineConfig struct {
	WhisperBin string `yaml:"whisper_bin"`
	FFmpegBin  string `yaml:"ffmpeg_bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`
	Threads    int    `yaml:"threads"`
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey        string `yaml:"api_key"`
	Enabled       *bool  `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	DocumentModel string `yaml:"document_model"`
}

// IsEnabled 云端模式是否可用（默认可用）
func (o OpenAIConfig) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// ArchiveConfig 任务归档配置
type ArchiveConfig struct {
	Type     string         `yaml:"type"` // none | redis | postgres
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// EventsConfig 任务事件配置
type EventsConfig struct {
	Type       string         `yaml:"type"` // none | memory | rabbitmq
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

// LoadConfig 加载配置文件；文件不存在时使用默认配置
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 使用默认配置
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// applyEnv 环境变量覆盖
func (c *Config) applyEnv() {
	if v := os.Getenv("WHISPER_MODELS_DIR"); v != "" {
		c.Models.Dir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("APP_WHISPER_BASE_DIR"); v != "" {
		c.Paths.BaseDir = v
	}
	if v := os.Getenv("APP_WHISPER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 8000
	}
	if c.Server.Port > 65535 {
		return fmt.Errorf("端口超出范围: %d", c.Server.Port)
	}

	if c.Server.MaxUploadSize == "" {
		c.Server.MaxUploadSize = "2GB"
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(c.Server.MaxUploadSize)); err != nil {
		return fmt.Errorf("无效的 max_upload_size %q: %w", c.Server.MaxUploadSize, err)
	}
	if size == 0 {
		return fmt.Errorf("max_upload_size 不能为 0")
	}
	c.Server.maxUploadBytes = int64(size.Bytes())

	if c.Paths.BaseDir == "" {
		c.Paths.BaseDir = "."
	}
	base, err := filepath.Abs(c.Paths.BaseDir)
	if err != nil {
		return fmt.Errorf("解析 base_dir 失败: %w", err)
	}
	c.Paths.BaseDir = base

	if c.Models.Dir == "" {
		c.Models.Dir = defaultModelsDir()
	}
	if c.Models.HubURL == "" {
		c.Models.HubURL = "https://huggingface.co"
	}

	if c.Engine.WhisperBin == "" {
		c.Engine.WhisperBin = "whisper-cli"
	}
	if c.Engine.FFmpegBin == "" {
		c.Engine.FFmpegBin = "ffmpeg"
	}
	if c.Engine.FFprobeBin == "" {
		c.Engine.FFprobeBin = "ffprobe"
	}
	if c.Engine.Threads < 0 {
		c.Engine.Threads = 0
	}

	if c.OpenAI.DocumentModel == "" {
		c.OpenAI.DocumentModel = "gpt-4o"
	}

	switch c.Archive.Type {
	case "", "none":
		c.Archive.Type = "none"
	case "redis":
		if c.Archive.Redis.Addr == "" {
			c.Archive.Redis.Addr = "localhost:6379"
		}
		if c.Archive.Redis.TTL <= 0 {
			c.Archive.Redis.TTL = 7 * 24 * time.Hour
		}
	case "postgres":
		if c.Archive.Postgres.DSN == "" {
			return fmt.Errorf("archive.postgres.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的归档类型: %s", c.Archive.Type)
	}

	switch c.Events.Type {
	case "", "none":
		c.Events.Type = "none"
	case "memory":
		if c.Events.BufferSize <= 0 {
			c.Events.BufferSize = 100
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return fmt.Errorf("events.rabbitmq.url 不能为空")
		}
		if c.Events.RabbitMQ.QueueName == "" {
			c.Events.RabbitMQ.QueueName = "app-whisper.jobs"
		}
	default:
		return fmt.Errorf("不支持的事件类型: %s", c.Events.Type)
	}

	return nil
}

// defaultModelsDir ~/.cache/app-whisper/models
func defaultModelsDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "app-whisper", "models")
	}
	return filepath.Join(".", "models")
}
