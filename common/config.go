package common

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// ErrMissingAPIKey 未配置 API Key
var ErrMissingAPIKey = errors.New("GOOGLE_API_KEY not found")

// Config 应用配置结构
type Config struct {
	// GenAI 配置
	GenAIBaseURL string
	GenAIAPIKey  string
	// 单次请求超时时间
	GenAITimeout time.Duration
	// 每个 (prompt, variant) 的最大尝试次数
	GenAIMaxAttempts int
	// 重试退避步长：第 n 次失败后等待 n * GenAIRetryBackoff
	GenAIRetryBackoff time.Duration
	// 每分钟请求数上限，0 表示不限制
	GenAIRequestsPerMinute int

	// 输入输出
	PromptsFile string
	OutputDir   string

	// OSS 配置（可选，配置了 OSS_BUCKET 时把生成的图片同步上传）
	OSSEndpoint  string
	OSSRegion    string
	OSSAccessKey string
	OSSSecretKey string
	OSSBucket    string
	OSSPrefix    string

	// 日志配置
	LogLevel  string // 日志级别: debug, info, warn, error
	LogFormat string // 日志格式: json, text
	LogOutput string // 输出位置: stdout, stderr, file
	LogFile   string // 日志文件路径（当 LogOutput 为 file 时）
}

// LoadConfig 从 .env 文件加载配置
func LoadConfig() (*Config, error) {
	// 加载 .env 文件（如果存在）
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to parse .env file: %w", err)
	}

	config, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	// 初始化日志系统
	logConfig := &LogConfig{
		Level:    config.LogLevel,
		Format:   config.LogFormat,
		Output:   config.LogOutput,
		FilePath: config.LogFile,
	}
	if err := InitLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return config, nil
}

// configFromEnv 从环境变量构建并校验配置
func configFromEnv() (*Config, error) {
	// GOOGLE_API_KEY 优先，兼容 GENAI_API_KEY
	apiKey := getEnv("GOOGLE_API_KEY", getEnv("GENAI_API_KEY", ""))

	timeout, err := getEnvDuration("GENAI_TIMEOUT_SECONDS", 60*time.Second)
	if err != nil {
		return nil, err
	}
	backoff, err := getEnvDuration("GENAI_RETRY_BACKOFF_SECONDS", 3*time.Second)
	if err != nil {
		return nil, err
	}
	attempts, err := getEnvInt("GENAI_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	rpm, err := getEnvInt("GENAI_REQUESTS_PER_MINUTE", 0)
	if err != nil {
		return nil, err
	}

	config := &Config{
		GenAIBaseURL:           getEnv("GENAI_BASE_URL", ""),
		GenAIAPIKey:            apiKey,
		GenAITimeout:           timeout,
		GenAIMaxAttempts:       attempts,
		GenAIRetryBackoff:      backoff,
		GenAIRequestsPerMinute: rpm,
		PromptsFile:            getEnv("PROMPTS_FILE", "prompts.json"),
		OutputDir:              getEnv("OUTPUT_DIR", "generated_images"),
		// OSS 配置
		OSSEndpoint:  getEnv("OSS_ENDPOINT", ""),
		OSSRegion:    getEnv("OSS_REGION", "us-east-1"),
		OSSAccessKey: getEnv("OSS_ACCESS_KEY", ""),
		OSSSecretKey: getEnv("OSS_SECRET_KEY", ""),
		OSSBucket:    getEnv("OSS_BUCKET", ""),
		OSSPrefix:    getEnv("OSS_PREFIX", "generated_images"),
		// 日志配置：交互式程序默认只把告警写到 stderr，避免打断菜单输出
		LogLevel:  getEnv("LOG_LEVEL", "warn"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stderr"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 校验必需的配置项
func (c *Config) Validate() error {
	if c.GenAIAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.GenAIMaxAttempts < 1 {
		return fmt.Errorf("GENAI_MAX_ATTEMPTS must be at least 1, got %d", c.GenAIMaxAttempts)
	}
	if c.GenAIRetryBackoff < 0 {
		return fmt.Errorf("GENAI_RETRY_BACKOFF_SECONDS must not be negative")
	}
	if c.GenAITimeout <= 0 {
		return fmt.Errorf("GENAI_TIMEOUT_SECONDS must be positive")
	}
	if c.GenAIRequestsPerMinute < 0 {
		return fmt.Errorf("GENAI_REQUESTS_PER_MINUTE must not be negative, got %d", c.GenAIRequestsPerMinute)
	}
	if c.PromptsFile == "" {
		return fmt.Errorf("PROMPTS_FILE must not be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}
	return nil
}

// OSSEnabled 是否启用 OSS 同步上传
func (c *Config) OSSEnabled() bool {
	return c.OSSBucket != ""
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整型环境变量，格式非法时返回错误而不是静默使用默认值
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return i, nil
}

// getEnvDuration 获取以秒为单位的时长环境变量，支持小数（如 0.5）
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	seconds, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
