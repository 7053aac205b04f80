package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/houzhh15/consultscribe/cmd/server/internal/continuity"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator"
)

// Config 统一配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Continuity  ContinuityConfig  `yaml:"continuity"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Roles       RolesConfig       `yaml:"roles"`
	Diarization DiarizationConfig `yaml:"diarization"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Sink        SinkConfig        `yaml:"sink"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Port string `yaml:"port"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// ChunkingConfig 切片参数（秒）
type ChunkingConfig struct {
	ChunkSeconds   float64 `yaml:"chunk_seconds"`
	OverlapSeconds float64 `yaml:"overlap_seconds"`
	MaxChunks      int     `yaml:"max_chunks"`
}

// ContinuityConfig 跨切片说话人匹配权重与阈值
type ContinuityConfig struct {
	DurationWeight         float64 `yaml:"duration_weight"`
	WordWeight             float64 `yaml:"word_weight"`
	AvgLengthWeight        float64 `yaml:"avg_length_weight"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
}

// DedupConfig 重叠区去重
type DedupConfig struct {
	SimhashThreshold int     `yaml:"simhash_threshold"`
	MinOverlapRatio  float64 `yaml:"min_overlap_ratio"`
}

// RolesConfig 角色识别
type RolesConfig struct {
	Strategy            string        `yaml:"strategy"` // heuristic, remote, none
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	ServiceURL          string        `yaml:"service_url"`
	Model               string        `yaml:"model"`
	APIKeyEnv           string        `yaml:"api_key_env"`
	Timeout             time.Duration `yaml:"timeout"`
}

// DiarizationConfig 说话人分离服务
type DiarizationConfig struct {
	ServiceURL               string        `yaml:"service_url"`
	Timeout                  time.Duration `yaml:"timeout"`
	MaxAttempts              int           `yaml:"max_attempts"`
	RetryBackoff             time.Duration `yaml:"retry_backoff"`
	EnableDegradation        bool          `yaml:"enable_degradation"`
	HealthCheckInterval      time.Duration `yaml:"health_check_interval"`
	HealthCheckFailThreshold int           `yaml:"health_check_fail_threshold"`
}

// SessionsConfig 会话与并发
type SessionsConfig struct {
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
	QueueSize          int `yaml:"queue_size"`
}

// SinkConfig 审计输出，AuditLogPath 为空时只保留内存结果
type SinkConfig struct {
	AuditLogPath string `yaml:"audit_log_path"`
	MaxSizeMB    int    `yaml:"max_size_mb"`
	MaxBackups   int    `yaml:"max_backups"`
	MaxAgeDays   int    `yaml:"max_age_days"`
	Compress     bool   `yaml:"compress"`
}

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// envReader 读取环境变量并记录解析错误
type envReader struct {
	errs []string
}

// LoadConfig 从环境变量加载配置，再叠加 CONSULT_CONFIG_FILE 指向的 YAML 文件
func LoadConfig() (*Config, error) {
	r := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "8000"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Chunking: ChunkingConfig{
			ChunkSeconds:   r.float("CHUNK_SECONDS", 30),
			OverlapSeconds: r.float("OVERLAP_SECONDS", 5),
			MaxChunks:      r.int("MAX_CHUNKS", 200),
		},
		Continuity: ContinuityConfig{
			DurationWeight:         r.float("CONTINUITY_DURATION_WEIGHT", continuity.DefaultWeights().Duration),
			WordWeight:             r.float("CONTINUITY_WORD_WEIGHT", continuity.DefaultWeights().Words),
			AvgLengthWeight:        r.float("CONTINUITY_AVG_LENGTH_WEIGHT", continuity.DefaultWeights().AvgLength),
			LowConfidenceThreshold: r.float("CONTINUITY_LOW_CONFIDENCE_THRESHOLD", continuity.DefaultLowConfidenceThreshold),
		},
		Dedup: DedupConfig{
			SimhashThreshold: r.int("DEDUP_SIMHASH_THRESHOLD", 10),
			MinOverlapRatio:  r.float("DEDUP_MIN_OVERLAP_RATIO", 0.5),
		},
		Roles: RolesConfig{
			Strategy:            getEnv("ROLE_STRATEGY", "heuristic"),
			ConfidenceThreshold: r.float("ROLE_CONFIDENCE_THRESHOLD", 0.7),
			ServiceURL:          getEnv("ROLE_SERVICE_URL", "https://api.openai.com/v1"),
			Model:               getEnv("ROLE_MODEL", "gpt-4.1-mini"),
			APIKeyEnv:           getEnv("ROLE_API_KEY_ENV", "OPENAI_API_KEY"),
			Timeout:             r.duration("ROLE_TIMEOUT", 120*time.Second),
		},
		Diarization: DiarizationConfig{
			ServiceURL:               getEnv("DIARIZATION_SERVICE_URL", "http://localhost:8082"),
			Timeout:                  r.duration("DIARIZATION_TIMEOUT", 180*time.Second),
			MaxAttempts:              r.int("DIARIZATION_MAX_ATTEMPTS", 3),
			RetryBackoff:             r.duration("DIARIZATION_RETRY_BACKOFF", time.Second),
			EnableDegradation:        r.bool("ENABLE_DEGRADATION", true),
			HealthCheckInterval:      r.duration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			HealthCheckFailThreshold: r.int("HEALTH_CHECK_FAIL_THRESHOLD", 3),
		},
		Sessions: SessionsConfig{
			MaxConcurrentCalls: r.int("MAX_CONCURRENT_CALLS", 4),
			QueueSize:          r.int("SESSION_QUEUE_SIZE", 8),
		},
		Sink: SinkConfig{
			AuditLogPath: getEnv("AUDIT_LOG_PATH", "./audit_logs/chunks.log"),
			MaxSizeMB:    r.int("AUDIT_LOG_MAX_SIZE_MB", 100),
			MaxBackups:   r.int("AUDIT_LOG_MAX_BACKUPS", 10),
			MaxAgeDays:   r.int("AUDIT_LOG_MAX_AGE_DAYS", 30),
			Compress:     r.bool("AUDIT_LOG_COMPRESS", true),
		},
	}
	if len(r.errs) > 0 {
		return nil, fmt.Errorf("configuration parse failed:\n  - %s", strings.Join(r.errs, "\n  - "))
	}

	if path := os.Getenv("CONSULT_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	GlobalConfig = cfg
	return cfg, nil
}

// overlayFile 只覆盖 YAML 中出现的字段
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errors []string

	// 1. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 2. 日志级别与格式
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	// 3. 环境
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 4. 切片
	if err := cfg.Pipeline().ChunkOptions().Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	// 5. 权重与阈值
	w := cfg.Continuity
	if w.DurationWeight < 0 || w.WordWeight < 0 || w.AvgLengthWeight < 0 {
		errors = append(errors, "continuity weights must be >= 0")
	}
	if !inUnit(w.LowConfidenceThreshold) {
		errors = append(errors, fmt.Sprintf("invalid CONTINUITY_LOW_CONFIDENCE_THRESHOLD: %v (must be 0-1)", w.LowConfidenceThreshold))
	}
	if !inUnit(cfg.Roles.ConfidenceThreshold) {
		errors = append(errors, fmt.Sprintf("invalid ROLE_CONFIDENCE_THRESHOLD: %v (must be 0-1)", cfg.Roles.ConfidenceThreshold))
	}
	if cfg.Dedup.SimhashThreshold < 0 || cfg.Dedup.SimhashThreshold > 64 {
		errors = append(errors, fmt.Sprintf("invalid DEDUP_SIMHASH_THRESHOLD: %d (must be 0-64)", cfg.Dedup.SimhashThreshold))
	}
	if !inUnit(cfg.Dedup.MinOverlapRatio) {
		errors = append(errors, fmt.Sprintf("invalid DEDUP_MIN_OVERLAP_RATIO: %v (must be 0-1)", cfg.Dedup.MinOverlapRatio))
	}

	// 6. 角色识别策略
	switch cfg.Roles.Strategy {
	case "heuristic", "none":
	case "remote":
		if cfg.Roles.ServiceURL == "" {
			errors = append(errors, "ROLE_SERVICE_URL is required when ROLE_STRATEGY=remote")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid ROLE_STRATEGY: %s (must be: heuristic, remote, none)", cfg.Roles.Strategy))
	}

	// 7. 远程调用
	if cfg.Diarization.ServiceURL == "" {
		errors = append(errors, "DIARIZATION_SERVICE_URL is required")
	}
	if cfg.Diarization.MaxAttempts < 1 {
		errors = append(errors, "DIARIZATION_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Diarization.Timeout <= 0 || cfg.Roles.Timeout <= 0 {
		errors = append(errors, "remote call timeouts must be > 0")
	}
	if cfg.Diarization.EnableDegradation && cfg.Diarization.HealthCheckInterval <= 0 {
		errors = append(errors, "HEALTH_CHECK_INTERVAL must be > 0 when degradation is enabled")
	}
	if cfg.Sessions.MaxConcurrentCalls < 1 {
		errors = append(errors, "MAX_CONCURRENT_CALLS must be >= 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// Pipeline 转换为会话流水线参数
func (c *Config) Pipeline() orchestrator.Config {
	p := orchestrator.DefaultConfig()
	p.ChunkDuration = seconds(c.Chunking.ChunkSeconds)
	p.OverlapDuration = seconds(c.Chunking.OverlapSeconds)
	p.MaxChunks = c.Chunking.MaxChunks
	p.Weights = continuity.Weights{
		Duration:  c.Continuity.DurationWeight,
		Words:     c.Continuity.WordWeight,
		AvgLength: c.Continuity.AvgLengthWeight,
	}
	p.LowConfidenceThreshold = c.Continuity.LowConfidenceThreshold
	p.DedupThreshold = c.Dedup.SimhashThreshold
	p.DedupMinOverlapRatio = c.Dedup.MinOverlapRatio
	p.RoleConfidenceThreshold = c.Roles.ConfidenceThreshold
	p.RoleTimeout = c.Roles.Timeout
	p.DiarizationTimeout = c.Diarization.Timeout
	p.MaxAttempts = c.Diarization.MaxAttempts
	p.RetryBackoff = c.Diarization.RetryBackoff
	if c.Sessions.QueueSize > 0 {
		p.QueueSize = c.Sessions.QueueSize
	}
	return p
}

// LoggerEnvironment 返回 pkg/logger 使用的环境名，json 格式对应 prod
func (c *Config) LoggerEnvironment() string {
	if c.Log.Format == "json" {
		return "prod"
	}
	return "dev"
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	apiKey := ""
	if c.Roles.APIKeyEnv != "" {
		apiKey = os.Getenv(c.Roles.APIKeyEnv)
	}
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Logging:
    - Level: %s
    - Format: %s
  Chunking:
    - Chunk/Overlap: %.1fs / %.1fs (max %d)
  Continuity:
    - Weights: %.2f / %.2f / %.2f
    - Low Confidence Threshold: %.2f
  Roles:
    - Strategy: %s
    - Threshold: %.2f
    - Service: %s (%s)
    - API Key: %s
  Diarization:
    - Service: %s
    - Timeout: %s, Attempts: %d
    - Degradation: %v
  Sessions:
    - Max Concurrent Calls: %d
  Audit Log: %s`,
		c.Server.Env,
		c.Server.Port,
		c.Log.Level,
		c.Log.Format,
		c.Chunking.ChunkSeconds, c.Chunking.OverlapSeconds, c.Chunking.MaxChunks,
		c.Continuity.DurationWeight, c.Continuity.WordWeight, c.Continuity.AvgLengthWeight,
		c.Continuity.LowConfidenceThreshold,
		c.Roles.Strategy,
		c.Roles.ConfidenceThreshold,
		c.Roles.ServiceURL, c.Roles.Model,
		maskSecret(apiKey),
		c.Diarization.ServiceURL,
		c.Diarization.Timeout, c.Diarization.MaxAttempts,
		c.Diarization.EnableDegradation,
		c.Sessions.MaxConcurrentCalls,
		c.Sink.AuditLogPath,
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (r *envReader) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q is not a number", key, raw))
		return def
	}
	return v
}

func (r *envReader) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q is not a boolean", key, raw))
		return def
	}
	return v
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid %s: %q is not a duration", key, raw))
		return def
	}
	return v
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
