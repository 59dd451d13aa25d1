package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docqa/internal/domain/qa"
	"docqa/internal/domain/rag"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Server    ServerConfig   `json:"server" yaml:"server"`
	Database  DatabaseConfig `json:"database" yaml:"database"`
	Redis     RedisConfig    `json:"redis" yaml:"redis"`
	Auth      AuthConfig     `json:"auth" yaml:"auth"`
	OpenAI    OpenAIConfig   `json:"openai" yaml:"openai"`
	Answer    AnswerConfig   `json:"answer" yaml:"answer"`
	Fetch     FetchConfig    `json:"fetch" yaml:"fetch"`
	RAG       rag.Config     `json:"rag" yaml:"rag"`
}

type ServerConfig struct {
	Host                string `json:"host" yaml:"host"`
	Port                int    `json:"port" yaml:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	RunTimeoutSeconds   int    `json:"run_timeout_seconds" yaml:"run_timeout_seconds"` // 单次问答请求的截止时间
}

type DatabaseConfig struct {
	URL                    string `json:"url" yaml:"url"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

// AuthConfig 二选一：静态 bearer token 或 JWT 密钥
type AuthConfig struct {
	Token     string `json:"token" yaml:"token"`
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer" yaml:"jwt_issuer"`
}

type OpenAIConfig struct {
	APIKey                string `json:"api_key" yaml:"api_key"`
	BaseURL               string `json:"base_url" yaml:"base_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// AnswerConfig 答案生成
type AnswerConfig struct {
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	MaxContext  int     `json:"max_context" yaml:"max_context"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"`
	BackoffMs   int     `json:"backoff_ms" yaml:"backoff_ms"`
	BackoffKind string  `json:"backoff_kind" yaml:"backoff_kind"` // fixed | exponential
}

// FetchConfig 文档下载
type FetchConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxFileSizeMB  int    `json:"max_file_size_mb" yaml:"max_file_size_mb"`
	UserAgent      string `json:"user_agent" yaml:"user_agent"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	synth := qa.DefaultSynthesizerConfig()
	fetch := rag.DefaultFetcherConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 600,
			RunTimeoutSeconds:   300,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		OpenAI: OpenAIConfig{
			BaseURL:               "https://api.openai.com/v1",
			RequestTimeoutSeconds: 120,
		},
		Answer: AnswerConfig{
			Provider:    "openai",
			Model:       synth.Model,
			Temperature: synth.Temperature,
			MaxContext:  synth.MaxContext,
			MaxRetries:  synth.MaxRetries,
			BackoffMs:   int(synth.Backoff / time.Millisecond),
			BackoffKind: string(synth.BackoffKind),
		},
		Fetch: FetchConfig{
			TimeoutSeconds: int(fetch.Timeout / time.Second),
			MaxFileSizeMB:  int(fetch.MaxFileSize >> 20),
			UserAgent:      fetch.UserAgent,
		},
		RAG: *ragCfg,
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON，扩展名为 .yaml/.yml 时按 YAML 解析）。
func Load() (*AppConfig, error) {
	// .env 非必需，忽略错误
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyInt("SERVER_RUN_TIMEOUT", &c.Server.RunTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("AUTH_TOKEN", &c.Auth.Token)
	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	applyInt("OPENAI_REQUEST_TIMEOUT", &c.OpenAI.RequestTimeoutSeconds)

	applyString("ANSWER_LLM_PROVIDER", &c.Answer.Provider)
	applyString("ANSWER_LLM_MODEL", &c.Answer.Model)
	applyFloat64("ANSWER_TEMPERATURE", &c.Answer.Temperature)
	applyInt("ANSWER_MAX_TOKENS", &c.Answer.MaxTokens)
	applyInt("ANSWER_MAX_CONTEXT", &c.Answer.MaxContext)
	applyInt("ANSWER_MAX_RETRIES", &c.Answer.MaxRetries)
	applyInt("ANSWER_BACKOFF_MS", &c.Answer.BackoffMs)
	applyString("ANSWER_BACKOFF_KIND", &c.Answer.BackoffKind)

	applyInt("FETCH_TIMEOUT", &c.Fetch.TimeoutSeconds)
	applyInt("FETCH_MAX_FILE_SIZE", &c.Fetch.MaxFileSizeMB)
	applyString("FETCH_USER_AGENT", &c.Fetch.UserAgent)

	// RAG 环境变量；VECTOR_BACKEND 为旧名，RAG_VECTOR_BACKEND 优先
	for _, key := range []string{"VECTOR_BACKEND", "RAG_VECTOR_BACKEND"} {
		if v := os.Getenv(key); v != "" {
			c.RAG.VectorBackend = rag.VectorBackend(v)
		}
	}
	applyString("OPENSEARCH_URL", &c.RAG.OpenSearchURL)
	applyString("OPENSEARCH_USERNAME", &c.RAG.OpenSearchUsername)
	applyString("OPENSEARCH_PASSWORD", &c.RAG.OpenSearchPassword)
	applyString("RAG_INDEX_NAME", &c.RAG.IndexName)
	applyString("RAG_EMBEDDING_MODEL", &c.RAG.EmbeddingModel)
	applyInt("RAG_EMBEDDING_DIMS", &c.RAG.EmbeddingDims)
	if v := os.Getenv("RAG_EMBEDDING_MODE"); v != "" {
		c.RAG.EmbeddingMode = rag.EmbeddingMode(v)
	}
	applyInt("RAG_EMBEDDING_WORKERS", &c.RAG.EmbeddingWorkers)
	applyInt("RAG_EMBEDDING_BATCH_SIZE", &c.RAG.EmbeddingBatchSize)
	applyFloat64("RAG_EMBEDDING_RPS", &c.RAG.EmbeddingRPS)
	applyInt("RAG_EMBEDDING_TIMEOUT", &c.RAG.EmbeddingTimeoutSecs)
	applyInt("RAG_EMBEDDING_CACHE_SIZE", &c.RAG.EmbeddingCacheSize)
	applyInt("RAG_EMBEDDING_CACHE_TTL", &c.RAG.EmbeddingCacheTTL)
	applyInt("RAG_CHUNK_SIZE", &c.RAG.ChunkSize)
	applyInt("RAG_CHUNK_OVERLAP", &c.RAG.ChunkOverlap)
	applyInt("RAG_DEFAULT_TOP_K", &c.RAG.DefaultTopK)
	applyFloat64("RAG_SCORE_THRESHOLD", &c.RAG.ScoreThreshold)
	applyInt("RAG_UPSERT_BATCH_SIZE", &c.RAG.UpsertBatchSize)
	applyInt("RAG_REPLACE_MARKER_TTL", &c.RAG.ReplaceMarkerTTL)
}

func (c *AppConfig) normalize() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Answer.Provider = strings.ToLower(strings.TrimSpace(c.Answer.Provider))
	if c.Answer.Provider == "" {
		c.Answer.Provider = "openai"
	}
	c.Answer.BackoffKind = strings.ToLower(strings.TrimSpace(c.Answer.BackoffKind))
	def := rag.DefaultFetcherConfig()
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = int(def.Timeout / time.Second)
	}
	if c.Fetch.MaxFileSizeMB <= 0 {
		c.Fetch.MaxFileSizeMB = int(def.MaxFileSize >> 20)
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = def.UserAgent
	}
	c.RAG.Normalize()
}

// validate 缺少必需凭据或服务地址时返回 ErrConfiguration；参数组合非法时返回 ErrInvalidConfiguration
func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is required", rag.ErrConfiguration)
	}
	if strings.TrimSpace(c.Auth.Token) == "" && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("%w: AUTH_TOKEN or JWT_SECRET is required", rag.ErrConfiguration)
	}
	switch c.RAG.VectorBackend {
	case rag.VectorBackendOpenSearch:
		if strings.TrimSpace(c.RAG.OpenSearchURL) == "" {
			return fmt.Errorf("%w: OPENSEARCH_URL is required for the opensearch backend", rag.ErrConfiguration)
		}
	case rag.VectorBackendPGVector:
		if strings.TrimSpace(c.Database.URL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the pgvector backend", rag.ErrConfiguration)
		}
	}
	switch qa.BackoffKind(c.Answer.BackoffKind) {
	case "", qa.BackoffFixed, qa.BackoffExponential:
	default:
		return fmt.Errorf("%w: unknown backoff kind %q", rag.ErrInvalidConfiguration, c.Answer.BackoffKind)
	}
	return c.RAG.Validate()
}

// SynthesizerConfig 提取答案生成配置
func (c *AppConfig) SynthesizerConfig() qa.SynthesizerConfig {
	return qa.SynthesizerConfig{
		Model:       c.Answer.Model,
		Temperature: c.Answer.Temperature,
		MaxTokens:   c.Answer.MaxTokens,
		MaxContext:  c.Answer.MaxContext,
		MaxRetries:  c.Answer.MaxRetries,
		Backoff:     time.Duration(c.Answer.BackoffMs) * time.Millisecond,
		BackoffKind: qa.BackoffKind(c.Answer.BackoffKind),
	}
}

// FetcherConfig 提取文档下载配置
func (c *AppConfig) FetcherConfig() rag.FetcherConfig {
	return rag.FetcherConfig{
		Timeout:     time.Duration(c.Fetch.TimeoutSeconds) * time.Second,
		MaxFileSize: int64(c.Fetch.MaxFileSizeMB) << 20,
		UserAgent:   c.Fetch.UserAgent,
	}
}

// RunTimeout 单次请求截止时间
func (c *AppConfig) RunTimeout() time.Duration {
	return time.Duration(c.Server.RunTimeoutSeconds) * time.Second
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
