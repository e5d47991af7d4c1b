package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Embeddings + 生成）
	OpenAI OpenAIConfig

	// Embedding設定
	Embedding EmbeddingConfig

	// 回答生成設定
	Generation GenerationConfig

	// 検索設定
	Retrieval RetrievalConfig

	// ドキュメントストア設定
	Store StoreConfig

	// HTTPサーバー設定
	Server ServerConfig

	// 定期ジョブ設定
	Jobs JobsConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
}

// EmbeddingConfig はEmbeddingプロバイダー設定
type EmbeddingConfig struct {
	Provider    string // "openai" or "ollama"
	Dimension   int
	OllamaURL   string
	OllamaModel string
}

// GenerationConfig は回答生成設定
type GenerationConfig struct {
	// Models はフォールバックチェーンのモデル（優先順）
	Models      []string
	Temperature float64
	Timeout     time.Duration
	// ContextTokens はプロンプトに含めるドキュメント本文の合計トークン上限。0 以下なら制限しない
	ContextTokens int
	// ChainFile が指定された場合は Models と Temperature を上書きする
	ChainFile string
}

// RetrievalConfig は検索設定
type RetrievalConfig struct {
	MaxResults int
}

// StoreConfig はドキュメントストア設定
type StoreConfig struct {
	// Backend は "postgres" または "memory"。memory はプロセス内のみで永続化しない
	Backend string
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port      int
	JWTSecret string
	JWTIssuer string
	GinMode   string
}

// JobsConfig は定期ジョブ設定
type JobsConfig struct {
	// BackfillSchedule が空の場合はバックフィルジョブを起動しない
	BackfillSchedule string
	BackfillBatch    int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "studyrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "studyrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Embedding: EmbeddingConfig{
			Provider:    getEnv("EMBEDDING_PROVIDER", "openai"),
			Dimension:   getEnvAsInt("EMBEDDING_DIMENSION", 768),
			OllamaURL:   getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Generation: GenerationConfig{
			Models:        getEnvAsList("GENERATION_MODELS", []string{"gpt-4o-mini", "gpt-4.1-mini", "gpt-4o"}),
			Temperature:   getEnvAsFloat("GENERATION_TEMPERATURE", 0.4),
			Timeout:       getEnvAsDuration("GENERATION_TIMEOUT", 45*time.Second),
			ContextTokens: getEnvAsInt("GENERATION_CONTEXT_TOKENS", 6000),
			ChainFile:     getEnv("GENERATION_CHAIN_FILE", ""),
		},
		Retrieval: RetrievalConfig{
			MaxResults: getEnvAsInt("RETRIEVAL_MAX_RESULTS", 5),
		},
		Store: StoreConfig{
			Backend: getEnv("DOCUMENT_STORE", "postgres"),
		},
		Server: ServerConfig{
			Port:      getEnvAsInt("HTTP_PORT", 8080),
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
			GinMode:   getEnv("GIN_MODE", "release"),
		},
		Jobs: JobsConfig{
			BackfillSchedule: getEnvAllowEmpty("EMBEDDING_BACKFILL_SCHEDULE", "@every 30m"),
			BackfillBatch:    getEnvAsInt("EMBEDDING_BACKFILL_BATCH", 100),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Generation.ChainFile != "" {
		chain, err := LoadChainFile(cfg.Generation.ChainFile)
		if err != nil {
			return nil, err
		}
		chain.Apply(&cfg.Generation)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported EMBEDDING_PROVIDER: %q", c.Embedding.Provider)
	}
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported DOCUMENT_STORE: %q", c.Store.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive: %d", c.Embedding.Dimension)
	}
	if len(c.Generation.Models) == 0 {
		return fmt.Errorf("at least one generation model is required")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("GENERATION_TEMPERATURE out of range: %v", c.Generation.Temperature)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty は環境変数が明示的に空文字で設定されている場合は空文字を返します
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をスライスとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
