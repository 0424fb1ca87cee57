package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLMプロバイダーの識別子。
const (
	LLMProviderGroq      = "groq"
	LLMProviderAnthropic = "anthropic"
)

// ログ出力形式。
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	AuthPort  string
	ChatPort  string
	VoicePort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogFormat string
	LogLevel  string

	// Session
	SessionMaxAge        int
	SessionSweepInterval time.Duration
	BcryptCost           int
	SeedDemoUsers        bool

	// LLM
	LLMProvider     string
	GroqAPIKey      string
	GroqBaseURL     string
	GroqModel       string
	AnthropicAPIKey string
	AnthropicModel  string
	RAGURL          string
	ProviderTimeout time.Duration

	// Metrics
	MetricsEnabled bool
}

// Load は環境変数からConfigを読み込む。
// 列挙値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{
		AuthPort:             getEnvString("AUTH_PORT", "8001"),
		ChatPort:             getEnvString("CHAT_PORT", "8013"),
		VoicePort:            getEnvString("VOICE_PORT", "8005"),
		CORSAllowedOrigin:    getEnvString("CORS_ALLOWED_ORIGIN", "*"),
		LogFormat:            strings.ToLower(getEnvString("LOG_FORMAT", LogFormatJSON)),
		LogLevel:             getEnvString("LOG_LEVEL", "info"),
		SessionMaxAge:        getEnvInt("SESSION_MAX_AGE", 86400),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		BcryptCost:           getEnvInt("BCRYPT_COST", 10),
		SeedDemoUsers:        getEnvBool("SEED_DEMO_USERS", true),
		LLMProvider:          strings.ToLower(getEnvString("LLM_PROVIDER", LLMProviderGroq)),
		GroqAPIKey:           os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:          getEnvString("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:            getEnvString("GROQ_MODEL_DEFAULT", "llama-3.3-70b-versatile"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:       getEnvString("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		RAGURL:               os.Getenv("RAG_URL"),
		ProviderTimeout:      getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		MetricsEnabled:       getEnvBool("METRICS_ENABLED", true),
	}

	var invalid []string

	switch cfg.LLMProvider {
	case LLMProviderGroq, LLMProviderAnthropic:
	default:
		invalid = append(invalid, fmt.Sprintf("LLM_PROVIDER=%q", cfg.LLMProvider))
	}

	switch cfg.LogFormat {
	case LogFormatJSON, LogFormatText:
	default:
		invalid = append(invalid, fmt.Sprintf("LOG_FORMAT=%q", cfg.LogFormat))
	}

	if cfg.SessionMaxAge <= 0 {
		invalid = append(invalid, fmt.Sprintf("SESSION_MAX_AGE=%d", cfg.SessionMaxAge))
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}

	return cfg, nil
}

// LLMModel は選択中のプロバイダーで使用するモデル名を返す。
func (c *Config) LLMModel() string {
	if c.LLMProvider == LLMProviderAnthropic {
		return c.AnthropicModel
	}
	return c.GroqModel
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
