package config

import (
	"strings"
	"time"

	"github.com/anatech/leadscout/shared"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	CORSOrigins string
	AdminAPIKey string

	Redis  RedisConfig
	Reddit RedditConfig
	Oracle OracleConfig
	SMTP   SMTPConfig

	Unified *shared.UnifiedConfiguration
}

// RedisConfig holds session store connection settings. An empty Addr selects
// the in-memory session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedditConfig holds Content Source credentials. Without a client ID the
// public JSON endpoints are used.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// OracleConfig selects and configures the LLM provider.
type OracleConfig struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GeminiAPIKey  string
	GeminiModel   string
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

// Enabled reports whether enough settings exist to send real email.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.Username != "" && s.Password != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("redis_db", 0)
	v.SetDefault("reddit_user_agent", "leadscout/1.0")
	v.SetDefault("oracle_provider", "openai")
	v.SetDefault("openai_base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("openai_model", "llama-3.3-70b-versatile")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("smtp_host", "smtp.gmail.com")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("default_query_limit", 100)
	v.SetDefault("rate_limit", "1s")
	v.SetDefault("source_timeout", "15s")
	v.SetDefault("oracle_timeout", "60s")
}

// LoadConfig reads .env, environment variables and any config file already
// registered on v. Unset keys fall back to their defaults.
func LoadConfig(v *viper.Viper) *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using system environment variables")
	}
	if v == nil {
		v = viper.New()
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	unified := shared.NewDefaultUnifiedConfiguration()
	unified.Service.SourceTimeout = durationOr(v, "source_timeout", unified.Service.SourceTimeout)
	unified.Service.OracleTimeout = durationOr(v, "oracle_timeout", unified.Service.OracleTimeout)
	unified.Service.RequestRateLimit = durationOr(v, "rate_limit", unified.Service.RequestRateLimit)
	if v.IsSet("reddit_base_url") {
		unified.Service.SourceBaseURL = v.GetString("reddit_base_url")
	}
	unified.Session.DefaultQueryLimit = v.GetInt("default_query_limit")
	unified.Logging.Level = v.GetString("log_level")
	unified.Logging.Format = v.GetString("log_format")
	unified.ValidateAndApplyDefaults()

	return &Config{
		ServerPort:  v.GetString("server_port"),
		DatabaseURL: v.GetString("database_url"),
		CORSOrigins: v.GetString("cors_origins"),
		AdminAPIKey: v.GetString("admin_api_key"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Reddit: RedditConfig{
			ClientID:     v.GetString("reddit_client_id"),
			ClientSecret: v.GetString("reddit_client_secret"),
			UserAgent:    v.GetString("reddit_user_agent"),
		},
		Oracle: OracleConfig{
			Provider:      strings.ToLower(v.GetString("oracle_provider")),
			OpenAIAPIKey:  firstNonEmpty(v.GetString("openai_api_key"), v.GetString("groq_api_key")),
			OpenAIBaseURL: v.GetString("openai_base_url"),
			OpenAIModel:   v.GetString("openai_model"),
			GeminiAPIKey:  v.GetString("gemini_api_key"),
			GeminiModel:   v.GetString("gemini_model"),
		},
		SMTP: SMTPConfig{
			Host:      v.GetString("smtp_host"),
			Port:      v.GetInt("smtp_port"),
			Username:  v.GetString("smtp_username"),
			Password:  v.GetString("smtp_password"),
			FromEmail: firstNonEmpty(v.GetString("smtp_from_email"), v.GetString("smtp_username")),
		},
		Unified: unified,
	}
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	raw := v.GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("Invalid %s value: %s, using default %v", strings.ToUpper(key), raw, fallback)
		return fallback
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
