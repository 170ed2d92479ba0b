package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(viper.New())

	if cfg.ServerPort != "8080" || cfg.CORSOrigins != "*" {
		t.Errorf("server = %q, cors = %q", cfg.ServerPort, cfg.CORSOrigins)
	}
	if cfg.Oracle.Provider != "openai" || cfg.Oracle.OpenAIModel == "" {
		t.Errorf("oracle = %+v", cfg.Oracle)
	}
	if cfg.Unified.Service.RequestRateLimit != time.Second || cfg.Unified.Service.OracleTimeout != time.Minute {
		t.Errorf("service = %+v", cfg.Unified.Service)
	}
	if cfg.Unified.Session.DefaultQueryLimit != 100 {
		t.Errorf("query limit = %d", cfg.Unified.Session.DefaultQueryLimit)
	}
	if cfg.SMTP.Enabled() {
		t.Error("SMTP should be disabled without credentials")
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ORACLE_PROVIDER", "Gemini")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("RATE_LIMIT", "250ms")
	t.Setenv("SOURCE_TIMEOUT", "not-a-duration")
	t.Setenv("REDDIT_BASE_URL", "https://oauth.reddit.com/")
	t.Setenv("SMTP_USERNAME", "mailer@example.com")
	t.Setenv("SMTP_PASSWORD", "app-password")

	cfg := LoadConfig(viper.New())

	if cfg.ServerPort != "9090" {
		t.Errorf("port = %q", cfg.ServerPort)
	}
	if cfg.Oracle.Provider != "gemini" || cfg.Oracle.OpenAIAPIKey != "gsk-test" {
		t.Errorf("oracle = %+v", cfg.Oracle)
	}
	if cfg.Unified.Service.RequestRateLimit != 250*time.Millisecond {
		t.Errorf("rate limit = %v", cfg.Unified.Service.RequestRateLimit)
	}
	if cfg.Unified.Service.SourceTimeout != 15*time.Second {
		t.Errorf("invalid duration should fall back, got %v", cfg.Unified.Service.SourceTimeout)
	}
	if cfg.Unified.Service.SourceBaseURL != "https://oauth.reddit.com" {
		t.Errorf("base url = %q", cfg.Unified.Service.SourceBaseURL)
	}
	if !cfg.SMTP.Enabled() || cfg.SMTP.FromEmail != "mailer@example.com" {
		t.Errorf("smtp = %+v", cfg.SMTP)
	}
}
