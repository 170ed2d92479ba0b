package shared

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// UnifiedConfiguration holds all configuration parameters for the entire application
type UnifiedConfiguration struct {
	Service  ServiceConfig  `json:"service"`
	Database DatabaseConfig `json:"database"`
	Pipeline PipelineConfig `json:"pipeline"`
	Session  SessionConfig  `json:"session"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServiceConfig holds outbound Content Source and Oracle call configuration
type ServiceConfig struct {
	SourceBaseURL    string        `json:"source_base_url"`
	SourceTimeout    time.Duration `json:"source_timeout"`
	OracleTimeout    time.Duration `json:"oracle_timeout"`
	RequestRateLimit time.Duration `json:"rate_limit"`
	EnableMetrics    bool          `json:"enable_metrics"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	PingTimeout     time.Duration `json:"ping_timeout"`
}

// PipelineConfig holds lead pipeline tuning
type PipelineConfig struct {
	ScoreBatchSize      int           `json:"score_batch_size"`
	MaxConcurrency      int           `json:"max_concurrency"`
	QualifyingScore     int           `json:"qualifying_score"`
	DefaultMaxAgeDays   int           `json:"default_max_age_days"`
	DefaultPostsPerFeed int           `json:"default_posts_per_feed"`
	MaxCommunities      int           `json:"max_communities"`
	ResultCacheTTL      time.Duration `json:"result_cache_ttl"`
	MaxResponseLeads    int           `json:"max_response_leads"`
}

// SessionConfig holds session and account configuration
type SessionConfig struct {
	TokenTTL          time.Duration `json:"token_ttl"`
	OTPTTL            time.Duration `json:"otp_ttl"`
	OTPMaxAttempts    int           `json:"otp_max_attempts"`
	DefaultQueryLimit int           `json:"default_query_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	ServiceName string `json:"service_name"`
}

// NewDefaultUnifiedConfiguration returns production-ready default configuration
func NewDefaultUnifiedConfiguration() *UnifiedConfiguration {
	return &UnifiedConfiguration{
		Service: ServiceConfig{
			SourceBaseURL:    "https://www.reddit.com",
			SourceTimeout:    15 * time.Second,
			OracleTimeout:    60 * time.Second,
			RequestRateLimit: 1 * time.Second,
			EnableMetrics:    true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Pipeline: PipelineConfig{
			ScoreBatchSize:      6,
			MaxConcurrency:      4,
			QualifyingScore:     40,
			DefaultMaxAgeDays:   30,
			DefaultPostsPerFeed: 30,
			MaxCommunities:      15,
			ResultCacheTTL:      2 * time.Hour,
			MaxResponseLeads:    100,
		},
		Session: SessionConfig{
			TokenTTL:          7 * 24 * time.Hour,
			OTPTTL:            10 * time.Minute,
			OTPMaxAttempts:    3,
			DefaultQueryLimit: 100,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "leadscout",
		},
	}
}

// ValidateAndApplyDefaults validates configuration and applies defaults for invalid values
func (c *UnifiedConfiguration) ValidateAndApplyDefaults() {
	logger := logrus.WithField("component", "UnifiedConfiguration")
	defaults := NewDefaultUnifiedConfiguration()

	if c.Service.SourceBaseURL == "" {
		c.Service.SourceBaseURL = defaults.Service.SourceBaseURL
		logger.Debug("Applied default Service.SourceBaseURL")
	}
	c.Service.SourceBaseURL = strings.TrimRight(c.Service.SourceBaseURL, "/")

	if c.Service.SourceTimeout <= 0 {
		c.Service.SourceTimeout = defaults.Service.SourceTimeout
		logger.Debug("Applied default Service.SourceTimeout")
	}

	if c.Service.OracleTimeout <= 0 {
		c.Service.OracleTimeout = defaults.Service.OracleTimeout
		logger.Debug("Applied default Service.OracleTimeout")
	}

	if c.Service.RequestRateLimit <= 0 {
		c.Service.RequestRateLimit = defaults.Service.RequestRateLimit
		logger.Debug("Applied default Service.RequestRateLimit")
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
		logger.Debug("Applied default Database.MaxOpenConns")
	}

	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
		logger.Debug("Applied default Database.MaxIdleConns")
	}

	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = defaults.Database.ConnMaxLifetime
		logger.Debug("Applied default Database.ConnMaxLifetime")
	}

	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = defaults.Database.ConnMaxIdleTime
	}

	if c.Database.PingTimeout <= 0 {
		c.Database.PingTimeout = defaults.Database.PingTimeout
	}

	// Oracle prompts are written for six posts per call.
	if c.Pipeline.ScoreBatchSize <= 0 || c.Pipeline.ScoreBatchSize > 6 {
		c.Pipeline.ScoreBatchSize = defaults.Pipeline.ScoreBatchSize
		logger.Debug("Applied default Pipeline.ScoreBatchSize")
	}

	if c.Pipeline.MaxConcurrency <= 0 {
		c.Pipeline.MaxConcurrency = defaults.Pipeline.MaxConcurrency
		logger.Debug("Applied default Pipeline.MaxConcurrency")
	}

	if c.Pipeline.QualifyingScore <= 0 || c.Pipeline.QualifyingScore > 100 {
		c.Pipeline.QualifyingScore = defaults.Pipeline.QualifyingScore
		logger.Debug("Applied default Pipeline.QualifyingScore")
	}

	if c.Pipeline.DefaultMaxAgeDays <= 0 {
		c.Pipeline.DefaultMaxAgeDays = defaults.Pipeline.DefaultMaxAgeDays
	}

	if c.Pipeline.DefaultPostsPerFeed <= 0 || c.Pipeline.DefaultPostsPerFeed > 100 {
		c.Pipeline.DefaultPostsPerFeed = defaults.Pipeline.DefaultPostsPerFeed
	}

	if c.Pipeline.MaxCommunities <= 0 {
		c.Pipeline.MaxCommunities = defaults.Pipeline.MaxCommunities
	}

	if c.Pipeline.ResultCacheTTL <= 0 {
		c.Pipeline.ResultCacheTTL = defaults.Pipeline.ResultCacheTTL
	}

	if c.Pipeline.MaxResponseLeads <= 0 {
		c.Pipeline.MaxResponseLeads = defaults.Pipeline.MaxResponseLeads
	}

	if c.Session.TokenTTL <= 0 {
		c.Session.TokenTTL = defaults.Session.TokenTTL
		logger.Debug("Applied default Session.TokenTTL")
	}

	if c.Session.OTPTTL <= 0 {
		c.Session.OTPTTL = defaults.Session.OTPTTL
	}

	if c.Session.OTPMaxAttempts <= 0 {
		c.Session.OTPMaxAttempts = defaults.Session.OTPMaxAttempts
	}

	if c.Session.DefaultQueryLimit <= 0 {
		c.Session.DefaultQueryLimit = defaults.Session.DefaultQueryLimit
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
		logger.Debug("Applied default Logging.Level")
	}

	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
		logger.Debug("Applied default Logging.Format")
	}

	if c.Logging.ServiceName == "" {
		c.Logging.ServiceName = defaults.Logging.ServiceName
	}
}

// ConfigureLogging applies the logging section to the global logrus logger.
func (c LoggingConfig) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)

	switch strings.ToLower(c.Format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
