package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anatech/leadscout/config"
	"github.com/anatech/leadscout/database"
	"github.com/anatech/leadscout/services"
	"github.com/anatech/leadscout/shared"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// stores holds the persistence backends chosen from configuration.
type stores struct {
	db       *sql.DB
	rdb      *redis.Client
	leads    services.LeadStore
	users    services.UserStore
	sessions services.SessionStore
}

func (s *stores) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		database.Close()
	}
}

// openStores selects Postgres when DATABASE_URL is set and Redis when
// REDIS_ADDR is set, falling back to in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}
	logger := logrus.WithField("component", "Wiring")

	if cfg.DatabaseURL != "" {
		if err := database.ConnectWithConfig(cfg.DatabaseURL, &cfg.Unified.Database); err != nil {
			return nil, err
		}
		s.db = database.DB
		if err := database.Migrate(ctx, s.db); err != nil {
			logger.WithError(err).Warn("Migration warning")
		}
		s.leads = services.NewPostgresLeadStore(s.db)
		s.users = services.NewPostgresUserStore(s.db)
		logger.Info("Using Postgres lead and user stores")
	} else {
		s.leads = services.NewMemoryLeadStore()
		s.users = services.NewMemoryUserStore()
		logger.Warn("DATABASE_URL not set; using in-memory stores")
	}

	if cfg.Redis.Addr != "" {
		s.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.sessions = services.NewRedisSessionStore(s.rdb, cfg.Unified.Session.TokenTTL)
		logger.WithField("addr", cfg.Redis.Addr).Info("Using Redis session store")
	} else {
		s.sessions = services.NewMemorySessionStore(cfg.Unified.Session.TokenTTL)
		logger.Warn("REDIS_ADDR not set; using in-memory session store")
	}

	return s, nil
}

// newOracle builds the configured LLM provider.
func newOracle(ctx context.Context, cfg *config.Config) (*services.OracleService, error) {
	var completer services.Completer
	var err error

	switch cfg.Oracle.Provider {
	case "gemini":
		completer, err = services.NewGeminiCompleter(ctx, cfg.Oracle.GeminiAPIKey, cfg.Oracle.GeminiModel)
	case "openai", "groq", "":
		completer, err = services.NewOpenAICompleter(services.OpenAIConfig{
			APIKey:  cfg.Oracle.OpenAIAPIKey,
			Model:   cfg.Oracle.OpenAIModel,
			BaseURL: cfg.Oracle.OpenAIBaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
	if err != nil {
		return nil, err
	}
	return services.NewOracleService(completer, services.DefaultPromptCatalog(), cfg.Unified.Service.OracleTimeout), nil
}

func newRedditSource(cfg *config.Config) *services.RedditSource {
	service := cfg.Unified.Service
	return services.NewRedditSource(services.RedditSourceConfig{
		BaseURL:      service.SourceBaseURL,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		Timeout:      service.SourceTimeout,
	}, shared.NewHTTPClientFactory(service.SourceTimeout), shared.NewHTTPRequestRateLimiter(service.RequestRateLimit))
}

func newMailer(cfg *config.Config) services.Mailer {
	if !cfg.SMTP.Enabled() {
		return services.LogMailer{}
	}
	return services.NewSMTPMailer(services.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
	})
}
