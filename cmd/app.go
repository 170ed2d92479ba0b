package cmd

import (
	"context"
	"strings"

	"github.com/anatech/leadscout/config"
	"github.com/anatech/leadscout/handlers"
	"github.com/anatech/leadscout/jobs"
	"github.com/anatech/leadscout/services"
	"github.com/anatech/leadscout/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// resultCacheSize bounds the number of users with a cached fetch.
const resultCacheSize = 1000

// server is the wired fiber app plus the outbound clients released on shutdown.
type server struct {
	app     *fiber.App
	source  *services.RedditSource
	metrics []*shared.ServiceMetrics
}

// release closes pooled source connections and logs a final usage summary per service.
func (s *server) release() {
	for _, metrics := range s.metrics {
		metrics.LogSummary()
	}
	s.source.Close()
}

// newApp wires every service and handler into a fiber app.
func newApp(ctx context.Context, cfg *config.Config, st *stores) (*server, error) {
	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		return nil, err
	}
	source := newRedditSource(cfg)

	pipelineCfg := cfg.Unified.Pipeline
	cache := services.NewResultCache(pipelineCfg.ResultCacheTTL, resultCacheSize)
	pipeline := services.NewLeadPipeline(source, oracle, st.leads, cache, pipelineCfg)
	auth := services.NewAuthService(st.users, st.sessions, newMailer(cfg), cfg.Unified.Session)

	cleanup := jobs.NewCleanupJob(st.leads, st.users, cache)
	metrics := []*shared.ServiceMetrics{source.Metrics(), source.TextMetrics(), oracle.Metrics(), pipeline.Metrics()}

	routes := handlers.Routes{
		Sessions:    st.sessions,
		Leads:       handlers.NewLeadHandler(pipeline, st.leads, auth, pipelineCfg.MaxResponseLeads),
		Auth:        handlers.NewAuthHandler(auth),
		Check:       handlers.NewCheckHandler(source, oracle, st.leads),
		Performance: handlers.NewPerformanceHandler(st.db, auth, metrics...),
		Admin:       handlers.NewAdminHandler(cleanup, cache, source.RateLimiter()),
		AdminKey:    cfg.AdminAPIKey,
	}

	app := fiber.New(fiber.Config{
		AppName:      "leadscout",
		ErrorHandler: handlers.FallbackErrorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	origins := strings.TrimSpace(cfg.CORSOrigins)
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + handlers.AdminKeyHeader,
	}))

	handlers.SetupRoutes(app, routes)

	logrus.WithFields(logrus.Fields{
		"component":        "Wiring",
		"oracle":           cfg.Oracle.Provider,
		"qualifying_score": pipelineCfg.QualifyingScore,
		"max_concurrency":  pipelineCfg.MaxConcurrency,
	}).Info("Lead services initialized")

	return &server{app: app, source: source, metrics: metrics}, nil
}
