package bootstrap

import (
	"context"
	"strings"
	"time"

	"support_server/adapter/in/http"
	"support_server/config"
	"support_server/infra/middleware"
	"support_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const (
	bodyLimit        = 60 * 1024 * 1024
	submitRateLimit  = 30
	submitRatePeriod = time.Minute
)

type pinger interface {
	Ping(ctx context.Context) error
}

// NewAPI builds the HTTP application. ctx bounds background helpers such as the rate
// limiter cleanup loop.
func NewAPI(ctx context.Context, cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Uploads carry PDFs; the knowledge handler enforces its own per-file limit.
		BodyLimit: bodyLimit,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	http.NewHealthHandler(healthChecks(deps)...).Register(app)

	requestOpts := []http.RequestHandlerOption{}
	if deps.Graph != nil {
		requestOpts = append(requestOpts, http.WithCustomerGraph(deps.Graph))
	}
	if deps.Archive != nil {
		requestOpts = append(requestOpts, http.WithRawArchive(deps.Archive))
	}
	requestHandler := http.NewRequestHandler(deps.Engine, deps.Intake, requestOpts...)

	api := app.Group("/api/v1")

	// Web form submissions are public and rate limited per client IP.
	limiter := middleware.NewRateLimiter(submitRateLimit, submitRatePeriod)
	go limiter.RunCleanup(ctx)
	requestHandler.RegisterPublic(api, limiter.Handler(), middleware.MaxBodySize(submitBodyLimit))

	auth := middleware.AuthConfig{
		Secret:         cfg.JWTSecret,
		HeaderFallback: cfg.IsDevelopment(),
	}
	if deps.Redis != nil {
		auth.Revocations = middleware.NewRedisRevocations(deps.Redis)
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, operator routes accept X-Operator-ID in development only")
	}
	api.Use(middleware.JWTAuth(auth))

	requestHandler.Register(api)
	http.NewKnowledgeHandler(deps.Knowledge).Register(api)
	http.NewAnalyticsHandler(deps.Reports).Register(api)
	http.NewMetricsHandler(deps.Pools).Register(api)

	logger.Info("API server initialized")
	return app
}

func healthChecks(deps *Dependencies) []http.Check {
	var checks []http.Check
	if deps.DB != nil {
		checks = append(checks, http.Check{Name: "postgres", Ping: deps.DB.Ping})
	}
	if deps.Redis != nil {
		checks = append(checks, http.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}})
	}
	if deps.MongoDB != nil {
		checks = append(checks, http.Check{Name: "mongodb", Ping: func(ctx context.Context) error {
			return deps.MongoDB.Ping(ctx, nil)
		}})
	}
	if deps.Neo4j != nil {
		checks = append(checks, http.Check{Name: "neo4j", Ping: deps.Neo4j.VerifyConnectivity})
	}
	if p, ok := deps.Index.(pinger); ok {
		checks = append(checks, http.Check{Name: "knowledge_index", Ping: p.Ping})
	}
	return checks
}
