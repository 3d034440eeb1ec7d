package bootstrap

import (
	"context"
	"strings"

	"guard_server/adapter/in/http"
	"guard_server/adapter/out/messaging"
	"guard_server/infra/middleware"
	"guard_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewAPI builds the HTTP application on top of deps.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// 배치 요청 본문 상한
		BodyLimit: 8 * 1024 * 1024,

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
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
		} else {
			allowOrigins = "http://localhost:3000"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,PUT,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID,Retry-After",
		MaxAge:        86400,
	}))

	// Health check (no auth required)
	health := http.NewHealthHandler()
	if deps.DB != nil {
		health.WithCheck("postgres", deps.DB)
	}
	if deps.Cache != nil {
		health.WithCheck("redis", deps.Cache)
	}
	if deps.MongoDB != nil {
		mc := deps.MongoDB
		health.WithCheck("mongodb", http.CheckFunc(func(ctx context.Context) error {
			return mc.Ping(ctx, readpref.Primary())
		}))
	}
	health.Register(app)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	v1 := app.Group("/v1", limiter.Handler())
	admin := middleware.AdminAuth(cfg.AdminJWTSecret)
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints are disabled")
	}

	http.NewEvaluateHandler(deps.Service, deps.RecheckPublisher()).Register(v1, admin)

	adminDeps := http.AdminDeps{
		Settings:  deps.Settings,
		Engine:    deps.Service,
		Decisions: deps.Decisions,
		Archive:   deps.Archive,
		Latency:   deps.Latency,
		Breakers: map[string]http.BreakerStater{
			deps.Primary.Name():   deps.Primary,
			deps.Secondary.Name(): deps.Secondary,
		},
	}
	if deps.Producer != nil {
		adminDeps.Queue = deps.Producer
		adminDeps.QueueStream = messaging.StreamRecheck
	}
	if deps.SQLDB != nil {
		adminDeps.DB = deps.SQLDB.DB
	}
	http.NewAdminHandler(adminDeps).Register(v1, admin)

	return app
}
