package bootstrap

import (
	"context"
	"time"

	"guard_server/adapter/out/cache"
	"guard_server/adapter/out/messaging"
	"guard_server/adapter/out/mongodb"
	"guard_server/adapter/out/persistence"
	"guard_server/config"
	"guard_server/core/agent/llm"
	"guard_server/core/port/out"
	"guard_server/core/service/moderation"
	"guard_server/infra/database"
	"guard_server/pkg/apperr"
	pkgcache "guard_server/pkg/cache"
	"guard_server/pkg/crypto"
	"guard_server/pkg/httputil"
	"guard_server/pkg/logger"
	"guard_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds every connection and collaborator of the engine.
// Optional stores are nil when not configured; the engine degrades without them.
type Dependencies struct {
	Config *config.Config

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	Cache   *pkgcache.RedisCache
	MongoDB *mongo.Client

	// Stores
	Decisions    out.DecisionLogRepository
	Documents    out.DocumentRepository
	Archive      out.ResponseArchive
	SettingsRepo out.SettingsRepository
	Backoff      out.BackoffStore
	Producer     *messaging.RedisProducer

	// Engine
	Latency   *metrics.LatencyRegistry
	Primary   *llm.Client
	Secondary *llm.Client
	Settings  *moderation.SettingsStore
	Service   *moderation.Service
}

// NewDependencies connects the configured stores and builds the engine.
// Postgres is required when DATABASE_URL is set; Redis and MongoDB failures only degrade.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if err := deps.connectPostgres(ctx, &cleanups); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.connectRedis(ctx, &cleanups)
	deps.connectMongo(ctx, &cleanups)

	// Backoff windows are shared across processes only through Redis.
	if deps.Cache != nil {
		deps.Backoff = cache.NewRedisBackoffStore(deps.Cache)
	} else {
		logger.Warn("Redis not available, backoff windows are process-local")
		deps.Backoff = cache.NewMemoryBackoffStore(nil)
	}

	if err := deps.buildEngine(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	return deps, cleanup, nil
}

func (d *Dependencies) connectPostgres(ctx context.Context, cleanups *[]func()) error {
	cfg := d.Config
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, decision log and settings persistence disabled")
		return nil
	}

	pgCfg := database.DefaultPostgresConfig()
	pgCfg.MaxConns = int32(cfg.DBMaxConns)
	pgCfg.MinConns = int32(cfg.DBMinConns)

	pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return apperr.DatabaseError("connect", err)
	}
	d.DB = pool
	*cleanups = append(*cleanups, pool.Close)

	sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return apperr.DatabaseError("connect sqlx", err)
	}
	d.SQLDB = sqlDB
	*cleanups = append(*cleanups, func() { sqlDB.Close() })

	if cfg.AutoMigrate {
		if err := database.EnsureSchema(ctx, sqlDB); err != nil {
			return apperr.DatabaseError("migrate", err)
		}
	}

	d.Decisions = persistence.NewDecisionLogAdapter(sqlDB)

	settingsRepo := persistence.NewSettingsAdapter(sqlDB)
	if cfg.SettingsEncryptionKey != "" {
		enc, err := crypto.NewEncryptor([]byte(cfg.SettingsEncryptionKey))
		if err != nil {
			return apperr.ConfigError(err.Error())
		}
		settingsRepo.WithEncryptor(enc)
	} else if cfg.IsProduction() {
		logger.Warn("SETTINGS_ENCRYPTION_KEY not set, provider keys are stored in plaintext")
	}
	d.SettingsRepo = settingsRepo
	logger.Info("Postgres connected (pool: max=%d)", cfg.DBMaxConns)
	return nil
}

func (d *Dependencies) connectRedis(ctx context.Context, cleanups *[]func()) {
	cfg := d.Config
	if cfg.RedisURL == "" {
		return
	}

	redisCfg := database.DefaultRedisConfig()
	redisCfg.PoolSize = cfg.RedisPoolSize

	client, err := database.NewRedis(ctx, cfg.RedisURL, redisCfg)
	if err != nil {
		logger.Warn("Redis connection failed: %v", err)
		return
	}
	d.Redis = client
	d.Cache = pkgcache.NewRedisCache(client)
	d.Producer = messaging.NewRedisProducer(client)
	*cleanups = append(*cleanups, func() { client.Close() })
	logger.Info("Redis connected")
}

func (d *Dependencies) connectMongo(ctx context.Context, cleanups *[]func()) {
	cfg := d.Config
	if cfg.MongoDBURL == "" {
		return
	}

	client, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		logger.Warn("MongoDB connection failed: %v", err)
		return
	}
	d.MongoDB = client
	*cleanups = append(*cleanups, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
	})

	ttl := time.Duration(cfg.Guard.RetentionDays) * 24 * time.Hour
	archive := mongodb.NewResponseArchiveAdapter(client.Database(cfg.MongoDBName), ttl)
	if err := archive.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure archive indexes: %v", err)
	}
	d.Archive = archive
	logger.Info("MongoDB response archive enabled (db=%s)", cfg.MongoDBName)
}

func (d *Dependencies) buildEngine(ctx context.Context) error {
	cfg := d.Config

	settings, err := moderation.NewSettingsStore(cfg.Guard, d.SettingsRepo)
	if err != nil {
		return apperr.ConfigError(err.Error())
	}
	if err := settings.Load(ctx); err != nil {
		// 저장된 설정이 깨졌으면 시드로 계속 진행
		logger.WithError(err).Warn("Failed to load persisted settings, using environment seed")
	}
	d.Settings = settings

	if d.DB != nil {
		var docs out.DocumentRepository = persistence.NewDocumentAdapter(d.DB)
		if d.Cache != nil {
			docs = persistence.NewCachedDocumentAdapter(docs, d.Cache, cfg.DocumentCacheTTL)
		}
		d.Documents = docs
	}

	d.Latency = metrics.NewLatencyRegistry(cfg.LatencyWindow)
	clientCfg := httputil.ProviderClientConfig()
	if cfg.ProviderMaxConns > 0 {
		clientCfg.MaxConnsPerHost = cfg.ProviderMaxConns
		clientCfg.MaxIdleConns = cfg.ProviderMaxConns
	}
	httpClient := httputil.NewOptimizedClient(clientCfg)
	d.Primary = llm.NewClient(llm.ClientConfig{
		Name:            moderation.ProviderPrimary,
		HTTPClient:      httpClient,
		Latency:         d.Latency,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	})
	d.Secondary = llm.NewClient(llm.ClientConfig{
		Name:            moderation.ProviderSecondary,
		HTTPClient:      httpClient,
		Latency:         d.Latency,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	})

	d.Service = moderation.NewService(moderation.Deps{
		Primary:       d.Primary,
		Secondary:     d.Secondary,
		Backoff:       d.Backoff,
		Decisions:     d.Decisions,
		Documents:     d.Documents,
		Archive:       d.Archive,
		Settings:      settings,
		BatchParallel: cfg.BatchParallel,
	})
	return nil
}

// RecheckPublisher returns the stream producer, or nil when Redis is unavailable.
func (d *Dependencies) RecheckPublisher() out.RecheckPublisher {
	if d.Producer == nil {
		return nil
	}
	return d.Producer
}
