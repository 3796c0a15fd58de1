package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"llm_relay/internal/billing"
	"llm_relay/internal/config"
	"llm_relay/internal/images"
	"llm_relay/internal/locking"
	"llm_relay/internal/logging"
	"llm_relay/internal/middleware"
	"llm_relay/internal/models"
	"llm_relay/internal/prompt"
	"llm_relay/internal/providers"
	"llm_relay/internal/queue"
	"llm_relay/internal/ratelimit"
	"llm_relay/internal/relay"
	"llm_relay/internal/storage"
	"llm_relay/internal/tokens"
	"llm_relay/internal/utils"
)

// HealthChecker is a backing service the health endpoint probes
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Relay     *relay.Service
	JWTSecret []byte
	Checks    map[string]HealthChecker

	// Owned resources, released by Shutdown. Nil when the router was built
	// from injected collaborators.
	db           *storage.DB
	redis        *storage.RedisClient
	registry     *providers.Registry
	sink         logging.Sink
	usageWorker  *storage.UsageQueueWorker
	refundWorker *billing.RefundQueueWorker
	logger       *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(ctx context.Context, cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("router")

	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ModelCacheSize:  cfg.Cache.ModelCacheSize,
		ModelCacheTTL:   cfg.Cache.ModelCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Address = cfg.Redis.Address
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
	redisClient, err := storage.NewRedisClient(ctx, redisCfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	deps := &Dependencies{
		JWTSecret: cfg.JWTSecret,
		Checks:    map[string]HealthChecker{"database": db, "redis": redisClient},
		db:        db,
		redis:     redisClient,
		logger:    logger,
	}
	if err := deps.wire(ctx, cfg); err != nil {
		deps.Shutdown(context.Background())
		return nil, nil, err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return mux, deps, nil
}

func (d *Dependencies) wire(ctx context.Context, cfg *config.Config) error {
	accounts := storage.NewAccountRepository(d.db)
	conversations := storage.NewConversationRepository(d.db)
	modelRepo := storage.NewModelRepository(d.db)
	usageRepo := storage.NewUsageRepository(d.db)
	globalConfig := storage.NewGlobalConfigRepository(d.db)
	assets := storage.NewImageAssetRepository(d.db)

	// Queue workers for async processing
	usageQueueCfg := queueConfig("usage", cfg.Queue)
	usageQueue, usageDLQ, err := queue.New(usageQueueCfg, d.redis.Client())
	if err != nil {
		return fmt.Errorf("failed to create usage queue: %w", err)
	}
	refundQueueCfg := queueConfig("refunds", cfg.Queue)
	refundQueue, refundDLQ, err := queue.New(refundQueueCfg, d.redis.Client())
	if err != nil {
		return fmt.Errorf("failed to create refund queue: %w", err)
	}
	d.usageWorker = storage.NewUsageQueueWorker(usageQueue, usageDLQ, usageRepo, usageQueueCfg)
	d.refundWorker = billing.NewRefundQueueWorker(refundQueue, refundDLQ, accounts, refundQueueCfg)
	d.usageWorker.Start(context.Background())
	d.refundWorker.Start(context.Background())

	registry, err := newProviderRegistry(ctx, cfg.Upstream)
	if err != nil {
		return err
	}
	d.registry = registry

	counter, err := tokens.NewCounter(cfg.Relay.DefaultEncoding)
	if err != nil {
		return fmt.Errorf("failed to initialize token counter: %w", err)
	}

	var store images.Store
	if cfg.Images.S3Bucket != "" {
		store, err = images.NewS3Store(ctx, cfg.Images.S3Bucket, cfg.Images.S3Region, cfg.Images.S3Prefix)
		if err != nil {
			return fmt.Errorf("failed to initialize image store: %w", err)
		}
	} else {
		store = images.NewFileStore(cfg.Images.Dir)
	}
	loader := images.NewLoader(assets, store, cfg.Images.TTL)

	sink, err := newAuditSink(ctx, d.redis, cfg.AuditLog)
	if err != nil {
		return err
	}
	d.sink = sink

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.NewRateLimiter(d.redis.Client()).WithLimit(cfg.RateLimit.RequestsPerMinute)
	}

	titleProvider, err := registry.Resolve(&models.Model{Provider: models.ProviderOpenAI})
	if err != nil {
		d.logger.Warn("Title generation disabled", "error", err)
		titleProvider = nil
	}

	d.Relay = relay.NewService(relay.Deps{
		Models:        modelRepo,
		Conversations: conversations,
		Ledger:        billing.NewLedger(accounts, d.refundWorker),
		Assembler:     prompt.NewAssembler(conversations, globalConfig, loader),
		Providers:     registry,
		Counter:       counter,
		Images:        loader,
		Usage:         d.usageWorker,
		Locker:        locking.NewRedisLocker(d.redis.Client(), cfg.Relay.LockTTL),
		Limiter:       limiter,
		Sink:          sink,
		TitleProvider: titleProvider,
	}, relay.Config{
		KeepAliveInterval: cfg.Relay.KeepAliveInterval,
		WarnRatio:         cfg.Relay.WarnRatio,
		TitleModel:        cfg.Upstream.TitleModel,
		TitleTimeout:      cfg.Upstream.TitleTimeout,
	})
	return nil
}

func queueConfig(name string, cfg config.QueueConfig) *queue.Config {
	qc := queue.DefaultConfig(name)
	qc.UseRedis = cfg.UseRedis
	qc.BatchSize = cfg.BatchSize
	qc.BatchTimeout = cfg.BatchTimeout
	qc.MaxRetries = cfg.MaxRetries
	qc.RetryBackoff = cfg.RetryBackoff
	return qc
}

// newProviderRegistry registers every provider that has credentials
func newProviderRegistry(ctx context.Context, cfg config.UpstreamConfig) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if cfg.OpenAIAPIKey != "" {
		openai, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai provider: %w", err)
		}
		registry.Register(models.ProviderOpenAI, openai)
	}

	if cfg.GeminiAPIKey != "" {
		gemini, err := providers.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.Timeout)
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("failed to initialize gemini provider: %w", err)
		}
		registry.Register(models.ProviderGemini, gemini)
	}

	return registry, nil
}

func newAuditSink(ctx context.Context, redisClient *storage.RedisClient, cfg config.AuditLogConfig) (logging.Sink, error) {
	if !cfg.Enabled {
		return logging.NewNoopSink(), nil
	}
	if cfg.S3Bucket == "" {
		return nil, errors.New("AUDIT_LOG_S3_BUCKET is required when the audit log is enabled")
	}

	writer, err := logging.NewS3Writer(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix, cfg.PodName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit writer: %w", err)
	}
	sink := logging.NewRedisSink(redisClient.Client(), writer, logging.RedisSinkConfig{
		Key:           cfg.QueueKey,
		MaxBuffered:   cfg.MaxBuffered,
		FlushSize:     cfg.FlushSize,
		FlushInterval: cfg.FlushInterval,
	})
	sink.Start(context.Background())
	return sink, nil
}

// Shutdown waits for in-flight background work and releases owned resources.
// Errors are logged; the first one is returned.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var errs []error
	if d.Relay != nil {
		if err := d.Relay.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("title generation: %w", err))
		}
	}
	if d.usageWorker != nil {
		if err := d.usageWorker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("usage worker: %w", err))
		}
	}
	if d.refundWorker != nil {
		if err := d.refundWorker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("refund worker: %w", err))
		}
	}
	if d.sink != nil {
		if err := d.sink.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit sink: %w", err))
		}
	}
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("providers: %w", err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	for _, err := range errs {
		if d.logger != nil {
			d.logger.Error("Shutdown step failed", "error", err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Chat turns - protected with the access token middleware
	authenticated := middleware.AccessTokenMiddleware(deps.JWTSecret)
	mux.Handle("/api/chat/stream", authenticated(http.HandlerFunc(deps.handleChatStream)))

	// Health check endpoint - public
	mux.HandleFunc("/health", deps.handleHealth)
}

// NewHandler builds the routes over already constructed dependencies
func NewHandler(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return mux
}
