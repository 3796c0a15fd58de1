package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the relay.
type Config struct {
	HTTPPort  string
	JWTSecret []byte
	Database  DatabaseConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Upstream  UpstreamConfig
	Relay     RelayConfig
	RateLimit RateLimitConfig
	Images    ImageConfig
	Queue     QueueConfig
	AuditLog  AuditLogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	ModelCacheSize int
	ModelCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// UpstreamConfig holds LLM provider settings
type UpstreamConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	Timeout       time.Duration // hard bound on one streamed call
	TitleModel    string
	TitleTimeout  time.Duration
}

// RelayConfig holds turn-level settings
type RelayConfig struct {
	KeepAliveInterval time.Duration
	WarnRatio         float64
	DefaultEncoding   string
	LockTTL           time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int // 0 disables the cap
}

// ImageConfig selects where image bytes are read from
type ImageConfig struct {
	Dir      string
	S3Bucket string // when set, images are read from S3 instead of Dir
	S3Region string
	S3Prefix string
	TTL      time.Duration
}

// QueueConfig holds settings shared by the usage and refund workers
type QueueConfig struct {
	UseRedis     bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// AuditLogConfig holds configuration for the turn audit sink
type AuditLogConfig struct {
	Enabled       bool
	QueueKey      string        // Redis list used as buffer
	MaxBuffered   int64         // older records are dropped past this size
	FlushSize     int           // flush to S3 after this many records
	FlushInterval time.Duration // flush to S3 after this duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables. A .env file in the
// working directory, or the files named in envFiles, is loaded first when
// present; variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "8080"),
		JWTSecret: []byte(getEnvString("JWT_ACCESS_TOKEN_SECRET", "supersecretkey")),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			ModelCacheSize: getEnvInt("CACHE_MODEL_SIZE", 200),
			ModelCacheTTL:  getEnvDuration("CACHE_MODEL_TTL", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Upstream: UpstreamConfig{
			OpenAIAPIKey:  getEnvString("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			GeminiAPIKey:  getEnvString("GEMINI_API_KEY", ""),
			Timeout:       getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Minute),
			TitleModel:    getEnvString("TITLE_MODEL", "gpt-4.1-nano"),
			TitleTimeout:  getEnvDuration("TITLE_TIMEOUT", 15*time.Second),
		},
		Relay: RelayConfig{
			KeepAliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 15*time.Second),
			WarnRatio:         getEnvFloat("CONTEXT_WARN_RATIO", 0.80),
			DefaultEncoding:   getEnvString("DEFAULT_ENCODING", "cl100k_base"),
			LockTTL:           getEnvDuration("CONVERSATION_LOCK_TTL", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		},
		Images: ImageConfig{
			Dir:      getEnvString("IMAGE_DIR", "/app/images"),
			S3Bucket: getEnvString("IMAGE_S3_BUCKET", ""),
			S3Region: getEnvString("IMAGE_S3_REGION", "us-east-1"),
			S3Prefix: getEnvString("IMAGE_S3_PREFIX", "images/"),
			TTL:      getEnvDuration("IMAGE_TTL", 48*time.Hour),
		},
		Queue: QueueConfig{
			UseRedis:     getEnvBool("QUEUE_USE_REDIS", true),
			BatchSize:    getEnvInt("QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		AuditLog: AuditLogConfig{
			Enabled:       getEnvBool("AUDIT_LOG_ENABLED", false),
			QueueKey:      getEnvString("AUDIT_LOG_QUEUE_KEY", "relay:turns"),
			MaxBuffered:   getEnvInt64("AUDIT_LOG_MAX_BUFFERED", 100_000),
			FlushSize:     getEnvInt("AUDIT_LOG_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("AUDIT_LOG_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("AUDIT_LOG_S3_BUCKET", ""),
			S3Region:      getEnvString("AUDIT_LOG_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("AUDIT_LOG_S3_PREFIX", "turns/"),
			PodName:       getEnvString("POD_NAME", "relay-0"),
		},
	}

	if cfg.Relay.WarnRatio <= 0 || cfg.Relay.WarnRatio > 1 {
		return nil, fmt.Errorf("CONTEXT_WARN_RATIO must be in (0, 1], got %v", cfg.Relay.WarnRatio)
	}

	return cfg, nil
}
