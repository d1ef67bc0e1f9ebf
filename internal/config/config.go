// Package config centralizes how ChunkDrop reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration shared by the server, the worker
// and the CLI.
type Config struct {
	Address     string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	S3Region      string
	Bucket        string
	PublicURLBase string

	MultipartThreshold int64
	DefaultChunkSize   int64
	MinChunkSize       int64
	MaxChunkSize       int64
	PresignTTL         time.Duration

	SigningSecret []byte
	TokenTTL      time.Duration

	LogLevel  slog.Level
	LogFormat string

	EntityCacheSize int
	EntityCacheTTL  time.Duration

	StaleSessionAge time.Duration
	SweepSpec       string
	ReconcileSpec   string
	ReconcileGrace  time.Duration

	// QuarantinePrefix, when set, keeps a copy of every orphan below this
	// prefix before it is deleted.
	QuarantinePrefix string
	ProcessingPool   int
}

const (
	// 30 << 20 equals 30 * 2^20 bytes.
	defaultMultipartThreshold = 30 << 20
	defaultChunkSize          = 8 << 20
	defaultMinChunkSize       = 5 << 20
	defaultMaxChunkSize       = 512 << 20
	defaultAddress            = ":8080"
	defaultBucket             = "chunkdrop-files"
	defaultPresignTTL         = 15 * time.Minute
	defaultTokenTTL           = 24 * time.Hour
	defaultWorkerCount        = 2
	defaultEntityCacheSize    = 4096
	defaultEntityCacheTTL     = time.Minute
	defaultStaleSessionAge    = 24 * time.Hour
	defaultReconcileGrace     = 48 * time.Hour
)

// Load reads configuration from environment variables falling back to
// defaults. Malformed numeric values fall back to the default; values that
// cannot be corrected (chunk bounds out of order) are reported as errors.
func Load() (*Config, error) {
	cfg := &Config{
		Address:            readEnv("CHUNKDROP_ADDRESS", defaultAddress),
		DatabaseURL:        readEnv("CHUNKDROP_DATABASE_URL", ""),
		RedisAddr:          readEnv("CHUNKDROP_REDIS_ADDR", ""),
		RedisPassword:      readEnv("CHUNKDROP_REDIS_PASSWORD", ""),
		RedisDB:            parseInt("CHUNKDROP_REDIS_DB", 0),
		S3Endpoint:         readEnv("CHUNKDROP_S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:        readEnv("CHUNKDROP_S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        readEnv("CHUNKDROP_S3_SECRET_KEY", "minioadmin"),
		S3UseSSL:           parseBool("CHUNKDROP_S3_USE_SSL", false),
		S3Region:           readEnv("CHUNKDROP_S3_REGION", "us-east-1"),
		Bucket:             readEnv("CHUNKDROP_BUCKET", defaultBucket),
		PublicURLBase:      strings.TrimRight(readEnv("CHUNKDROP_PUBLIC_URL_BASE", ""), "/"),
		MultipartThreshold: parseInt64("CHUNKDROP_MULTIPART_THRESHOLD", defaultMultipartThreshold),
		DefaultChunkSize:   parseInt64("CHUNKDROP_DEFAULT_CHUNK_SIZE", defaultChunkSize),
		MinChunkSize:       parseInt64("CHUNKDROP_MIN_CHUNK_SIZE", defaultMinChunkSize),
		MaxChunkSize:       parseInt64("CHUNKDROP_MAX_CHUNK_SIZE", defaultMaxChunkSize),
		PresignTTL:         parseDuration("CHUNKDROP_PRESIGN_TTL", defaultPresignTTL),
		SigningSecret:      parseSecret("CHUNKDROP_SIGNING_SECRET"),
		TokenTTL:           parseDuration("CHUNKDROP_TOKEN_TTL", defaultTokenTTL),
		LogLevel:           parseLevel("CHUNKDROP_LOG_LEVEL", slog.LevelInfo),
		LogFormat:          readEnv("CHUNKDROP_LOG_FORMAT", "text"),
		EntityCacheSize:    parseInt("CHUNKDROP_ENTITY_CACHE_SIZE", defaultEntityCacheSize),
		EntityCacheTTL:     parseDuration("CHUNKDROP_ENTITY_CACHE_TTL", defaultEntityCacheTTL),
		StaleSessionAge:    parseDuration("CHUNKDROP_STALE_SESSION_AGE", defaultStaleSessionAge),
		SweepSpec:          readEnv("CHUNKDROP_SWEEP_SPEC", "@every 15m"),
		ReconcileSpec:      readEnv("CHUNKDROP_RECONCILE_SPEC", "@every 6h"),
		ReconcileGrace:     parseDuration("CHUNKDROP_RECONCILE_GRACE", defaultReconcileGrace),
		QuarantinePrefix:   readEnv("CHUNKDROP_QUARANTINE_PREFIX", ""),
		ProcessingPool:     parseInt("CHUNKDROP_WORKERS", defaultWorkerCount),
	}
	if cfg.SigningSecret == nil {
		// Tokens minted with a random secret only live as long as the process.
		cfg.SigningSecret = randomSecret()
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = defaultMultipartThreshold
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	if cfg.EntityCacheSize <= 0 {
		cfg.EntityCacheSize = defaultEntityCacheSize
	}
	if cfg.MinChunkSize <= 0 || cfg.MaxChunkSize < cfg.MinChunkSize {
		return nil, fmt.Errorf("invalid chunk bounds: min=%d max=%d", cfg.MinChunkSize, cfg.MaxChunkSize)
	}
	if cfg.DefaultChunkSize < cfg.MinChunkSize || cfg.DefaultChunkSize > cfg.MaxChunkSize {
		return nil, fmt.Errorf("default chunk size %d outside [%d, %d]", cfg.DefaultChunkSize, cfg.MinChunkSize, cfg.MaxChunkSize)
	}
	return cfg, nil
}

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseLevel(key string, def slog.Level) slog.Level {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			return lvl
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
