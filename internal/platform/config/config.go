package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Server captures process level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogFormat       string
	LogLevel        string
	ShutdownTimeout time.Duration

	JWTSigningKey  string
	JWTIssuer      string
	JWTAudience    string
	AdminToken     string
	// AdminTokenHash is a bcrypt hash of the admin token; see pipctl admin-token.
	AdminTokenHash string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Screening   ScreeningConfig
	RateLimit   RateLimitConfig
}

// RedisConfig configures the shared Redis client. An empty URL disables
// Redis; the token index snapshot and progress tracker fall back to memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. No brokers means audit
// events stay in the outbox table.
type KafkaConfig struct {
	Brokers       []string
	TopicPrefix   string
	RelayInterval time.Duration
	RelayBatch    int
}

// ScreeningConfig tunes bulk screening and the corpus token index.
type ScreeningConfig struct {
	BulkConcurrency  int
	Suggestions      int
	TokenIndexMaxAge time.Duration
	ProgressTTL      time.Duration
}

// RateLimitConfig sets per-caller request budgets for the authenticated
// routes. A zero budget leaves that class unlimited.
type RateLimitConfig struct {
	Disabled bool
	Window   time.Duration
	Search   int
	Bulk     int
	Write    int
}

// IsProduction reports whether dev defaults must be refused.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// Validate rejects configurations that are unsafe to serve.
func (s Server) Validate() error {
	if s.IsProduction() && s.JWTSigningKey == devSigningKey {
		return errors.New("JWT_SIGNING_KEY must be set in production")
	}
	if s.Screening.BulkConcurrency < 1 {
		return fmt.Errorf("BULK_CONCURRENCY must be positive, got %d", s.Screening.BulkConcurrency)
	}
	return nil
}

// Load reads a .env file when present and then builds the config from the
// environment. Variables already set in the environment win over the file.
func Load(files ...string) (Server, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Server{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg, err := FromEnv()
	if err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	e := &envReader{}
	cfg := Server{
		Addr:            e.str("PIPSCREEN_ADDR", ":8080"),
		Environment:     e.str("ENVIRONMENT", "development"),
		LogFormat:       e.str("LOG_FORMAT", ""),
		LogLevel:        e.str("LOG_LEVEL", "info"),
		ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),

		// Use a default for development - should be overridden in production
		JWTSigningKey:  e.str("JWT_SIGNING_KEY", devSigningKey),
		JWTIssuer:      e.str("JWT_ISSUER", "pipscreen"),
		JWTAudience:    e.str("JWT_AUDIENCE", "pipscreen-api"),
		AdminToken:     e.str("ADMIN_API_TOKEN", ""),
		AdminTokenHash: e.str("ADMIN_API_TOKEN_HASH", ""),

		DatabaseURL: e.str("DATABASE_URL", ""),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       e.list("KAFKA_BROKERS"),
			TopicPrefix:   e.str("KAFKA_TOPIC_PREFIX", "pipscreen.audit"),
			RelayInterval: e.duration("AUDIT_RELAY_INTERVAL", 2*time.Second),
			RelayBatch:    e.int("AUDIT_RELAY_BATCH", 100),
		},
		Screening: ScreeningConfig{
			BulkConcurrency:  e.int("BULK_CONCURRENCY", 8),
			Suggestions:      e.int("BULK_SUGGESTIONS", 3),
			TokenIndexMaxAge: e.duration("TOKEN_INDEX_MAX_AGE", 10*time.Minute),
			ProgressTTL:      e.duration("BULK_PROGRESS_TTL", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Disabled: e.bool("RATE_LIMIT_DISABLED", false),
			Window:   e.duration("RATE_LIMIT_WINDOW", time.Minute),
			Search:   e.int("RATE_LIMIT_SEARCH", 120),
			Bulk:     e.int("RATE_LIMIT_BULK", 10),
			Write:    e.int("RATE_LIMIT_WRITE", 60),
		},
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	return cfg, errors.Join(e.errs...)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *envReader) bool(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *envReader) list(key string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
