package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	IdentityProviderHTTP   = "http"
	IdentityProviderMemory = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	Session    SessionConfig
	CORS       CORSConfig
	Log        LogConfig
	Identity   IdentityConfig
	Guest      GuestConfig
	Progress   ProgressConfig
	Queue      QueueConfig
	Backups    BackupsConfig
	Cache      CacheConfig
	Sentry     SentryConfig
	Metrics    MetricsConfig
	Migrations MigrationsConfig
}

type DatabaseConfig struct {
	Path        string
	BusyTimeout time.Duration
	JournalMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// SessionConfig signs the session tokens handed out after reconciliation.
type SessionConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// IdentityConfig selects the remote identity provider and the role allow-lists.
type IdentityConfig struct {
	Provider       string
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	AdminEmails    []string
	TeacherEmails  []string
	TeacherDomains []string
}

// GuestConfig caps anonymous daily consumption per content type.
type GuestConfig struct {
	MaxLessons  int
	MaxReadings int
	MaxQuizzes  int
}

// ProgressConfig tunes gamification rewards.
type ProgressConfig struct {
	XPPerCompletion int
	XPPerLevel      int
}

// QueueConfig governs the offline write queue and its drain runner.
type QueueConfig struct {
	MaxRetries       int
	DrainInterval    time.Duration
	DrainBatchSize   int
	DocumentStoreURL string
	DocumentStoreKey string
	RemoteTimeout    time.Duration
}

// BackupsConfig controls where store snapshots are written and how downloads are signed.
type BackupsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	Retention       time.Duration
}

// CacheConfig toggles the redis-backed identity view cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type SentryConfig struct {
	DSN     string
	Release string
}

type MetricsConfig struct {
	Enabled bool
}

// MigrationsConfig decides whether startup may continue after failed migrations.
type MigrationsConfig struct {
	AllowDegraded bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Path:        v.GetString("DB_PATH"),
		BusyTimeout: parseDuration(v.GetString("DB_BUSY_TIMEOUT"), 5*time.Second),
		JournalMode: v.GetString("DB_JOURNAL_MODE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Session = SessionConfig{
		Secret:     v.GetString("SESSION_SECRET"),
		Expiration: parseDuration(v.GetString("SESSION_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("SESSION_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Identity = IdentityConfig{
		Provider:       strings.ToLower(v.GetString("IDENTITY_PROVIDER")),
		BaseURL:        v.GetString("IDENTITY_BASE_URL"),
		APIKey:         v.GetString("IDENTITY_API_KEY"),
		Timeout:        parseDuration(v.GetString("IDENTITY_TIMEOUT"), 10*time.Second),
		AdminEmails:    splitAndTrim(v.GetString("IDENTITY_ADMIN_EMAILS")),
		TeacherEmails:  splitAndTrim(v.GetString("IDENTITY_TEACHER_EMAILS")),
		TeacherDomains: splitAndTrim(v.GetString("IDENTITY_TEACHER_DOMAINS")),
	}

	cfg.Guest = GuestConfig{
		MaxLessons:  v.GetInt("GUEST_MAX_LESSONS"),
		MaxReadings: v.GetInt("GUEST_MAX_READINGS"),
		MaxQuizzes:  v.GetInt("GUEST_MAX_QUIZZES"),
	}

	cfg.Progress = ProgressConfig{
		XPPerCompletion: v.GetInt("PROGRESS_XP_PER_COMPLETION"),
		XPPerLevel:      v.GetInt("PROGRESS_XP_PER_LEVEL"),
	}

	cfg.Queue = QueueConfig{
		MaxRetries:       v.GetInt("QUEUE_MAX_RETRIES"),
		DrainInterval:    parseDuration(v.GetString("QUEUE_DRAIN_INTERVAL"), time.Minute),
		DrainBatchSize:   v.GetInt("QUEUE_DRAIN_BATCH_SIZE"),
		DocumentStoreURL: v.GetString("DOCUMENT_STORE_URL"),
		DocumentStoreKey: v.GetString("DOCUMENT_STORE_API_KEY"),
		RemoteTimeout:    parseDuration(v.GetString("DOCUMENT_STORE_TIMEOUT"), 10*time.Second),
	}

	cfg.Backups = BackupsConfig{
		StorageDir:      v.GetString("BACKUPS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("BACKUPS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("BACKUPS_SIGNED_URL_TTL"), 30*time.Minute),
		Retention:       parseDuration(v.GetString("BACKUPS_RETENTION"), 30*24*time.Hour),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_IDENTITY_CACHE"),
		TTL:     parseDuration(v.GetString("IDENTITY_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Sentry = SentryConfig{
		DSN:     v.GetString("SENTRY_DSN"),
		Release: v.GetString("SENTRY_RELEASE"),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("ENABLE_METRICS")}

	cfg.Migrations = MigrationsConfig{AllowDegraded: v.GetBool("MIGRATIONS_ALLOW_DEGRADED")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_PATH", "./data/mayegue.db")
	v.SetDefault("DB_BUSY_TIMEOUT", "5s")
	v.SetDefault("DB_JOURNAL_MODE", "WAL")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("SESSION_SECRET", "dev_session_secret")
	v.SetDefault("SESSION_EXPIRATION", "24h")
	v.SetDefault("SESSION_ISSUER", "mayegue-core")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("IDENTITY_PROVIDER", IdentityProviderMemory)
	v.SetDefault("IDENTITY_BASE_URL", "")
	v.SetDefault("IDENTITY_API_KEY", "")
	v.SetDefault("IDENTITY_TIMEOUT", "10s")
	v.SetDefault("IDENTITY_ADMIN_EMAILS", "admin@mayegue.app")
	v.SetDefault("IDENTITY_TEACHER_EMAILS", "")
	v.SetDefault("IDENTITY_TEACHER_DOMAINS", "")

	v.SetDefault("GUEST_MAX_LESSONS", 5)
	v.SetDefault("GUEST_MAX_READINGS", 5)
	v.SetDefault("GUEST_MAX_QUIZZES", 5)

	v.SetDefault("PROGRESS_XP_PER_COMPLETION", 10)
	v.SetDefault("PROGRESS_XP_PER_LEVEL", 100)

	v.SetDefault("QUEUE_MAX_RETRIES", 5)
	v.SetDefault("QUEUE_DRAIN_INTERVAL", "1m")
	v.SetDefault("QUEUE_DRAIN_BATCH_SIZE", 50)
	v.SetDefault("DOCUMENT_STORE_URL", "")
	v.SetDefault("DOCUMENT_STORE_API_KEY", "")
	v.SetDefault("DOCUMENT_STORE_TIMEOUT", "10s")

	v.SetDefault("BACKUPS_STORAGE_DIR", "./backups")
	v.SetDefault("BACKUPS_SIGNED_URL_SECRET", "dev_backups_secret")
	v.SetDefault("BACKUPS_SIGNED_URL_TTL", "30m")
	v.SetDefault("BACKUPS_RETENTION", "720h")

	v.SetDefault("ENABLE_IDENTITY_CACHE", false)
	v.SetDefault("IDENTITY_CACHE_TTL", "5m")

	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("SENTRY_RELEASE", "")
	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("MIGRATIONS_ALLOW_DEGRADED", false)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
