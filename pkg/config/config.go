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

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Auth           AuthConfig
	CORS           CORSConfig
	Log            LogConfig
	Realtime       RealtimeConfig
	Recommendation RecommendationConfig
	Invitations    InvitationConfig
	Messages       MessageConfig
	Exports        ExportsConfig
	Snowflake      SnowflakeConfig
	Catalog        CatalogConfig
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// AuthConfig controls login lockout bookkeeping.
type AuthConfig struct {
	MaxFailedLogins int
	LockoutDuration time.Duration
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// RealtimeConfig tunes the websocket hub and cross-instance fan-out.
type RealtimeConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	UseRedis       bool
	RedisChannel   string
}

// RecommendationConfig points at the external scoring service.
type RecommendationConfig struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
	Limit    int
}

// InvitationConfig sets the response window given to invitees.
type InvitationConfig struct {
	TTL time.Duration
}

type MessageConfig struct {
	MaxLength       int
	DefaultPageSize int
	MaxPageSize     int
}

// ExportsConfig configures asynchronous transcript exports.
type ExportsConfig struct {
	Enabled           bool
	Driver            string
	StorageDir        string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupSchedule   string
	WorkerConcurrency int
	WorkerRetries     int
}

type SnowflakeConfig struct {
	Node int64
}

// CatalogConfig governs cache behaviour for catalog lookups.
type CatalogConfig struct {
	CacheTTL time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		URL:             v.GetString("DATABASE_URL"),
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		ApplicationName: v.GetString("DB_APPLICATION_NAME"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnMaxIdleTime: parseDuration(v.GetString("DB_CONN_MAX_IDLE_TIME"), 30*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.Auth = AuthConfig{
		MaxFailedLogins: v.GetInt("AUTH_MAX_FAILED_LOGINS"),
		LockoutDuration: parseDuration(v.GetString("AUTH_LOCKOUT_DURATION"), 15*time.Minute),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins:   splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		AllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
		MaxAge:           parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Realtime = RealtimeConfig{
		PingInterval:   parseDuration(v.GetString("REALTIME_PING_INTERVAL"), 25*time.Second),
		PongWait:       parseDuration(v.GetString("REALTIME_PONG_WAIT"), 60*time.Second),
		WriteTimeout:   parseDuration(v.GetString("REALTIME_WRITE_TIMEOUT"), 10*time.Second),
		SendBuffer:     v.GetInt("REALTIME_SEND_BUFFER"),
		MaxMessageSize: v.GetInt64("REALTIME_MAX_MESSAGE_SIZE"),
		UseRedis:       v.GetBool("REALTIME_USE_REDIS"),
		RedisChannel:   v.GetString("REALTIME_REDIS_CHANNEL"),
	}

	cfg.Recommendation = RecommendationConfig{
		Enabled:  v.GetBool("ENABLE_RECOMMENDATIONS"),
		BaseURL:  strings.TrimRight(v.GetString("RECOMMENDATION_BASE_URL"), "/"),
		APIKey:   v.GetString("RECOMMENDATION_API_KEY"),
		Timeout:  parseDuration(v.GetString("RECOMMENDATION_TIMEOUT"), 3*time.Second),
		CacheTTL: parseDuration(v.GetString("RECOMMENDATION_CACHE_TTL"), 10*time.Minute),
		Limit:    v.GetInt("RECOMMENDATION_LIMIT"),
	}

	cfg.Invitations = InvitationConfig{
		TTL: parseDuration(v.GetString("INVITATION_TTL"), 72*time.Hour),
	}

	cfg.Messages = MessageConfig{
		MaxLength:       v.GetInt("MESSAGE_MAX_LENGTH"),
		DefaultPageSize: v.GetInt("MESSAGE_PAGE_SIZE"),
		MaxPageSize:     v.GetInt("MESSAGE_MAX_PAGE_SIZE"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:           v.GetBool("ENABLE_EXPORTS"),
		Driver:            strings.ToLower(v.GetString("EXPORTS_DRIVER")),
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		S3Bucket:          v.GetString("EXPORTS_S3_BUCKET"),
		S3Region:          v.GetString("EXPORTS_S3_REGION"),
		S3Endpoint:        v.GetString("EXPORTS_S3_ENDPOINT"),
		S3Prefix:          v.GetString("EXPORTS_S3_PREFIX"),
		SignedURLSecret:   v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupSchedule:   v.GetString("EXPORTS_CLEANUP_SCHEDULE"),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
	}

	cfg.Snowflake = SnowflakeConfig{Node: v.GetInt64("SNOWFLAKE_NODE")}

	cfg.Catalog = CatalogConfig{
		CacheTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 30*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "studyhub")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_APPLICATION_NAME", "studyhub-api")
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "30m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("AUTH_MAX_FAILED_LOGINS", 5)
	v.SetDefault("AUTH_LOCKOUT_DURATION", "15m")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("CORS_ALLOW_CREDENTIALS", true)
	v.SetDefault("CORS_MAX_AGE", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REALTIME_PING_INTERVAL", "25s")
	v.SetDefault("REALTIME_PONG_WAIT", "60s")
	v.SetDefault("REALTIME_WRITE_TIMEOUT", "10s")
	v.SetDefault("REALTIME_SEND_BUFFER", 64)
	v.SetDefault("REALTIME_MAX_MESSAGE_SIZE", 8192)
	v.SetDefault("REALTIME_USE_REDIS", false)
	v.SetDefault("REALTIME_REDIS_CHANNEL", "studyhub:realtime")

	v.SetDefault("ENABLE_RECOMMENDATIONS", false)
	v.SetDefault("RECOMMENDATION_BASE_URL", "http://localhost:8000")
	v.SetDefault("RECOMMENDATION_API_KEY", "")
	v.SetDefault("RECOMMENDATION_TIMEOUT", "3s")
	v.SetDefault("RECOMMENDATION_CACHE_TTL", "10m")
	v.SetDefault("RECOMMENDATION_LIMIT", 10)

	v.SetDefault("INVITATION_TTL", "72h")

	v.SetDefault("MESSAGE_MAX_LENGTH", 4000)
	v.SetDefault("MESSAGE_PAGE_SIZE", 50)
	v.SetDefault("MESSAGE_MAX_PAGE_SIZE", 200)

	v.SetDefault("ENABLE_EXPORTS", false)
	v.SetDefault("EXPORTS_DRIVER", "local")
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_S3_BUCKET", "")
	v.SetDefault("EXPORTS_S3_REGION", "ap-southeast-1")
	v.SetDefault("EXPORTS_S3_ENDPOINT", "")
	v.SetDefault("EXPORTS_S3_PREFIX", "exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_SCHEDULE", "@every 1h")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)

	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("CATALOG_CACHE_TTL", "30m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
