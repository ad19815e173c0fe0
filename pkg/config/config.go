package config

import (
	"errors"
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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Anthropic AnthropicConfig
	Storage   StorageConfig
	Reports   ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AnthropicConfig parameterises the narrative generation endpoint.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// StorageConfig configures the S3 object store gateway.
type StorageConfig struct {
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	TemplatePrefix    string
	TemplateFilename  string
	PresignTTL        time.Duration
	AllowedExtensions []string
	TempDir           string
}

// ReportsConfig configures pipeline runs and download tokens.
type ReportsConfig struct {
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	QueueBuffer       int
	ProgressTTL       time.Duration
	ListCacheTTL      time.Duration
	MaxUploadBytes    int64
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Anthropic = AnthropicConfig{
		APIKey:      v.GetString("ANTHROPIC_API_KEY"),
		Model:       v.GetString("ANTHROPIC_MODEL"),
		Temperature: v.GetFloat64("ANTHROPIC_TEMPERATURE"),
		MaxTokens:   v.GetInt("ANTHROPIC_MAX_TOKENS"),
		Timeout:     parseDuration(v.GetString("ANTHROPIC_TIMEOUT"), 2*time.Minute),
	}

	cfg.Storage = StorageConfig{
		Endpoint:          v.GetString("S3_ENDPOINT"),
		Region:            v.GetString("S3_REGION"),
		Bucket:            v.GetString("S3_BUCKET"),
		AccessKey:         v.GetString("S3_ACCESS_KEY"),
		SecretKey:         v.GetString("S3_SECRET_KEY"),
		UseSSL:            v.GetBool("S3_USE_SSL"),
		TemplatePrefix:    v.GetString("S3_TEMPLATE_PREFIX"),
		TemplateFilename:  v.GetString("S3_TEMPLATE_FILENAME"),
		PresignTTL:        parseDuration(v.GetString("S3_PRESIGN_TTL"), time.Hour),
		AllowedExtensions: splitAndTrim(v.GetString("STORAGE_ALLOWED_EXTENSIONS")),
		TempDir:           v.GetString("STORAGE_TEMP_DIR"),
	}

	cfg.Reports = ReportsConfig{
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		QueueBuffer:       v.GetInt("REPORTS_QUEUE_BUFFER"),
		ProgressTTL:       parseDuration(v.GetString("REPORTS_PROGRESS_TTL"), 30*time.Minute),
		ListCacheTTL:      parseDuration(v.GetString("REPORTS_LIST_CACHE_TTL"), time.Minute),
		MaxUploadBytes:    v.GetInt64("REPORTS_MAX_UPLOAD_BYTES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "homegroup_reports")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("ANTHROPIC_MODEL", "claude-3-opus-20240229")
	v.SetDefault("ANTHROPIC_TEMPERATURE", 0.4)
	v.SetDefault("ANTHROPIC_MAX_TOKENS", 2048)
	v.SetDefault("ANTHROPIC_TIMEOUT", "2m")

	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_REGION", "ap-southeast-2")
	v.SetDefault("S3_BUCKET", "uploads")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("S3_TEMPLATE_PREFIX", "templates")
	v.SetDefault("S3_TEMPLATE_FILENAME", "template_student_data.xlsx")
	v.SetDefault("S3_PRESIGN_TTL", "1h")
	v.SetDefault("STORAGE_ALLOWED_EXTENSIONS", ".pdf,.docx,.doc,.txt,.xlsx,.xls,.csv")
	v.SetDefault("STORAGE_TEMP_DIR", "")

	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_QUEUE_BUFFER", 16)
	v.SetDefault("REPORTS_PROGRESS_TTL", "30m")
	v.SetDefault("REPORTS_LIST_CACHE_TTL", "1m")
	v.SetDefault("REPORTS_MAX_UPLOAD_BYTES", 10*1024*1024)
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
