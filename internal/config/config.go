package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Shortener ShortenerConfig
	Security  SecurityConfig
	OTel      OTelConfig
	Clicks    ClicksConfig
}

type AppConfig struct {
	Name     string
	Version  string
	Env      string
	LogLevel string
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Backend string // memory or mongo
}

type MongoDBConfig struct {
	URI      string
	Database string
}

type ShortenerConfig struct {
	BaseURL        string
	SlugLength     int
	RedirectStatus int // 301 or 302
}

type SecurityConfig struct {
	APIKeys     []string
	CORSOrigins []string
	// UnlockAttemptsPerMinute caps unlock attempts per link and client. Zero
	// disables the limit.
	UnlockAttemptsPerMinute int
}

type OTelConfig struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
}

// ClicksConfig controls how the redirect handler hands clicks to the
// recorder. With Async set the handler does not wait for the write.
type ClicksConfig struct {
	Async   bool
	Timeout time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{
		App: AppConfig{
			Name:     GetEnv("APP_NAME", "zurl"),
			Version:  GetEnv("APP_VERSION", "0.1.0"),
			Env:      GetEnv("APP_ENV", "development"),
			LogLevel: GetEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            GetEnv("APP_PORT", "8080"),
			Host:            GetEnv("APP_HOST", "localhost"),
			ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(GetEnv("STORAGE_BACKEND", StorageMongo)),
		},
		MongoDB: MongoDBConfig{
			URI:      GetEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: GetEnv("MONGODB_DATABASE", "zurl"),
		},
		Shortener: ShortenerConfig{
			BaseURL:        strings.TrimRight(GetEnv("SHORTENER_BASE_URL", "http://localhost:8080"), "/"),
			SlugLength:     GetEnvInt("SLUG_LENGTH", 7),
			RedirectStatus: GetEnvInt("REDIRECT_STATUS", 302),
		},
		Security: SecurityConfig{
			APIKeys:                 SplitCSV(GetEnv("API_KEYS", "")),
			CORSOrigins:             SplitCSV(GetEnv("CORS_ALLOWED_ORIGINS", "*")),
			UnlockAttemptsPerMinute: GetEnvInt("UNLOCK_ATTEMPTS_PER_MINUTE", 10),
		},
		OTel: OTelConfig{
			Enabled:     GetEnvBool("OTEL_ENABLED", false),
			Endpoint:    GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			SampleRatio: GetEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Clicks: ClicksConfig{
			Async:   GetEnvBool("CLICKS_ASYNC", true),
			Timeout: GetEnvDuration("CLICKS_TIMEOUT", 2*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Backend != StorageMemory && c.Storage.Backend != StorageMongo {
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q (got %q)", StorageMemory, StorageMongo, c.Storage.Backend)
	}
	if c.Shortener.RedirectStatus != 301 && c.Shortener.RedirectStatus != 302 {
		return fmt.Errorf("REDIRECT_STATUS must be 301 or 302 (got %d)", c.Shortener.RedirectStatus)
	}
	if c.Security.UnlockAttemptsPerMinute < 0 {
		return fmt.Errorf("UNLOCK_ATTEMPTS_PER_MINUTE must be >= 0 (got %d)", c.Security.UnlockAttemptsPerMinute)
	}
	if c.Shortener.SlugLength < 4 || c.Shortener.SlugLength > 32 {
		return fmt.Errorf("SLUG_LENGTH must be between 4 and 32 (got %d)", c.Shortener.SlugLength)
	}
	if c.Clicks.Timeout <= 0 {
		return fmt.Errorf("CLICKS_TIMEOUT must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.Storage.Backend == StorageMongo && strings.TrimSpace(c.MongoDB.Database) == "" {
		return fmt.Errorf("MONGODB_DATABASE must not be empty")
	}
	return nil
}
