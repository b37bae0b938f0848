package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendFirestore = "firestore"
	BackendRedis     = "redis"
	BackendSQL       = "sql"

	MinPollInterval = 250 * time.Millisecond
	MaxPollInterval = 30 * time.Second
)

type Config struct {
	ServerPort     string
	Environment    string
	AllowedOrigins []string

	FirebaseProject            string
	FirebaseServiceAccountJSON string
	FirebaseServiceAccountPath string

	ChatBackend      string
	DirectoryBackend string

	RedisURL       string
	DatabaseDriver string
	DatabaseDSN    string

	SyncPollInterval  time.Duration
	SnowflakeNode     int64
	SendRatePerMinute int
	HTTPRatePerSecond float64
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		ServerPort:                 v.GetString("SERVER_PORT"),
		Environment:                v.GetString("ENVIRONMENT"),
		AllowedOrigins:             splitList(v.GetString("ALLOWED_ORIGINS")),
		FirebaseProject:            v.GetString("FIREBASE_PROJECT_ID"),
		FirebaseServiceAccountJSON: v.GetString("FIREBASE_SERVICE_ACCOUNT_JSON"),
		FirebaseServiceAccountPath: v.GetString("FIREBASE_SERVICE_ACCOUNT_PATH"),
		ChatBackend:                strings.ToLower(v.GetString("CHAT_BACKEND")),
		DirectoryBackend:           strings.ToLower(v.GetString("DIRECTORY_BACKEND")),
		RedisURL:                   v.GetString("REDIS_URL"),
		DatabaseDriver:             v.GetString("DATABASE_DRIVER"),
		DatabaseDSN:                v.GetString("DATABASE_DSN"),
		SyncPollInterval:           ClampPollInterval(v.GetDuration("SYNC_POLL_INTERVAL")),
		SnowflakeNode:              v.GetInt64("SNOWFLAKE_NODE"),
		SendRatePerMinute:          v.GetInt("SEND_RATE_PER_MINUTE"),
		HTTPRatePerSecond:          v.GetFloat64("HTTP_RATE_PER_SECOND"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_SERVICE_ACCOUNT_JSON", "")
	v.SetDefault("FIREBASE_SERVICE_ACCOUNT_PATH", "./firebase-service-account.json")
	v.SetDefault("CHAT_BACKEND", BackendFirestore)
	v.SetDefault("DIRECTORY_BACKEND", BackendFirestore)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "file:tutorchat.db")
	v.SetDefault("SYNC_POLL_INTERVAL", 2*time.Second)
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("SEND_RATE_PER_MINUTE", 30)
	v.SetDefault("HTTP_RATE_PER_SECOND", 20)
}

func (c *Config) validate() error {
	switch c.ChatBackend {
	case BackendFirestore, BackendRedis, BackendSQL:
	default:
		return fmt.Errorf("unsupported CHAT_BACKEND %q", c.ChatBackend)
	}
	switch c.DirectoryBackend {
	case BackendFirestore, BackendSQL:
	default:
		return fmt.Errorf("unsupported DIRECTORY_BACKEND %q", c.DirectoryBackend)
	}
	// Authentication always goes through Firebase, whatever the chat backend.
	if c.FirebaseProject == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}
	if c.SendRatePerMinute <= 0 {
		return fmt.Errorf("SEND_RATE_PER_MINUTE must be positive")
	}
	return nil
}

func (c *Config) UsesSQL() bool {
	return c.ChatBackend == BackendSQL || c.DirectoryBackend == BackendSQL
}

func (c *Config) UsesFirestore() bool {
	return c.ChatBackend == BackendFirestore || c.DirectoryBackend == BackendFirestore
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ClampPollInterval bounds the SQL change-feed polling interval.
func ClampPollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 2 * time.Second
	}
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
