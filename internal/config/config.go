package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

type Config struct {
	// Discord Bot
	DiscordToken string

	// Discord OAuth2
	DiscordClientID     string
	DiscordClientSecret string
	DiscordRedirectURI  string

	// Ledger storage
	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	// Expense entry sessions
	SessionStore string
	RedisURL     string
	SessionTTL   time.Duration

	// Logging
	LogLevel       string
	LogDevelopment bool

	// Web Server
	WebBind      string
	WebUIBaseURL string

	// Session
	JWTSecret string
}

// APIEnabled reports whether the OAuth settings needed by the web API are present.
func (c *Config) APIEnabled() bool {
	return c.DiscordClientID != "" && c.DiscordClientSecret != ""
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		DiscordToken:        getenv("DISCORD_TOKEN"),
		StoreDriver:         strings.ToLower(get("STORE_DRIVER", StoreSQLite)),
		DatabaseURL:         getenv("DATABASE_URL"),
		SQLitePath:          get("SQLITE_PATH", "warikan.db"),
		SessionStore:        strings.ToLower(get("SESSION_STORE", SessionMemory)),
		RedisURL:            get("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:            getenv("LOG_LEVEL"),
		LogDevelopment:      get("APP_ENV", "production") == "development",
		WebBind:             get("WEB_BIND", "0.0.0.0:3000"),
		DiscordClientID:     getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: getenv("DISCORD_CLIENT_SECRET"),
		DiscordRedirectURI:  get("DISCORD_REDIRECT_URI", "http://localhost:3000/api/auth/callback"),
		JWTSecret:           get("JWT_SECRET", "dev-only-change-me"),
	}

	ttl, err := time.ParseDuration(get("SESSION_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	cfg.SessionTTL = ttl

	// Extract base URL from redirect URI
	cfg.WebUIBaseURL = extractBaseURL(cfg.DiscordRedirectURI)

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	switch cfg.StoreDriver {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreSQLite, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.SessionStore {
	case SessionMemory, SessionRedis:
	default:
		return nil, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}
	if cfg.DiscordClientID != "" && cfg.DiscordClientSecret == "" {
		return nil, fmt.Errorf("DISCORD_CLIENT_SECRET is required when DISCORD_CLIENT_ID is set")
	}

	return cfg, nil
}

func extractBaseURL(redirectURI string) string {
	// e.g., "http://localhost:3000/api/auth/callback" -> "http://localhost:3000"
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "http://localhost:3000"
	}

	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
}
