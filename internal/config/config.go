package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        int
	Database    DatabaseConfig
	JWTSecret   string
	Environment string
	CORSOrigins []string
	ServiceM8   ServiceM8Config
	Tokens      TokenConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// ServiceM8Config holds the OAuth client registration for the ServiceM8 provider
type ServiceM8Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
}

// TokenConfig holds token storage and refresh settings
type TokenConfig struct {
	// EncryptionKey is the server-held secret the codec derives its cipher key from.
	EncryptionKey string
	// ExpiryBuffer is subtracted from a token's expiry so refresh happens before
	// the token actually expires mid-flight of a consumer's API call.
	ExpiryBuffer time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	env := getEnv("ENVIRONMENT", "production")

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Environment: env,
		CORSOrigins: loadCORSOrigins(env),
		ServiceM8: ServiceM8Config{
			ClientID:     os.Getenv("CLIENT_ID"),
			ClientSecret: os.Getenv("CLIENT_SECRET"),
			RedirectURI:  os.Getenv("REDIRECT_URI"),
			AuthURL:      getEnv("SERVICEM8_AUTH_URL", "https://go.servicem8.com/oauth/authorize"),
			TokenURL:     getEnv("SERVICEM8_TOKEN_URL", "https://go.servicem8.com/oauth/access_token"),
		},
		Tokens: TokenConfig{
			EncryptionKey: os.Getenv("TOKEN_ENCRYPTION_KEY"),
			ExpiryBuffer:  time.Duration(getEnvInt("EXPIRY_BUFFER_SECONDS", 60)) * time.Second,
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "integrations")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "integrations")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration. Missing provider credentials or the
// token encryption key are startup failures, never per-request failures.
func (c *Config) Validate() error {
	if c.ServiceM8.ClientID == "" {
		return fmt.Errorf("CLIENT_ID environment variable is required")
	}
	if c.ServiceM8.ClientSecret == "" {
		return fmt.Errorf("CLIENT_SECRET environment variable is required")
	}
	if c.ServiceM8.RedirectURI == "" {
		return fmt.Errorf("REDIRECT_URI environment variable is required")
	}
	if c.Tokens.EncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY environment variable is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.Environment == "production" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	if c.Tokens.ExpiryBuffer < 0 {
		return fmt.Errorf("EXPIRY_BUFFER_SECONDS must not be negative")
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}

	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	return nil
}

func loadCORSOrigins(env string) []string {
	if appURL := getAppURL(); appURL != "" {
		return []string{appURL}
	}

	// Default origins based on environment
	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}

	// In production, require explicit CORS configuration
	log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	log.Println("WARNING: Set APP_URL environment variable for production deployments.")
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getAppURL() string {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/")
}
