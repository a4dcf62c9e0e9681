// Package config loads settings for the store gateway and the terminal
// client: defaults, then an optional YAML or TOML file, then environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	FeedPostgres = "postgres"
	FeedRedis    = "redis"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	// Gateway
	ServerPort     string        `yaml:"server_port" toml:"server_port"`
	DBHost         string        `yaml:"db_host" toml:"db_host"`
	DBPort         string        `yaml:"db_port" toml:"db_port"`
	DBUser         string        `yaml:"db_user" toml:"db_user"`
	DBPassword     string        `yaml:"db_password" toml:"db_password"`
	DBName         string        `yaml:"db_name" toml:"db_name"`
	DatabaseURL    string        `yaml:"database_url" toml:"database_url"`
	RedisURL       string        `yaml:"redis_url" toml:"redis_url"`
	StoreDriver    string        `yaml:"store_driver" toml:"store_driver"`
	FeedDriver     string        `yaml:"feed_driver" toml:"feed_driver"`
	JWTSecret      string        `yaml:"jwt_secret" toml:"jwt_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" toml:"access_token_ttl"`
	SendRate       float64       `yaml:"send_rate" toml:"send_rate"`
	SendBurst      int           `yaml:"send_burst" toml:"send_burst"`

	// ID token verification
	IDTokenSecret   string `yaml:"id_token_secret" toml:"id_token_secret"`
	IDTokenJWKSURL  string `yaml:"id_token_jwks_url" toml:"id_token_jwks_url"`
	IDTokenIssuer   string `yaml:"id_token_issuer" toml:"id_token_issuer"`
	IDTokenAudience string `yaml:"id_token_audience" toml:"id_token_audience"`

	// Client
	GatewayURL   string `yaml:"gateway_url" toml:"gateway_url"`
	HistoryLimit int    `yaml:"history_limit" toml:"history_limit"`
	Reconnect    bool   `yaml:"reconnect" toml:"reconnect"`
	Timezone     string `yaml:"timezone" toml:"timezone"`
	DateLayout   string `yaml:"date_layout" toml:"date_layout"`

	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`
}

// LoadDefaults fills development defaults. Secrets must be overridden in
// production.
func (c *Config) LoadDefaults() {
	c.ServerPort = "8080"
	c.DBHost = "localhost"
	c.DBPort = "5432"
	c.DBUser = "chatspace"
	c.DBPassword = "chatspace_dev_password"
	c.DBName = "chatspace"
	c.RedisURL = "localhost:6379"
	c.StoreDriver = StorePostgres
	c.FeedDriver = FeedPostgres
	c.JWTSecret = "dev-secret-change-me"
	c.AccessTokenTTL = 24 * time.Hour
	c.SendRate = 5
	c.SendBurst = 10
	c.IDTokenSecret = "dev-id-token-secret"
	c.GatewayURL = "http://localhost:8080"
	c.HistoryLimit = 100
	c.Timezone = "Local"
	c.DateLayout = "1/2/2006"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// Load applies defaults, overlays the file at path (skipped when path is
// empty) and then environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		return fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) loadEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.StoreDriver = getEnv("CHATSPACE_STORE_DRIVER", c.StoreDriver)
	c.FeedDriver = getEnv("CHATSPACE_FEED_DRIVER", c.FeedDriver)
	c.IDTokenSecret = getEnv("CHATSPACE_ID_TOKEN_SECRET", c.IDTokenSecret)
	c.IDTokenJWKSURL = getEnv("CHATSPACE_ID_TOKEN_JWKS_URL", c.IDTokenJWKSURL)
	c.IDTokenIssuer = getEnv("CHATSPACE_ID_TOKEN_ISSUER", c.IDTokenIssuer)
	c.IDTokenAudience = getEnv("CHATSPACE_ID_TOKEN_AUDIENCE", c.IDTokenAudience)
	c.GatewayURL = getEnv("CHATSPACE_GATEWAY_URL", c.GatewayURL)
	c.Timezone = getEnv("CHATSPACE_TIMEZONE", c.Timezone)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	if v, ok := os.LookupEnv("CHATSPACE_HISTORY_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.HistoryLimit = n
		}
	}
	if v, ok := os.LookupEnv("CHATSPACE_RECONNECT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Reconnect = b
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("config: store_driver must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver))
	}
	if c.FeedDriver != FeedPostgres && c.FeedDriver != FeedRedis {
		errs = append(errs, fmt.Errorf("config: feed_driver must be %q or %q, got %q", FeedPostgres, FeedRedis, c.FeedDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("config: jwt_secret is required"))
	}
	if c.IDTokenSecret == "" && c.IDTokenJWKSURL == "" {
		errs = append(errs, errors.New("config: id_token_secret or id_token_jwks_url is required"))
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > 100 {
		errs = append(errs, fmt.Errorf("config: history_limit must be in 1..100, got %d", c.HistoryLimit))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("config: timezone: %w", err))
	}
	return errors.Join(errs...)
}

// DatabaseDSN returns DatabaseURL when set, otherwise a DSN built from the
// DB_* parts.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// Location resolves Timezone; "" and "Local" mean the process timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}
