package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file read before the environment
const ConfigFileEnv = "STORELINK_CONFIG"

// Config holds the application configuration
type Config struct {
	Environment string `yaml:"environment"`
	ServerPort  int    `yaml:"server_port"`
	LogLevel    string `yaml:"log_level"`
	AppURL      string `yaml:"app_url"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIEndpoint  string `yaml:"api_endpoint"`
	LoginURL     string `yaml:"login_url"`
	Scopes       string `yaml:"scopes"`

	SessionSecret string `yaml:"session_secret"`

	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	SQLitePath     string `yaml:"sqlite_path"`

	RedisURL        string `yaml:"redis_url"`
	TracingEndpoint string `yaml:"tracing_endpoint"`

	HTTPTimeoutSeconds      int `yaml:"http_timeout_seconds"`
	PurchaseCacheTTLMinutes int `yaml:"purchase_cache_ttl_minutes"`
	StorefrontRateLimit     int `yaml:"storefront_rate_limit"`
}

// Load reads the optional YAML file named by STORELINK_CONFIG, then
// environment variables, which take precedence
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	overrideString(&cfg.Environment, "ENVIRONMENT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.AppURL, "APP_URL")
	overrideString(&cfg.ClientID, "BC_CLIENT_ID")
	overrideString(&cfg.ClientSecret, "BC_CLIENT_SECRET")
	overrideString(&cfg.APIEndpoint, "BC_API_ENDPOINT")
	overrideString(&cfg.LoginURL, "BC_LOGIN_URL")
	overrideString(&cfg.Scopes, "BC_SCOPES")
	overrideString(&cfg.SessionSecret, "SESSION_SECRET")
	overrideString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.SQLitePath, "SQLITE_PATH")
	overrideString(&cfg.RedisURL, "REDIS_URL")
	overrideString(&cfg.TracingEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	for key, dst := range map[string]*int{
		"SERVER_PORT":                &cfg.ServerPort,
		"HTTP_TIMEOUT_SECONDS":       &cfg.HTTPTimeoutSeconds,
		"PURCHASE_CACHE_TTL_MINUTES": &cfg.PurchaseCacheTTLMinutes,
		"STOREFRONT_RATE_LIMIT":      &cfg.StorefrontRateLimit,
	} {
		if err := overrideInt(dst, key); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Environment:             "development",
		ServerPort:              8080,
		LogLevel:                "info",
		AppURL:                  "http://localhost:8080",
		APIEndpoint:             "https://api.bigcommerce.com",
		LoginURL:                "https://login.bigcommerce.com",
		Scopes:                  "store_v2_products store_v2_orders_read_only",
		DatabaseDriver:          "sqlite",
		SQLitePath:              "data/dev.db",
		HTTPTimeoutSeconds:      10,
		PurchaseCacheTTLMinutes: 15,
		StorefrontRateLimit:     600,
	}
}

// Validate checks required settings. Credentials may be absent in development.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.ServerPort)
	}
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid HTTP_TIMEOUT_SECONDS: %d", c.HTTPTimeoutSeconds)
	}
	if c.PurchaseCacheTTLMinutes <= 0 {
		return fmt.Errorf("invalid PURCHASE_CACHE_TTL_MINUTES: %d", c.PurchaseCacheTTLMinutes)
	}
	if c.IsDevelopment() {
		return nil
	}

	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "BC_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "BC_CLIENT_SECRET")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsDevelopment reports whether the app runs in the development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SecureCookies reports whether the app is served over HTTPS
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.AppURL, "https://")
}

// RedirectURL is the OAuth callback registered with the platform
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.AppURL, "/") + "/auth/bigcommerce/callback"
}

// HTTPTimeout is the timeout for outbound platform calls
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// PurchaseCacheTTL is the purchase history expiry window
func (c *Config) PurchaseCacheTTL() time.Duration {
	return time.Duration(c.PurchaseCacheTTLMinutes) * time.Minute
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func overrideInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
