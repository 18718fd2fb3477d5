package apikit

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of an apikit server.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Paging   PagingConfig   `yaml:"paging" json:"paging"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Log      LogConfig      `yaml:"log" json:"log"`
	API      APIConfig      `yaml:"api" json:"api"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// TrustedProxies are the proxy IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	URL  string     `yaml:"url" json:"-"`
	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// AuthConfig configures tokens and password hashing.
type AuthConfig struct {
	JWT        TokenConfig `yaml:"jwt" json:"jwt"`
	BcryptCost int         `yaml:"bcrypt_cost" json:"bcrypt_cost"`
}

// APIConfig points at the API used by APIClient.
type APIConfig struct {
	URL string `yaml:"url" json:"url"`
}

// DefaultConfig returns the configuration used before the file and environment apply.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    DefaultMaxBodyBytes,
		},
		Database: DatabaseConfig{
			Pool: DefaultPoolConfig(),
		},
		Auth: AuthConfig{
			JWT: TokenConfig{
				Algorithm: "HS256",
				ExpiresIn: 24 * time.Hour,
				Issuer:    "apikit",
			},
			BcryptCost: bcrypt.DefaultCost,
		},
		Paging: NewPagingConfig(),
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Namespace: "apikit",
		},
	}
}

// LoadConfig loads configuration from file with environment variable overrides.
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadConfigEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func loadConfigEnv(cfg *Config) error {
	if addr := os.Getenv("APIKIT_SERVER_ADDRESS"); addr != "" {
		cfg.Server.Address = addr
	}
	if proxies := os.Getenv("APIKIT_TRUSTED_PROXIES"); proxies != "" {
		cfg.Server.TrustedProxies = strings.Split(proxies, ",")
		for i, p := range cfg.Server.TrustedProxies {
			cfg.Server.TrustedProxies[i] = strings.TrimSpace(p)
		}
	}
	if limit := os.Getenv("APIKIT_MAX_BODY_BYTES"); limit != "" {
		n, err := strconv.ParseInt(limit, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid APIKIT_MAX_BODY_BYTES: %w", err)
		}
		cfg.Server.MaxBodyBytes = n
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("APIKIT_DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWT.Secret = secret
	}
	if secret := os.Getenv("APIKIT_JWT_SECRET"); secret != "" {
		cfg.Auth.JWT.Secret = secret
	}
	if expires := os.Getenv("APIKIT_JWT_EXPIRES_IN"); expires != "" {
		d, err := time.ParseDuration(expires)
		if err != nil {
			return fmt.Errorf("invalid APIKIT_JWT_EXPIRES_IN: %w", err)
		}
		cfg.Auth.JWT.ExpiresIn = d
	}
	if cost := os.Getenv("APIKIT_BCRYPT_COST"); cost != "" {
		n, err := strconv.Atoi(cost)
		if err != nil {
			return fmt.Errorf("invalid APIKIT_BCRYPT_COST: %w", err)
		}
		cfg.Auth.BcryptCost = n
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Address = addr
	}
	if addr := os.Getenv("APIKIT_REDIS_ADDRESS"); addr != "" {
		cfg.Redis.Address = addr
	}
	if password := os.Getenv("APIKIT_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if url := os.Getenv("API_URL"); url != "" {
		cfg.API.URL = url
	}

	if level := os.Getenv("APIKIT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if encoding := os.Getenv("APIKIT_LOG_ENCODING"); encoding != "" {
		cfg.Log.Encoding = encoding
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.JWT.ExpiresIn < 0 {
		return fmt.Errorf("JWT expiration cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Encoding != "" && c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return fmt.Errorf("invalid log encoding: %s", c.Log.Encoding)
	}

	if c.Paging.MaxLimit > 0 && c.Paging.DefaultLimit > c.Paging.MaxLimit {
		return fmt.Errorf("default page limit %d exceeds max limit %d", c.Paging.DefaultLimit, c.Paging.MaxLimit)
	}
	return nil
}
