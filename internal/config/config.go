package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Session  SessionConfig  `mapstructure:"session"`
	Log      LogConfig      `mapstructure:"log"`
	Display  DisplayConfig  `mapstructure:"display"`
	Server   ServerConfig   `mapstructure:"server"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OTP      OTPConfig      `mapstructure:"otp"`
}

// APIConfig describes the remote finance API the client talks to.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	LoginPath string        `mapstructure:"login_path"`
}

// SessionConfig selects where session credentials are persisted.
type SessionConfig struct {
	Store           string        `mapstructure:"store"`
	File            string        `mapstructure:"file"`
	Profile         string        `mapstructure:"profile"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DisplayConfig controls how the CLI renders amounts.
type DisplayConfig struct {
	Currency string `mapstructure:"currency"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DynamoDBConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	TableName string `mapstructure:"table_name"`
}

type RedisConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	AccessExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshExpiry time.Duration `mapstructure:"refresh_expiry"`
}

type OTPConfig struct {
	Length      int           `mapstructure:"length"`
	Expiry      time.Duration `mapstructure:"expiry"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
)

// Load reads configuration from defaults, an optional YAML file and
// FINTRACK_* environment variables, in increasing priority.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validateClient(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.login_path", "/login")

	v.SetDefault("session.store", StoreFile)
	v.SetDefault("session.file", ".fintrack-session.json")
	v.SetDefault("session.profile", "default")
	v.SetDefault("session.refresh_interval", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("display.currency", "INR")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("dynamodb.endpoint", "")
	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.table_name", "")

	v.SetDefault("redis.endpoint", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.access_expiry", "15m")
	v.SetDefault("jwt.refresh_expiry", "168h")

	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.expiry", "10m")
	v.SetDefault("otp.max_attempts", 5)
}

func (c *Config) validateClient() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid api.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url must include a host")
	}

	switch c.Session.Store {
	case StoreMemory, StoreFile, StoreRedis, StoreDynamoDB:
	default:
		return fmt.Errorf("unknown session.store %q", c.Session.Store)
	}
	if c.Session.Store == StoreDynamoDB && c.DynamoDB.TableName == "" {
		return fmt.Errorf("dynamodb.table_name is required for the dynamodb session store")
	}

	if c.Session.RefreshInterval <= 0 {
		return fmt.Errorf("session.refresh_interval must be positive")
	}
	return nil
}

// ValidateServer checks the settings only the development server needs.
func (c *Config) ValidateServer() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("FINTRACK_JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("FINTRACK_JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 8 {
		return fmt.Errorf("otp.length must be between 4 and 8")
	}
	return nil
}
