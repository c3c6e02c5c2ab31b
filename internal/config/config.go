// Package config loads service configuration.
//
// Sources, later ones winning:
//  1. defaults in code
//  2. an optional .env file (never overrides variables already set)
//  3. an optional YAML file named by ASCMS_CONFIG_FILE
//  4. ASCMS_* environment variables
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "prod"
)

type Config struct {
	Env      Environment    `yaml:"env" env:"ASCMS_ENV"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Storage  StorageConfig  `yaml:"storage"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ASCMS_HTTP_ADDR"`
	GRPCAddr        string        `yaml:"grpc_addr" env:"ASCMS_GRPC_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"ASCMS_HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"ASCMS_HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ASCMS_HTTP_SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"ASCMS_HTTP_MAX_BODY_BYTES"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"ASCMS_CORS_ORIGINS" envSeparator:","`
	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trusted_proxies" env:"ASCMS_TRUSTED_PROXIES" envSeparator:","`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a single-host prefix.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn" env:"ASCMS_PG_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"ASCMS_PG_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"ASCMS_PG_MAX_IDLE_CONNS"`
	AutoMigrate  bool   `yaml:"auto_migrate" env:"ASCMS_PG_AUTO_MIGRATE"`
}

type JWTConfig struct {
	Key        string        `yaml:"key" env:"ASCMS_JWT_KEY"`
	Issuer     string        `yaml:"issuer" env:"ASCMS_JWT_ISSUER"`
	Audience   string        `yaml:"audience" env:"ASCMS_JWT_AUDIENCE"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ASCMS_JWT_ACCESS_TTL"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"ASCMS_JWT_REFRESH_TTL"`
}

type AuthConfig struct {
	BcryptCost     int     `yaml:"bcrypt_cost" env:"ASCMS_BCRYPT_COST"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"ASCMS_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"ASCMS_RATE_LIMIT_BURST"`
}

// SMTPConfig enables mail delivery when Host is set; otherwise notifications are logged.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"ASCMS_SMTP_HOST"`
	Port     int    `yaml:"port" env:"ASCMS_SMTP_PORT"`
	Username string `yaml:"username" env:"ASCMS_SMTP_USERNAME"`
	Password string `yaml:"password" env:"ASCMS_SMTP_PASSWORD"`
	From     string `yaml:"from" env:"ASCMS_SMTP_FROM"`
}

func (c SMTPConfig) Enabled() bool { return strings.TrimSpace(c.Host) != "" }

// StorageConfig enables profile image uploads when Endpoint is set.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ASCMS_S3_ENDPOINT"`
	Region    string `yaml:"region" env:"ASCMS_S3_REGION"`
	AccessKey string `yaml:"access_key" env:"ASCMS_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"ASCMS_S3_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"ASCMS_S3_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"ASCMS_S3_USE_SSL"`
	PublicURL string `yaml:"public_url" env:"ASCMS_S3_PUBLIC_URL"`
}

func (c StorageConfig) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    6 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 50,
			MaxIdleConns: 25,
		},
		JWT: JWTConfig{
			Issuer:     "AS-CMS",
			Audience:   "AS-CMS-Users",
			AccessTTL:  60 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Auth: AuthConfig{
			BcryptCost:     12,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		SMTP: SMTPConfig{Port: 587},
	}
}

// Load reads configuration from ./.env, ASCMS_CONFIG_FILE and the environment.
func Load() (Config, error) {
	return LoadFrom(".env", os.Getenv("ASCMS_CONFIG_FILE"))
}

// LoadFrom is Load with explicit file locations. Empty or missing files are skipped.
func LoadFrom(envFile, yamlFile string) (Config, error) {
	cfg := Default()
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if yamlFile == "" {
		yamlFile = os.Getenv("ASCMS_CONFIG_FILE")
	}
	if yamlFile != "" {
		data, err := os.ReadFile(yamlFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", yamlFile, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("unsupported ASCMS_ENV %q", c.Env))
	}
	if strings.TrimSpace(c.JWT.Key) == "" {
		errs = append(errs, errors.New("ASCMS_JWT_KEY is required"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Env == EnvProduction && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("ASCMS_PG_DSN is required in prod"))
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, fmt.Errorf("ASCMS_TRUSTED_PROXIES: %w", err))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost %d out of range", c.Auth.BcryptCost))
	}
	if c.SMTP.Enabled() && strings.TrimSpace(c.SMTP.From) == "" {
		errs = append(errs, errors.New("ASCMS_SMTP_FROM is required when SMTP is enabled"))
	}
	if c.Storage.Enabled() && strings.TrimSpace(c.Storage.Bucket) == "" {
		errs = append(errs, errors.New("ASCMS_S3_BUCKET is required when storage is enabled"))
	}
	return errors.Join(errs...)
}
