// Package config handles configuration loading and validation for shopmesh.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shopmesh/shopmesh/pkg/bytesize"
)

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"`    // "s3" or "memory" (default: s3)
	Bucket    string `yaml:"bucket"`     // S3 bucket name
	Region    string `yaml:"region"`     // S3 region
	Endpoint  string `yaml:"endpoint"`   // Optional custom endpoint for S3-compatible backends
	AccessKey string `yaml:"access_key"` // Optional static credentials; default chain otherwise
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"` // Path-style addressing (most non-AWS backends)
}

// RetryConfig tunes the conditional-write retry loop.
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries"` // floor 1; zero or unset means the default of 3
	Timeout    string `yaml:"timeout"`     // duration string, default "10s"
}

// LoginConfig tunes the login attempt limiter and single-use codes.
type LoginConfig struct {
	AttemptCeiling int    `yaml:"attempt_ceiling"` // floor 1; zero or unset means the default of 5
	CounterTTL     string `yaml:"counter_ttl"`     // advisory expiry, default "15m"
	CodeTTL        string `yaml:"code_ttl"`        // revocation marker expiry, default "1h"
}

// BatchConfig tunes the batch processor.
type BatchConfig struct {
	ChunkSize int `yaml:"chunk_size"` // default: 50
}

// AuthConfig configures API authentication. The JWT secret is resolved from
// the named environment variable so it never sits in the config file.
// AdminKeyHashes is the injected capability set: SHA-256 hex digests of keys
// allowed to call admin routes.
type AuthConfig struct {
	JWTSecretEnv   string   `yaml:"jwt_secret_env"` // default "SHOPMESH_JWT_SECRET"
	AdminKeyHashes []string `yaml:"admin_key_hashes"`
}

// Config is the top-level server configuration.
type Config struct {
	Listen        string        `yaml:"listen"`         // default ":8080"
	MaxBodySize   bytesize.Size `yaml:"max_body_size"`  // default 10MB
	InvalidateURL string        `yaml:"invalidate_url"` // cache-invalidation endpoint, optional
	Store         StoreConfig   `yaml:"store"`
	Retry         RetryConfig   `yaml:"retry"`
	Login         LoginConfig   `yaml:"login"`
	Batch         BatchConfig   `yaml:"batch"`
	Auth          AuthConfig    `yaml:"auth"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied, suitable for
// tests and local development with the memory backend.
func Default() *Config {
	cfg := &Config{Store: StoreConfig{Backend: "memory"}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = bytesize.Size(10 * bytesize.MB)
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "s3"
	}
	if c.Store.Region == "" {
		c.Store.Region = "us-east-1"
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.Timeout == "" {
		c.Retry.Timeout = "10s"
	}
	if c.Login.AttemptCeiling == 0 {
		c.Login.AttemptCeiling = 5
	}
	if c.Login.CounterTTL == "" {
		c.Login.CounterTTL = "15m"
	}
	if c.Login.CodeTTL == "" {
		c.Login.CodeTTL = "1h"
	}
	if c.Batch.ChunkSize == 0 {
		c.Batch.ChunkSize = 50
	}
	if c.Auth.JWTSecretEnv == "" {
		c.Auth.JWTSecretEnv = "SHOPMESH_JWT_SECRET"
	}
}

// Validate checks field consistency beyond what defaults can repair.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "s3":
		if c.Store.Bucket == "" {
			return fmt.Errorf("store.bucket is required for the s3 backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.MaxBodySize < 0 {
		return fmt.Errorf("max_body_size: negative size %d", c.MaxBodySize.Bytes())
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries: must not be negative")
	}
	if c.Login.AttemptCeiling < 0 {
		return fmt.Errorf("login.attempt_ceiling: must not be negative")
	}
	for name, value := range map[string]string{
		"retry.timeout":     c.Retry.Timeout,
		"login.counter_ttl": c.Login.CounterTTL,
		"login.code_ttl":    c.Login.CodeTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for _, h := range c.Auth.AdminKeyHashes {
		if len(h) != 64 || strings.Trim(strings.ToLower(h), "0123456789abcdef") != "" {
			return fmt.Errorf("auth.admin_key_hashes: %q is not a sha256 hex digest", h)
		}
	}

	return nil
}

// MaxBodyBytes returns the request body limit in bytes.
func (c *Config) MaxBodyBytes() int64 {
	return c.MaxBodySize.Bytes()
}

// RetryTimeout returns the parsed CAS wall-clock bound.
func (c *Config) RetryTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Retry.Timeout)
	return d
}

// CounterTTL returns the parsed attempt-counter TTL.
func (c *Config) CounterTTL() time.Duration {
	d, _ := time.ParseDuration(c.Login.CounterTTL)
	return d
}

// CodeTTL returns the parsed revocation-marker TTL.
func (c *Config) CodeTTL() time.Duration {
	d, _ := time.ParseDuration(c.Login.CodeTTL)
	return d
}

// JWTSecret resolves the signing secret from the environment.
func (c *Config) JWTSecret() ([]byte, error) {
	secret := os.Getenv(c.Auth.JWTSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("environment variable %s is not set", c.Auth.JWTSecretEnv)
	}
	return []byte(secret), nil
}

// ExpandPath expands a leading ~/ in path against the user home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
