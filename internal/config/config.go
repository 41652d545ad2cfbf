// Package config loads service configuration from an optional YAML
// file with environment overrides on top. Environment always wins so
// container deployments need no file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTP    `yaml:"http"`
	DB      DB      `yaml:"db"`
	Storage Storage `yaml:"storage"`
	Audit   Audit   `yaml:"audit"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type DB struct {
	DSN string `yaml:"dsn"`
}

type Storage struct {
	// Backend selects local or s3; memory is test-only.
	Backend       string `yaml:"backend" validate:"oneof=local s3 memory"`
	Root          string `yaml:"root" validate:"required_if=Backend local"`
	MaxObjectSize int64  `yaml:"max_object_size" validate:"gte=0"`

	Endpoint  string `yaml:"endpoint" validate:"required_if=Backend s3"`
	Bucket    string `yaml:"bucket" validate:"required_if=Backend s3"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseTLS    bool   `yaml:"use_tls"`
	// RateLimit caps object store calls per second; 0 disables.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
}

type Audit struct {
	// QueryLimit is the audit trail page size used when a query
	// carries no limit of its own.
	QueryLimit int `yaml:"query_limit" validate:"gt=0,lte=1000"`
}

func Default() Config {
	return Config{
		HTTP:    HTTP{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Storage: Storage{Backend: "local", Root: "./data", RateLimit: 100},
		Audit:   Audit{QueryLimit: 100},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTP.Addr, "DOCVAULT_HTTP_ADDR")
	setDuration(&cfg.HTTP.ShutdownTimeout, "DOCVAULT_SHUTDOWN_TIMEOUT")
	setString(&cfg.DB.DSN, "DOCVAULT_DB_DSN")
	setString(&cfg.Storage.Backend, "DOCVAULT_STORAGE_BACKEND")
	setString(&cfg.Storage.Root, "DOCVAULT_STORAGE_ROOT")
	setInt64(&cfg.Storage.MaxObjectSize, "DOCVAULT_STORAGE_MAX_OBJECT_SIZE")
	setString(&cfg.Storage.Endpoint, "DOCVAULT_S3_ENDPOINT")
	setString(&cfg.Storage.Bucket, "DOCVAULT_S3_BUCKET")
	setString(&cfg.Storage.AccessKey, "DOCVAULT_S3_ACCESS_KEY")
	setString(&cfg.Storage.SecretKey, "DOCVAULT_S3_SECRET_KEY")
	setBool(&cfg.Storage.UseTLS, "DOCVAULT_S3_USE_TLS")
	setFloat64(&cfg.Storage.RateLimit, "DOCVAULT_STORAGE_RATE_LIMIT")
	setInt(&cfg.Audit.QueryLimit, "DOCVAULT_AUDIT_QUERY_LIMIT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
