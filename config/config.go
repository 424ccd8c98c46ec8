/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/suparena/tablestore/errors"
)

// Backend names a table service implementation.
type Backend string

const (
	BackendAzure    Backend = "azure"
	BackendDynamoDB Backend = "dynamodb"
	BackendMemory   Backend = "memory"
)

// Config describes a table store.
type Config struct {
	Backend Backend `yaml:"backend" validate:"required,oneof=azure dynamodb memory"`
	// TablePrefix is prepended to every logical table name.
	TablePrefix string `yaml:"tablePrefix" validate:"omitempty,alphanum,max=32"`
	// CreateTables makes the client cache create tables on first use.
	CreateTables bool   `yaml:"createTables"`
	LogLevel     string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`

	Azure    Azure    `yaml:"azure"`
	DynamoDB DynamoDB `yaml:"dynamodb"`
	Cache    Cache    `yaml:"cache"`
	Breaker  Breaker  `yaml:"breaker"`
}

// Azure holds Azure Table Storage credentials.
type Azure struct {
	ConnectionString string `yaml:"connectionString"`
	AccountName      string `yaml:"accountName"`
	AccountKey       string `yaml:"accountKey"`
	ServiceURL       string `yaml:"serviceURL" validate:"omitempty,url"`
	MaxRetries       int32  `yaml:"maxRetries" validate:"gte=0"`
}

// DynamoDB holds DynamoDB connection settings. Empty credentials fall back to
// the default AWS credential chain.
type DynamoDB struct {
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string        `yaml:"accessKeyID"`
	SecretAccessKey string        `yaml:"secretAccessKey" validate:"required_with=AccessKeyID"`
	WaitTimeout     time.Duration `yaml:"waitTimeout" validate:"gte=0"`
}

// Cache configures the per-table client cache.
type Cache struct {
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	PurgeInterval time.Duration `yaml:"purgeInterval" validate:"gt=0"`
	// MetricsPrefix enables prometheus metrics labelled with it.
	MetricsPrefix string `yaml:"metricsPrefix"`
}

// Breaker configures the per-table circuit breaker.
type Breaker struct {
	Enabled bool `yaml:"enabled"`
	// FailureRatio trips the breaker once MinRequests calls have been seen.
	FailureRatio float64       `yaml:"failureRatio" validate:"gt=0,lte=1"`
	MinRequests  uint32        `yaml:"minRequests" validate:"gte=1"`
	MaxRequests  uint32        `yaml:"maxRequests" validate:"gte=1"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	OpenTimeout  time.Duration `yaml:"openTimeout" validate:"gt=0"`
}

// Default returns a memory-backed configuration.
func Default() *Config {
	return &Config{
		Backend:  BackendMemory,
		LogLevel: "info",
		Cache: Cache{
			TTL:           30 * time.Minute,
			PurgeInterval: time.Minute,
		},
		Breaker: Breaker{
			FailureRatio: 0.8,
			MinRequests:  5,
			MaxRequests:  5,
			Interval:     30 * time.Second,
			OpenTimeout:  60 * time.Second,
		},
	}
}

var validate = validator.New()

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and TABLESTORE_* environment variables. Environment
// files are loaded first without overriding variables already set; with no
// envFiles a .env in the working directory is used when present.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a configuration from defaults and YAML data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errors.ErrConfiguration, err)
	}
	return nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("%w: env file: %v", errors.ErrConfiguration, err)
	}
	return nil
}

// Validate checks field constraints and the credentials the selected backend
// needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", errors.ErrConfiguration, formatValidationError(err))
	}
	if c.Backend == BackendAzure {
		a := c.Azure
		if a.ConnectionString == "" && (a.AccountName == "" || a.AccountKey == "") && a.ServiceURL == "" {
			return fmt.Errorf("%w: azure needs a connection string, an account name and key, or a service URL", errors.ErrConfiguration)
		}
	}
	if c.Cache.PurgeInterval > c.Cache.TTL {
		return fmt.Errorf("%w: cache purge interval %s exceeds ttl %s", errors.ErrConfiguration, c.Cache.PurgeInterval, c.Cache.TTL)
	}
	return nil
}

func formatValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "required_with":
			msgs = append(msgs, fmt.Sprintf("%s is required with %s", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s fails %s%s", field, e.Tag(), paramSuffix(e.Param())))
		}
	}
	return strings.Join(msgs, "; ")
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// NewLogger builds a production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.LogLevel != "" {
		level, err := zapcore.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: log level: %v", errors.ErrConfiguration, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

// TableName returns the physical name of a logical table.
func (c *Config) TableName(table string) string {
	return c.TablePrefix + table
}
