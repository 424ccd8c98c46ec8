/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/tablestore/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "devplayers", (&Config{TablePrefix: "dev"}).TableName("players"))
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: azure
tablePrefix: dev
createTables: true
logLevel: debug
azure:
  accountName: acct
  accountKey: c2VjcmV0
cache:
  ttl: 10m
  purgeInterval: 30s
  metricsPrefix: api
breaker:
  enabled: true
  openTimeout: 5s
`))
	require.NoError(t, err)
	assert.Equal(t, BackendAzure, cfg.Backend)
	assert.Equal(t, "dev", cfg.TablePrefix)
	assert.True(t, cfg.CreateTables)
	assert.Equal(t, "acct", cfg.Azure.AccountName)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.PurgeInterval)
	assert.Equal(t, "api", cfg.Cache.MetricsPrefix)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Breaker.OpenTimeout)
	// untouched fields keep their defaults
	assert.Equal(t, 0.8, cfg.Breaker.FailureRatio)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "backend: redis", "Backend must be one of"},
		{"unknown field", "backnd: memory", "backnd"},
		{"azure without credentials", "backend: azure", "azure needs"},
		{"bad prefix", "tablePrefix: dev-1", "TablePrefix"},
		{"zero ttl", "cache:\n  ttl: 0s", "Cache.TTL"},
		{"purge slower than ttl", "cache:\n  ttl: 1m\n  purgeInterval: 2m", "purge interval"},
		{"secret missing", "dynamodb:\n  accessKeyID: AKIA", "DynamoDB.SecretAccessKey is required with AccessKeyID"},
		{"bad ratio", "breaker:\n  failureRatio: 1.5", "Breaker.FailureRatio"},
		{"bad level", "logLevel: verbose", "LogLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\ntablePrefix: file\n"), 0o600))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TABLESTORE_CACHE_METRICS_PREFIX=fromenvfile\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TABLESTORE_CACHE_METRICS_PREFIX") })

	t.Setenv("TABLESTORE_BACKEND", "dynamodb")
	t.Setenv("TABLESTORE_TABLE_PREFIX", "env")
	t.Setenv("TABLESTORE_DYNAMODB_REGION", "eu-west-1")
	t.Setenv("TABLESTORE_DYNAMODB_ENDPOINT", "http://localhost:8000")
	t.Setenv("TABLESTORE_CACHE_TTL", "5m")
	t.Setenv("TABLESTORE_BREAKER_ENABLED", "true")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, BackendDynamoDB, cfg.Backend)
	assert.Equal(t, "env", cfg.TablePrefix)
	assert.Equal(t, "eu-west-1", cfg.DynamoDB.Region)
	assert.Equal(t, "http://localhost:8000", cfg.DynamoDB.Endpoint)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, "fromenvfile", cfg.Cache.MetricsPrefix)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("TABLESTORE_CACHE_TTL", "soon")
	_, err = Load("")
	assert.True(t, errors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "TABLESTORE_CACHE_TTL")

	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.True(t, errors.IsConfigurationError(err))
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(1))
}
