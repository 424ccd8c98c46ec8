/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/suparena/tablestore/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TABLESTORE_"

type lookupFunc func(string) (string, bool)

type envBinding struct {
	name  string
	apply func(cfg *Config, v string) error
}

func stringVar(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func boolVar(set func(*Config, bool)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(cfg, b)
		return nil
	}
}

func durationVar(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(cfg, d)
		return nil
	}
}

var envBindings = []envBinding{
	{"BACKEND", stringVar(func(c *Config, v string) { c.Backend = Backend(v) })},
	{"TABLE_PREFIX", stringVar(func(c *Config, v string) { c.TablePrefix = v })},
	{"CREATE_TABLES", boolVar(func(c *Config, v bool) { c.CreateTables = v })},
	{"LOG_LEVEL", stringVar(func(c *Config, v string) { c.LogLevel = v })},

	{"AZURE_CONNECTION_STRING", stringVar(func(c *Config, v string) { c.Azure.ConnectionString = v })},
	{"AZURE_ACCOUNT_NAME", stringVar(func(c *Config, v string) { c.Azure.AccountName = v })},
	{"AZURE_ACCOUNT_KEY", stringVar(func(c *Config, v string) { c.Azure.AccountKey = v })},
	{"AZURE_SERVICE_URL", stringVar(func(c *Config, v string) { c.Azure.ServiceURL = v })},

	{"DYNAMODB_REGION", stringVar(func(c *Config, v string) { c.DynamoDB.Region = v })},
	{"DYNAMODB_ENDPOINT", stringVar(func(c *Config, v string) { c.DynamoDB.Endpoint = v })},
	{"DYNAMODB_ACCESS_KEY_ID", stringVar(func(c *Config, v string) { c.DynamoDB.AccessKeyID = v })},
	{"DYNAMODB_SECRET_ACCESS_KEY", stringVar(func(c *Config, v string) { c.DynamoDB.SecretAccessKey = v })},

	{"CACHE_TTL", durationVar(func(c *Config, v time.Duration) { c.Cache.TTL = v })},
	{"CACHE_PURGE_INTERVAL", durationVar(func(c *Config, v time.Duration) { c.Cache.PurgeInterval = v })},
	{"CACHE_METRICS_PREFIX", stringVar(func(c *Config, v string) { c.Cache.MetricsPrefix = v })},

	{"BREAKER_ENABLED", boolVar(func(c *Config, v bool) { c.Breaker.Enabled = v })},
	{"BREAKER_OPEN_TIMEOUT", durationVar(func(c *Config, v time.Duration) { c.Breaker.OpenTimeout = v })},
}

// applyEnv overlays set TABLESTORE_* variables on cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("%w: %s: %v", errors.ErrConfiguration, name, err)
		}
	}
	return nil
}
