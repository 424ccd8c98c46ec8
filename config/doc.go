/*
Package config loads table store settings.

Sources, lowest priority first:
  - Default values
  - A YAML file
  - TABLESTORE_* environment variables, optionally seeded from .env files

Example file:

	backend: azure
	tablePrefix: dev
	createTables: true
	azure:
	  connectionString: "DefaultEndpointsProtocol=https;AccountName=..."
	cache:
	  ttl: 30m
	  purgeInterval: 1m
	breaker:
	  enabled: true

Every failure wraps errors.ErrConfiguration.
*/
package config
