/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package tablestore

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/clientcache"
	"github.com/suparena/tablestore/config"
	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/datastore/aztables"
	"github.com/suparena/tablestore/datastore/ddb"
	"github.com/suparena/tablestore/datastore/memory"
	"github.com/suparena/tablestore/datastore/resilient"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/mapping"
	"github.com/suparena/tablestore/repository"
)

// Store ties a table service, its client cache and a repository registry
// together.
type Store struct {
	cfg      *config.Config
	service  datastore.TableService
	cache    *clientcache.Cache
	logger   *zap.Logger
	registry *Registry
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	service    datastore.TableService
	clock      clientcache.Clock
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *openOptions) { o.logger = logger }
}

// WithRegisterer sets where cache metrics are registered. Metrics are only
// registered when the configuration names a metrics prefix.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *openOptions) { o.registerer = reg }
}

// WithService uses svc instead of building the configured backend.
func WithService(svc datastore.TableService) Option {
	return func(o *openOptions) { o.service = svc }
}

// WithClock sets the clock the client cache ages entries with.
func WithClock(clock clientcache.Clock) Option {
	return func(o *openOptions) { o.clock = clock }
}

// Open validates cfg, builds the configured backend and starts the client
// cache's purge loop. Close stops it.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", errors.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := openOptions{logger: zap.NewNop(), registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("backend", string(cfg.Backend)))

	svc := o.service
	if svc == nil {
		var err error
		if svc, err = newService(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}
	if cfg.Breaker.Enabled {
		svc = resilient.Wrap(svc,
			resilient.WithSettings(resilient.Settings{
				MaxRequests:      cfg.Breaker.MaxRequests,
				Interval:         cfg.Breaker.Interval,
				Timeout:          cfg.Breaker.OpenTimeout,
				FailureThreshold: cfg.Breaker.FailureRatio,
				MinRequests:      cfg.Breaker.MinRequests,
			}),
			resilient.WithLogger(logger))
	}

	cacheOpts := []clientcache.Option{
		clientcache.WithTTL(cfg.Cache.TTL),
		clientcache.WithPurgeInterval(cfg.Cache.PurgeInterval),
		clientcache.WithEnsureTables(cfg.CreateTables),
		clientcache.WithLogger(logger),
	}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, clientcache.WithClock(o.clock))
	}
	if cfg.Cache.MetricsPrefix != "" && o.registerer != nil {
		cacheOpts = append(cacheOpts, clientcache.WithMetrics(o.registerer, cfg.Cache.MetricsPrefix))
	}
	cache, err := clientcache.New(svc, cacheOpts...)
	if err != nil {
		return nil, err
	}
	cache.Start(context.Background())

	logger.Info("table store opened",
		zap.String("tablePrefix", cfg.TablePrefix),
		zap.Bool("createTables", cfg.CreateTables),
		zap.Bool("breaker", cfg.Breaker.Enabled))

	return &Store{
		cfg:      cfg,
		service:  svc,
		cache:    cache,
		logger:   logger,
		registry: NewRegistry(),
	}, nil
}

func newService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (datastore.TableService, error) {
	switch cfg.Backend {
	case config.BackendAzure:
		svc, err := aztables.NewService(aztables.Config{
			ConnectionString: cfg.Azure.ConnectionString,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ServiceURL:       cfg.Azure.ServiceURL,
			ApplicationID:    UserAgent(),
			MaxRetries:       cfg.Azure.MaxRetries,
		}, aztables.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return svc, nil
	case config.BackendDynamoDB:
		svc, err := ddb.NewService(ctx, ddb.Config{
			Region:          cfg.DynamoDB.Region,
			Endpoint:        cfg.DynamoDB.Endpoint,
			AccessKeyID:     cfg.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
			WaitTimeout:     cfg.DynamoDB.WaitTimeout,
		}, ddb.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return svc, nil
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", errors.ErrConfiguration, cfg.Backend)
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() *config.Config { return s.cfg }

// Service returns the table service, breaker included when enabled.
func (s *Store) Service() datastore.TableService { return s.service }

// Cache returns the client cache.
func (s *Store) Cache() *clientcache.Cache { return s.cache }

// Logger returns the store's logger.
func (s *Store) Logger() *zap.Logger { return s.logger }

// Registry returns the repositories registered with the store.
func (s *Store) Registry() *Registry { return s.registry }

// TableName returns the physical name of a logical table.
func (s *Store) TableName(table string) string { return s.cfg.TableName(table) }

// Client returns the cached client of a logical table.
func (s *Store) Client(ctx context.Context, table string) (datastore.TableClient, error) {
	return s.cache.Get(ctx, s.TableName(table))
}

// EnsureTables creates the named logical tables that do not exist yet.
func (s *Store) EnsureTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		name := s.TableName(table)
		err := s.service.CreateTable(ctx, name)
		switch {
		case err == nil:
			s.logger.Info("table created", zap.String("table", name))
		case errors.IsAlreadyExists(err):
		default:
			return fmt.Errorf("ensure table %s: %w", name, err)
		}
	}
	return nil
}

// Close stops the cache's purge loop.
func (s *Store) Close() error {
	return s.cache.Close()
}

// For returns a repository of B over the logical table, logging through the
// store's logger.
func For[B any](s *Store, table string, mapper mapping.Mapper[B], opts ...repository.Option) (*repository.Repository[B], error) {
	opts = append([]repository.Option{repository.WithLogger(s.logger)}, opts...)
	return repository.New[B](s.cache, s.TableName(table), mapper, opts...)
}

// Bind binds B and returns a repository of it over the logical table.
func Bind[B any](s *Store, table string, bindOpts ...mapping.Option) (*repository.Repository[B], error) {
	binding, err := mapping.Bind[B](bindOpts...)
	if err != nil {
		return nil, err
	}
	return For[B](s, table, binding)
}
