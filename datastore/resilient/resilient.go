/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package resilient wraps a datastore.TableService with one circuit breaker
// per table. Domain outcomes such as NotFound or a failed ETag check count as
// successes; only backend failures trip the breaker.
package resilient

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/storagemodels"
)

// Settings configures each table's breaker.
type Settings struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period after which closed-state counts reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64
	// MinRequests is the number of calls needed before the ratio is judged.
	MinRequests uint32
}

// DefaultSettings returns the breaker settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Service is a datastore.TableService guarded by circuit breakers.
type Service struct {
	next     datastore.TableService
	settings Settings
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Service.
type Option func(*Service)

// WithSettings replaces the default breaker settings.
func WithSettings(s Settings) Option {
	return func(svc *Service) { svc.settings = s }
}

// WithLogger sets the logger that reports state changes.
func WithLogger(logger *zap.Logger) Option {
	return func(svc *Service) { svc.logger = logger }
}

// Wrap guards next with circuit breakers.
func Wrap(next datastore.TableService, opts ...Option) *Service {
	s := &Service{
		next:     next,
		settings: DefaultSettings(),
		logger:   zap.NewNop(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsOpen reports whether err was returned because a breaker rejected the call.
func IsOpen(err error) bool {
	return stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests)
}

// State returns the breaker state of the named table.
func (s *Service) State(table string) gobreaker.State {
	return s.breaker(table).State()
}

func (s *Service) breaker(table string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[table]; ok {
		return cb
	}
	cfg := s.settings
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        table,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed",
				zap.String("table", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: isSuccessful,
	})
	s.breakers[table] = cb
	return cb
}

// isSuccessful treats answers the backend gave deliberately as healthy.
func isSuccessful(err error) bool {
	return err == nil || errors.IsDomainError(err) ||
		stderrors.Is(err, context.Canceled) || stderrors.Is(err, errors.ErrUnsupported)
}

func (s *Service) NewTableClient(name string) (datastore.TableClient, error) {
	next, err := s.next.NewTableClient(name)
	if err != nil {
		return nil, err
	}
	return &Client{next: next, cb: s.breaker(name)}, nil
}

func (s *Service) CreateTable(ctx context.Context, name string) error {
	return s.next.CreateTable(ctx, name)
}

func (s *Service) DeleteTable(ctx context.Context, name string) error {
	return s.next.DeleteTable(ctx, name)
}

func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	return s.next.ListTables(ctx)
}

// Client is a datastore.TableClient whose calls pass through a breaker.
type Client struct {
	next datastore.TableClient
	cb   *gobreaker.CircuitBreaker
}

func (c *Client) Name() string { return c.next.Name() }

func (c *Client) CreateIfNotExists(ctx context.Context) error {
	return c.run(func() error { return c.next.CreateIfNotExists(ctx) })
}

func (c *Client) Get(ctx context.Context, key storagemodels.Key) (*storagemodels.Entity, error) {
	return c.entity(func() (*storagemodels.Entity, error) { return c.next.Get(ctx, key) })
}

func (c *Client) Insert(ctx context.Context, entity *storagemodels.Entity) (*storagemodels.Entity, error) {
	return c.entity(func() (*storagemodels.Entity, error) { return c.next.Insert(ctx, entity) })
}

func (c *Client) Update(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error) {
	return c.entity(func() (*storagemodels.Entity, error) { return c.next.Update(ctx, entity, mode, etag) })
}

func (c *Client) Upsert(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error) {
	return c.entity(func() (*storagemodels.Entity, error) { return c.next.Upsert(ctx, entity, mode) })
}

func (c *Client) Delete(ctx context.Context, key storagemodels.Key, etag string) error {
	return c.run(func() error { return c.next.Delete(ctx, key, etag) })
}

func (c *Client) Query(ctx context.Context, params *storagemodels.QueryParams) (*storagemodels.Page, error) {
	out, err := c.cb.Execute(func() (interface{}, error) { return c.next.Query(ctx, params) })
	if err != nil {
		return nil, err
	}
	return out.(*storagemodels.Page), nil
}

func (c *Client) Submit(ctx context.Context, actions []storagemodels.TransactionAction) error {
	return c.run(func() error { return c.next.Submit(ctx, actions) })
}

func (c *Client) run(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

func (c *Client) entity(fn func() (*storagemodels.Entity, error)) (*storagemodels.Entity, error) {
	out, err := c.cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return nil, err
	}
	return out.(*storagemodels.Entity), nil
}
