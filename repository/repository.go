/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/mapping"
	"github.com/suparena/tablestore/storagemodels"
)

// ClientSource hands out table clients. *clientcache.Cache implements it.
type ClientSource interface {
	Get(ctx context.Context, table string) (datastore.TableClient, error)
}

// Page is one page of business entities.
type Page[B any] struct {
	Items             []B
	ContinuationToken string
}

// Repository stores business entities of type B in a single table.
type Repository[B any] struct {
	clients   ClientSource
	table     string
	mapper    mapping.Mapper[B]
	logger    *zap.Logger
	retryable func(error) bool
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	retryable func(error) bool
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetryPolicy decides which page read failures Stream retries.
func WithRetryPolicy(retryable func(error) bool) Option {
	return func(o *options) { o.retryable = retryable }
}

// IsTransient is the default retry policy: anything but a domain outcome, a
// configuration problem or a cancelled context is worth another attempt.
func IsTransient(err error) bool {
	return err != nil &&
		!errors.IsDomainError(err) &&
		!errors.IsConfigurationError(err) &&
		!stderrors.Is(err, context.Canceled) &&
		!stderrors.Is(err, context.DeadlineExceeded)
}

// New creates a repository for table.
func New[B any](clients ClientSource, table string, mapper mapping.Mapper[B], opts ...Option) (*Repository[B], error) {
	if clients == nil {
		return nil, errors.NewValidationError("clients", "must not be nil")
	}
	if mapper == nil {
		return nil, errors.NewValidationError("mapper", "must not be nil")
	}
	if err := datastore.ValidateTableName(table); err != nil {
		return nil, err
	}
	o := options{logger: zap.NewNop(), retryable: IsTransient}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[B]{
		clients:   clients,
		table:     table,
		mapper:    mapper,
		logger:    o.logger.With(zap.String("table", table), zap.String("type", mapper.TypeName())),
		retryable: o.retryable,
	}, nil
}

// Table returns the table name.
func (r *Repository[B]) Table() string { return r.table }

// Mapper returns the mapper converting B.
func (r *Repository[B]) Mapper() mapping.Mapper[B] { return r.mapper }

func (r *Repository[B]) client(ctx context.Context) (datastore.TableClient, error) {
	return r.clients.Get(ctx, r.table)
}

// Get reads the entity stored under pk and rk.
func (r *Repository[B]) Get(ctx context.Context, pk, rk string) (B, error) {
	return r.GetByKey(ctx, storagemodels.Key{PartitionKey: pk, RowKey: rk})
}

// GetByKey reads the entity stored under key.
func (r *Repository[B]) GetByKey(ctx context.Context, key storagemodels.Key) (B, error) {
	var zero B
	if err := mapping.ValidateKey(key); err != nil {
		return zero, err
	}
	c, err := r.client(ctx)
	if err != nil {
		return zero, err
	}
	e, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	return r.fromEntity(e)
}

// Exists reports whether an entity is stored under key.
func (r *Repository[B]) Exists(ctx context.Context, key storagemodels.Key) (bool, error) {
	_, err := r.GetByKey(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.IsNotFound(err):
		return false, nil
	}
	return false, err
}

// Find returns every entity matching expr. Property names in expr are B's
// field names. A nil expr matches the whole table.
func (r *Repository[B]) Find(ctx context.Context, expr filter.Expr) ([]B, error) {
	translated, err := r.mapper.Translate(expr)
	if err != nil {
		return nil, err
	}
	return r.all(ctx, &storagemodels.QueryParams{Filter: translated})
}

// FindRaw returns every entity matching a filter string written in table
// service syntax against storage property names.
func (r *Repository[B]) FindRaw(ctx context.Context, raw string) ([]B, error) {
	return r.all(ctx, &storagemodels.QueryParams{RawFilter: raw})
}

// FindPartition returns every entity in partition pk.
func (r *Repository[B]) FindPartition(ctx context.Context, pk string) ([]B, error) {
	if pk == "" {
		return nil, errors.NewValidationError(storagemodels.PartitionKeyProperty, "must not be empty")
	}
	return r.all(ctx, &storagemodels.QueryParams{Filter: filter.PartitionKeyEq(pk)})
}

// Page reads a single page. params.Filter and params.Select use B's field
// names when the mapper can resolve them; RawFilter is passed through.
func (r *Repository[B]) Page(ctx context.Context, params storagemodels.QueryParams) (*Page[B], error) {
	translated, err := r.mapper.Translate(params.Filter)
	if err != nil {
		return nil, err
	}
	params.Filter = translated
	if params.Select, err = r.selectProperties(params.Select); err != nil {
		return nil, err
	}

	c, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.Query(ctx, &params)
	if err != nil {
		return nil, err
	}
	out := &Page[B]{Items: make([]B, 0, len(page.Entities)), ContinuationToken: page.ContinuationToken}
	for _, e := range page.Entities {
		item, err := r.fromEntity(e)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// propertyNamer is implemented by mappers that can name the storage property
// of a field.
type propertyNamer interface {
	PropertyName(field string) (string, error)
}

func (r *Repository[B]) selectProperties(fields []string) ([]string, error) {
	namer, ok := r.mapper.(propertyNamer)
	if !ok || len(fields) == 0 {
		return fields, nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		name, err := namer.PropertyName(f)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// all drains every page of params.
func (r *Repository[B]) all(ctx context.Context, params *storagemodels.QueryParams) ([]B, error) {
	c, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	var out []B
	for {
		page, err := c.Query(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entities {
			item, err := r.fromEntity(e)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		if page.ContinuationToken == "" {
			return out, nil
		}
		params.ContinuationToken = page.ContinuationToken
	}
}

func (r *Repository[B]) fromEntity(e *storagemodels.Entity) (B, error) {
	item, err := r.mapper.FromEntity(e)
	if err != nil {
		var zero B
		return zero, fmt.Errorf("failed to map %s %s: %w", r.mapper.TypeName(), e.Key, err)
	}
	return item, nil
}
