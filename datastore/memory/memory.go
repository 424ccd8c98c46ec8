/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package memory provides an in-process implementation of the datastore
// contract, suitable for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// Op names a client operation for error injection.
type Op string

const (
	OpGet    Op = "get"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
	OpSubmit Op = "submit"
)

type rows map[storagemodels.Key]*storagemodels.Entity

// Service is an in-memory datastore.TableService.
type Service struct {
	mu       sync.RWMutex
	tables   map[string]rows
	now      func() time.Time
	seq      uint64
	errs     map[Op]error
	nextErrs map[Op][]error
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for entity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates an empty Service.
func New(opts ...Option) *Service {
	s := &Service{
		tables:   make(map[string]rows),
		now:      time.Now,
		errs:     make(map[Op]error),
		nextErrs: make(map[Op][]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithError makes every call of op fail with err until cleared with a nil err.
func (s *Service) WithError(op Op, err error) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
	} else {
		s.errs[op] = err
	}
	return s
}

// FailNext makes the next call of op fail with err. Calls queue up.
func (s *Service) FailNext(op Op, err error) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErrs[op] = append(s.nextErrs[op], err)
	return s
}

// injected returns the error configured for op. Callers hold s.mu.
func (s *Service) injected(op Op) error {
	if q := s.nextErrs[op]; len(q) > 0 {
		s.nextErrs[op] = q[1:]
		return q[0]
	}
	return s.errs[op]
}

// NewTableClient returns a client for name. The table need not exist yet.
func (s *Service) NewTableClient(name string) (datastore.TableClient, error) {
	if err := datastore.ValidateTableName(name); err != nil {
		return nil, err
	}
	return &Client{svc: s, name: name}, nil
}

func (s *Service) CreateTable(ctx context.Context, name string) error {
	if err := datastore.ValidateTableName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[name]; exists {
		return errors.NewAlreadyExistsError("table", name)
	}
	s.tables[name] = make(rows)
	return nil
}

func (s *Service) DeleteTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tables[name]; !exists {
		return errors.NewNotFoundError("table", name)
	}
	delete(s.tables, name)
	return nil
}

func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of entities in table.
func (s *Service) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Clear removes every table.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(map[string]rows)
}

// stamp assigns a fresh ETag and timestamp. Callers hold s.mu.
func (s *Service) stamp(e *storagemodels.Entity) {
	s.seq++
	e.Timestamp = s.now().UTC()
	e.ETag = fmt.Sprintf(`W/"%d"`, s.seq)
}

// Client is a datastore.TableClient over one in-memory table.
type Client struct {
	svc  *Service
	name string
}

func (c *Client) Name() string { return c.name }

func (c *Client) CreateIfNotExists(ctx context.Context) error {
	err := c.svc.CreateTable(ctx, c.name)
	if errors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// table returns the rows of c's table. Callers hold svc.mu.
func (c *Client) table() (rows, error) {
	t, ok := c.svc.tables[c.name]
	if !ok {
		return nil, errors.NewNotFoundError("table", c.name)
	}
	return t, nil
}

func (c *Client) Get(ctx context.Context, key storagemodels.Key) (*storagemodels.Entity, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if err := c.svc.injected(OpGet); err != nil {
		return nil, err
	}
	t, err := c.table()
	if err != nil {
		return nil, err
	}
	e, ok := t[key]
	if !ok {
		return nil, errors.NewNotFoundError(c.name, key.String())
	}
	return e.Clone(), nil
}

func (c *Client) Insert(ctx context.Context, entity *storagemodels.Entity) (*storagemodels.Entity, error) {
	return c.write(OpInsert, func(t rows) (*storagemodels.Entity, error) {
		return c.insert(t, entity)
	})
}

func (c *Client) Update(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error) {
	return c.write(OpUpdate, func(t rows) (*storagemodels.Entity, error) {
		return c.update(t, entity, mode, etag)
	})
}

func (c *Client) Upsert(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error) {
	return c.write(OpUpsert, func(t rows) (*storagemodels.Entity, error) {
		return c.upsert(t, entity, mode)
	})
}

func (c *Client) Delete(ctx context.Context, key storagemodels.Key, etag string) error {
	_, err := c.write(OpDelete, func(t rows) (*storagemodels.Entity, error) {
		return nil, c.delete(t, key, etag)
	})
	return err
}

func (c *Client) write(op Op, fn func(rows) (*storagemodels.Entity, error)) (*storagemodels.Entity, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if err := c.svc.injected(op); err != nil {
		return nil, err
	}
	t, err := c.table()
	if err != nil {
		return nil, err
	}
	stored, err := fn(t)
	if err != nil || stored == nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (c *Client) insert(t rows, entity *storagemodels.Entity) (*storagemodels.Entity, error) {
	if _, exists := t[entity.Key]; exists {
		return nil, errors.NewAlreadyExistsError(c.name, entity.Key.String())
	}
	return c.put(t, nil, entity, storagemodels.UpdateModeReplace), nil
}

func (c *Client) update(t rows, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error) {
	stored, exists := t[entity.Key]
	if !exists {
		return nil, errors.NewNotFoundError(c.name, entity.Key.String())
	}
	if !etagMatches(stored, etag) {
		return nil, errors.NewConditionFailedError("update", "etag "+etag)
	}
	return c.put(t, stored, entity, mode), nil
}

func (c *Client) upsert(t rows, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error) {
	return c.put(t, t[entity.Key], entity, mode), nil
}

func (c *Client) delete(t rows, key storagemodels.Key, etag string) error {
	stored, exists := t[key]
	if !exists {
		return errors.NewNotFoundError(c.name, key.String())
	}
	if !etagMatches(stored, etag) {
		return errors.NewConditionFailedError("delete", "etag "+etag)
	}
	delete(t, key)
	return nil
}

func (c *Client) put(t rows, stored, entity *storagemodels.Entity, mode storagemodels.UpdateMode) *storagemodels.Entity {
	next := storagemodels.NewEntity(entity.PartitionKey, entity.RowKey)
	next.Properties = datastore.Apply(stored, entity.Clone(), mode)
	c.svc.stamp(next)
	t[next.Key] = next
	return next
}

func etagMatches(stored *storagemodels.Entity, etag string) bool {
	return etag == "" || etag == "*" || etag == stored.ETag
}

// Query returns entities ordered by PartitionKey, then RowKey.
func (c *Client) Query(ctx context.Context, params *storagemodels.QueryParams) (*storagemodels.Page, error) {
	if params == nil {
		params = &storagemodels.QueryParams{}
	}
	after, err := decodeToken(params.ContinuationToken)
	if err != nil {
		return nil, err
	}
	expr := params.Expr()

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if err := c.svc.injected(OpQuery); err != nil {
		return nil, err
	}
	t, err := c.table()
	if err != nil {
		return nil, err
	}

	keys := make([]storagemodels.Key, 0, len(t))
	for k := range t {
		if after != nil && !keyLess(*after, k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	limit := int(datastore.PageLimit(params.Top))
	page := &storagemodels.Page{}
	for _, k := range keys {
		e := t[k]
		ok, err := filter.Eval(expr, e.Lookup)
		if err != nil {
			return nil, errors.NewValidationError("filter", err.Error())
		}
		if !ok {
			continue
		}
		if len(page.Entities) == limit {
			page.ContinuationToken = encodeToken(page.Entities[limit-1].Key)
			break
		}
		page.Entities = append(page.Entities, e.Clone().Project(params.Select))
	}
	return page, nil
}

// Submit applies actions on a staged copy of the table, so either all of
// them take effect or none does.
func (c *Client) Submit(ctx context.Context, actions []storagemodels.TransactionAction) error {
	if err := datastore.ValidateTransaction(actions); err != nil {
		return err
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if err := c.svc.injected(OpSubmit); err != nil {
		return err
	}
	t, err := c.table()
	if err != nil {
		return err
	}

	staged := make(rows, len(t))
	for k, v := range t {
		staged[k] = v
	}
	for i, a := range actions {
		var err error
		switch a.Type {
		case storagemodels.TransactionAdd:
			_, err = c.insert(staged, a.Entity)
		case storagemodels.TransactionUpdateReplace:
			_, err = c.update(staged, a.Entity, storagemodels.UpdateModeReplace, a.ETag)
		case storagemodels.TransactionUpdateMerge:
			_, err = c.update(staged, a.Entity, storagemodels.UpdateModeMerge, a.ETag)
		case storagemodels.TransactionUpsertReplace:
			_, err = c.upsert(staged, a.Entity, storagemodels.UpdateModeReplace)
		case storagemodels.TransactionUpsertMerge:
			_, err = c.upsert(staged, a.Entity, storagemodels.UpdateModeMerge)
		case storagemodels.TransactionDelete:
			err = c.delete(staged, a.Entity.Key, a.ETag)
		default:
			err = errors.NewValidationError("actions", fmt.Sprintf("unknown action type %d", a.Type))
		}
		if err != nil {
			return fmt.Errorf("transaction action %d (%s %s): %w", i, a.Type, a.Entity.Key, err)
		}
	}
	c.svc.tables[c.name] = staged
	return nil
}

func keyLess(a, b storagemodels.Key) bool {
	if a.PartitionKey != b.PartitionKey {
		return a.PartitionKey < b.PartitionKey
	}
	return a.RowKey < b.RowKey
}

func encodeToken(k storagemodels.Key) string {
	token, _ := datastore.EncodeToken(k)
	return token
}

func decodeToken(token string) (*storagemodels.Key, error) {
	if token == "" {
		return nil, nil
	}
	var k storagemodels.Key
	if err := datastore.DecodeToken(token, &k); err != nil {
		return nil, err
	}
	return &k, nil
}
