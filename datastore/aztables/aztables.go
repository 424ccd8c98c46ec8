/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package aztables

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	az "github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// Config selects how the service client authenticates. The first usable
// option wins: ConnectionString, then AccountName with AccountKey, then a
// ServiceURL carrying a SAS token.
type Config struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	// ServiceURL defaults to https://<account>.table.core.windows.net.
	ServiceURL string
	// ApplicationID is sent in the User-Agent header.
	ApplicationID string
	MaxRetries    int32
}

// Service is a datastore.TableService backed by Azure Table Storage or the
// Cosmos DB Table API.
type Service struct {
	client *az.ServiceClient
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates the Azure service client described by cfg.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	clientOpts := &az.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Telemetry: policy.TelemetryOptions{ApplicationID: cfg.ApplicationID},
			Retry:     policy.RetryOptions{MaxRetries: cfg.MaxRetries},
		},
	}

	var (
		client *az.ServiceClient
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = az.NewServiceClientFromConnectionString(cfg.ConnectionString, clientOpts)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		serviceURL := cfg.ServiceURL
		if serviceURL == "" {
			serviceURL = fmt.Sprintf("https://%s.table.core.windows.net", cfg.AccountName)
		}
		var cred *az.SharedKeyCredential
		cred, err = az.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err == nil {
			client, err = az.NewServiceClientWithSharedKey(serviceURL, cred, clientOpts)
		}
	case cfg.ServiceURL != "":
		client, err = az.NewServiceClientWithNoCredential(cfg.ServiceURL, clientOpts)
	default:
		return nil, fmt.Errorf("%w: azure needs a connection string, an account key or a SAS service URL", errors.ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure table client: %w", err)
	}
	return newService(client, opts...), nil
}

func newService(client *az.ServiceClient, opts ...Option) *Service {
	s := &Service{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) NewTableClient(name string) (datastore.TableClient, error) {
	if err := datastore.ValidateTableName(name); err != nil {
		return nil, err
	}
	return &Client{client: s.client.NewClient(name), name: name, logger: s.logger.With(zap.String("table", name))}, nil
}

func (s *Service) CreateTable(ctx context.Context, name string) error {
	if err := datastore.ValidateTableName(name); err != nil {
		return err
	}
	_, err := s.client.CreateTable(ctx, name, nil)
	return translateError(err, "create table", "table", name)
}

func (s *Service) DeleteTable(ctx context.Context, name string) error {
	_, err := s.client.DeleteTable(ctx, name, nil)
	return translateError(err, "delete table", "table", name)
}

func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	pager := s.client.NewListTablesPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translateError(err, "list tables", "table", "")
		}
		for _, t := range resp.Tables {
			if t.Name != nil {
				names = append(names, *t.Name)
			}
		}
	}
	return names, nil
}

// Client is a datastore.TableClient for one Azure table.
type Client struct {
	client *az.Client
	name   string
	logger *zap.Logger
}

func (c *Client) Name() string { return c.name }

func (c *Client) CreateIfNotExists(ctx context.Context) error {
	_, err := c.client.CreateTable(ctx, nil)
	err = translateError(err, "create table", "table", c.name)
	if errors.IsAlreadyExists(err) {
		return nil
	}
	if err == nil {
		c.logger.Info("created table")
	}
	return err
}

func (c *Client) Get(ctx context.Context, key storagemodels.Key) (*storagemodels.Entity, error) {
	resp, err := c.client.GetEntity(ctx, key.PartitionKey, key.RowKey, nil)
	if err != nil {
		return nil, translateError(err, "get", c.name, key.String())
	}
	return unmarshalEntity(resp.Value, string(resp.ETag))
}

func (c *Client) Insert(ctx context.Context, entity *storagemodels.Entity) (*storagemodels.Entity, error) {
	body, err := marshalEntity(entity)
	if err != nil {
		return nil, errors.NewValidationError("entity", err.Error())
	}
	var raw *http.Response
	resp, err := c.client.AddEntity(policy.WithCaptureResponse(ctx, &raw), body, nil)
	if err != nil {
		return nil, translateError(err, "insert", c.name, entity.Key.String())
	}
	if len(resp.Value) > 0 {
		if stored, err := unmarshalEntity(resp.Value, string(resp.ETag)); err == nil {
			return stored, nil
		}
	}
	return written(entity, resp.ETag, raw), nil
}

func (c *Client) Update(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error) {
	body, err := marshalEntity(entity)
	if err != nil {
		return nil, errors.NewValidationError("entity", err.Error())
	}
	var raw *http.Response
	resp, err := c.client.UpdateEntity(policy.WithCaptureResponse(ctx, &raw), body, &az.UpdateEntityOptions{
		IfMatch:    ifMatch(etag),
		UpdateMode: updateMode(mode),
	})
	if err != nil {
		return nil, translateError(err, "update", c.name, entity.Key.String())
	}
	return written(entity, resp.ETag, raw), nil
}

func (c *Client) Upsert(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error) {
	body, err := marshalEntity(entity)
	if err != nil {
		return nil, errors.NewValidationError("entity", err.Error())
	}
	var raw *http.Response
	resp, err := c.client.UpsertEntity(policy.WithCaptureResponse(ctx, &raw), body, &az.UpsertEntityOptions{UpdateMode: updateMode(mode)})
	if err != nil {
		return nil, translateError(err, "upsert", c.name, entity.Key.String())
	}
	return written(entity, resp.ETag, raw), nil
}

func (c *Client) Delete(ctx context.Context, key storagemodels.Key, etag string) error {
	_, err := c.client.DeleteEntity(ctx, key.PartitionKey, key.RowKey, &az.DeleteEntityOptions{IfMatch: ifMatch(etag)})
	return translateError(err, "delete", c.name, key.String())
}

// pagePosition is the resume point of a list query.
type pagePosition struct {
	PartitionKey string `json:"pk"`
	RowKey       string `json:"rk,omitempty"`
}

func (c *Client) Query(ctx context.Context, params *storagemodels.QueryParams) (*storagemodels.Page, error) {
	if params == nil {
		params = &storagemodels.QueryParams{}
	}
	opts := &az.ListEntitiesOptions{Top: to.Ptr(datastore.PageLimit(params.Top))}

	text, err := filter.ToOData(params.Expr())
	if errors.IsUnsupported(err) {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	if err != nil {
		return nil, errors.NewValidationError("filter", err.Error())
	}
	if text != "" {
		opts.Filter = to.Ptr(text)
	}
	if len(params.Select) > 0 {
		fields := append([]string{storagemodels.PartitionKeyProperty, storagemodels.RowKeyProperty, storagemodels.TimestampProperty}, params.Select...)
		opts.Select = to.Ptr(strings.Join(fields, ","))
	}
	if params.ContinuationToken != "" {
		var pos pagePosition
		if err := datastore.DecodeToken(params.ContinuationToken, &pos); err != nil {
			return nil, err
		}
		opts.NextPartitionKey = to.Ptr(pos.PartitionKey)
		if pos.RowKey != "" {
			opts.NextRowKey = to.Ptr(pos.RowKey)
		}
	}

	c.logger.Debug("querying table", zap.String("filter", text), zap.Int32("top", *opts.Top))
	resp, err := c.client.NewListEntitiesPager(opts).NextPage(ctx)
	if err != nil {
		return nil, translateError(err, "query", c.name, text)
	}

	page := &storagemodels.Page{Entities: make([]*storagemodels.Entity, 0, len(resp.Entities))}
	for _, raw := range resp.Entities {
		e, err := unmarshalEntity(raw, "")
		if err != nil {
			return nil, err
		}
		page.Entities = append(page.Entities, e)
	}
	if resp.NextPartitionKey != nil && *resp.NextPartitionKey != "" {
		pos := pagePosition{PartitionKey: *resp.NextPartitionKey}
		if resp.NextRowKey != nil {
			pos.RowKey = *resp.NextRowKey
		}
		if page.ContinuationToken, err = datastore.EncodeToken(pos); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (c *Client) Submit(ctx context.Context, actions []storagemodels.TransactionAction) error {
	if err := datastore.ValidateTransaction(actions); err != nil {
		return err
	}
	batch := make([]az.TransactionAction, 0, len(actions))
	for i, a := range actions {
		typ, err := transactionType(a.Type)
		if err != nil {
			return err
		}
		entity := a.Entity
		if a.Type == storagemodels.TransactionDelete {
			entity = storagemodels.NewEntity(a.Entity.PartitionKey, a.Entity.RowKey)
		}
		body, err := marshalEntity(entity)
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("actions[%d]", i), err.Error())
		}
		action := az.TransactionAction{ActionType: typ, Entity: body}
		if a.ETag != "" {
			action.IfMatch = ifMatch(a.ETag)
		}
		batch = append(batch, action)
	}

	_, err := c.client.SubmitTransaction(ctx, batch, nil)
	if err != nil {
		return translateError(err, "transaction", c.name, actions[0].Entity.PartitionKey)
	}
	c.logger.Debug("submitted transaction", zap.Int("actions", len(actions)))
	return nil
}

func transactionType(t storagemodels.TransactionType) (az.TransactionType, error) {
	switch t {
	case storagemodels.TransactionAdd:
		return az.TransactionTypeAdd, nil
	case storagemodels.TransactionUpdateReplace:
		return az.TransactionTypeUpdateReplace, nil
	case storagemodels.TransactionUpdateMerge:
		return az.TransactionTypeUpdateMerge, nil
	case storagemodels.TransactionUpsertReplace:
		return az.TransactionTypeInsertReplace, nil
	case storagemodels.TransactionUpsertMerge:
		return az.TransactionTypeInsertMerge, nil
	case storagemodels.TransactionDelete:
		return az.TransactionTypeDelete, nil
	}
	return "", errors.NewValidationError("actions", fmt.Sprintf("unknown action type %d", t))
}

func updateMode(m storagemodels.UpdateMode) az.UpdateMode {
	if m == storagemodels.UpdateModeMerge {
		return az.UpdateModeMerge
	}
	return az.UpdateModeReplace
}

func ifMatch(etag string) *azcore.ETag {
	if etag == "" {
		return to.Ptr(azcore.ETagAny)
	}
	return to.Ptr(azcore.ETag(etag))
}

// written is entity as stored. Write responses carry no body, so the
// timestamp comes from the ETag, which embeds it, or else the Date header.
func written(entity *storagemodels.Entity, etag azcore.ETag, raw *http.Response) *storagemodels.Entity {
	out := entity.Clone()
	out.ETag = string(etag)
	if ts, ok := etagTimestamp(out.ETag); ok {
		out.Timestamp = ts
	} else if raw != nil {
		if ts, err := http.ParseTime(raw.Header.Get("Date")); err == nil {
			out.Timestamp = ts.UTC()
		}
	}
	return out
}

// etagTimestamp reads the time out of an ETag such as
// W/"datetime'2025-03-01T12%3A30%3A00.1234567Z'".
func etagTimestamp(etag string) (time.Time, bool) {
	const prefix, suffix = `W/"datetime'`, `'"`
	if !strings.HasPrefix(etag, prefix) || !strings.HasSuffix(etag, suffix) {
		return time.Time{}, false
	}
	text, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(etag, prefix), suffix))
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// translateError maps service status codes onto the errors package.
func translateError(err error, op, entityType, key string) error {
	if err == nil {
		return nil
	}
	var re *azcore.ResponseError
	if !stderrors.As(err, &re) {
		return fmt.Errorf("%s %s: %w", op, entityType, err)
	}
	switch re.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w (%s)", errors.NewNotFoundError(entityType, key), re.ErrorCode)
	case http.StatusConflict:
		return fmt.Errorf("%w (%s)", errors.NewAlreadyExistsError(entityType, key), re.ErrorCode)
	case http.StatusPreconditionFailed:
		return errors.NewConditionFailedError(op, re.ErrorCode)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %v", errors.NewValidationError(key, re.ErrorCode), err)
	}
	return fmt.Errorf("%s %s: %w", op, entityType, err)
}
