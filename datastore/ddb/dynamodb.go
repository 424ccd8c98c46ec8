/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/storagemodels"
)

// API is the subset of the DynamoDB client the backend uses.
type API interface {
	GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Query(ctx context.Context, params *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error)
	Scan(ctx context.Context, params *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *sdk.TransactWriteItemsInput, optFns ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *sdk.CreateTableInput, optFns ...func(*sdk.Options)) (*sdk.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *sdk.DeleteTableInput, optFns ...func(*sdk.Options)) (*sdk.DeleteTableOutput, error)
	ListTables(ctx context.Context, params *sdk.ListTablesInput, optFns ...func(*sdk.Options)) (*sdk.ListTablesOutput, error)
	DescribeTable(ctx context.Context, params *sdk.DescribeTableInput, optFns ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error)
}

// Config describes how to reach DynamoDB. Empty credentials fall back to the
// default AWS credential chain.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// WaitTimeout bounds how long CreateTable waits for the table to become
	// active. Zero means two minutes.
	WaitTimeout time.Duration
}

// maxMergeAttempts bounds the read-modify-write loop of merge writes made
// without a caller ETag.
const maxMergeAttempts = 5

// Service is a datastore.TableService backed by DynamoDB. Every table uses
// PartitionKey as hash key and RowKey as range key.
type Service struct {
	api         API
	logger      *zap.Logger
	now         func() time.Time
	waitTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the time source used for entity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWaitTimeout bounds how long CreateTable waits for a new table.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *Service) { s.waitTimeout = d }
}

// NewDynamoDBClient initializes a DynamoDB client from cfg.
func NewDynamoDBClient(ctx context.Context, cfg Config) (*sdk.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return sdk.NewFromConfig(awsCfg, func(o *sdk.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewService connects to DynamoDB as described by cfg.
func NewService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	client, err := NewDynamoDBClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}
	if cfg.WaitTimeout > 0 {
		opts = append([]Option{WithWaitTimeout(cfg.WaitTimeout)}, opts...)
	}
	s := NewServiceWithAPI(client, opts...)
	s.logger.Info("DynamoDB client initialized",
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint))
	return s, nil
}

// NewServiceWithAPI wraps an existing client.
func NewServiceWithAPI(api API, opts ...Option) *Service {
	s := &Service{
		api:         api,
		logger:      zap.NewNop(),
		now:         time.Now,
		waitTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTableClient returns a client for the named table.
func (s *Service) NewTableClient(name string) (datastore.TableClient, error) {
	if err := datastore.ValidateTableName(name); err != nil {
		return nil, err
	}
	return &Client{svc: s, table: name}, nil
}

// CreateTable creates an on-demand table keyed by PartitionKey and RowKey and
// waits until it is active.
func (s *Service) CreateTable(ctx context.Context, name string) error {
	if err := datastore.ValidateTableName(name); err != nil {
		return err
	}
	_, err := s.api.CreateTable(ctx, &sdk.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(partitionKeyAttribute), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(rowKeyAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(partitionKeyAttribute), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(rowKeyAttribute), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if stderrors.As(err, &inUse) {
			return errors.NewAlreadyExistsError("table", name)
		}
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	waiter := sdk.NewTableExistsWaiter(s.api)
	if err := waiter.Wait(ctx, &sdk.DescribeTableInput{TableName: aws.String(name)}, s.waitTimeout); err != nil {
		return fmt.Errorf("table %s did not become active: %w", name, err)
	}
	s.logger.Info("table created", zap.String("table", name))
	return nil
}

// DeleteTable removes the named table.
func (s *Service) DeleteTable(ctx context.Context, name string) error {
	_, err := s.api.DeleteTable(ctx, &sdk.DeleteTableInput{TableName: aws.String(name)})
	if err != nil {
		var missing *types.ResourceNotFoundException
		if stderrors.As(err, &missing) {
			return errors.NewNotFoundError("table", name)
		}
		return fmt.Errorf("failed to delete table %s: %w", name, err)
	}
	s.logger.Info("table deleted", zap.String("table", name))
	return nil
}

// ListTables returns the table names in lexical order.
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	pager := sdk.NewListTablesPaginator(s.api, &sdk.ListTablesInput{})
	for pager.HasMorePages() {
		out, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		names = append(names, out.TableNames...)
	}
	sort.Strings(names)
	return names, nil
}

// Client is a datastore.TableClient for one DynamoDB table.
type Client struct {
	svc   *Service
	table string
}

func (c *Client) Name() string { return c.table }

// CreateIfNotExists creates the table, succeeding when it already exists.
func (c *Client) CreateIfNotExists(ctx context.Context) error {
	if err := c.svc.CreateTable(ctx, c.table); err != nil && !errors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// Get reads an entity with a strongly consistent read.
func (c *Client) Get(ctx context.Context, key storagemodels.Key) (*storagemodels.Entity, error) {
	k, err := keyItem(key)
	if err != nil {
		return nil, err
	}
	out, err := c.svc.api.GetItem(ctx, &sdk.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, c.translateError(err, "get", key)
	}
	if len(out.Item) == 0 {
		return nil, errors.NewNotFoundError(c.table, key.String())
	}
	return unmarshalItem(out.Item)
}

// Insert writes entity when its key is free.
func (c *Client) Insert(ctx context.Context, entity *storagemodels.Entity) (*storagemodels.Entity, error) {
	cond := expression.AttributeNotExists(expression.Name(partitionKeyAttribute))
	return c.put(ctx, "insert", entity, entity.Properties, &cond)
}

// Update overwrites or merges into an existing entity.
func (c *Client) Update(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error) {
	if mode == storagemodels.UpdateModeMerge {
		return c.merge(ctx, "update", entity, etag, false)
	}
	cond := existsCondition(etag)
	return c.put(ctx, "update", entity, entity.Properties, &cond)
}

// Upsert writes entity whether or not its key is taken.
func (c *Client) Upsert(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error) {
	if mode == storagemodels.UpdateModeMerge {
		return c.merge(ctx, "upsert", entity, "", true)
	}
	return c.put(ctx, "upsert", entity, entity.Properties, nil)
}

// Delete removes an existing entity.
func (c *Client) Delete(ctx context.Context, key storagemodels.Key, etag string) error {
	k, err := keyItem(key)
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().WithCondition(existsCondition(etag)).Build()
	if err != nil {
		return fmt.Errorf("failed to build delete condition: %w", err)
	}
	_, err = c.svc.api.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName:                           aws.String(c.table),
		Key:                                 k,
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return c.translateError(err, "delete", key)
	}
	return nil
}

// put writes props under entity's key with a fresh ETag, guarded by cond.
func (c *Client) put(ctx context.Context, op string, entity *storagemodels.Entity, props map[string]any, cond *expression.ConditionBuilder) (*storagemodels.Entity, error) {
	written := c.stamp(entity, props)
	item, err := marshalItem(written, written.ETag, written.Timestamp)
	if err != nil {
		return nil, errors.NewValidationError("entity", err.Error())
	}

	input := &sdk.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	}
	if cond != nil {
		expr, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build %s condition: %w", op, err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	if _, err := c.svc.api.PutItem(ctx, input); err != nil {
		return nil, c.translateError(err, op, entity.Key)
	}
	return written, nil
}

// merge performs a read-modify-write guarded by the stored ETag. Without a
// caller ETag a lost race is retried.
func (c *Client) merge(ctx context.Context, op string, entity *storagemodels.Entity, etag string, upsert bool) (*storagemodels.Entity, error) {
	for attempt := 1; ; attempt++ {
		stored, err := c.Get(ctx, entity.Key)
		var cond expression.ConditionBuilder
		switch {
		case errors.IsNotFound(err) && upsert:
			stored = nil
			cond = expression.AttributeNotExists(expression.Name(partitionKeyAttribute))
		case err != nil:
			return nil, err
		default:
			if !etagMatches(etag, stored.ETag) {
				return nil, errors.NewConditionFailedError(op, "etag mismatch")
			}
			cond = existsCondition(stored.ETag)
		}

		written, err := c.put(ctx, op, entity, datastore.Apply(stored, entity, storagemodels.UpdateModeMerge), &cond)
		if err == nil || etag != "" || attempt == maxMergeAttempts {
			return written, err
		}
		if !errors.IsConditionFailed(err) && !errors.IsAlreadyExists(err) && !errors.IsNotFound(err) {
			return nil, err
		}
		c.svc.logger.Debug("merge lost a race, retrying",
			zap.String("table", c.table),
			zap.String("key", entity.Key.String()),
			zap.Int("attempt", attempt))
	}
}

func (c *Client) stamp(entity *storagemodels.Entity, props map[string]any) *storagemodels.Entity {
	written := storagemodels.NewEntity(entity.PartitionKey, entity.RowKey)
	for k, v := range props {
		if v != nil {
			written.Properties[k] = v
		}
	}
	written.ETag = fmt.Sprintf("W/%q", uuid.NewString())
	written.Timestamp = c.svc.now().UTC()
	return written
}

// existsCondition requires the item to exist and, unless etag is a wildcard,
// to carry etag.
func existsCondition(etag string) expression.ConditionBuilder {
	cond := expression.AttributeExists(expression.Name(partitionKeyAttribute))
	if etag != "" && etag != "*" {
		cond = cond.And(expression.Name(etagAttribute).Equal(expression.Value(etag)))
	}
	return cond
}

func etagMatches(want, got string) bool {
	return want == "" || want == "*" || want == got
}

// translateError maps DynamoDB failures onto the domain errors. A failed
// condition with no old item means the key was free.
func (c *Client) translateError(err error, op string, key storagemodels.Key) error {
	var ccf *types.ConditionalCheckFailedException
	if stderrors.As(err, &ccf) {
		switch {
		case op == "insert" || (op == "upsert" && len(ccf.Item) == 0):
			return errors.NewAlreadyExistsError(c.table, key.String())
		case len(ccf.Item) == 0:
			return errors.NewNotFoundError(c.table, key.String())
		}
		return errors.NewConditionFailedError(op, "etag mismatch")
	}
	var missing *types.ResourceNotFoundException
	if stderrors.As(err, &missing) {
		return errors.NewNotFoundError("table", c.table)
	}
	return fmt.Errorf("dynamodb %s %s/%s: %w", op, c.table, key, err)
}
