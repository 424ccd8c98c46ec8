/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"math"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// fakeAPI records requests and answers with scripted responses.
type fakeAPI struct {
	gets     []*sdk.GetItemInput
	puts     []*sdk.PutItemInput
	deletes  []*sdk.DeleteItemInput
	queries  []*sdk.QueryInput
	scans    []*sdk.ScanInput
	transact []*sdk.TransactWriteItemsInput

	getItem     map[string]types.AttributeValue
	putErr      error
	deleteErr   error
	queryOut    *sdk.QueryOutput
	scanOut     *sdk.ScanOutput
	transactErr error
	createErr   error
	deleteTable error
	tables      []string
}

func (f *fakeAPI) GetItem(_ context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	f.gets = append(f.gets, in)
	return &sdk.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &sdk.PutItemOutput{}, f.putErr
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	return &sdk.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeAPI) Query(_ context.Context, in *sdk.QueryInput, _ ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return f.queryOut, nil
}

func (f *fakeAPI) Scan(_ context.Context, in *sdk.ScanInput, _ ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	f.scans = append(f.scans, in)
	return f.scanOut, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *sdk.TransactWriteItemsInput, _ ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error) {
	f.transact = append(f.transact, in)
	return &sdk.TransactWriteItemsOutput{}, f.transactErr
}

func (f *fakeAPI) CreateTable(_ context.Context, in *sdk.CreateTableInput, _ ...func(*sdk.Options)) (*sdk.CreateTableOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.tables = append(f.tables, aws.ToString(in.TableName))
	return &sdk.CreateTableOutput{}, nil
}

func (f *fakeAPI) DeleteTable(_ context.Context, _ *sdk.DeleteTableInput, _ ...func(*sdk.Options)) (*sdk.DeleteTableOutput, error) {
	return &sdk.DeleteTableOutput{}, f.deleteTable
}

func (f *fakeAPI) ListTables(_ context.Context, _ *sdk.ListTablesInput, _ ...func(*sdk.Options)) (*sdk.ListTablesOutput, error) {
	return &sdk.ListTablesOutput{TableNames: f.tables}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *sdk.DescribeTableInput, _ ...func(*sdk.Options)) (*sdk.DescribeTableOutput, error) {
	return &sdk.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	svc := NewServiceWithAPI(api, WithClock(func() time.Time { return fixedNow }), WithWaitTimeout(time.Second))
	tc, err := svc.NewTableClient("players")
	require.NoError(t, err)
	return tc.(*Client)
}

func storedItem(t *testing.T, pk, rk, etag string, props map[string]any) map[string]types.AttributeValue {
	t.Helper()
	e := storagemodels.NewEntity(pk, rk)
	for k, v := range props {
		e.Properties[k] = v
	}
	item, err := marshalItem(e, etag, fixedNow)
	require.NoError(t, err)
	return item
}

func TestItemRoundTrip(t *testing.T) {
	e := storagemodels.NewEntity("p", "r")
	e.Properties["Name"] = "Ada"
	e.Properties["Empty"] = ""
	e.Properties["Active"] = true
	e.Properties["Age"] = int32(36)
	e.Properties["Big"] = int64(1) << 40
	e.Properties["Score"] = 2.0
	e.Properties["When"] = time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	e.Properties["Ref"] = uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	e.Properties["Blob"] = []byte{0, 1, 2}
	e.Properties["Gone"] = nil

	item, err := marshalItem(e, `W/"1"`, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, &types.AttributeValueMemberS{Value: ""}, item["Empty"])
	assert.NotContains(t, item, "Gone")

	back, err := unmarshalItem(item)
	require.NoError(t, err)
	assert.Equal(t, e.Key, back.Key)
	assert.Equal(t, `W/"1"`, back.ETag)
	assert.Equal(t, fixedNow, back.Timestamp)
	delete(e.Properties, "Gone")
	assert.Equal(t, e.Properties, back.Properties)

	e.Properties["Bad"] = math.NaN()
	_, err = marshalItem(e, "", fixedNow)
	assert.Error(t, err)
	e.Properties["Bad"] = struct{}{}
	_, err = marshalItem(e, "", fixedNow)
	assert.Error(t, err)
}

func TestUnmarshalForeignItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PartitionKey": &types.AttributeValueMemberS{Value: "p"},
		"RowKey":       &types.AttributeValueMemberS{Value: "r"},
		"Count":        &types.AttributeValueMemberN{Value: "12"},
		"Ratio":        &types.AttributeValueMemberN{Value: "0.5"},
		"Nothing":      &types.AttributeValueMemberNULL{Value: true},
	}
	e, err := unmarshalItem(item)
	require.NoError(t, err)
	assert.Equal(t, int64(12), e.Properties["Count"])
	assert.Equal(t, 0.5, e.Properties["Ratio"])
	assert.NotContains(t, e.Properties, "Nothing")

	item["Tags"] = &types.AttributeValueMemberSS{Value: []string{"a"}}
	_, err = unmarshalItem(item)
	assert.Error(t, err)
}

func TestInsertAndGet(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	e := storagemodels.NewEntity("acme", "1")
	e.Properties["Name"] = "Ada"
	written, err := c.Insert(context.Background(), e)
	require.NoError(t, err)
	assert.NotEmpty(t, written.ETag)
	assert.Equal(t, fixedNow, written.Timestamp)

	require.Len(t, api.puts, 1)
	put := api.puts[0]
	assert.Equal(t, "players", aws.ToString(put.TableName))
	assert.Contains(t, aws.ToString(put.ConditionExpression), "attribute_not_exists")
	assert.Equal(t, &types.AttributeValueMemberS{Value: written.ETag}, put.Item[etagAttribute])

	api.putErr = &types.ConditionalCheckFailedException{}
	_, err = c.Insert(context.Background(), e)
	assert.True(t, errors.IsAlreadyExists(err))

	_, err = c.Get(context.Background(), e.Key)
	assert.True(t, errors.IsNotFound(err))

	api.getItem = put.Item
	got, err := c.Get(context.Background(), e.Key)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Properties["Name"])
	assert.True(t, aws.ToBool(api.gets[len(api.gets)-1].ConsistentRead))
}

func TestUpdateConditions(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	e := storagemodels.NewEntity("acme", "1")
	e.Properties["Name"] = "Ada"

	_, err := c.Update(context.Background(), e, storagemodels.UpdateModeReplace, `W/"old"`)
	require.NoError(t, err)
	put := api.puts[0]
	assert.Contains(t, aws.ToString(put.ConditionExpression), "attribute_exists")
	assert.Contains(t, put.ExpressionAttributeValues, ":0")
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, put.ReturnValuesOnConditionCheckFailure)

	api.putErr = &types.ConditionalCheckFailedException{}
	_, err = c.Update(context.Background(), e, storagemodels.UpdateModeReplace, "")
	assert.True(t, errors.IsNotFound(err))

	api.putErr = &types.ConditionalCheckFailedException{Item: storedItem(t, "acme", "1", `W/"new"`, nil)}
	_, err = c.Update(context.Background(), e, storagemodels.UpdateModeReplace, `W/"old"`)
	assert.True(t, errors.IsConditionFailed(err))

	_, err = c.Upsert(context.Background(), e, storagemodels.UpdateModeReplace)
	assert.Error(t, err)
	assert.Nil(t, api.puts[len(api.puts)-1].ConditionExpression)
}

func TestMergeReadsStoredEntity(t *testing.T) {
	api := &fakeAPI{getItem: storedItem(t, "acme", "1", `W/"v1"`, map[string]any{"Name": "Ada", "Level": int32(2)})}
	c := newTestClient(t, api)

	patch := storagemodels.NewEntity("acme", "1")
	patch.Properties["Level"] = int32(3)
	written, err := c.Update(context.Background(), patch, storagemodels.UpdateModeMerge, "")
	require.NoError(t, err)
	assert.Equal(t, "Ada", written.Properties["Name"])
	assert.Equal(t, int32(3), written.Properties["Level"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: `W/"v1"`}, api.puts[0].ExpressionAttributeValues[":0"])

	_, err = c.Update(context.Background(), patch, storagemodels.UpdateModeMerge, `W/"stale"`)
	assert.True(t, errors.IsConditionFailed(err))
	assert.Len(t, api.puts, 1)

	// a lost race without a caller ETag is retried
	api.putErr = &types.ConditionalCheckFailedException{Item: api.getItem}
	_, err = c.Upsert(context.Background(), patch, storagemodels.UpdateModeMerge)
	assert.True(t, errors.IsConditionFailed(err))
	assert.Len(t, api.puts, 1+maxMergeAttempts)

	api.getItem = nil
	api.putErr = nil
	written, err = c.Upsert(context.Background(), patch, storagemodels.UpdateModeMerge)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Level": int32(3)}, written.Properties)
	assert.Contains(t, aws.ToString(api.puts[len(api.puts)-1].ConditionExpression), "attribute_not_exists")
}

func TestDelete(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	key := storagemodels.Key{PartitionKey: "acme", RowKey: "1"}

	require.NoError(t, c.Delete(context.Background(), key, "*"))
	assert.Len(t, api.deletes[0].ExpressionAttributeValues, 0)

	api.deleteErr = &types.ConditionalCheckFailedException{}
	assert.True(t, errors.IsNotFound(c.Delete(context.Background(), key, "")))

	api.deleteErr = &types.ResourceNotFoundException{}
	assert.True(t, errors.IsNotFound(c.Delete(context.Background(), key, "")))
}

func TestQueryUsesKeyCondition(t *testing.T) {
	api := &fakeAPI{queryOut: &sdk.QueryOutput{
		Items: []map[string]types.AttributeValue{
			storedItem(t, "acme", "a", `W/"1"`, map[string]any{"Level": int32(1)}),
			storedItem(t, "acme", "b", `W/"2"`, map[string]any{"Level": int32(5), "Name": "Bo"}),
		},
		LastEvaluatedKey: map[string]types.AttributeValue{
			"PartitionKey": &types.AttributeValueMemberS{Value: "acme"},
			"RowKey":       &types.AttributeValueMemberS{Value: "b"},
		},
	}}
	c := newTestClient(t, api)

	page, err := c.Query(context.Background(), &storagemodels.QueryParams{
		Filter: filter.And(filter.PartitionKeyEq("acme"), filter.RowKeyPrefix("b"), filter.Gt("Level", 2)),
		Select: []string{"Level"},
		Top:    10,
	})
	require.NoError(t, err)

	require.Len(t, api.queries, 1)
	in := api.queries[0]
	assert.Equal(t, int32(10), aws.ToInt32(in.Limit))
	assert.Contains(t, aws.ToString(in.KeyConditionExpression), "BETWEEN")
	assert.NotNil(t, in.FilterExpression)

	// the fake ignores the filter; the in-memory check applies it
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "b", page.Entities[0].RowKey)
	assert.Equal(t, map[string]any{"Level": int32(5)}, page.Entities[0].Properties)
	require.NotEmpty(t, page.ContinuationToken)

	_, err = c.Query(context.Background(), &storagemodels.QueryParams{
		RawFilter:         "PartitionKey eq 'acme'",
		ContinuationToken: page.ContinuationToken,
	})
	require.NoError(t, err)
	in = api.queries[1]
	assert.Equal(t, &types.AttributeValueMemberS{Value: "b"}, in.ExclusiveStartKey["RowKey"])
	assert.Nil(t, in.FilterExpression)
	assert.Equal(t, datastore.MaxPageSize, aws.ToInt32(in.Limit))
}

func TestQueryFallsBackToScan(t *testing.T) {
	api := &fakeAPI{scanOut: &sdk.ScanOutput{Items: []map[string]types.AttributeValue{
		storedItem(t, "a", "1", `W/"1"`, map[string]any{"Active": true}),
		storedItem(t, "b", "1", `W/"2"`, map[string]any{"Active": false}),
	}}}
	c := newTestClient(t, api)

	page, err := c.Query(context.Background(), &storagemodels.QueryParams{RawFilter: "Active eq true"})
	require.NoError(t, err)
	require.Len(t, api.scans, 1)
	assert.NotNil(t, api.scans[0].FilterExpression)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "a", page.Entities[0].PartitionKey)
	assert.Empty(t, page.ContinuationToken)

	_, err = c.Query(context.Background(), &storagemodels.QueryParams{Filter: filter.Not(filter.Eq("Active", true))})
	require.NoError(t, err)
	assert.Nil(t, api.scans[1].FilterExpression)

	_, err = c.Query(context.Background(), &storagemodels.QueryParams{RawFilter: "Active eq"})
	assert.True(t, errors.IsValidationError(err))
	_, err = c.Query(context.Background(), &storagemodels.QueryParams{ContinuationToken: "%%%"})
	assert.True(t, errors.IsValidationError(err))
}

func TestSubmit(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	add := storagemodels.NewEntity("acme", "1")
	del := storagemodels.NewEntity("acme", "2")
	actions := []storagemodels.TransactionAction{
		{Type: storagemodels.TransactionAdd, Entity: add},
		{Type: storagemodels.TransactionDelete, Entity: del, ETag: `W/"d"`},
	}

	require.NoError(t, c.Submit(context.Background(), actions))
	items := api.transact[0].TransactItems
	require.Len(t, items, 2)
	assert.NotNil(t, items[0].Put)
	assert.NotNil(t, items[1].Delete)

	api.transactErr = &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("None")},
		{Code: aws.String(conditionalCheckFailed)},
	}}
	err := c.Submit(context.Background(), actions)
	assert.True(t, errors.IsNotFound(err))

	api.transactErr = &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String(conditionalCheckFailed)},
	}}
	err = c.Submit(context.Background(), actions)
	assert.True(t, errors.IsAlreadyExists(err))

	mixed := append(actions, storagemodels.TransactionAction{Type: storagemodels.TransactionAdd, Entity: storagemodels.NewEntity("other", "3")})
	assert.True(t, errors.IsValidationError(c.Submit(context.Background(), mixed)))
}

func TestTables(t *testing.T) {
	api := &fakeAPI{}
	svc := NewServiceWithAPI(api, WithWaitTimeout(time.Second))
	ctx := context.Background()

	require.NoError(t, svc.CreateTable(ctx, "players"))
	require.NoError(t, svc.CreateTable(ctx, "games"))
	names, err := svc.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"games", "players"}, names)

	assert.True(t, errors.IsValidationError(svc.CreateTable(ctx, "no")))

	api.createErr = &types.ResourceInUseException{}
	assert.True(t, errors.IsAlreadyExists(svc.CreateTable(ctx, "players")))
	tc, err := svc.NewTableClient("players")
	require.NoError(t, err)
	assert.NoError(t, tc.CreateIfNotExists(ctx))

	api.deleteTable = &types.ResourceNotFoundException{}
	assert.True(t, errors.IsNotFound(svc.DeleteTable(ctx, "players")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&types.ProvisionedThroughputExceededException{}))
	assert.True(t, IsRetryable(&types.InternalServerError{}))
	assert.True(t, IsRetryable(&types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
		{Code: aws.String("TransactionConflict")},
	}}))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.NewNotFoundError("players", "p|r")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(stderrors.New("boom")))
}
