/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/storagemodels"
)

const conditionalCheckFailed = "ConditionalCheckFailed"

// Submit applies actions in one TransactWriteItems call. Merge actions read
// the stored entity first and are guarded by its ETag, so the batch still
// fails as a whole if that entity changes in between.
func (c *Client) Submit(ctx context.Context, actions []storagemodels.TransactionAction) error {
	if err := datastore.ValidateTransaction(actions); err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(actions))
	for i, a := range actions {
		item, err := c.transactItem(ctx, a)
		if err != nil {
			return fmt.Errorf("transaction action %d (%s %s): %w", i, a.Type, a.Entity.Key, err)
		}
		items = append(items, item)
	}

	_, err := c.svc.api.TransactWriteItems(ctx, &sdk.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		c.svc.logger.Debug("transaction committed",
			zap.String("table", c.table),
			zap.String("partition", actions[0].Entity.PartitionKey),
			zap.Int("actions", len(actions)))
		return nil
	}

	var canceled *types.TransactionCanceledException
	if stderrors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			if i >= len(actions) || aws.ToString(reason.Code) != conditionalCheckFailed {
				continue
			}
			a := actions[i]
			return fmt.Errorf("transaction action %d (%s %s): %w", i, a.Type, a.Entity.Key, c.actionError(a, len(reason.Item) == 0))
		}
	}
	return fmt.Errorf("dynamodb transaction on %s: %w", c.table, err)
}

func (c *Client) transactItem(ctx context.Context, a storagemodels.TransactionAction) (types.TransactWriteItem, error) {
	var props map[string]any
	var cond *expression.ConditionBuilder

	switch a.Type {
	case storagemodels.TransactionAdd:
		notExists := expression.AttributeNotExists(expression.Name(partitionKeyAttribute))
		props, cond = a.Entity.Properties, &notExists
	case storagemodels.TransactionUpdateReplace:
		exists := existsCondition(a.ETag)
		props, cond = a.Entity.Properties, &exists
	case storagemodels.TransactionUpsertReplace:
		props = a.Entity.Properties
	case storagemodels.TransactionUpdateMerge, storagemodels.TransactionUpsertMerge:
		stored, err := c.Get(ctx, a.Entity.Key)
		var guard expression.ConditionBuilder
		switch {
		case errors.IsNotFound(err) && a.Type == storagemodels.TransactionUpsertMerge:
			guard = expression.AttributeNotExists(expression.Name(partitionKeyAttribute))
		case err != nil:
			return types.TransactWriteItem{}, err
		default:
			if !etagMatches(a.ETag, stored.ETag) {
				return types.TransactWriteItem{}, errors.NewConditionFailedError(a.Type.String(), "etag mismatch")
			}
			guard = existsCondition(stored.ETag)
		}
		props, cond = datastore.Apply(stored, a.Entity, storagemodels.UpdateModeMerge), &guard
	case storagemodels.TransactionDelete:
		return c.transactDelete(a)
	default:
		return types.TransactWriteItem{}, errors.NewValidationError("actions", fmt.Sprintf("unknown transaction type %d", a.Type))
	}

	written := c.stamp(a.Entity, props)
	item, err := marshalItem(written, written.ETag, written.Timestamp)
	if err != nil {
		return types.TransactWriteItem{}, errors.NewValidationError("entity", err.Error())
	}
	put := &types.Put{
		TableName: aws.String(c.table),
		Item:      item,
	}
	if cond != nil {
		built, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("failed to build condition: %w", err)
		}
		put.ConditionExpression = built.Condition()
		put.ExpressionAttributeNames = built.Names()
		put.ExpressionAttributeValues = built.Values()
		put.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}
	return types.TransactWriteItem{Put: put}, nil
}

func (c *Client) transactDelete(a storagemodels.TransactionAction) (types.TransactWriteItem, error) {
	k, err := keyItem(a.Entity.Key)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	built, err := expression.NewBuilder().WithCondition(existsCondition(a.ETag)).Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to build condition: %w", err)
	}
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                           aws.String(c.table),
		Key:                                 k,
		ConditionExpression:                 built.Condition(),
		ExpressionAttributeNames:            built.Names(),
		ExpressionAttributeValues:           built.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}}, nil
}

// actionError maps a failed condition of a to a domain error. missing reports
// whether the key was free when the condition was checked.
func (c *Client) actionError(a storagemodels.TransactionAction, missing bool) error {
	key := a.Entity.Key.String()
	switch {
	case a.Type == storagemodels.TransactionAdd:
		return errors.NewAlreadyExistsError(c.table, key)
	case a.Type == storagemodels.TransactionUpsertMerge && !missing:
		// the entity appeared after it was read
		return errors.NewConditionFailedError(a.Type.String(), "entity changed concurrently")
	case missing:
		return errors.NewNotFoundError(c.table, key)
	}
	return errors.NewConditionFailedError(a.Type.String(), "etag mismatch")
}
