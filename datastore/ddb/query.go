/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/suparena/tablestore/datastore"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// Query returns one page of entities matching params.
//
// A filter pinning the partition key runs as a DynamoDB Query, in row key
// order; anything else runs as a Scan, whose order across partitions is
// unspecified. The pushed-down expression only narrows the read: every item
// is re-checked against the full filter before it is returned, so a page may
// hold fewer than Top entities while a continuation token remains.
func (c *Client) Query(ctx context.Context, params *storagemodels.QueryParams) (*storagemodels.Page, error) {
	if params == nil {
		params = &storagemodels.QueryParams{}
	}
	expr, err := resolveRaw(params.Expr())
	if err != nil {
		return nil, err
	}

	var startKey map[string]types.AttributeValue
	if params.ContinuationToken != "" {
		var pos pagePosition
		if err := datastore.DecodeToken(params.ContinuationToken, &pos); err != nil {
			return nil, err
		}
		if startKey, err = keyItem(storagemodels.Key{PartitionKey: pos.PartitionKey, RowKey: pos.RowKey}); err != nil {
			return nil, err
		}
	}
	limit := aws.Int32(datastore.PageLimit(params.Top))

	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue
	if pk, ok := filter.PartitionOf(expr); ok {
		input, err := c.queryInput(pk, expr)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = startKey
		input.Limit = limit
		out, err := c.svc.api.Query(ctx, input)
		if err != nil {
			return nil, c.translateError(err, "query", storagemodels.Key{PartitionKey: pk})
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	} else {
		input, err := c.scanInput(expr)
		if err != nil {
			return nil, err
		}
		input.ExclusiveStartKey = startKey
		input.Limit = limit
		out, err := c.svc.api.Scan(ctx, input)
		if err != nil {
			return nil, c.translateError(err, "scan", storagemodels.Key{})
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	}

	page := &storagemodels.Page{Entities: make([]*storagemodels.Entity, 0, len(items))}
	for _, item := range items {
		e, err := unmarshalItem(item)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", c.table, err)
		}
		match, err := filter.Eval(expr, e.Lookup)
		if err != nil {
			return nil, errors.NewValidationError("filter", err.Error())
		}
		if match {
			page.Entities = append(page.Entities, e.Project(params.Select))
		}
	}

	if len(lastKey) > 0 {
		var pos pagePosition
		if err := attributevalue.UnmarshalMap(lastKey, &pos); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last evaluated key: %w", err)
		}
		if page.ContinuationToken, err = datastore.EncodeToken(pos); err != nil {
			return nil, err
		}
	}
	c.svc.logger.Debug("query page",
		zap.String("table", c.table),
		zap.Int("read", len(items)),
		zap.Int("matched", len(page.Entities)),
		zap.Bool("more", page.ContinuationToken != ""))
	return page, nil
}

func (c *Client) queryInput(pk string, expr filter.Expr) (*sdk.QueryInput, error) {
	keyCond := expression.Key(partitionKeyAttribute).Equal(expression.Value(pk))
	if rk, ok := rowKeyCondition(expr); ok {
		keyCond = keyCond.And(rk)
	}
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	// key attributes may not appear in a Query filter
	if cond, ok := pushdown(expr, true); ok {
		builder = builder.WithFilter(cond)
	}
	built, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}
	return &sdk.QueryInput{
		TableName:                 aws.String(c.table),
		KeyConditionExpression:    built.KeyCondition(),
		FilterExpression:          built.Filter(),
		ExpressionAttributeNames:  built.Names(),
		ExpressionAttributeValues: built.Values(),
		ConsistentRead:            aws.Bool(true),
	}, nil
}

func (c *Client) scanInput(expr filter.Expr) (*sdk.ScanInput, error) {
	input := &sdk.ScanInput{
		TableName:      aws.String(c.table),
		ConsistentRead: aws.Bool(true),
	}
	cond, ok := pushdown(expr, false)
	if !ok {
		return input, nil
	}
	built, err := expression.NewBuilder().WithFilter(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan expression: %w", err)
	}
	input.FilterExpression = built.Filter()
	input.ExpressionAttributeNames = built.Names()
	input.ExpressionAttributeValues = built.Values()
	return input, nil
}

// resolveRaw parses raw filter text so the whole tree can be pushed down and
// evaluated.
func resolveRaw(e filter.Expr) (filter.Expr, error) {
	switch te := e.(type) {
	case filter.RawExpr:
		parsed, err := filter.Parse(te.Text)
		if err != nil {
			return nil, errors.NewValidationError("filter", err.Error())
		}
		return parsed, nil
	case filter.Logical:
		children := make([]filter.Expr, 0, len(te.Exprs))
		for _, child := range te.Exprs {
			rc, err := resolveRaw(child)
			if err != nil {
				return nil, err
			}
			children = append(children, rc)
		}
		if te.Op == filter.OpAnd {
			return filter.And(children...), nil
		}
		return filter.Or(children...), nil
	case filter.Negation:
		inner, err := resolveRaw(te.Expr)
		if err != nil {
			return nil, err
		}
		return filter.Not(inner), nil
	}
	return e, nil
}

// rowKeyCondition folds the top-level RowKey bounds of expr into a sort key
// condition. Strict bounds become inclusive ones; the in-memory check drops
// the boundary rows.
func rowKeyCondition(expr filter.Expr) (expression.KeyConditionBuilder, bool) {
	var lower, upper, equal *string
	for _, e := range conjuncts(expr) {
		c, ok := e.(filter.Comparison)
		if !ok || c.Property != filter.RowKey {
			continue
		}
		s, ok := c.Value.(string)
		if !ok {
			continue
		}
		switch c.Op {
		case filter.OpEq:
			equal = &s
		case filter.OpGt, filter.OpGe:
			if lower == nil || s > *lower {
				lower = &s
			}
		case filter.OpLt, filter.OpLe:
			if upper == nil || s < *upper {
				upper = &s
			}
		}
	}

	rk := expression.Key(rowKeyAttribute)
	switch {
	case equal != nil:
		return rk.Equal(expression.Value(*equal)), true
	case lower != nil && upper != nil:
		if *lower > *upper {
			// empty range; an inverted BETWEEN is rejected by DynamoDB
			return rk.Equal(expression.Value(*lower)), true
		}
		return rk.Between(expression.Value(*lower), expression.Value(*upper)), true
	case lower != nil:
		return rk.GreaterThanEqual(expression.Value(*lower)), true
	case upper != nil:
		return rk.LessThanEqual(expression.Value(*upper)), true
	}
	return expression.KeyConditionBuilder{}, false
}

func conjuncts(e filter.Expr) []filter.Expr {
	if l, ok := e.(filter.Logical); ok && l.Op == filter.OpAnd {
		return l.Exprs
	}
	if e == nil {
		return nil
	}
	return []filter.Expr{e}
}

// pushdown converts the parts of e DynamoDB can evaluate into a filter that
// matches at least every entity e matches. It reports false when nothing can
// be pushed.
func pushdown(e filter.Expr, skipKeys bool) (expression.ConditionBuilder, bool) {
	switch te := e.(type) {
	case filter.Comparison:
		return pushComparison(te, skipKeys)
	case filter.Logical:
		var conds []expression.ConditionBuilder
		for _, child := range te.Exprs {
			cond, ok := pushdown(child, skipKeys)
			if !ok {
				if te.Op == filter.OpOr {
					return expression.ConditionBuilder{}, false
				}
				continue
			}
			conds = append(conds, cond)
		}
		switch len(conds) {
		case 0:
			return expression.ConditionBuilder{}, false
		case 1:
			return conds[0], true
		}
		if te.Op == filter.OpOr {
			return expression.Or(conds[0], conds[1], conds[2:]...), true
		}
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
	// negations are left to the in-memory check: DynamoDB and the table
	// service disagree on missing attributes under NOT
	return expression.ConditionBuilder{}, false
}

func pushComparison(c filter.Comparison, skipKeys bool) (expression.ConditionBuilder, bool) {
	if skipKeys && (c.Property == filter.PartitionKey || c.Property == filter.RowKey) {
		return expression.ConditionBuilder{}, false
	}
	v, err := conditionValue(c.Value)
	if err != nil {
		return expression.ConditionBuilder{}, false
	}
	if _, isBool := v.(bool); isBool && c.Op != filter.OpEq {
		return expression.ConditionBuilder{}, false
	}

	name, value := expression.Name(c.Property), expression.Value(v)
	switch c.Op {
	case filter.OpEq:
		return name.Equal(value), true
	case filter.OpGt:
		return name.GreaterThan(value), true
	case filter.OpGe:
		return name.GreaterThanEqual(value), true
	case filter.OpLt:
		return name.LessThan(value), true
	case filter.OpLe:
		return name.LessThanEqual(value), true
	}
	// ne matches missing attributes in DynamoDB but not in the table service
	return expression.ConditionBuilder{}, false
}
