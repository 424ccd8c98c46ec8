/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// Attribute names of the system values every item carries.
const (
	partitionKeyAttribute = storagemodels.PartitionKeyProperty
	rowKeyAttribute       = storagemodels.RowKeyProperty
	etagAttribute         = storagemodels.ETagProperty
	timestampAttribute    = storagemodels.TimestampProperty
	// typesAttribute maps property names to the table type DynamoDB cannot
	// express on its own (Int32, Int64, Double, DateTime, Guid).
	typesAttribute = "odata.types"
)

const (
	typeInt32    = "Edm.Int32"
	typeInt64    = "Edm.Int64"
	typeDouble   = "Edm.Double"
	typeDateTime = "Edm.DateTime"
	typeGUID     = "Edm.Guid"
)

// pagePosition is a resume point. It doubles as the key of an item.
type pagePosition struct {
	PartitionKey string `dynamodbav:"PartitionKey" json:"pk"`
	RowKey       string `dynamodbav:"RowKey" json:"rk"`
}

func keyItem(k storagemodels.Key) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(pagePosition{PartitionKey: k.PartitionKey, RowKey: k.RowKey})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	return item, nil
}

// marshalItem converts e into a DynamoDB item stamped with etag and ts.
func marshalItem(e *storagemodels.Entity, etag string, ts time.Time) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		partitionKeyAttribute: &types.AttributeValueMemberS{Value: e.PartitionKey},
		rowKeyAttribute:       &types.AttributeValueMemberS{Value: e.RowKey},
		etagAttribute:         &types.AttributeValueMemberS{Value: etag},
		timestampAttribute:    &types.AttributeValueMemberS{Value: ts.UTC().Format(filter.DateTimeLayout)},
	}
	edmTypes := make(map[string]types.AttributeValue)
	for name, v := range e.Properties {
		av, edm, err := marshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		if av == nil {
			continue
		}
		item[name] = av
		if edm != "" {
			edmTypes[name] = &types.AttributeValueMemberS{Value: edm}
		}
	}
	item[typesAttribute] = &types.AttributeValueMemberM{Value: edmTypes}
	return item, nil
}

// marshalValue returns the attribute for v and the table type to record,
// if the attribute type alone does not identify it.
func marshalValue(v any) (types.AttributeValue, string, error) {
	switch tv := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return &types.AttributeValueMemberS{Value: tv}, "", nil
	case []byte:
		return &types.AttributeValueMemberB{Value: tv}, "", nil
	case bool:
		av, err := attributevalue.Marshal(tv)
		return av, "", err
	case int32:
		av, err := attributevalue.Marshal(tv)
		return av, typeInt32, err
	case int64:
		av, err := attributevalue.Marshal(tv)
		return av, typeInt64, err
	case float64:
		if math.IsNaN(tv) || math.IsInf(tv, 0) {
			return nil, "", fmt.Errorf("%v cannot be stored as a DynamoDB number", tv)
		}
		av, err := attributevalue.Marshal(tv)
		return av, typeDouble, err
	case time.Time:
		return &types.AttributeValueMemberS{Value: tv.UTC().Format(filter.DateTimeLayout)}, typeDateTime, nil
	case uuid.UUID:
		return &types.AttributeValueMemberS{Value: tv.String()}, typeGUID, nil
	}
	return nil, "", fmt.Errorf("unsupported type %T", v)
}

// unmarshalItem converts a DynamoDB item back into an entity.
func unmarshalItem(item map[string]types.AttributeValue) (*storagemodels.Entity, error) {
	var pos pagePosition
	if err := attributevalue.UnmarshalMap(item, &pos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key: %w", err)
	}
	e := storagemodels.NewEntity(pos.PartitionKey, pos.RowKey)

	edmTypes := make(map[string]string)
	if av, ok := item[typesAttribute]; ok {
		if err := attributevalue.Unmarshal(av, &edmTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", typesAttribute, err)
		}
	}

	for name, av := range item {
		switch name {
		case partitionKeyAttribute, rowKeyAttribute, typesAttribute:
			continue
		case etagAttribute:
			if err := attributevalue.Unmarshal(av, &e.ETag); err != nil {
				return nil, fmt.Errorf("failed to unmarshal ETag: %w", err)
			}
			continue
		case timestampAttribute:
			var s string
			if err := attributevalue.Unmarshal(av, &s); err != nil {
				return nil, fmt.Errorf("failed to unmarshal Timestamp: %w", err)
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("failed to parse Timestamp: %w", err)
			}
			e.Timestamp = ts
			continue
		}
		v, err := unmarshalValue(av, edmTypes[name])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if v != nil {
			e.Properties[name] = v
		}
	}
	return e, nil
}

func unmarshalValue(av types.AttributeValue, edm string) (any, error) {
	switch tv := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		switch edm {
		case typeDateTime:
			return time.Parse(time.RFC3339Nano, tv.Value)
		case typeGUID:
			return uuid.Parse(tv.Value)
		}
		return tv.Value, nil
	case *types.AttributeValueMemberB:
		return tv.Value, nil
	case *types.AttributeValueMemberBOOL:
		return tv.Value, nil
	case *types.AttributeValueMemberN:
		switch edm {
		case typeInt32:
			var n int32
			err := attributevalue.Unmarshal(av, &n)
			return n, err
		case typeInt64:
			var n int64
			err := attributevalue.Unmarshal(av, &n)
			return n, err
		case typeDouble:
			var f float64
			err := attributevalue.Unmarshal(av, &f)
			return f, err
		}
		// written by another tool: keep integers integral
		if !strings.ContainsAny(tv.Value, ".eE") {
			var n int64
			if err := attributevalue.Unmarshal(av, &n); err == nil {
				return n, nil
			}
		}
		var f float64
		err := attributevalue.Unmarshal(av, &f)
		return f, err
	}
	return nil, fmt.Errorf("unsupported attribute type %T", av)
}

// conditionValue converts a filter literal into the Go value that marshals
// to the same attribute marshalValue writes.
func conditionValue(v any) (any, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format(filter.DateTimeLayout), nil
	case uuid.UUID:
		return tv.String(), nil
	case string, bool, int32, int64, float64, []byte:
		return tv, nil
	}
	return nil, fmt.Errorf("unsupported filter value %T", v)
}
