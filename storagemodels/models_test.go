/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/tablestore/filter"
)

func TestKey(t *testing.T) {
	k := Key{PartitionKey: "p", RowKey: "r"}
	assert.Equal(t, "p|r", k.String())
	assert.False(t, k.IsZero())
	assert.True(t, Key{}.IsZero())
}

func TestEntityLookup(t *testing.T) {
	e := NewEntity("p", "r")
	e.Properties["Name"] = "Ada"

	v, ok := e.Lookup(PartitionKeyProperty)
	assert.True(t, ok)
	assert.Equal(t, "p", v)

	_, ok = e.Lookup(TimestampProperty)
	assert.False(t, ok, "zero timestamp is absent")

	e.Timestamp = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	v, ok = e.Lookup(TimestampProperty)
	assert.True(t, ok)
	assert.Equal(t, e.Timestamp, v)

	v, ok = e.Lookup("Name")
	assert.True(t, ok)
	assert.Equal(t, "Ada", v)

	_, ok = e.Lookup("Missing")
	assert.False(t, ok)
}

func TestEntityCloneIsDeep(t *testing.T) {
	e := NewEntity("p", "r")
	e.Properties["Blob"] = []byte{1, 2}
	e.Properties["N"] = int32(1)

	c := e.Clone()
	c.Properties["N"] = int32(2)
	c.Properties["Blob"].([]byte)[0] = 9

	assert.Equal(t, int32(1), e.Properties["N"])
	assert.Equal(t, []byte{1, 2}, e.Properties["Blob"])
	assert.Nil(t, (*Entity)(nil).Clone())
}

func TestEntityProject(t *testing.T) {
	e := NewEntity("p", "r")
	e.Properties["A"] = "a"
	e.Properties["B"] = "b"

	assert.Same(t, e, e.Project(nil))

	p := e.Project([]string{"A", "Missing"})
	assert.Equal(t, map[string]any{"A": "a"}, p.Properties)
	assert.Equal(t, e.Key, p.Key)
	assert.Len(t, e.Properties, 2)
}

func TestQueryParamsExpr(t *testing.T) {
	var nilParams *QueryParams
	assert.Nil(t, nilParams.Expr())

	p := &QueryParams{Filter: filter.PartitionKeyEq("p")}
	assert.Equal(t, filter.PartitionKeyEq("p"), p.Expr())

	p.RawFilter = "Age gt 3"
	text, err := filter.ToOData(p.Expr())
	require.NoError(t, err)
	assert.Equal(t, "PartitionKey eq 'p' and (Age gt 3)", text)
}

func TestStreamOptions(t *testing.T) {
	opts := DefaultStreamOptions()
	for _, o := range []StreamOption{
		WithBufferSize(5),
		WithMaxRetries(1),
		WithRetryBackoff(time.Millisecond),
		WithPageSize(20),
		WithErrorHandler(func(error) bool { return true }),
		WithProgressHandler(func(StreamProgress) {}),
	} {
		o(&opts)
	}

	assert.Equal(t, 5, opts.BufferSize)
	assert.Equal(t, 1, opts.MaxRetries)
	assert.Equal(t, time.Millisecond, opts.RetryBackoff)
	assert.Equal(t, int32(20), opts.PageSize)
	assert.NotNil(t, opts.ErrorHandler)
	assert.NotNil(t, opts.ProgressHandler)
}

func TestTransactionTypeString(t *testing.T) {
	assert.Equal(t, "add", TransactionAdd.String())
	assert.Equal(t, "upsert-merge", TransactionUpsertMerge.String())
	assert.Equal(t, "delete", TransactionDelete.String())
	assert.Equal(t, "merge", UpdateModeMerge.String())
}
