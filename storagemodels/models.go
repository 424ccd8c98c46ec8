/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"time"

	"github.com/suparena/tablestore/filter"
)

// Names of the system properties every table entity carries.
const (
	PartitionKeyProperty = filter.PartitionKey
	RowKeyProperty       = filter.RowKey
	TimestampProperty    = filter.Timestamp
	ETagProperty         = "ETag"
)

// MaxTransactionActions is the largest batch the table service accepts in a single transaction.
const MaxTransactionActions = 100

// Key addresses a single entity.
type Key struct {
	PartitionKey string
	RowKey       string
}

// String renders the key as "partition|row".
func (k Key) String() string {
	return k.PartitionKey + "|" + k.RowKey
}

// IsZero reports whether both parts are empty.
func (k Key) IsZero() bool {
	return k.PartitionKey == "" && k.RowKey == ""
}

// Entity is the wire-level record persisted to a table.
// Property values are one of string, bool, int32, int64, float64, time.Time,
// []byte, uuid.UUID or nil.
type Entity struct {
	Key
	// Timestamp is maintained by the backend and ignored on write.
	Timestamp time.Time
	// ETag is the opaque concurrency token returned by the backend.
	ETag string
	// Properties holds every non-system property.
	Properties map[string]any
}

// NewEntity creates an entity with an empty property bag.
func NewEntity(partitionKey, rowKey string) *Entity {
	return &Entity{
		Key:        Key{PartitionKey: partitionKey, RowKey: rowKey},
		Properties: make(map[string]any),
	}
}

// Lookup resolves system and regular properties by name.
func (e *Entity) Lookup(name string) (any, bool) {
	switch name {
	case PartitionKeyProperty:
		return e.PartitionKey, true
	case RowKeyProperty:
		return e.RowKey, true
	case TimestampProperty:
		if e.Timestamp.IsZero() {
			return nil, false
		}
		return e.Timestamp, true
	}
	v, ok := e.Properties[name]
	return v, ok
}

// Clone returns a copy that shares no maps or byte slices with e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Properties = make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out.Properties[k] = v
	}
	return &out
}

// Project keeps only the named properties. System properties are always kept.
func (e *Entity) Project(names []string) *Entity {
	if len(names) == 0 {
		return e
	}
	out := *e
	out.Properties = make(map[string]any, len(names))
	for _, n := range names {
		if v, ok := e.Properties[n]; ok {
			out.Properties[n] = v
		}
	}
	return &out
}

// UpdateMode selects how an update treats properties missing from the new entity.
type UpdateMode int

const (
	// UpdateModeReplace overwrites the stored entity.
	UpdateModeReplace UpdateMode = iota
	// UpdateModeMerge keeps stored properties that the new entity does not carry.
	UpdateModeMerge
)

func (m UpdateMode) String() string {
	if m == UpdateModeMerge {
		return "merge"
	}
	return "replace"
}

// QueryParams defines parameters for a table query.
// Used for both regular queries and streaming queries.
type QueryParams struct {
	// Filter is a typed predicate, already expressed in storage property names.
	Filter filter.Expr
	// RawFilter is an OData filter string; it is combined with Filter using "and".
	RawFilter string
	// Select limits the returned properties. Empty means all.
	Select []string
	// Top limits the number of entities per page. Zero means the backend default.
	Top int32
	// ContinuationToken resumes a previous query.
	ContinuationToken string
}

// Expr combines Filter and RawFilter into a single expression.
func (p *QueryParams) Expr() filter.Expr {
	if p == nil {
		return nil
	}
	return filter.And(p.Filter, filter.Raw(p.RawFilter))
}

// Page is a single page of query results.
type Page struct {
	Entities []*Entity
	// ContinuationToken is empty on the last page.
	ContinuationToken string
}

// TransactionType is the kind of a single action inside a batch.
type TransactionType int

const (
	TransactionAdd TransactionType = iota
	TransactionUpdateReplace
	TransactionUpdateMerge
	TransactionUpsertReplace
	TransactionUpsertMerge
	TransactionDelete
)

func (t TransactionType) String() string {
	switch t {
	case TransactionAdd:
		return "add"
	case TransactionUpdateReplace:
		return "update-replace"
	case TransactionUpdateMerge:
		return "update-merge"
	case TransactionUpsertReplace:
		return "upsert-replace"
	case TransactionUpsertMerge:
		return "upsert-merge"
	case TransactionDelete:
		return "delete"
	}
	return "unknown"
}

// TransactionAction is one entry of an atomic same-partition batch.
type TransactionAction struct {
	Type   TransactionType
	Entity *Entity
	// ETag guards update and delete actions; empty means unconditional.
	ETag string
}
