/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"

	"github.com/suparena/tablestore/storagemodels"
)

// TableService manages tables and hands out per-table clients.
type TableService interface {
	NewTableClient(name string) (TableClient, error)

	CreateTable(ctx context.Context, name string) error

	DeleteTable(ctx context.Context, name string) error

	ListTables(ctx context.Context) ([]string, error)
}

// TableClient performs entity operations against a single table.
//
// Implementations report missing entities with errors.NotFoundError, key
// conflicts with errors.AlreadyExistsError and ETag mismatches with
// errors.ConditionFailedError.
type TableClient interface {
	Name() string

	// CreateIfNotExists creates the table, succeeding when it already exists.
	CreateIfNotExists(ctx context.Context) error

	Get(ctx context.Context, key storagemodels.Key) (*storagemodels.Entity, error)

	// Insert fails with AlreadyExists when the key is taken.
	Insert(ctx context.Context, entity *storagemodels.Entity) (*storagemodels.Entity, error)

	// Update fails with NotFound when the key is free. A non-empty etag must
	// match the stored one.
	Update(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error)

	Upsert(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error)

	// Delete fails with NotFound when the key is free. A non-empty etag must
	// match the stored one.
	Delete(ctx context.Context, key storagemodels.Key, etag string) error

	Query(ctx context.Context, params *storagemodels.QueryParams) (*storagemodels.Page, error)

	// Submit applies actions atomically. All actions must share a partition
	// key and there may be at most storagemodels.MaxTransactionActions.
	Submit(ctx context.Context, actions []storagemodels.TransactionAction) error
}
