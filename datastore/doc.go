/*
Package datastore defines the backend contract of TableStore.

A TableService creates and lists tables and hands out TableClients; a
TableClient reads and writes storagemodels.Entity values addressed by
(PartitionKey, RowKey):

	type TableClient interface {
	    Get(ctx context.Context, key storagemodels.Key) (*storagemodels.Entity, error)
	    Insert(ctx context.Context, entity *storagemodels.Entity) (*storagemodels.Entity, error)
	    Update(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode, etag string) (*storagemodels.Entity, error)
	    Upsert(ctx context.Context, entity *storagemodels.Entity, mode storagemodels.UpdateMode) (*storagemodels.Entity, error)
	    Delete(ctx context.Context, key storagemodels.Key, etag string) error
	    Query(ctx context.Context, params *storagemodels.QueryParams) (*storagemodels.Page, error)
	    Submit(ctx context.Context, actions []storagemodels.TransactionAction) error
	    ...
	}

Write operations return the written entity carrying its new ETag.

Implementations:
  - aztables: Azure Table Storage and the Cosmos DB Table API
  - ddb: DynamoDB, one DynamoDB table per logical table
  - memory: in-process tables for tests and local runs
  - resilient: a circuit-breaking decorator over any of the above

Helpers shared by backends live in this package: ValidateTransaction checks
the single-partition batch rules, PageLimit applies the page size limit
and Apply resolves replace and merge updates.
*/
package datastore
