/*
Package ddb provides a DynamoDB implementation of the datastore contract.

Each logical table maps to a DynamoDB table keyed by PartitionKey (hash) and
RowKey (range). Items carry two extra attributes: ETag, a fresh opaque value
written on every change, and Timestamp. The property types DynamoDB cannot
tell apart (Int32, Int64, Double, DateTime, Guid) are recorded in the
odata.types map attribute so entities read back with the types they were
written with.

Writes:
  - Insert, Update and Delete are single conditional requests
  - Merge writes read the stored item and write it back guarded by its ETag
  - Submit uses TransactWriteItems

Queries:
A filter that pins PartitionKey runs as a Query. RowKey bounds become the sort
key condition and the remaining comparisons a filter expression. Every other
filter runs as a Scan. Results are always re-checked in memory, so the
semantics match the table service even where DynamoDB's would differ.

	svc, err := ddb.NewService(ctx, ddb.Config{Region: "us-east-1"})
	players, err := svc.NewTableClient("players")
	page, err := players.Query(ctx, &storagemodels.QueryParams{
	    Filter: filter.And(filter.PartitionKeyEq("acme"), filter.Gt("Elo", 1400)),
	})

IsRetryable classifies transient DynamoDB failures for stream retries.
*/
package ddb
