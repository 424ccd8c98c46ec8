/*
Package tablestore is a typed data-access layer for PartitionKey/RowKey table
stores such as Azure Table Storage, with DynamoDB and in-memory backends
behind the same contract.

The library follows a bind → open → use workflow:
  - Bind: business structs are tagged and validated once at startup
  - Open: the configured backend is wrapped in a per-table client cache
  - Use: typed repositories read, query, stream and write entities

Key Features:
  - Struct tags and key templates such as "TENANT_{TenantID}" for keys
  - Filters written against business field names, rendered to OData
  - ETag optimistic concurrency on replace, merge and delete
  - Key-change-aware updates that move entities between rows and partitions
  - Client cache with sliding TTL eviction and prometheus metrics
  - Optional per-table circuit breaker

Basic Usage:

	cfg, err := config.Load("tablestore.yaml")
	store, err := tablestore.Open(ctx, cfg, tablestore.WithLogger(logger))
	defer store.Close()

	players, err := tablestore.Bind[Player](store, "players")
	saved, err := players.Insert(ctx, Player{Tenant: "acme", ID: "42", Name: "Ada"})
	strong, err := players.Find(ctx, filter.Gt("Rating", 1500))

	// move the player to another tenant
	saved.Tenant = "globex"
	moved, err := players.Update(ctx, storagemodels.Key{PartitionKey: "acme", RowKey: "42"}, saved)
*/
package tablestore
