/*
Package storagemodels defines the data structures shared by every TableStore backend.

Key Types:

Entity:
The wire-level record. Keys and system properties are fields, everything else
lives in a typed property bag:

	e := storagemodels.NewEntity("tenant-1", "user-42")
	e.Properties["Email"] = "ada@example.com"
	e.Properties["Logins"] = int64(3)

QueryParams:
Parameters for querying a table:

	params := &storagemodels.QueryParams{
	    Filter:    filter.And(filter.PartitionKeyEq("tenant-1"), filter.Gt("Logins", 2)),
	    RawFilter: "Email ne ''",
	    Top:       50,
	}

StreamResult:
Results from streaming operations with metadata:

	type StreamResult[T any] struct {
	    Item  T          // The mapped business entity
	    Raw   *Entity    // Storage entity the item was mapped from
	    Error error      // Item-specific error, if any
	    Meta  StreamMeta // Metadata about this item
	}

StreamOptions:
Configuration for streaming behavior:

	opts := []StreamOption{
	    WithBufferSize(100),
	    WithPageSize(25),
	    WithMaxRetries(3),
	    WithProgressHandler(progressFunc),
	}

These types provide a consistent interface across different storage implementations.
*/
package storagemodels
