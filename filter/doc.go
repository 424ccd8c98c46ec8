/*
Package filter is the typed query layer of TableStore.

Predicates are built as a small expression tree and translated into whatever
the backend understands:

	expr := filter.And(
	    filter.PartitionKeyEq("tenant-1"),
	    filter.Gt("Age", 30),
	    filter.Not(filter.Eq("Status", "archived")),
	)
	odata, _ := filter.ToOData(expr)
	// PartitionKey eq 'tenant-1' and Age gt 30L and not (Status eq 'archived')

Raw filter strings in the table-service OData dialect are accepted as well,
either wrapped with Raw or parsed back into a tree with Parse, so that
backends without an OData engine (memory, DynamoDB) can still execute them.

Go values are normalized before rendering: int becomes Edm.Int64, int8/int16
become Edm.Int32, float32 becomes Edm.Double, time.Time becomes Edm.DateTime in
UTC, uuid.UUID becomes Edm.Guid and []byte becomes Edm.Binary.
*/
package filter
