/*
Package registry holds the declarative metadata TableStore consumes at bind time.

Index Map Registry:
Associates Go types with partition and row key templates. Macros name exported
fields and are expanded when an entity is written:

	registry.RegisterIndexMap[Order](map[string]string{
	    "PartitionKey": "CUSTOMER_{CustomerID}",
	    "RowKey":       "ORDER_{OrderID}",
	})

Types that tag their key fields directly (`table:",partitionkey"`) do not need
an index map.

Property Codec Registry:
Teaches the mapper how to store Go types that have no native table
representation. strfmt.DateTime and strfmt.Date are registered by default:

	registry.RegisterPropertyCodec(reflect.TypeOf(Money{}), registry.PropertyCodec{
	    Encode: func(v reflect.Value) (any, error) { ... },
	    Decode: func(src any, dst reflect.Value) error { ... },
	})

The registry is thread-safe and should be populated during initialization,
typically in init() functions, before bindings are created.
*/
package registry
