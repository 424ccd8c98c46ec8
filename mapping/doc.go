/*
Package mapping binds business types to storage entities.

A Binding is built once, usually at startup, by inspecting struct tags:

	type Player struct {
	    Tenant  string    `table:",partitionkey"`
	    ID      uuid.UUID `table:",rowkey"`
	    Name    string
	    Rating  int32     `table:"Elo"`
	    Notes   string    `table:",omitempty"`
	    Version string    `table:",etag"`
	    Scratch []int     `table:"-"`
	}

	players := mapping.MustBind[*Player]()

Keys may instead come from templates, registered with
registry.RegisterIndexMap or passed with WithKeyTemplates:

	mapping.Bind[Order](mapping.WithKeyTemplates("CUSTOMER_{CustomerID}", "{OrderID}"))

Every problem found while binding (missing or duplicate keys, unsupported
field types, reserved or clashing property names, templates naming unknown
fields) is returned as an errors.ConfigurationError, so a misconfigured type
fails fast instead of on its first write.

Types that reflection cannot describe can use Funcs with explicit conversion
functions. Both satisfy Mapper.
*/
package mapping
