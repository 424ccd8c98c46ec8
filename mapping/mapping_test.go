/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mapping

import (
	"strings"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/registry"
	"github.com/suparena/tablestore/storagemodels"
)

type player struct {
	Tenant  string    `table:",partitionkey"`
	ID      uuid.UUID `table:",rowkey"`
	Name    string
	Rating  int32 `table:"Elo"`
	Score   float64
	Level   uint8
	Active  bool
	Joined  time.Time
	Seen    *strfmt.DateTime
	Avatar  []byte
	Nick    *string
	Notes   string    `table:",omitempty"`
	Version string    `table:",etag"`
	Updated time.Time `table:",timestamp"`
	Scratch []int     `table:"-"`
}

type order struct {
	CustomerID string
	OrderID    int64
	Total      float64
}

type audit struct {
	CreatedBy string
}

type document struct {
	audit
	Tenant string `table:",partitionkey"`
	ID     string `table:",rowkey"`
	Title  string
}

type Provenance struct {
	Source   string
	Imported strfmt.Date
}

type record struct {
	*Provenance
	Shard string `table:",partitionkey"`
	ID    string `table:",rowkey"`
}

type Chain struct {
	*Chain
	PK string `table:",partitionkey"`
	RK string `table:",rowkey"`
}

type stamped struct {
	PK      string `table:",partitionkey"`
	RK      string `table:",rowkey"`
	Logged  time.Time
	Created strfmt.DateTime
	Due     strfmt.Date
}

type sequenced struct {
	Region string `table:",partitionkey"`
	Seq    int64  `table:",rowkey"`
}

func newPlayer() *player {
	nick := "ace"
	seen := strfmt.DateTime(time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC))
	return &player{
		Tenant:  "acme",
		ID:      uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301"),
		Name:    "Ada",
		Rating:  1500,
		Score:   12.5,
		Level:   7,
		Active:  true,
		Joined:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Seen:    &seen,
		Avatar:  []byte{0xca, 0xfe},
		Nick:    &nick,
		Version: "W/\"1\"",
	}
}

func TestBindRoundTrip(t *testing.T) {
	b, err := Bind[*player]()
	require.NoError(t, err)
	assert.Equal(t, "player", b.TypeName())

	in := newPlayer()
	e, err := b.ToEntity(in)
	require.NoError(t, err)

	assert.Equal(t, "acme", e.PartitionKey)
	assert.Equal(t, "3f2504e0-4f89-11d3-9a0c-0305e82c3301", e.RowKey)
	assert.Equal(t, `W/"1"`, e.ETag)
	assert.Equal(t, int32(1500), e.Properties["Elo"])
	assert.Equal(t, int32(7), e.Properties["Level"])
	assert.Equal(t, 12.5, e.Properties["Score"])
	assert.Equal(t, "ace", e.Properties["Nick"])
	assert.Equal(t, time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC), e.Properties["Seen"])
	for _, absent := range []string{"Notes", "Scratch", "Tenant", "ID", "Version", "Updated", "Rating"} {
		assert.NotContains(t, e.Properties, absent)
	}

	e.Timestamp = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out, err := b.FromEntity(e)
	require.NoError(t, err)

	in.Updated = e.Timestamp
	assert.Equal(t, in, out)
	assert.Equal(t, `W/"1"`, b.ETag(out))
}

func TestBindNilValues(t *testing.T) {
	b := MustBind[*player]()

	p := newPlayer()
	p.Seen = nil
	p.Nick = nil
	p.Avatar = nil
	p.Joined = time.Time{}

	e, err := b.ToEntity(p)
	require.NoError(t, err)
	assert.NotContains(t, e.Properties, "Seen")
	assert.NotContains(t, e.Properties, "Nick")
	assert.NotContains(t, e.Properties, "Avatar")
	assert.NotContains(t, e.Properties, "Joined")

	_, err = b.ToEntity(nil)
	assert.True(t, errors.IsValidationError(err))

	_, err = b.FromEntity(nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestBindDecodeErrors(t *testing.T) {
	b := MustBind[player]()

	e := storagemodels.NewEntity("acme", "3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	e.Properties["Elo"] = "high"
	_, err := b.FromEntity(e)
	assert.Error(t, err)

	e.Properties["Elo"] = int64(1) << 40
	_, err = b.FromEntity(e)
	assert.ErrorContains(t, err, "overflows")

	e.Properties["Elo"] = int32(10)
	e.RowKey = "not-a-uuid"
	_, err = b.FromEntity(e)
	assert.Error(t, err)
}

func TestBindValidation(t *testing.T) {
	type noKeys struct{ Name string }
	type dupPartition struct {
		A string `table:",partitionkey"`
		B string `table:",partitionkey"`
		R string `table:",rowkey"`
	}
	type missingRow struct {
		P string `table:",partitionkey"`
	}
	type mapField struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		M map[string]string
	}
	type wideUnsigned struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		N uint64
	}
	type reservedName struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		T string `table:"Timestamp"`
	}
	type dupProperty struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		A string `table:"X"`
		B string `table:"X"`
	}
	type floatKey struct {
		P float64 `table:",partitionkey"`
		R string  `table:",rowkey"`
	}
	type intETag struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		V int    `table:",etag"`
	}
	type stringTimestamp struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		T string `table:",timestamp"`
	}
	type unknownOption struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey,bogus"`
	}
	type badName struct {
		P string `table:",partitionkey"`
		R string `table:",rowkey"`
		N string `table:"bad name"`
	}
	type twoRoles struct {
		P string `table:",partitionkey,rowkey"`
	}

	tests := []struct {
		name string
		bind func() error
		want string
	}{
		{"no keys", func() error { _, err := Bind[noKeys](); return err }, "missing partition key"},
		{"duplicate partition key", func() error { _, err := Bind[dupPartition](); return err }, "duplicate partition key"},
		{"missing row key", func() error { _, err := Bind[missingRow](); return err }, "missing row key"},
		{"map field", func() error { _, err := Bind[mapField](); return err }, "unsupported property type"},
		{"uint64 field", func() error { _, err := Bind[wideUnsigned](); return err }, "unsupported property type"},
		{"reserved name", func() error { _, err := Bind[reservedName](); return err }, "reserved"},
		{"duplicate property", func() error { _, err := Bind[dupProperty](); return err }, "already used"},
		{"float key", func() error { _, err := Bind[floatKey](); return err }, "must be a string"},
		{"int etag", func() error { _, err := Bind[intETag](); return err }, "etag field"},
		{"string timestamp", func() error { _, err := Bind[stringTimestamp](); return err }, "timestamp field"},
		{"unknown option", func() error { _, err := Bind[unknownOption](); return err }, "unknown tag option"},
		{"bad property name", func() error { _, err := Bind[badName](); return err }, "invalid property name"},
		{"two roles", func() error { _, err := Bind[twoRoles](); return err }, "more than one role"},
		{"not a struct", func() error { _, err := Bind[int](); return err }, "must be a struct"},
		{"unknown macro", func() error {
			_, err := Bind[order](WithKeyTemplates("C_{Nope}", "{OrderID}"))
			return err
		}, "unknown property field"},
		{"unbalanced template", func() error {
			_, err := Bind[order](WithKeyTemplates("C_{CustomerID", "{OrderID}"))
			return err
		}, "unbalanced"},
		{"tag and template", func() error {
			_, err := Bind[sequenced](WithKeyTemplates("R_{Region}", ""))
			return err
		}, "duplicate partition key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bind()
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.Panics(t, func() { MustBind[noKeys]() })

	_, err := Bind[noKeys]()
	assert.True(t, errors.IsNoBinding(err))
	_, err = Bind[missingRow]()
	assert.True(t, errors.IsNoBinding(err))
	_, err = Bind[mapField]()
	assert.False(t, errors.IsNoBinding(err))
}

func TestBindIndexMapTemplates(t *testing.T) {
	registry.RegisterIndexMap[order](map[string]string{
		registry.PartitionKeyTemplate: "CUSTOMER_{CustomerID}",
		registry.RowKeyTemplate:       "{OrderID}",
	})
	defer registry.UnregisterIndexMap[order]()

	b, err := Bind[order]()
	require.NoError(t, err)

	k, err := b.Keys(order{CustomerID: "c1", OrderID: 42})
	require.NoError(t, err)
	assert.Equal(t, storagemodels.Key{PartitionKey: "CUSTOMER_c1", RowKey: "42"}, k)

	e, err := b.ToEntity(order{CustomerID: "c1", OrderID: 42, Total: 9.99})
	require.NoError(t, err)
	assert.Equal(t, "c1", e.Properties["CustomerID"])
	assert.Equal(t, int64(42), e.Properties["OrderID"])

	back, err := b.FromEntity(e)
	require.NoError(t, err)
	assert.Equal(t, order{CustomerID: "c1", OrderID: 42, Total: 9.99}, back)

	_, err = Bind[order](WithoutIndexMap())
	assert.True(t, errors.IsConfigurationError(err))

	explicit, err := Bind[order](WithKeyTemplates("{CustomerID}", "ORDER_{OrderID}"), WithTypeName("Order"))
	require.NoError(t, err)
	assert.Equal(t, "Order", explicit.TypeName())
	k, err = explicit.Keys(order{CustomerID: "c1", OrderID: 42})
	require.NoError(t, err)
	assert.Equal(t, "ORDER_42", k.RowKey)
}

func TestBindEmbeddedAndIntegerKeys(t *testing.T) {
	b := MustBind[document]()
	assert.Equal(t, []string{"CreatedBy", "Title"}, b.Properties())

	in := document{audit: audit{CreatedBy: "sam"}, Tenant: "t", ID: "d1", Title: "Hello"}
	e, err := b.ToEntity(in)
	require.NoError(t, err)
	assert.Equal(t, "sam", e.Properties["CreatedBy"])

	out, err := b.FromEntity(e)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	s := MustBind[sequenced]()
	e, err = s.ToEntity(sequenced{Region: "eu", Seq: 17})
	require.NoError(t, err)
	assert.Equal(t, "17", e.RowKey)
	back, err := s.FromEntity(e)
	require.NoError(t, err)
	assert.Equal(t, int64(17), back.Seq)
}

func TestBindPointerUsesRegisteredIndexMap(t *testing.T) {
	registry.RegisterIndexMap[order](map[string]string{
		registry.PartitionKeyTemplate: "CUSTOMER_{CustomerID}",
		registry.RowKeyTemplate:       "{OrderID}",
	})
	defer registry.UnregisterIndexMap[order]()

	b, err := Bind[*order]()
	require.NoError(t, err)
	k, err := b.Keys(&order{CustomerID: "c1", OrderID: 42})
	require.NoError(t, err)
	assert.Equal(t, storagemodels.Key{PartitionKey: "CUSTOMER_c1", RowKey: "42"}, k)
}

func TestBindEmbeddedPointer(t *testing.T) {
	b, err := Bind[record]()
	require.NoError(t, err)
	assert.Equal(t, []string{"Source", "Imported"}, b.Properties())

	imported := strfmt.Date(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	in := record{Provenance: &Provenance{Source: "csv", Imported: imported}, Shard: "s1", ID: "r1"}
	e, err := b.ToEntity(in)
	require.NoError(t, err)
	assert.Equal(t, "csv", e.Properties["Source"])

	out, err := b.FromEntity(e)
	require.NoError(t, err)
	require.NotNil(t, out.Provenance)
	assert.Equal(t, "csv", out.Source)
	assert.True(t, time.Time(imported).Equal(time.Time(out.Imported)))

	// a nil embedded pointer stores nothing and stays nil on the way back
	e, err = b.ToEntity(record{Shard: "s1", ID: "r2"})
	require.NoError(t, err)
	assert.Empty(t, e.Properties)
	out, err = b.FromEntity(e)
	require.NoError(t, err)
	assert.Nil(t, out.Provenance)

	_, err = Bind[Chain]()
	assert.True(t, errors.IsConfigurationError(err))
	assert.ErrorContains(t, err, "refers back to itself")
}

func TestZeroDatesAreNotStored(t *testing.T) {
	b := MustBind[stamped]()

	e, err := b.ToEntity(stamped{PK: "p", RK: "r"})
	require.NoError(t, err)
	assert.Empty(t, e.Properties)

	when := time.Date(2025, 7, 8, 9, 10, 11, 0, time.UTC)
	e, err = b.ToEntity(stamped{PK: "p", RK: "r", Created: strfmt.DateTime(when)})
	require.NoError(t, err)
	assert.Equal(t, when, e.Properties["Created"])
	assert.NotContains(t, e.Properties, "Due")
}

func TestKeysRejectInvalidParts(t *testing.T) {
	b := MustBind[document]()

	_, err := b.Keys(document{Tenant: "", ID: "x"})
	assert.True(t, errors.IsValidationError(err))

	_, err = b.Keys(document{Tenant: "a/b", ID: "x"})
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name  string
		key   storagemodels.Key
		valid bool
	}{
		{"plain", storagemodels.Key{PartitionKey: "p", RowKey: "r"}, true},
		{"underscore and dash", storagemodels.Key{PartitionKey: "TENANT_1", RowKey: "a-b.c"}, true},
		{"empty partition", storagemodels.Key{RowKey: "r"}, false},
		{"empty row", storagemodels.Key{PartitionKey: "p"}, false},
		{"slash", storagemodels.Key{PartitionKey: "p/1", RowKey: "r"}, false},
		{"backslash", storagemodels.Key{PartitionKey: "p", RowKey: `r\1`}, false},
		{"hash", storagemodels.Key{PartitionKey: "p#1", RowKey: "r"}, false},
		{"question mark", storagemodels.Key{PartitionKey: "p", RowKey: "r?"}, false},
		{"control", storagemodels.Key{PartitionKey: "p\t", RowKey: "r"}, false},
		{"too long", storagemodels.Key{PartitionKey: strings.Repeat("a", 1025), RowKey: "r"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}
}

func TestTranslate(t *testing.T) {
	b := MustBind[*player]()
	id := uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	seen := strfmt.DateTime(time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC))

	expr := filter.And(
		filter.Eq("Tenant", "acme"),
		filter.Gt("Rating", 1400),
		filter.Eq("ID", id),
		filter.Eq("Level", 3),
		filter.Lt("Seen", seen),
	)
	out, err := b.Translate(expr)
	require.NoError(t, err)

	text, err := filter.ToOData(out)
	require.NoError(t, err)
	assert.Equal(t,
		"PartitionKey eq 'acme' and Elo gt 1400 and RowKey eq '3f2504e0-4f89-11d3-9a0c-0305e82c3301'"+
			" and Level eq 3 and Seen lt datetime'2025-02-03T04:05:06.0000000Z'",
		text)

	// storage names are accepted too
	out, err = b.Translate(filter.Ge("Elo", int32(10)))
	require.NoError(t, err)
	assert.Equal(t, filter.Ge("Elo", int32(10)), out)

	out, err = b.Translate(filter.Gt("Updated", seen))
	require.NoError(t, err)
	assert.Equal(t, filter.Timestamp, out.(filter.Comparison).Property)
	assert.Equal(t, time.Time(seen), out.(filter.Comparison).Value)

	_, err = b.Translate(filter.Eq("Nope", 1))
	assert.True(t, errors.IsValidationError(err))

	raw := filter.Raw("Whatever eq 1")
	out, err = b.Translate(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestTranslateIntegerKey(t *testing.T) {
	s := MustBind[sequenced]()
	out, err := s.Translate(filter.Eq("Seq", 17))
	require.NoError(t, err)
	assert.Equal(t, filter.RowKeyEq("17"), out)
}

type note struct {
	Book string
	Page string
	Text string
}

func TestFuncsMapper(t *testing.T) {
	cfg := FuncConfig[note]{
		Key: func(n note) (storagemodels.Key, error) {
			return storagemodels.Key{PartitionKey: n.Book, RowKey: n.Page}, nil
		},
		Encode: func(n note) (map[string]any, error) {
			return map[string]any{"Text": n.Text, "Length": len(n.Text)}, nil
		},
		Decode: func(e *storagemodels.Entity) (note, error) {
			text, _ := e.Properties["Text"].(string)
			return note{Book: e.PartitionKey, Page: e.RowKey, Text: text}, nil
		},
		Properties: map[string]string{"Book": storagemodels.PartitionKeyProperty},
	}
	m, err := Funcs(cfg)
	require.NoError(t, err)
	assert.Equal(t, "note", m.TypeName())

	in := note{Book: "b1", Page: "p7", Text: "hello"}
	e, err := m.ToEntity(in)
	require.NoError(t, err)
	assert.Equal(t, storagemodels.Key{PartitionKey: "b1", RowKey: "p7"}, e.Key)
	assert.Equal(t, int64(5), e.Properties["Length"])
	assert.Empty(t, m.ETag(in))

	out, err := m.FromEntity(e)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	translated, err := m.Translate(filter.Eq("Book", "b1"))
	require.NoError(t, err)
	assert.Equal(t, filter.PartitionKeyEq("b1"), translated)

	_, err = m.Keys(note{Book: "", Page: "p"})
	assert.True(t, errors.IsValidationError(err))

	bad := cfg
	bad.Encode = func(note) (map[string]any, error) { return map[string]any{"RowKey": "x"}, nil }
	bm, err := Funcs(bad)
	require.NoError(t, err)
	_, err = bm.ToEntity(in)
	assert.True(t, errors.IsValidationError(err))

	missing := cfg
	missing.Decode = nil
	_, err = Funcs(missing)
	assert.True(t, errors.IsConfigurationError(err))

	reserved := cfg
	reserved.Properties = map[string]string{"When": storagemodels.TimestampProperty}
	_, err = Funcs(reserved)
	assert.True(t, errors.IsConfigurationError(err))
}
