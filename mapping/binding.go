/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mapping

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/registry"
	"github.com/suparena/tablestore/storagemodels"
)

// TagName is the struct tag read by Bind.
const TagName = "table"

var (
	macroPattern        = regexp.MustCompile(`{([^}]*)}`)
	propertyNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,254}$`)
)

type fieldRole int

const (
	roleProperty fieldRole = iota
	rolePartitionKey
	roleRowKey
	roleETag
	roleTimestamp
)

func (r fieldRole) String() string {
	switch r {
	case rolePartitionKey:
		return "partition key"
	case roleRowKey:
		return "row key"
	case roleETag:
		return "etag"
	case roleTimestamp:
		return "timestamp"
	}
	return "property"
}

type fieldBinding struct {
	name      string
	property  string
	index     []int
	typ       reflect.Type
	role      fieldRole
	omitEmpty bool
	conv      converter
}

// keySource produces one key part, either from a tagged field or a template.
type keySource struct {
	field    *fieldBinding
	template string
	macros   map[string]*fieldBinding
}

func (s keySource) defined() bool {
	return s.field != nil || s.template != ""
}

// Binding is a reflection-driven Mapper validated once, at bind time.
type Binding[B any] struct {
	typ        reflect.Type
	ptr        bool
	name       string
	fields     []*fieldBinding
	byName     map[string]*fieldBinding
	byProperty map[string]*fieldBinding
	partition  keySource
	row        keySource
	etag       *fieldBinding
	timestamp  *fieldBinding
}

// Option customizes Bind.
type Option func(*bindOptions)

type bindOptions struct {
	typeName    string
	pkTemplate  string
	rkTemplate  string
	useRegistry bool
}

// WithTypeName overrides the name used in errors and logs.
func WithTypeName(name string) Option {
	return func(o *bindOptions) { o.typeName = name }
}

// WithKeyTemplates sets key templates such as "TENANT_{TenantID}" and "{ID}".
// Either may be empty when the other key part comes from a tagged field.
func WithKeyTemplates(partitionKey, rowKey string) Option {
	return func(o *bindOptions) {
		o.pkTemplate = partitionKey
		o.rkTemplate = rowKey
	}
}

// WithoutIndexMap ignores templates registered in the registry package.
func WithoutIndexMap() Option {
	return func(o *bindOptions) { o.useRegistry = false }
}

// Bind inspects B and returns a validated binding. B must be a struct or a
// pointer to a struct. Every problem is reported as an errors.ConfigurationError;
// a type with no partition or row key source also matches errors.ErrNoBinding.
// Untagged embedded structs, and exported embedded struct pointers, are flattened.
//
// Struct tags use the form `table:"Name,option,..."` with options
// partitionkey, rowkey, etag, timestamp and omitempty; `table:"-"` skips a field.
func Bind[B any](opts ...Option) (*Binding[B], error) {
	o := bindOptions{useRegistry: true}
	for _, opt := range opts {
		opt(&o)
	}

	t := typeOf[B]()
	b := &Binding[B]{
		byName:     make(map[string]*fieldBinding),
		byProperty: make(map[string]*fieldBinding),
	}
	if t.Kind() == reflect.Pointer {
		b.ptr = true
		t = t.Elem()
	}
	b.typ = t
	b.name = o.typeName
	if b.name == "" {
		b.name = typeName(t)
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.NewConfigurationError(b.name, "", fmt.Sprintf("must be a struct or pointer to struct, got %s", t.Kind()))
	}

	if err := b.collect(t, nil, map[reflect.Type]bool{t: true}); err != nil {
		return nil, err
	}

	if o.useRegistry && o.pkTemplate == "" && o.rkTemplate == "" {
		idx, ok := registry.LookupIndexMap(b.typ)
		if !ok && b.ptr {
			idx, ok = registry.LookupIndexMap(typeOf[B]())
		}
		if ok {
			o.pkTemplate = idx[registry.PartitionKeyTemplate]
			o.rkTemplate = idx[registry.RowKeyTemplate]
		}
	}
	if err := b.applyTemplate(&b.partition, rolePartitionKey, o.pkTemplate); err != nil {
		return nil, err
	}
	if err := b.applyTemplate(&b.row, roleRowKey, o.rkTemplate); err != nil {
		return nil, err
	}

	if !b.partition.defined() {
		return nil, errors.NewNoBindingError(b.name, "missing partition key: tag a field with `table:\",partitionkey\"` or register a template")
	}
	if !b.row.defined() {
		return nil, errors.NewNoBindingError(b.name, "missing row key: tag a field with `table:\",rowkey\"` or register a template")
	}
	return b, nil
}

// MustBind is like Bind but panics on error. It is meant for package init.
func MustBind[B any](opts ...Option) *Binding[B] {
	b, err := Bind[B](opts...)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Binding[B]) collect(t reflect.Type, parent []int, visiting map[reflect.Type]bool) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, hasTag := sf.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}
		index := append(append([]int(nil), parent...), i)

		// untagged embedded structs are flattened; embedded pointers only when
		// exported, since FromEntity must be able to allocate them
		if sf.Anonymous && !hasTag {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer && sf.IsExported() {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if _, hasCodec := registry.LookupPropertyCodec(ft); !hasCodec && !isNativeStruct(ft) {
					if visiting[ft] {
						return errors.NewConfigurationError(b.name, sf.Name, fmt.Sprintf("embedded %s refers back to itself", ft))
					}
					visiting[ft] = true
					err := b.collect(ft, index, visiting)
					delete(visiting, ft)
					if err != nil {
						return err
					}
					continue
				}
			}
		}
		if !sf.IsExported() {
			continue
		}

		fb, err := b.parseField(sf, tag, index)
		if err != nil {
			return err
		}
		if err := b.add(fb); err != nil {
			return err
		}
	}
	return nil
}

func (b *Binding[B]) parseField(sf reflect.StructField, tag string, index []int) (*fieldBinding, error) {
	fb := &fieldBinding{name: sf.Name, property: sf.Name, index: index, typ: sf.Type}
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			fb.property = parts[0]
		}
		for _, opt := range parts[1:] {
			switch strings.ToLower(strings.TrimSpace(opt)) {
			case "partitionkey":
				if fb.role != roleProperty {
					return nil, errors.NewConfigurationError(b.name, sf.Name, "field has more than one role")
				}
				fb.role = rolePartitionKey
			case "rowkey":
				if fb.role != roleProperty {
					return nil, errors.NewConfigurationError(b.name, sf.Name, "field has more than one role")
				}
				fb.role = roleRowKey
			case "etag":
				if fb.role != roleProperty {
					return nil, errors.NewConfigurationError(b.name, sf.Name, "field has more than one role")
				}
				fb.role = roleETag
			case "timestamp":
				if fb.role != roleProperty {
					return nil, errors.NewConfigurationError(b.name, sf.Name, "field has more than one role")
				}
				fb.role = roleTimestamp
			case "omitempty":
				fb.omitEmpty = true
			case "":
			default:
				return nil, errors.NewConfigurationError(b.name, sf.Name, fmt.Sprintf("unknown tag option %q", opt))
			}
		}
	}

	switch fb.role {
	case rolePartitionKey:
		fb.property = storagemodels.PartitionKeyProperty
	case roleRowKey:
		fb.property = storagemodels.RowKeyProperty
	case roleETag:
		fb.property = storagemodels.ETagProperty
	case roleTimestamp:
		fb.property = storagemodels.TimestampProperty
	default:
		if !propertyNamePattern.MatchString(fb.property) {
			return nil, errors.NewConfigurationError(b.name, sf.Name, fmt.Sprintf("invalid property name %q", fb.property))
		}
		if isReserved(fb.property) {
			return nil, errors.NewConfigurationError(b.name, sf.Name, fmt.Sprintf("property name %q is reserved", fb.property))
		}
	}

	conv, err := converterFor(sf.Type)
	if err != nil {
		return nil, errors.NewConfigurationError(b.name, sf.Name, err.Error())
	}
	fb.conv = conv

	switch fb.role {
	case rolePartitionKey, roleRowKey:
		if !conv.keyable {
			return nil, errors.NewConfigurationError(b.name, sf.Name, fmt.Sprintf("%s field must be a string, integer or UUID, got %s", fb.role, sf.Type))
		}
	case roleETag:
		if sf.Type.Kind() != reflect.String {
			return nil, errors.NewConfigurationError(b.name, sf.Name, "etag field must be a string")
		}
	case roleTimestamp:
		if !conv.temporal {
			return nil, errors.NewConfigurationError(b.name, sf.Name, fmt.Sprintf("timestamp field must hold a time, got %s", sf.Type))
		}
	}
	return fb, nil
}

func (b *Binding[B]) add(fb *fieldBinding) error {
	switch fb.role {
	case rolePartitionKey:
		if b.partition.field != nil {
			return errors.NewConfigurationError(b.name, fb.name, fmt.Sprintf("duplicate partition key, already bound to %s", b.partition.field.name))
		}
		b.partition.field = fb
	case roleRowKey:
		if b.row.field != nil {
			return errors.NewConfigurationError(b.name, fb.name, fmt.Sprintf("duplicate row key, already bound to %s", b.row.field.name))
		}
		b.row.field = fb
	case roleETag:
		if b.etag != nil {
			return errors.NewConfigurationError(b.name, fb.name, "duplicate etag field")
		}
		b.etag = fb
	case roleTimestamp:
		if b.timestamp != nil {
			return errors.NewConfigurationError(b.name, fb.name, "duplicate timestamp field")
		}
		b.timestamp = fb
	default:
		if other, exists := b.byProperty[fb.property]; exists {
			return errors.NewConfigurationError(b.name, fb.name, fmt.Sprintf("property %q already used by %s", fb.property, other.name))
		}
		b.byProperty[fb.property] = fb
	}
	if _, exists := b.byName[fb.name]; exists {
		return errors.NewConfigurationError(b.name, fb.name, "field name is ambiguous")
	}
	b.byName[fb.name] = fb
	b.fields = append(b.fields, fb)
	return nil
}

func (b *Binding[B]) applyTemplate(src *keySource, role fieldRole, template string) error {
	if template == "" {
		return nil
	}
	if src.field != nil {
		return errors.NewConfigurationError(b.name, src.field.name, fmt.Sprintf("duplicate %s: both a tagged field and a template are defined", role))
	}
	macros := make(map[string]*fieldBinding)
	for _, m := range macroPattern.FindAllStringSubmatch(template, -1) {
		name := m[1]
		fb, ok := b.byName[name]
		if !ok || fb.role != roleProperty {
			return errors.NewConfigurationError(b.name, name, fmt.Sprintf("%s template %q references an unknown property field", role, template))
		}
		if !fb.conv.keyable && !fb.conv.temporal && fb.conv.kind != kindBool {
			return errors.NewConfigurationError(b.name, name, fmt.Sprintf("%s template cannot format %s", role, fb.typ))
		}
		macros[name] = fb
	}
	if strings.ContainsAny(macroPattern.ReplaceAllString(template, ""), "{}") {
		return errors.NewConfigurationError(b.name, "", fmt.Sprintf("%s template %q has unbalanced braces", role, template))
	}
	src.template = template
	src.macros = macros
	return nil
}

// TypeName names the bound type.
func (b *Binding[B]) TypeName() string { return b.name }

// PropertyName returns the storage property a field of B is stored under.
func (b *Binding[B]) PropertyName(field string) (string, error) {
	if fb, ok := b.byName[field]; ok {
		return fb.property, nil
	}
	if fb, ok := b.byProperty[field]; ok {
		return fb.property, nil
	}
	switch field {
	case storagemodels.PartitionKeyProperty, storagemodels.RowKeyProperty, storagemodels.TimestampProperty:
		return field, nil
	}
	return "", errors.NewValidationError(field, fmt.Sprintf("%s has no such field", b.name))
}

// Keys computes the key of entity.
func (b *Binding[B]) Keys(entity B) (storagemodels.Key, error) {
	v, err := b.structValue(entity)
	if err != nil {
		return storagemodels.Key{}, err
	}
	return b.keysOf(v)
}

func (b *Binding[B]) keysOf(v reflect.Value) (storagemodels.Key, error) {
	pk, err := b.expand(b.partition, v)
	if err != nil {
		return storagemodels.Key{}, err
	}
	rk, err := b.expand(b.row, v)
	if err != nil {
		return storagemodels.Key{}, err
	}
	k := storagemodels.Key{PartitionKey: pk, RowKey: rk}
	if err := ValidateKey(k); err != nil {
		return storagemodels.Key{}, fmt.Errorf("%s: %w", b.name, err)
	}
	return k, nil
}

func (b *Binding[B]) expand(src keySource, v reflect.Value) (string, error) {
	if src.field != nil {
		return src.field.conv.formatKey(fieldByIndex(v, src.field.index))
	}
	var firstErr error
	out := macroPattern.ReplaceAllStringFunc(src.template, func(macro string) string {
		fb := src.macros[strings.Trim(macro, "{}")]
		s, err := fb.conv.formatKey(fieldByIndex(v, fb.index))
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("field %s: %w", fb.name, err)
		}
		return s
	})
	return out, firstErr
}

// ToEntity converts entity into its storage shape.
func (b *Binding[B]) ToEntity(entity B) (*storagemodels.Entity, error) {
	v, err := b.structValue(entity)
	if err != nil {
		return nil, err
	}
	k, err := b.keysOf(v)
	if err != nil {
		return nil, err
	}
	out := storagemodels.NewEntity(k.PartitionKey, k.RowKey)
	for _, fb := range b.fields {
		fv := fieldByIndex(v, fb.index)
		switch fb.role {
		case roleETag:
			if fv.IsValid() {
				out.ETag = fv.String()
			}
			continue
		case rolePartitionKey, roleRowKey, roleTimestamp:
			continue
		}
		if !fv.IsValid() || (fb.omitEmpty && fv.IsZero()) {
			continue
		}
		pv, err := fb.conv.encode(fv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", b.name, fb.name, err)
		}
		if pv == nil {
			continue
		}
		out.Properties[fb.property] = pv
	}
	return out, nil
}

// FromEntity rebuilds a B from e. Properties unknown to the binding are ignored.
func (b *Binding[B]) FromEntity(e *storagemodels.Entity) (B, error) {
	var zero B
	if e == nil {
		return zero, errors.NewValidationError("entity", "nil storage entity")
	}
	ptr := reflect.New(b.typ)
	v := ptr.Elem()
	for _, fb := range b.fields {
		var src any
		var present bool
		switch fb.role {
		case rolePartitionKey:
			src, present = e.PartitionKey, true
		case roleRowKey:
			src, present = e.RowKey, true
		case roleETag:
			src, present = e.ETag, e.ETag != ""
		case roleTimestamp:
			src, present = e.Timestamp, !e.Timestamp.IsZero()
		default:
			src, present = e.Properties[fb.property]
		}
		if !present || src == nil {
			continue
		}
		fv := settableField(v, fb.index)
		var err error
		if fb.role == rolePartitionKey || fb.role == roleRowKey {
			err = fb.conv.parseKey(src.(string), fv)
		} else {
			err = fb.conv.decode(src, fv)
		}
		if err != nil {
			return zero, fmt.Errorf("%s.%s: %w", b.name, fb.name, err)
		}
	}
	if b.ptr {
		return ptr.Interface().(B), nil
	}
	return v.Interface().(B), nil
}

// Translate rewrites field names into storage property names and converts
// literal values the same way the field would be stored.
func (b *Binding[B]) Translate(expr filter.Expr) (filter.Expr, error) {
	return filter.Transform(expr, func(c filter.Comparison) (filter.Comparison, error) {
		fb, ok := b.byName[c.Property]
		if !ok {
			fb, ok = b.byProperty[c.Property]
		}
		if !ok {
			name, err := b.PropertyName(c.Property)
			if err != nil {
				return c, err
			}
			c.Property = name
			return c, nil
		}
		c.Property = fb.property
		if c.Value == nil {
			return c, nil
		}
		isKey := fb.role == rolePartitionKey || fb.role == roleRowKey
		rv := reflect.ValueOf(c.Value)
		if rv.Type() != fb.typ && rv.Type() != fb.conv.base {
			// a literal of another Go type: align it with the stored type
			if isKey {
				c.Value = keyLiteral(c.Value)
			} else {
				c.Value = fb.conv.coerceLiteral(c.Value)
			}
			return c, nil
		}
		if fb.conv.ptr && rv.Kind() != reflect.Pointer {
			// literal given as the pointed-to type
			p := reflect.New(fb.conv.base)
			p.Elem().Set(rv)
			rv = p
		}
		var err error
		if isKey {
			c.Value, err = fb.conv.formatKey(rv)
		} else {
			c.Value, err = fb.conv.encode(rv)
		}
		if err != nil {
			return c, fmt.Errorf("%s.%s: %w", b.name, fb.name, err)
		}
		return c, nil
	})
}

// ETag returns the value of the etag field, if B has one.
func (b *Binding[B]) ETag(entity B) string {
	if b.etag == nil {
		return ""
	}
	v, err := b.structValue(entity)
	if err != nil {
		return ""
	}
	fv := fieldByIndex(v, b.etag.index)
	if !fv.IsValid() {
		return ""
	}
	return fv.String()
}

// Properties lists the storage property names of regular fields, in declaration order.
func (b *Binding[B]) Properties() []string {
	out := make([]string, 0, len(b.fields))
	for _, fb := range b.fields {
		if fb.role == roleProperty {
			out = append(out, fb.property)
		}
	}
	return out
}

func (b *Binding[B]) structValue(entity B) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if b.ptr {
		if v.IsNil() {
			return reflect.Value{}, errors.NewValidationError("entity", fmt.Sprintf("nil *%s", b.name))
		}
		v = v.Elem()
	}
	return v, nil
}

// fieldByIndex walks index, returning an invalid Value when it crosses a nil
// embedded pointer.
func fieldByIndex(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

// settableField walks index, allocating embedded pointers on the way.
func settableField(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func keyLiteral(v any) any {
	switch tv := v.(type) {
	case int32:
		return strconv.FormatInt(int64(tv), 10)
	case int64:
		return strconv.FormatInt(tv, 10)
	case uuid.UUID:
		return tv.String()
	}
	return v
}
