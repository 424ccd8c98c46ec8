/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mapping

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/suparena/tablestore/registry"
)

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// propKind is the storage type a field is written as.
type propKind int

const (
	kindString propKind = iota
	kindBool
	kindInt32
	kindInt64
	kindDouble
	kindTime
	kindGUID
	kindBinary
	kindCodec
)

type converter struct {
	base     reflect.Type
	kind     propKind
	ptr      bool
	unsigned bool
	codec    *registry.PropertyCodec
	keyable  bool
	temporal bool
}

func isNativeStruct(t reflect.Type) bool {
	return t == timeType
}

func converterFor(t reflect.Type) (converter, error) {
	c := converter{base: t}
	if t.Kind() == reflect.Pointer {
		c.ptr = true
		c.base = t.Elem()
	}
	base := c.base

	if codec, ok := registry.LookupPropertyCodec(base); ok {
		c.kind = kindCodec
		c.codec = &codec
		c.temporal = true
		return c, nil
	}

	switch {
	case base == timeType:
		c.kind = kindTime
		c.temporal = true
		return c, nil
	case base == uuidType:
		c.kind = kindGUID
		c.keyable = true
		return c, nil
	case base.Kind() == reflect.Slice && base.Elem().Kind() == reflect.Uint8:
		c.kind = kindBinary
		return c, nil
	}

	switch base.Kind() {
	case reflect.String:
		c.kind = kindString
		c.keyable = true
	case reflect.Bool:
		c.kind = kindBool
	case reflect.Int, reflect.Int64:
		c.kind = kindInt64
		c.keyable = true
	case reflect.Int8, reflect.Int16, reflect.Int32:
		c.kind = kindInt32
		c.keyable = true
	case reflect.Uint8, reflect.Uint16:
		c.kind = kindInt32
		c.unsigned = true
		c.keyable = true
	case reflect.Uint32:
		c.kind = kindInt64
		c.unsigned = true
		c.keyable = true
	case reflect.Float32, reflect.Float64:
		c.kind = kindDouble
	default:
		return c, fmt.Errorf("unsupported property type %s", t)
	}
	return c, nil
}

// encode returns the storage value of v, or nil when there is nothing to store.
func (c converter) encode(v reflect.Value) (any, error) {
	if c.ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	switch c.kind {
	case kindCodec:
		return c.codec.Encode(v)
	case kindString:
		return v.String(), nil
	case kindBool:
		return v.Bool(), nil
	case kindInt32:
		if c.unsigned {
			return int32(v.Uint()), nil
		}
		return int32(v.Int()), nil
	case kindInt64:
		if c.unsigned {
			return int64(v.Uint()), nil
		}
		return v.Int(), nil
	case kindDouble:
		return v.Float(), nil
	case kindTime:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return nil, nil
		}
		return t.UTC(), nil
	case kindGUID:
		return v.Interface().(uuid.UUID), nil
	case kindBinary:
		if v.IsNil() {
			return nil, nil
		}
		return append([]byte(nil), v.Bytes()...), nil
	}
	return nil, fmt.Errorf("unknown property kind %d", c.kind)
}

// decode stores src into dst.
func (c converter) decode(src any, dst reflect.Value) error {
	if c.ptr {
		nv := reflect.New(c.base)
		if err := c.decodeBase(src, nv.Elem()); err != nil {
			return err
		}
		dst.Set(nv)
		return nil
	}
	return c.decodeBase(src, dst)
}

func (c converter) decodeBase(src any, dst reflect.Value) error {
	switch c.kind {
	case kindCodec:
		return c.codec.Decode(src, dst)
	case kindString:
		s, ok := src.(string)
		if !ok {
			return mismatch(src, "string")
		}
		dst.SetString(s)
	case kindBool:
		b, ok := src.(bool)
		if !ok {
			return mismatch(src, "bool")
		}
		dst.SetBool(b)
	case kindInt32, kindInt64:
		n, ok := toInt64(src)
		if !ok {
			return mismatch(src, "integer")
		}
		if c.unsigned {
			if n < 0 || dst.OverflowUint(uint64(n)) {
				return fmt.Errorf("value %d overflows %s", n, dst.Type())
			}
			dst.SetUint(uint64(n))
			return nil
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
	case kindDouble:
		f, ok := toFloat64(src)
		if !ok {
			return mismatch(src, "double")
		}
		dst.SetFloat(f)
	case kindTime:
		t, ok := src.(time.Time)
		if !ok {
			return mismatch(src, "datetime")
		}
		dst.Set(reflect.ValueOf(t))
	case kindGUID:
		switch tv := src.(type) {
		case uuid.UUID:
			dst.Set(reflect.ValueOf(tv))
		case string:
			id, err := uuid.Parse(tv)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(id))
		default:
			return mismatch(src, "guid")
		}
	case kindBinary:
		b, ok := src.([]byte)
		if !ok {
			return mismatch(src, "binary")
		}
		dst.SetBytes(append([]byte(nil), b...))
	default:
		return fmt.Errorf("unknown property kind %d", c.kind)
	}
	return nil
}

// formatKey renders v as a key part.
func (c converter) formatKey(v reflect.Value) (string, error) {
	if !v.IsValid() {
		return "", fmt.Errorf("key field is unreachable")
	}
	val, err := c.encode(v)
	if err != nil {
		return "", err
	}
	switch tv := val.(type) {
	case nil:
		return "", fmt.Errorf("key field is empty")
	case string:
		return tv, nil
	case int32:
		return strconv.FormatInt(int64(tv), 10), nil
	case int64:
		return strconv.FormatInt(tv, 10), nil
	case bool:
		return strconv.FormatBool(tv), nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	case uuid.UUID:
		return tv.String(), nil
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano), nil
	}
	return "", fmt.Errorf("cannot format %T as a key", val)
}

// parseKey stores a key part read back from storage into dst.
func (c converter) parseKey(s string, dst reflect.Value) error {
	var src any
	switch c.kind {
	case kindString:
		src = s
	case kindInt32, kindInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("key %q is not an integer: %w", s, err)
		}
		src = n
	case kindGUID:
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("key %q is not a guid: %w", s, err)
		}
		src = id
	default:
		return fmt.Errorf("cannot parse key into %s", c.base)
	}
	return c.decode(src, dst)
}

// coerceLiteral converts a normalized filter literal to the storage type of
// the field, so that e.g. an int literal matches an Edm.Int32 property.
func (c converter) coerceLiteral(v any) any {
	switch c.kind {
	case kindInt32:
		if n, ok := toInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n)
		}
	case kindInt64:
		if n, ok := toInt64(v); ok {
			return n
		}
	case kindDouble:
		if f, ok := toFloat64(v); ok {
			return f
		}
	case kindGUID:
		if s, ok := v.(string); ok {
			if id, err := uuid.Parse(s); err == nil {
				return id
			}
		}
	case kindTime, kindCodec:
		if v == nil {
			break
		}
		if codec, ok := registry.LookupPropertyCodec(reflect.TypeOf(v)); ok {
			if out, err := codec.Encode(reflect.ValueOf(v)); err == nil {
				return out
			}
		}
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch tv := v.(type) {
	case int32:
		return int64(tv), true
	case int64:
		return tv, true
	case float64:
		if tv == math.Trunc(tv) && tv >= math.MinInt64 && tv <= math.MaxInt64 {
			return int64(tv), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch tv := v.(type) {
	case int32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case float64:
		return tv, true
	}
	return 0, false
}

func mismatch(src any, want string) error {
	return fmt.Errorf("cannot store %T as %s", src, want)
}
