/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
)

// PropertyCodec converts a Go type that has no native table representation.
type PropertyCodec struct {
	// Encode turns a field value into a storage property value
	// (string, bool, int32, int64, float64, time.Time, []byte or uuid.UUID).
	// A nil result leaves the property unset.
	Encode func(v reflect.Value) (any, error)
	// Decode stores a storage property value into dst, which is settable.
	Decode func(src any, dst reflect.Value) error
}

var (
	codecMu       sync.RWMutex
	codecRegistry = make(map[reflect.Type]PropertyCodec)
)

func init() {
	RegisterPropertyCodec(reflect.TypeOf(strfmt.DateTime{}), timeCodec(
		func(v reflect.Value) time.Time { return time.Time(v.Interface().(strfmt.DateTime)) },
		func(t time.Time) any { return strfmt.DateTime(t) },
	))
	RegisterPropertyCodec(reflect.TypeOf(strfmt.Date{}), timeCodec(
		func(v reflect.Value) time.Time { return time.Time(v.Interface().(strfmt.Date)) },
		func(t time.Time) any { return strfmt.Date(t) },
	))
}

// RegisterPropertyCodec registers conversions for t.
// If a codec is already registered for t, it panics to prevent accidental overrides.
func RegisterPropertyCodec(t reflect.Type, codec PropertyCodec) {
	if codec.Encode == nil || codec.Decode == nil {
		panic(fmt.Sprintf("type registry: codec for %s needs both Encode and Decode", t))
	}

	codecMu.Lock()
	defer codecMu.Unlock()
	if _, exists := codecRegistry[t]; exists {
		panic(fmt.Sprintf("type registry: codec for %s already registered", t))
	}
	codecRegistry[t] = codec
}

// LookupPropertyCodec returns the codec registered for t.
func LookupPropertyCodec(t reflect.Type) (PropertyCodec, bool) {
	codecMu.RLock()
	defer codecMu.RUnlock()
	c, ok := codecRegistry[t]
	return c, ok
}

func timeCodec(toTime func(reflect.Value) time.Time, fromTime func(time.Time) any) PropertyCodec {
	return PropertyCodec{
		// a zero time is not stored, the table service rejects dates before 1601
		Encode: func(v reflect.Value) (any, error) {
			t := toTime(v)
			if t.IsZero() {
				return nil, nil
			}
			return t.UTC(), nil
		},
		Decode: func(src any, dst reflect.Value) error {
			t, ok := src.(time.Time)
			if !ok {
				return fmt.Errorf("expected time.Time, got %T", src)
			}
			dst.Set(reflect.ValueOf(fromTime(t)))
			return nil
		},
	}
}
