/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package aztables

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

const (
	odataTypeSuffix = "@odata.type"
	odataETag       = "odata.etag"

	edmBinary   = "Edm.Binary"
	edmBoolean  = "Edm.Boolean"
	edmDateTime = "Edm.DateTime"
	edmDouble   = "Edm.Double"
	edmGUID     = "Edm.Guid"
	edmInt32    = "Edm.Int32"
	edmInt64    = "Edm.Int64"
	edmString   = "Edm.String"
)

// marshalEntity renders e in the JSON shape the table service expects,
// annotating every property whose type cannot be inferred from JSON.
func marshalEntity(e *storagemodels.Entity) ([]byte, error) {
	m := make(map[string]any, 2+2*len(e.Properties))
	m[storagemodels.PartitionKeyProperty] = e.PartitionKey
	m[storagemodels.RowKeyProperty] = e.RowKey

	for name, v := range e.Properties {
		switch tv := v.(type) {
		case nil:
		case string, bool, int32:
			m[name] = tv
		case int64:
			m[name] = strconv.FormatInt(tv, 10)
			m[name+odataTypeSuffix] = edmInt64
		case float64:
			m[name+odataTypeSuffix] = edmDouble
			switch {
			case math.IsNaN(tv):
				m[name] = "NaN"
			case math.IsInf(tv, 1):
				m[name] = "Infinity"
			case math.IsInf(tv, -1):
				m[name] = "-Infinity"
			default:
				m[name] = tv
			}
		case time.Time:
			m[name] = tv.UTC().Format(filter.DateTimeLayout)
			m[name+odataTypeSuffix] = edmDateTime
		case uuid.UUID:
			m[name] = tv.String()
			m[name+odataTypeSuffix] = edmGUID
		case []byte:
			m[name] = base64.StdEncoding.EncodeToString(tv)
			m[name+odataTypeSuffix] = edmBinary
		default:
			return nil, fmt.Errorf("property %s: unsupported type %T", name, v)
		}
	}
	return json.Marshal(m)
}

// unmarshalEntity parses a table service entity. etag, when set, overrides
// the odata.etag found in the body.
func unmarshalEntity(data []byte, etag string) (*storagemodels.Entity, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}

	types := make(map[string]string)
	for name, v := range raw {
		if prop, ok := strings.CutSuffix(name, odataTypeSuffix); ok {
			var typ string
			if err := json.Unmarshal(v, &typ); err != nil {
				return nil, fmt.Errorf("decode type of %s: %w", prop, err)
			}
			types[prop] = typ
		}
	}

	e := storagemodels.NewEntity("", "")
	for name, v := range raw {
		switch {
		case strings.HasSuffix(name, odataTypeSuffix):
			continue
		case name == odataETag:
			if err := json.Unmarshal(v, &e.ETag); err != nil {
				return nil, fmt.Errorf("decode etag: %w", err)
			}
			continue
		case strings.HasPrefix(name, "odata."):
			continue
		case name == storagemodels.PartitionKeyProperty:
			if err := json.Unmarshal(v, &e.PartitionKey); err != nil {
				return nil, fmt.Errorf("decode PartitionKey: %w", err)
			}
			continue
		case name == storagemodels.RowKeyProperty:
			if err := json.Unmarshal(v, &e.RowKey); err != nil {
				return nil, fmt.Errorf("decode RowKey: %w", err)
			}
			continue
		case name == storagemodels.TimestampProperty:
			ts, err := decodeValue(v, edmDateTime)
			if err != nil {
				return nil, fmt.Errorf("decode Timestamp: %w", err)
			}
			if t, ok := ts.(time.Time); ok {
				e.Timestamp = t
			}
			continue
		}

		val, err := decodeValue(v, types[name])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if val != nil {
			e.Properties[name] = val
		}
	}
	if etag != "" {
		e.ETag = etag
	}
	return e, nil
}

func decodeValue(raw json.RawMessage, edmType string) (any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	switch edmType {
	case edmInt64:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var n int64
			if err2 := json.Unmarshal(raw, &n); err2 != nil {
				return nil, err
			}
			return n, nil
		}
		return strconv.ParseInt(s, 10, 64)
	case edmInt32:
		var n int32
		err := json.Unmarshal(raw, &n)
		return n, err
	case edmDouble:
		var s string
		if json.Unmarshal(raw, &s) == nil {
			switch s {
			case "NaN":
				return math.NaN(), nil
			case "Infinity":
				return math.Inf(1), nil
			case "-Infinity":
				return math.Inf(-1), nil
			}
			return strconv.ParseFloat(s, 64)
		}
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case edmDateTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case edmGUID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return uuid.Parse(s)
	case edmBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	case edmBoolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case edmString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case "":
	default:
		return nil, fmt.Errorf("unsupported type %s", edmType)
	}

	// untyped: string, bool, Int32, or a Double the service did not annotate
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch tv := v.(type) {
	case string, bool:
		return tv, nil
	case json.Number:
		s := tv.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 32); err == nil {
				return int32(n), nil
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
		}
		return tv.Float64()
	}
	return nil, fmt.Errorf("unsupported JSON value %s", raw)
}
