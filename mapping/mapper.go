/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package mapping

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

// maxKeyLength is the size limit the table service puts on each key part.
const maxKeyLength = 1024

// Mapper converts between a business type B and its storage entity.
type Mapper[B any] interface {
	// TypeName names B in errors and logs.
	TypeName() string
	// Keys computes the partition and row key of entity.
	Keys(entity B) (storagemodels.Key, error)
	// ToEntity builds the storage entity for entity, keys included.
	ToEntity(entity B) (*storagemodels.Entity, error)
	// FromEntity rebuilds a business entity from storage.
	FromEntity(e *storagemodels.Entity) (B, error)
	// Translate rewrites a predicate written against B's field names into
	// storage property names and storage value types.
	Translate(expr filter.Expr) (filter.Expr, error)
	// ETag returns the concurrency token carried by entity, if B tracks one.
	ETag(entity B) string
}

// ValidateKey checks a key against the table service key rules.
func ValidateKey(k storagemodels.Key) error {
	if err := validateKeyPart(storagemodels.PartitionKeyProperty, k.PartitionKey); err != nil {
		return err
	}
	return validateKeyPart(storagemodels.RowKeyProperty, k.RowKey)
}

func validateKeyPart(field, v string) error {
	if v == "" {
		return errors.NewValidationError(field, "must not be empty")
	}
	if len(v) > maxKeyLength {
		return errors.NewValidationError(field, fmt.Sprintf("longer than %d bytes", maxKeyLength))
	}
	if i := strings.IndexAny(v, `/\#?`); i >= 0 {
		return errors.NewValidationError(field, fmt.Sprintf("contains forbidden character %q", v[i]))
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return errors.NewValidationError(field, "contains a control character")
		}
	}
	return nil
}

// FuncConfig describes an explicit mapping for business/storage pairs that
// reflection cannot express.
type FuncConfig[B any] struct {
	// Name names B in errors and logs.
	Name string
	// Key computes the entity key. Required.
	Key func(B) (storagemodels.Key, error)
	// Encode builds the property bag; keys are filled in from Key. Required.
	Encode func(B) (map[string]any, error)
	// Decode rebuilds B from a storage entity. Required.
	Decode func(*storagemodels.Entity) (B, error)
	// Properties maps business field names to storage property names for
	// Translate. Unlisted names pass through unchanged.
	Properties map[string]string
	// ETag extracts the concurrency token. Optional.
	ETag func(B) string
}

type funcMapper[B any] struct {
	cfg FuncConfig[B]
}

// Funcs builds a Mapper from explicit conversion functions.
func Funcs[B any](cfg FuncConfig[B]) (Mapper[B], error) {
	name := cfg.Name
	if name == "" {
		name = typeName(typeOf[B]())
		cfg.Name = name
	}
	switch {
	case cfg.Key == nil:
		return nil, errors.NewConfigurationError(name, "", "Key function is required")
	case cfg.Encode == nil:
		return nil, errors.NewConfigurationError(name, "", "Encode function is required")
	case cfg.Decode == nil:
		return nil, errors.NewConfigurationError(name, "", "Decode function is required")
	}
	for field, prop := range cfg.Properties {
		if isReserved(prop) && prop != storagemodels.PartitionKeyProperty && prop != storagemodels.RowKeyProperty {
			return nil, errors.NewConfigurationError(name, field, fmt.Sprintf("maps to reserved property %q", prop))
		}
	}
	return &funcMapper[B]{cfg: cfg}, nil
}

func (m *funcMapper[B]) TypeName() string { return m.cfg.Name }

func (m *funcMapper[B]) Keys(entity B) (storagemodels.Key, error) {
	k, err := m.cfg.Key(entity)
	if err != nil {
		return storagemodels.Key{}, err
	}
	if err := ValidateKey(k); err != nil {
		return storagemodels.Key{}, err
	}
	return k, nil
}

func (m *funcMapper[B]) ToEntity(entity B) (*storagemodels.Entity, error) {
	k, err := m.Keys(entity)
	if err != nil {
		return nil, err
	}
	props, err := m.cfg.Encode(entity)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.cfg.Name, err)
	}
	out := storagemodels.NewEntity(k.PartitionKey, k.RowKey)
	for name, v := range props {
		if isReserved(name) {
			return nil, errors.NewValidationError(name, "reserved property name")
		}
		out.Properties[name] = filter.Normalize(v)
	}
	out.ETag = m.ETag(entity)
	return out, nil
}

func (m *funcMapper[B]) FromEntity(e *storagemodels.Entity) (B, error) {
	return m.cfg.Decode(e)
}

func (m *funcMapper[B]) Translate(expr filter.Expr) (filter.Expr, error) {
	return filter.Rename(expr, func(name string) (string, error) {
		if prop, ok := m.cfg.Properties[name]; ok {
			return prop, nil
		}
		return name, nil
	})
}

func (m *funcMapper[B]) ETag(entity B) string {
	if m.cfg.ETag == nil {
		return ""
	}
	return m.cfg.ETag(entity)
}

func isReserved(name string) bool {
	switch name {
	case storagemodels.PartitionKeyProperty, storagemodels.RowKeyProperty,
		storagemodels.TimestampProperty, storagemodels.ETagProperty, "odata.etag":
		return true
	}
	return false
}
