/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"reflect"
	"sync"
)

// Index map keys understood by the mapping layer.
const (
	PartitionKeyTemplate = "PartitionKey"
	RowKeyTemplate       = "RowKey"
)

// IndexMapRegistry is a registry for Go types and their key templates.

var (
	indexMapRegistry = make(map[reflect.Type]map[string]string)
	mu               sync.RWMutex
)

// RegisterIndexMap associates a Go type T with key templates such as
// {"PartitionKey": "TENANT#{TenantID}", "RowKey": "{ID}"}.
// Macros name exported fields of T.
func RegisterIndexMap[T any](idxMap map[string]string) {
	t := typeOf[T]()

	cp := make(map[string]string, len(idxMap))
	for k, v := range idxMap {
		cp[k] = v
	}

	mu.Lock()
	defer mu.Unlock()
	indexMapRegistry[t] = cp
}

// GetIndexMap retrieves the indexMap for type T, if any.
func GetIndexMap[T any]() (map[string]string, bool) {
	return LookupIndexMap(typeOf[T]())
}

// LookupIndexMap retrieves the indexMap registered for t.
func LookupIndexMap(t reflect.Type) (map[string]string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := indexMapRegistry[t]
	return m, ok
}

// UnregisterIndexMap removes the templates registered for T.
func UnregisterIndexMap[T any]() {
	mu.Lock()
	defer mu.Unlock()
	delete(indexMapRegistry, typeOf[T]())
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
