/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package tablestore

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/repository"
)

// typedRegistry holds the repositories of one business type by name.
type typedRegistry[B any] struct {
	mu    sync.RWMutex
	repos map[string]*repository.Repository[B]
}

func newTypedRegistry[B any]() *typedRegistry[B] {
	return &typedRegistry[B]{repos: make(map[string]*repository.Repository[B])}
}

func (tr *typedRegistry[B]) register(name string, repo *repository.Repository[B]) error {
	if repo == nil {
		return errors.NewValidationError("repository", "must not be nil")
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.repos[name]; exists {
		return errors.NewAlreadyExistsError("repository", name)
	}
	tr.repos[name] = repo
	return nil
}

func (tr *typedRegistry[B]) get(name string) (*repository.Repository[B], error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	repo, exists := tr.repos[name]
	if !exists {
		return nil, errors.NewNotFoundError("repository", name)
	}
	return repo, nil
}

func (tr *typedRegistry[B]) remove(name string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.repos[name]; !exists {
		return errors.NewNotFoundError("repository", name)
	}
	delete(tr.repos, name)
	return nil
}

func (tr *typedRegistry[B]) list() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	names := make([]string, 0, len(tr.repos))
	for name := range tr.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry keeps repositories by business type and name. The same name may be
// used by different types.
type Registry struct {
	mu    sync.Mutex
	types map[reflect.Type]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[reflect.Type]any)}
}

func typed[B any](r *Registry) *typedRegistry[B] {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ := reflect.TypeOf((*B)(nil)).Elem()
	if tr, exists := r.types[typ]; exists {
		return tr.(*typedRegistry[B])
	}
	tr := newTypedRegistry[B]()
	r.types[typ] = tr
	return tr
}

// Register adds repo under name. A name is registered once per type.
func Register[B any](r *Registry, name string, repo *repository.Repository[B]) error {
	if err := typed[B](r).register(name, repo); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}

// Lookup returns the repository of B registered under name.
func Lookup[B any](r *Registry, name string) (*repository.Repository[B], error) {
	return typed[B](r).get(name)
}

// Remove drops the repository of B registered under name.
func Remove[B any](r *Registry, name string) error {
	return typed[B](r).remove(name)
}

// List returns the sorted names registered for B.
func List[B any](r *Registry) []string {
	return typed[B](r).list()
}
