// Package accumulator keeps running state in a step or partition context.
//
// A Scoped value lives under one key of one StepExecution context. It is written back on
// every update, so it is saved with each chunk commit and rolled back with the chunk.
// Values read back after a restart have been through a JSON round trip and are decoded
// into T again.
package accumulator

import (
	"fmt"
	"reflect"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
)

// Scoped is typed running state bound to a single execution context key.
type Scoped[T any] struct {
	ec  model.ExecutionContext
	key string
}

// Bind binds key of ec. When the key is absent it is seeded with initial.
func Bind[T any](ec model.ExecutionContext, key string, initial T) (*Scoped[T], error) {
	if ec == nil {
		return nil, fmt.Errorf("accumulator '%s': execution context is nil", key)
	}
	if key == "" {
		return nil, fmt.Errorf("accumulator key must not be empty")
	}
	if !ec.Has(key) {
		ec.Put(key, initial)
	}
	return &Scoped[T]{ec: ec, key: key}, nil
}

// Key returns the context key.
func (s *Scoped[T]) Key() string { return s.key }

// Get returns the current value.
func (s *Scoped[T]) Get() (T, error) {
	var out T
	raw, ok := s.ec.Get(s.key)
	if !ok || raw == nil {
		return out, nil
	}
	if v, ok := raw.(T); ok {
		return v, nil
	}
	if err := configbinder.Decode(raw, &out); err != nil {
		return out, fmt.Errorf("accumulator '%s': cannot decode %s: %w", s.key, reflect.TypeOf(raw), err)
	}
	// Store the decoded form so that later reads skip decoding.
	s.ec.Put(s.key, out)
	return out, nil
}

// Set replaces the value.
func (s *Scoped[T]) Set(v T) {
	s.ec.Put(s.key, v)
}

// Update applies fn to the current value, stores and returns the result.
func (s *Scoped[T]) Update(fn func(current T) T) (T, error) {
	current, err := s.Get()
	if err != nil {
		return current, err
	}
	next := fn(current)
	s.Set(next)
	return next, nil
}
