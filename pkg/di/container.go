// Package di is the scope provider that constructs binding instances and
// scenario-scoped services.
package di

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/devicelab-dev/stepbind/pkg/core"
)

// Resolver resolves instances by type.
type Resolver interface {
	ResolveInstance(t reflect.Type) (interface{}, error)
}

// Initializer is implemented by types that need other services once they
// are constructed, e.g. a steps struct asking for its scenario context.
type Initializer interface {
	Init(r Resolver) error
}

// Factory builds an instance within the resolving scope.
type Factory func(r Resolver) (interface{}, error)

// Container holds registered instances and factories. A scope created with
// NewScope sees its parent's registrations but caches what it constructs
// itself, and Dispose closes only those.
type Container struct {
	parent *Container

	mu        sync.Mutex
	instances map[reflect.Type]interface{}
	factories map[reflect.Type]Factory
	owned     []interface{}
	resolving map[reflect.Type]bool
	disposed  bool
}

// New creates a root container.
func New() *Container {
	return &Container{
		instances: make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]Factory),
		resolving: make(map[reflect.Type]bool),
	}
}

// NewScope creates a child scope.
func (c *Container) NewScope() *Container {
	child := New()
	child.parent = c
	return child
}

// RegisterInstance makes v the instance returned for t in this scope and its children.
func (c *Container) RegisterInstance(t reflect.Type, v interface{}) error {
	if t == nil {
		return errors.New("register instance: nil type")
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(t) {
		return fmt.Errorf("register instance: %T is not assignable to %s", v, t)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return errDisposed
	}
	c.instances[t] = v
	return nil
}

// RegisterFactory registers f for t. Each scope resolving t calls f once
// and keeps the result.
func (c *Container) RegisterFactory(t reflect.Type, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[t] = f
}

var errDisposed = core.ErrContextLifecycle.WithMessage("scope already disposed")

// ResolveInstance returns the instance for t, constructing it if needed.
// Unregistered pointer-to-struct types are constructed as zero values.
func (c *Container) ResolveInstance(t reflect.Type) (interface{}, error) {
	if t == nil {
		return nil, errors.New("resolve: nil type")
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, errDisposed
	}
	if v, ok := c.instances[t]; ok {
		c.mu.Unlock()
		return v, nil
	}
	if c.resolving[t] {
		c.mu.Unlock()
		return nil, fmt.Errorf("resolve %s: circular dependency", t)
	}
	c.mu.Unlock()

	if v, ok := c.parent.lookup(t); ok {
		return v, nil
	}

	factory := c.factoryFor(t)
	if factory == nil {
		if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("resolve %s: no registration and not a pointer to a struct", t)
		}
		factory = func(Resolver) (interface{}, error) {
			return reflect.New(t.Elem()).Interface(), nil
		}
	}

	c.mu.Lock()
	c.resolving[t] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.resolving, t)
		c.mu.Unlock()
	}()

	v, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", t, err)
	}
	if init, ok := v.(Initializer); ok {
		if err := init.Init(c); err != nil {
			return nil, fmt.Errorf("init %s: %w", t, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[t] = v
	c.owned = append(c.owned, v)
	return v, nil
}

// lookup finds an instance registered in c or one of its ancestors.
func (c *Container) lookup(t reflect.Type) (interface{}, bool) {
	for s := c; s != nil; s = s.parent {
		s.mu.Lock()
		v, ok := s.instances[t]
		s.mu.Unlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

func (c *Container) factoryFor(t reflect.Type) Factory {
	for s := c; s != nil; s = s.parent {
		s.mu.Lock()
		f, ok := s.factories[t]
		s.mu.Unlock()
		if ok {
			return f
		}
	}
	return nil
}

// Dispose closes every io.Closer this scope constructed, newest first.
// Disposing twice is an error.
func (c *Container) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return errDisposed
	}
	c.disposed = true
	owned := c.owned
	c.owned = nil
	c.instances = map[reflect.Type]interface{}{}
	c.mu.Unlock()

	var errs []error
	for i := len(owned) - 1; i >= 0; i-- {
		if closer, ok := owned[i].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Register registers v as the instance of T.
func Register[T any](c *Container, v T) error {
	return c.RegisterInstance(reflect.TypeOf((*T)(nil)).Elem(), v)
}

// RegisterFactoryFor registers a typed factory for T.
func RegisterFactoryFor[T any](c *Container, f func(Resolver) (T, error)) {
	c.RegisterFactory(reflect.TypeOf((*T)(nil)).Elem(), func(r Resolver) (interface{}, error) {
		return f(r)
	})
}

// Resolve resolves T from r.
func Resolve[T any](r Resolver) (T, error) {
	var zero T
	v, err := r.ResolveInstance(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("resolve: %T is not a %s", v, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}
