package cache

import "github.com/aretw0/introspection"

// State implements introspection.Introspectable.
func (c *Cache[V]) State() any {
	return c.Stats()
}

// ComponentType implements introspection.Component.
func (c *Cache[V]) ComponentType() string {
	return "cache"
}

var _ introspection.Introspectable = (*Cache[int])(nil)
var _ introspection.Component = (*Cache[int])(nil)
