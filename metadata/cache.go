package metadata

import (
	"sync"

	"github.com/wippyai/interop-bridge/managed"
)

// Cache maps native class identities to their descriptors. At most one
// descriptor exists per identity: when two goroutines build the same
// descriptor concurrently, the first to publish wins and the other's work
// is dropped.
type Cache struct {
	rt      managed.Runtime
	classes map[managed.ClassID]*ClassDescriptor
	mu      sync.RWMutex
}

// NewCache creates an empty cache over rt.
func NewCache(rt managed.Runtime) *Cache {
	return &Cache{
		rt:      rt,
		classes: make(map[managed.ClassID]*ClassDescriptor),
	}
}

// Runtime returns the runtime the cache reflects over.
func (c *Cache) Runtime() managed.Runtime {
	return c.rt
}

// ClassFor returns the descriptor of id, or nil if the runtime does not
// know it.
func (c *Cache) ClassFor(id managed.ClassID) *ClassDescriptor {
	if id == 0 {
		return nil
	}

	c.mu.RLock()
	d := c.classes[id]
	c.mu.RUnlock()
	if d != nil {
		return d
	}

	info, ok := c.rt.Class(id)
	if !ok {
		return nil
	}
	built := newClassDescriptor(c, info)

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.classes[id]; existing != nil {
		return existing
	}
	c.classes[id] = built
	return built
}

// ClassOf returns the descriptor of obj's dynamic type.
func (c *Cache) ClassOf(obj managed.Ref) *ClassDescriptor {
	id, ok := c.rt.ClassOf(obj)
	if !ok {
		return nil
	}
	return c.ClassFor(id)
}

// Lookup finds a type by name inside one image.
func (c *Cache) Lookup(image managed.ImageID, namespace, name string) *ClassDescriptor {
	id, ok := c.rt.FindClass(image, namespace, name)
	if !ok {
		return nil
	}
	return c.ClassFor(id)
}

// Core finds a type of the core library.
func (c *Cache) Core(namespace, name string) *ClassDescriptor {
	return c.Lookup(c.rt.CoreImage(), namespace, name)
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.classes)
}

// Clear drops every descriptor. Descriptors handed out earlier stay usable
// but are no longer the canonical instance.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.classes)
}
