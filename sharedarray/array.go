package sharedarray

import (
	"math"
	"reflect"
	"sync"
	"sync/atomic"
)

// tombstone is the permanent reference count of the empty sentinel.
const tombstone int32 = math.MinInt32 / 2

// Array is a reference-counted header in front of a contiguous run of T.
//
// The header (count, length, capacity) and the element block are owned
// together: the block is allocated once with capacity elements, plus one
// zero-valued terminator when the array is null-terminated, and dropped
// exactly when the count transitions from 1 to 0.
//
// Count updates are atomic. A Release that observes zero happens after every
// Release that preceded it, so element writes made before releasing are
// visible to the goroutine that frees the block.
type Array[T any] struct {
	onFree   func()
	block    []T
	length   int
	capacity int
	refs     atomic.Int32
	sentinel bool
	nullTerm bool
}

// Option configures a new Array.
type Option func(*options)

type options struct {
	onFree   func()
	nullTerm bool
}

// NullTerminated reserves one zero-valued element after the capacity.
func NullTerminated() Option {
	return func(o *options) { o.nullTerm = true }
}

// OnFree registers a callback run once when the block is freed.
func OnFree(fn func()) Option {
	return func(o *options) { o.onFree = fn }
}

// New allocates an array with one reference held by the caller.
// A zero capacity returns the shared empty sentinel and allocates nothing.
func New[T any](capacity int, opts ...Option) *Array[T] {
	if capacity < 0 {
		panic("sharedarray: negative capacity")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if capacity == 0 {
		return Empty[T]()
	}

	n := capacity
	if o.nullTerm {
		n++
	}
	a := &Array[T]{
		block:    make([]T, n),
		capacity: capacity,
		nullTerm: o.nullTerm,
		onFree:   o.onFree,
	}
	a.refs.Store(1)
	return a
}

// From allocates an array holding a copy of values.
func From[T any](values []T, opts ...Option) *Array[T] {
	a := New[T](len(values), opts...)
	if len(values) > 0 {
		copy(a.block, values)
		a.length = len(values)
	}
	return a
}

var sentinels sync.Map // reflect.Type -> sentinel *Array[T]

// Empty returns the process-wide sentinel for T. Its count is a permanent
// negative tombstone; Retain and Release leave it untouched and it is
// never freed.
func Empty[T any]() *Array[T] {
	key := reflect.TypeFor[T]()
	if v, ok := sentinels.Load(key); ok {
		return v.(*Array[T])
	}
	s := &Array[T]{sentinel: true}
	s.refs.Store(tombstone)
	v, _ := sentinels.LoadOrStore(key, s)
	return v.(*Array[T])
}

// IsEmptySentinel reports whether a is the shared empty instance.
func (a *Array[T]) IsEmptySentinel() bool {
	return a.sentinel
}

// Retain adds a reference.
func (a *Array[T]) Retain() {
	if a.sentinel {
		return
	}
	if a.refs.Add(1) <= 1 {
		panic("sharedarray: retain of freed array")
	}
}

// Release drops a reference and returns the remaining count. The block is
// freed when the count reaches zero. The sentinel returns its tombstone.
func (a *Array[T]) Release() int32 {
	if a.sentinel {
		return a.refs.Load()
	}
	n := a.refs.Add(-1)
	switch {
	case n == 0:
		a.free()
	case n < 0:
		panic("sharedarray: release of freed array")
	}
	return n
}

func (a *Array[T]) free() {
	a.block = nil
	a.length = 0
	if a.onFree != nil {
		a.onFree()
	}
}

// Refs returns the current reference count.
func (a *Array[T]) Refs() int32 {
	return a.refs.Load()
}

// Len returns the logical length.
func (a *Array[T]) Len() int {
	return a.length
}

// Cap returns the allocated capacity, excluding the terminator.
func (a *Array[T]) Cap() int {
	return a.capacity
}

// IsNullTerminated reports whether a terminator element follows the capacity.
func (a *Array[T]) IsNullTerminated() bool {
	return a.nullTerm
}

// Elements returns the live elements. The slice aliases the block.
func (a *Array[T]) Elements() []T {
	a.checkLive()
	if a.sentinel {
		return nil
	}
	return a.block[:a.length]
}

// Raw returns the whole block including the terminator slot.
func (a *Array[T]) Raw() []T {
	a.checkLive()
	return a.block
}

// SetLen sets the logical length. For null-terminated arrays the element at
// the new length is reset to the zero value.
func (a *Array[T]) SetLen(n int) {
	a.checkLive()
	if n < 0 || n > a.capacity {
		panic("sharedarray: length out of range")
	}
	a.length = n
	if a.nullTerm {
		var zero T
		a.block[n] = zero
	}
}

// Append copies values after the current length. It reports false, and
// appends nothing, when they do not fit in the capacity.
func (a *Array[T]) Append(values ...T) bool {
	a.checkLive()
	if a.length+len(values) > a.capacity {
		return false
	}
	copy(a.block[a.length:], values)
	a.SetLen(a.length + len(values))
	return true
}

func (a *Array[T]) checkLive() {
	if !a.sentinel && a.refs.Load() <= 0 {
		panic("sharedarray: use of freed array")
	}
}
