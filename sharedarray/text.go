package sharedarray

import "sync"

// Text allocates a null-terminated byte array holding s.
// The empty string maps to the shared sentinel.
func Text(s string, opts ...Option) *Array[byte] {
	if s == "" {
		return Empty[byte]()
	}
	a := New[byte](len(s), append(opts, NullTerminated())...)
	copy(a.block, s)
	a.SetLen(len(s))
	return a
}

// String copies the live bytes of a into a Go string.
func (a *Array[T]) String() string {
	b, ok := any(a.Elements()).([]byte)
	if !ok {
		return ""
	}
	return string(b)
}

// Ref is a scoped reference to an Array. It releases its reference exactly
// once, on the first Close, so it can be closed with defer on every exit
// path without tracking whether an earlier path already did.
type Ref[T any] struct {
	arr  *Array[T]
	once sync.Once
}

// Acquire retains a and returns a scoped reference to it.
func Acquire[T any](a *Array[T]) *Ref[T] {
	a.Retain()
	return &Ref[T]{arr: a}
}

// Adopt takes over a reference the caller already holds, typically the one
// returned by New.
func Adopt[T any](a *Array[T]) *Ref[T] {
	return &Ref[T]{arr: a}
}

// Array returns the referenced array.
func (r *Ref[T]) Array() *Array[T] {
	return r.arr
}

// Elements is shorthand for r.Array().Elements().
func (r *Ref[T]) Elements() []T {
	return r.arr.Elements()
}

// Close releases the reference. Further calls do nothing.
func (r *Ref[T]) Close() error {
	r.once.Do(func() { r.arr.Release() })
	return nil
}
