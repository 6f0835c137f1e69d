// Package sharedarray implements the reference-counted array header used to
// hand arrays and text across the native/managed boundary without copying.
//
// An Array is a header (reference count, logical length, capacity) owning a
// single contiguous element block. Either side of the bridge may hold a
// reference; the block is freed exactly when the last reference is released.
//
// Empty arrays and strings share one process-wide sentinel per element type.
// Its count is a permanent negative tombstone so it never allocates and is
// never freed, regardless of how often it is retained or released.
//
// Application code should not pair Retain and Release by hand. Use a scoped
// Ref instead:
//
//	ref := sharedarray.Acquire(arr)
//	defer ref.Close()
//	process(ref.Elements())
package sharedarray
