// Package managed defines the contract between the interop bridge and a
// garbage-collected managed runtime.
//
// The bridge never talks to a concrete runtime. It consumes the Runtime
// interface: raw reflection records, object allocation and field access,
// GC handles, call thunks, native entry-point binding and image loading.
// Package vm provides an implementation backed by wazero.
//
// # Calling Convention
//
// Every managed method is reached through a Thunk:
//
//	var exc managed.Ref
//	ret := thunk([]managed.Ref{receiver, arg}, &exc)
//	if exc != managed.Null {
//	    // ret is undefined here
//	}
//
// The exception slot is written only on failure. The same shape is used in
// the other direction for NativeFunc entry points.
//
// # References
//
// A Ref is a raw heap address. The collector may relocate or free the object
// at any safe point, which is why raw references only stay valid within one
// Epoch. Native code that needs a stable reference goes through a GC handle.
package managed
