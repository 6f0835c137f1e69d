// Package vm is a managed runtime that implements managed.Runtime.
//
// Objects live on a compacting heap. Collect marks from GC handles, static
// fields and the arguments of the call being entered, frees everything
// else, clears weak handles and moves every unpinned survivor to a new
// address. Raw references held by native code therefore go stale at each
// safe point; Epoch counts safe points so callers can tell.
//
// # Assemblies
//
// An assembly is a WebAssembly core module carrying an image.Image in its
// "interop.metadata" custom section. A method is implemented by one of:
//
//	Export        a WASM function; every parameter and the result are i64 object refs
//	InternalCall  a native entry point bound with RegisterEntryPoint
//	Abstract      no body; calling it raises System.MissingMethodException
//
// The core library (System.Private.CoreLib) is built in and implemented in Go.
//
// # Intrinsics
//
// WASM bodies may import these functions from module "interop":
//
//	box_i64(i64) ref        unbox_i64(ref) i64
//	box_i32(i32) ref        unbox_i32(ref) i32
//	box_f64(f64) ref        unbox_f64(ref) f64
//	throw(ref)              raise an exception object
//	call(idx, argc i32, a0, a1, a2 ref) ref
//
// call invokes method idx of the calling image, counting methods in
// declaration order across all of its types. An exception raised by the
// callee propagates out of the caller. Any other trap becomes a
// System.Exception carrying the trap message.
package vm
