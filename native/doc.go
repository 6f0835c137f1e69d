// Package native exposes managed call thunks to native code and native
// function pointers to managed code.
//
// Both directions use one C calling convention:
//
//	uintptr fn(uintptr *args, uintptr argc, uintptr *exc)
//
// args holds argc boxed references (the receiver first for instance
// methods). The callee writes an exception reference to *exc only on
// failure, in which case the return value must be ignored.
//
// Pointers are produced with purego and need no cgo. Callback slots are a
// process-wide resource that is never reclaimed, so create one pointer per
// method and cache it.
package native
