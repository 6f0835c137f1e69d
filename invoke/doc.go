// Package invoke implements native to managed calls on top of call thunks.
//
// Every call has two phases: run the thunk with a Null exception slot, then
// inspect the slot. The result is defined only when the slot stayed Null.
//
//	result, exc := invoke.Call(thunk, args)
//	if exc != managed.Null {
//	    return invoke.NewException(cache, exc)
//	}
//
// Invoke wraps the same sequence around a resolved MethodDescriptor and
// reports the exception as an error. Virtual dispatch is an explicit second
// step: ResolveOverride picks the most derived implementation for the
// receiver, and InvokeVirtual combines the two. InvokeArray selects an
// overload by argument count and runtime argument types before calling it.
package invoke
