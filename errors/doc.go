// Package errors provides structured error types for the interop bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The kinds mirror the bridge's error taxonomy:
//
//   - invalid_handle: operating on a released or never-bound handle
//   - unresolved_member: method, field or property lookup failure
//   - managed_exception: an exception raised by managed code and surfaced through a thunk
//   - assembly_load: a missing or malformed assembly image
//   - bootstrap: the managed runtime could not be started (fatal)
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
//		Path("Game.Player", "Move").
//		Detail("argument 1: expected System.Int32, got System.String").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseHandle, "handle released")
//	err := errors.ArityMismatch(errors.PhaseInvoke, "Move", 2, 3)
//
// Phase-less sentinels such as ErrInvalidHandle match any error of the same kind:
//
//	if errors.Is(err, bridgeerrors.ErrInvalidHandle) { ... }
package errors
