//go:build !((darwin || linux) && (amd64 || arm64))

package native

import (
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// MaxCallbacks is zero where native pointers are unavailable.
const MaxCallbacks = 0

// Supported reports whether this platform can create native pointers.
func Supported() bool { return false }

// ThunkPointer is not available on this platform.
func ThunkPointer(managed.Thunk) (uintptr, error) {
	return 0, errors.Unsupported(errors.PhaseHost, "native thunk pointers")
}

// EntryPoint is not available on this platform.
func EntryPoint(uintptr) (managed.NativeFunc, error) {
	return nil, errors.Unsupported(errors.PhaseHost, "native entry points")
}
