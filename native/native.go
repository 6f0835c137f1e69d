//go:build (darwin || linux) && (amd64 || arm64)

package native

import (
	"sync/atomic"
	"unsafe"

	"github.com/ccoveille/go-safecast"
	"github.com/ebitengine/purego"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// MaxCallbacks is the number of callback slots purego provides per process.
const MaxCallbacks = 2000

var callbacks atomic.Int32

// Supported reports whether this platform can create native pointers.
func Supported() bool { return true }

// ThunkPointer returns a C-callable function pointer that invokes thunk.
// The pointer stays valid for the lifetime of the process.
func ThunkPointer(thunk managed.Thunk) (uintptr, error) {
	if thunk == nil {
		return 0, errors.InvalidInput(errors.PhaseHost, "nil thunk")
	}
	if n := callbacks.Add(1); n > MaxCallbacks {
		callbacks.Add(-1)
		return 0, errors.Overflow(errors.PhaseHost, []string{"callbacks"}, n, "native callback slots")
	}
	return purego.NewCallback(func(args unsafe.Pointer, argc uintptr, exc unsafe.Pointer) uintptr {
		n, err := safecast.ToInt(uint64(argc))
		if err != nil {
			return 0
		}
		var refs []managed.Ref
		if n > 0 && args != nil {
			refs = unsafe.Slice((*managed.Ref)(args), n)
		}
		slot := (*managed.Ref)(exc)
		if slot == nil {
			var local managed.Ref
			slot = &local
		}
		return uintptr(thunk(refs, slot))
	}), nil
}

// EntryPoint wraps a native function pointer as a NativeFunc that can be
// registered for an internal-call method.
func EntryPoint(fn uintptr) (managed.NativeFunc, error) {
	if fn == 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "nil function pointer")
	}
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		var argv uintptr
		if len(args) > 0 {
			argv = uintptr(unsafe.Pointer(&args[0]))
		}
		r1, _, _ := purego.SyscallN(fn, argv, uintptr(len(args)), uintptr(unsafe.Pointer(exc)))
		return managed.Ref(r1)
	}, nil
}
