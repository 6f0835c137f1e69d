//go:build (darwin || linux) && (amd64 || arm64)

package native

import (
	"errors"
	"testing"

	bridgeerrors "github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

func TestRoundTrip(t *testing.T) {
	sum := func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		var total managed.Ref
		for _, a := range args {
			total += a
		}
		if total == 0 {
			*exc = 0xdead
		}
		return total
	}

	ptr, err := ThunkPointer(sum)
	if err != nil {
		t.Fatalf("ThunkPointer: %v", err)
	}
	if ptr == 0 {
		t.Fatal("ThunkPointer returned a nil pointer")
	}
	fn, err := EntryPoint(ptr)
	if err != nil {
		t.Fatalf("EntryPoint: %v", err)
	}

	var exc managed.Ref
	if got := fn([]managed.Ref{1, 2, 39}, &exc); got != 42 || exc != managed.Null {
		t.Fatalf("sum = %d, exc = %#x", got, exc)
	}
	fn(nil, &exc)
	if exc != 0xdead {
		t.Fatalf("exception slot = %#x, want 0xdead", exc)
	}
}

func TestRejectsNil(t *testing.T) {
	if _, err := ThunkPointer(nil); !errors.Is(err, bridgeerrors.ErrInvalidInput) {
		t.Fatalf("ThunkPointer(nil) = %v", err)
	}
	if _, err := EntryPoint(0); !errors.Is(err, bridgeerrors.ErrInvalidInput) {
		t.Fatalf("EntryPoint(0) = %v", err)
	}
	if !Supported() {
		t.Fatal("Supported should be true on this platform")
	}
}
