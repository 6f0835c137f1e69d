package handle

import (
	"sync/atomic"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// GCHandle is a table-indexed reference to a managed object. After Free the
// index is the released sentinel and the handle must not be dereferenced.
type GCHandle struct {
	rt   managed.Runtime
	kind managed.GCKind
	h    atomic.Uint32
}

// NewGCHandle registers obj in the runtime's handle table.
func (m *Manager) NewGCHandle(obj managed.Ref, kind managed.GCKind) (*GCHandle, error) {
	raw, err := m.rt.NewGCHandle(obj, kind)
	if err != nil {
		return nil, err
	}
	g := &GCHandle{rt: m.rt, kind: kind}
	g.h.Store(uint32(raw))
	return g, nil
}

// Kind returns the lifetime flavor.
func (g *GCHandle) Kind() managed.GCKind {
	return g.kind
}

// Value returns the raw table index, or InvalidGCHandle once freed.
func (g *GCHandle) Value() managed.GCHandle {
	return managed.GCHandle(g.h.Load())
}

// Target returns the referenced object. A weak handle whose target was
// collected returns Null without an error.
func (g *GCHandle) Target() (managed.Ref, error) {
	raw := g.Value()
	if raw == managed.InvalidGCHandle {
		return managed.Null, errors.InvalidHandle(errors.PhaseHandle, "gc handle released")
	}
	obj, ok := g.rt.GCHandleTarget(raw)
	if !ok {
		return managed.Null, errors.InvalidHandle(errors.PhaseHandle, "gc handle not in table")
	}
	return obj, nil
}

// Free releases the handle. Freeing an already freed handle does nothing.
func (g *GCHandle) Free() {
	if raw := managed.GCHandle(g.h.Swap(uint32(managed.InvalidGCHandle))); raw != managed.InvalidGCHandle {
		g.rt.FreeGCHandle(raw)
	}
}
