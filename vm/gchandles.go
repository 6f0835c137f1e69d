package vm

import (
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// Handle values carry the slot number in the low bits and the slot's
// generation in the high bits. Slot i is number i+1 so the zero handle is
// never issued.
const (
	slotBits = 24
	slotMask = 1<<slotBits - 1
	maxSlots = slotMask
)

// handleTable is a free-list table of GC handles. Freeing a slot bumps its
// generation, so a stale handle never resolves to a later occupant.
// Callers hold VM.mu.
type handleTable struct {
	entries  []handleEntry
	freeList []int
}

type handleEntry struct {
	target managed.Ref
	kind   managed.GCKind
	gen    uint8
	valid  bool
}

func encodeHandle(slot int, gen uint8) managed.GCHandle {
	return managed.GCHandle(uint32(gen)<<slotBits | uint32(slot+1))
}

func decodeHandle(h managed.GCHandle) (slot int, gen uint8) {
	return int(uint32(h)&slotMask) - 1, uint8(uint32(h) >> slotBits)
}

func (t *handleTable) alloc(target managed.Ref, kind managed.GCKind) (managed.GCHandle, error) {
	if len(t.freeList) > 0 {
		slot := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		e := &t.entries[slot]
		e.target, e.kind, e.valid = target, kind, true
		return encodeHandle(slot, e.gen), nil
	}
	if len(t.entries) >= maxSlots {
		return managed.InvalidGCHandle, errors.Overflow(errors.PhaseRuntime, []string{"gchandle"}, len(t.entries)+1, "handle table")
	}
	t.entries = append(t.entries, handleEntry{target: target, kind: kind, valid: true})
	return encodeHandle(len(t.entries)-1, 0), nil
}

func (t *handleTable) get(h managed.GCHandle) *handleEntry {
	if h == managed.InvalidGCHandle {
		return nil
	}
	slot, gen := decodeHandle(h)
	if slot < 0 || slot >= len(t.entries) {
		return nil
	}
	e := &t.entries[slot]
	if !e.valid || e.gen != gen {
		return nil
	}
	return e
}

// free invalidates h and returns the entry it held. It reports false for
// the zero handle, for free slots and for handles of an older generation.
func (t *handleTable) free(h managed.GCHandle) (handleEntry, bool) {
	e := t.get(h)
	if e == nil {
		return handleEntry{}, false
	}
	old := *e
	*e = handleEntry{gen: old.gen + 1}
	slot, _ := decodeHandle(h)
	t.freeList = append(t.freeList, slot)
	return old, true
}

func (t *handleTable) each(fn func(e *handleEntry)) {
	for i := range t.entries {
		if t.entries[i].valid {
			fn(&t.entries[i])
		}
	}
}

// NewGCHandle registers obj in the handle table. Pinning handles stop the
// collector from moving obj until the handle is freed.
func (v *VM) NewGCHandle(obj managed.Ref, kind managed.GCKind) (managed.GCHandle, error) {
	if kind > managed.Pinning {
		return managed.InvalidGCHandle, errors.InvalidInput(errors.PhaseRuntime, "unknown handle kind "+kind.String())
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.objects[obj]
	if !ok {
		return managed.InvalidGCHandle, errors.InvalidHandle(errors.PhaseRuntime, "handle target is not a live object")
	}
	h, err := v.handles.alloc(obj, kind)
	if err != nil {
		return managed.InvalidGCHandle, err
	}
	if kind == managed.Pinning {
		o.pins++
	}
	return h, nil
}

// GCHandleTarget returns the current address of the handle's target. A weak
// handle whose target was collected reports Null and true.
func (v *VM) GCHandleTarget(h managed.GCHandle) (managed.Ref, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e := v.handles.get(h)
	if e == nil {
		return managed.Null, false
	}
	return e.target, true
}

// GCHandleKind returns the kind h was created with.
func (v *VM) GCHandleKind(h managed.GCHandle) (managed.GCKind, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e := v.handles.get(h)
	if e == nil {
		return 0, false
	}
	return e.kind, true
}

// FreeGCHandle releases h. Freeing a released handle does nothing.
func (v *VM) FreeGCHandle(h managed.GCHandle) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.handles.free(h)
	if !ok {
		return
	}
	if e.kind == managed.Pinning {
		if o, live := v.objects[e.target]; live && o.pins > 0 {
			o.pins--
		}
	}
}
