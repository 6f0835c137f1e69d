package vm

import (
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/sharedarray"
)

// object is one heap cell. Reference types keep their instance fields in
// slots; value types keep their payload in raw. Strings and byte arrays
// hold one reference on a shared array.
type object struct {
	class  *class
	fields []managed.Ref
	raw    []byte
	bytes  *sharedarray.Array[byte]
	pins   int
}

func (o *object) release() {
	if o.bytes != nil {
		o.bytes.Release()
		o.bytes = nil
	}
}

// allocLocked stores o at a fresh address. Callers hold v.mu.
func (v *VM) allocLocked(o *object) managed.Ref {
	addr := v.nextAddr
	v.nextAddr += objectAlign
	v.objects[addr] = o
	v.allocated++
	return addr
}

func (v *VM) alloc(o *object) managed.Ref {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.allocLocked(o)
}

func (v *VM) lookup(obj managed.Ref) (*object, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.objects[obj]
	return o, ok
}

// New allocates an instance of a reference type without running a
// constructor. Value types get a zeroed payload.
func (v *VM) New(id managed.ClassID) (managed.Ref, error) {
	c, ok := v.class(id)
	if !ok {
		return managed.Null, errors.NotFound(errors.PhaseRuntime, "class", "#"+strconv.Itoa(int(id)))
	}
	switch {
	case c.is(managed.ClassInterface), c.is(managed.ClassAbstract):
		return managed.Null, errors.InvalidInput(errors.PhaseRuntime, "cannot instantiate "+c.fullName())
	case c == v.wk.str, c == v.wk.bytes:
		return managed.Null, errors.InvalidInput(errors.PhaseRuntime, "cannot instantiate "+c.fullName()+" without contents")
	case c.is(managed.ClassValueType):
		return v.alloc(&object{class: c, raw: make([]byte, c.info.Size)}), nil
	}
	return v.alloc(&object{class: c, fields: make([]managed.Ref, c.slots)}), nil
}

// Box copies raw into a new boxed instance of a value type.
func (v *VM) Box(id managed.ClassID, raw []byte) (managed.Ref, error) {
	c, ok := v.class(id)
	if !ok {
		return managed.Null, errors.NotFound(errors.PhaseRuntime, "class", "#"+strconv.Itoa(int(id)))
	}
	if !c.is(managed.ClassValueType) {
		return managed.Null, errors.TypeMismatch(errors.PhaseRuntime, nil, "value type", c.fullName())
	}
	if c.info.Size > 0 && len(raw) != int(c.info.Size) {
		return managed.Null, errors.InvalidInput(errors.PhaseRuntime,
			c.fullName()+" payload must be "+strconv.Itoa(int(c.info.Size))+" bytes, got "+strconv.Itoa(len(raw)))
	}
	return v.boxRaw(c, raw), nil
}

func (v *VM) boxRaw(c *class, raw []byte) managed.Ref {
	return v.alloc(&object{class: c, raw: append([]byte(nil), raw...)})
}

// Unbox returns a copy of a boxed value's payload.
func (v *VM) Unbox(obj managed.Ref) ([]byte, error) {
	o, ok := v.lookup(obj)
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseRuntime, "unbox of a dead reference")
	}
	if !o.class.is(managed.ClassValueType) {
		return nil, errors.TypeMismatch(errors.PhaseRuntime, nil, "value type", o.class.fullName())
	}
	return append([]byte(nil), o.raw...), nil
}

// GetField reads a field. obj is ignored for static fields.
func (v *VM) GetField(obj managed.Ref, id managed.FieldID) (managed.Ref, error) {
	f, ok := v.field(id)
	if !ok {
		return managed.Null, errors.NotFound(errors.PhaseRuntime, "field", "#"+strconv.Itoa(int(id)))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if f.info.Static {
		return v.statics[id], nil
	}
	o, err := v.instanceFor(obj, f)
	if err != nil {
		return managed.Null, err
	}
	return o.fields[f.slot], nil
}

// SetField writes a field. obj is ignored for static fields.
func (v *VM) SetField(obj managed.Ref, id managed.FieldID, value managed.Ref) error {
	f, ok := v.field(id)
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "field", "#"+strconv.Itoa(int(id)))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if value != managed.Null {
		if _, live := v.objects[value]; !live {
			return errors.InvalidHandle(errors.PhaseRuntime, "field value is not a live object")
		}
	}
	if f.info.Static {
		v.statics[id] = value
		return nil
	}
	o, err := v.instanceFor(obj, f)
	if err != nil {
		return err
	}
	o.fields[f.slot] = value
	return nil
}

// instanceFor returns the object holding f. Callers hold v.mu.
func (v *VM) instanceFor(obj managed.Ref, f *field) (*object, error) {
	o, ok := v.objects[obj]
	if !ok {
		return nil, errors.InvalidHandle(errors.PhaseRuntime, "field access on a dead reference")
	}
	if !o.class.derivesFrom(f.owner) {
		return nil, errors.TypeMismatch(errors.PhaseRuntime, []string{f.info.Name}, f.owner.fullName(), o.class.fullName())
	}
	if f.slot < 0 || f.slot >= len(o.fields) {
		return nil, errors.Unsupported(errors.PhaseRuntime, "field "+f.info.Name+" on "+o.class.fullName())
	}
	return o, nil
}

// NewString allocates a managed string backed by null-terminated shared
// text.
func (v *VM) NewString(s string) managed.Ref {
	return v.alloc(&object{class: v.wk.str, bytes: sharedarray.Text(s)})
}

// StringValue copies the contents of a managed string.
func (v *VM) StringValue(obj managed.Ref) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.objects[obj]
	if !ok || o.class != v.wk.str {
		return "", false
	}
	return o.bytes.String(), true
}

// ShareBytes wraps arr as a System.Byte[] without copying. The heap keeps
// one reference on arr until the object is collected.
func (v *VM) ShareBytes(arr *sharedarray.Array[byte]) (managed.Ref, error) {
	if arr == nil {
		return managed.Null, errors.InvalidInput(errors.PhaseRuntime, "nil shared array")
	}
	arr.Retain()
	return v.alloc(&object{class: v.wk.bytes, bytes: arr}), nil
}

// SharedBytes returns the array behind a string or byte array with one
// reference retained for the caller.
func (v *VM) SharedBytes(obj managed.Ref) (*sharedarray.Array[byte], bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.objects[obj]
	if !ok || o.bytes == nil {
		return nil, false
	}
	o.bytes.Retain()
	return o.bytes, true
}

// IsAlive reports whether obj names a live object.
func (v *VM) IsAlive(obj managed.Ref) bool {
	_, ok := v.lookup(obj)
	return ok
}

// ClassOf returns the dynamic type of obj.
func (v *VM) ClassOf(obj managed.Ref) (managed.ClassID, bool) {
	o, ok := v.lookup(obj)
	if !ok {
		return 0, false
	}
	return o.class.info.ID, true
}

// NewException allocates an exception without running a constructor.
func (v *VM) NewException(id managed.ClassID, message string, inner managed.Ref) (managed.Ref, error) {
	c := v.wk.exception
	if id != 0 {
		var ok bool
		if c, ok = v.class(id); !ok {
			return managed.Null, errors.NotFound(errors.PhaseRuntime, "class", "#"+strconv.Itoa(int(id)))
		}
		if !c.derivesFrom(v.wk.exception) {
			return managed.Null, errors.TypeMismatch(errors.PhaseRuntime, nil, "System.Exception", c.fullName())
		}
	}
	return v.newException(c, message, inner), nil
}

func (v *VM) newException(c *class, message string, inner managed.Ref) managed.Ref {
	msg := v.NewString(message)

	v.mu.Lock()
	defer v.mu.Unlock()

	o := &object{class: c, fields: make([]managed.Ref, c.slots)}
	o.fields[v.wk.excMessage.slot] = msg
	if _, live := v.objects[inner]; live {
		o.fields[v.wk.excInner.slot] = inner
	}
	return v.allocLocked(o)
}

// raise stores a new exception of class c in exc. It returns Null so
// bodies can write "return v.raise(...)".
func (v *VM) raise(exc *managed.Ref, c *class, message string) managed.Ref {
	*exc = v.newException(c, message, managed.Null)
	return managed.Null
}

// appendTrace records a frame on the exception's stack trace.
func (v *VM) appendTrace(exc managed.Ref, frame string) {
	v.mu.Lock()
	o, ok := v.objects[exc]
	if !ok || !o.class.derivesFrom(v.wk.exception) {
		v.mu.Unlock()
		return
	}
	trace := ""
	if t, ok := v.objects[o.fields[v.wk.excTrace.slot]]; ok {
		trace = t.bytes.String() + "\n"
	}
	v.mu.Unlock()

	s := v.NewString(trace + "   at " + frame)

	v.mu.Lock()
	if o, ok := v.objects[exc]; ok {
		o.fields[v.wk.excTrace.slot] = s
	}
	v.mu.Unlock()
}

// Collect runs a full collection. While managed code is running the
// collection is deferred to the next top-level call.
func (v *VM) Collect() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.active > 0 {
		v.pending = true
		return
	}
	v.collectLocked(nil)
}

// collectLocked marks from GC handles, statics and extra, frees the rest,
// clears weak handles and moves every unpinned survivor to a new address.
// Callers hold v.mu.
func (v *VM) collectLocked(extra []managed.Ref) {
	marked := make(map[managed.Ref]bool, len(v.objects))
	var stack []managed.Ref
	push := func(r managed.Ref) {
		if r == managed.Null || marked[r] {
			return
		}
		if _, ok := v.objects[r]; !ok {
			return
		}
		marked[r] = true
		stack = append(stack, r)
	}

	v.handles.each(func(e *handleEntry) {
		if e.kind != managed.Weak {
			push(e.target)
		}
	})
	for _, r := range v.statics {
		push(r)
	}
	for _, r := range extra {
		push(r)
	}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, f := range v.objects[r].fields {
			push(f)
		}
	}

	freed := 0
	for r, o := range v.objects {
		if !marked[r] {
			o.release()
			delete(v.objects, r)
			freed++
		}
	}
	v.handles.each(func(e *handleEntry) {
		if e.kind == managed.Weak && !marked[e.target] {
			e.target = managed.Null
		}
	})

	addrs := make([]managed.Ref, 0, len(v.objects))
	for r, o := range v.objects {
		if o.pins == 0 {
			addrs = append(addrs, r)
		}
	}
	slices.Sort(addrs)

	forward := make(map[managed.Ref]managed.Ref, len(addrs))
	for _, r := range addrs {
		o := v.objects[r]
		delete(v.objects, r)
		n := v.nextAddr
		v.nextAddr += objectAlign
		v.objects[n] = o
		forward[r] = n
	}
	fwd := func(r managed.Ref) managed.Ref {
		if n, ok := forward[r]; ok {
			return n
		}
		return r
	}
	for _, o := range v.objects {
		for i, f := range o.fields {
			o.fields[i] = fwd(f)
		}
	}
	for k, r := range v.statics {
		v.statics[k] = fwd(r)
	}
	v.handles.each(func(e *handleEntry) {
		e.target = fwd(e.target)
	})
	for i := range extra {
		extra[i] = fwd(extra[i])
	}

	v.allocated = 0
	v.pending = false
	v.epoch.Add(1)

	Logger().Debug("collection finished",
		zap.Int("freed", freed),
		zap.Int("moved", len(forward)),
		zap.Int("live", len(v.objects)))
}
