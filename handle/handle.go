package handle

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/invoke"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/metadata"
)

// Kind is the lifetime class of a Handle.
type Kind uint8

const (
	// Transient holds the raw reference. It is valid only until the next
	// safe point of the runtime.
	Transient Kind = iota
	// Persistent keeps the object alive until Release. The object may move.
	Persistent
	// Pinned keeps the object alive at a fixed address until Release.
	Pinned
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Persistent:
		return "persistent"
	case Pinned:
		return "pinned"
	default:
		return "unknown"
	}
}

// State is the position of a Handle in its lifecycle. Released is terminal.
type State uint8

const (
	Unbound State = iota
	Bound
	Released
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Manager creates handles over one runtime.
type Manager struct {
	rt    managed.Runtime
	cache *metadata.Cache
	live  atomic.Int64
}

// NewManager creates a manager resolving classes through cache.
func NewManager(cache *metadata.Cache) *Manager {
	return &Manager{rt: cache.Runtime(), cache: cache}
}

// Cache returns the metadata cache used for member access.
func (m *Manager) Cache() *metadata.Cache {
	return m.cache
}

// Live returns the number of persistent and pinned handles not yet
// released.
func (m *Manager) Live() int64 {
	return m.live.Load()
}

// Wrap binds obj to a new handle. pinned implies persistent.
func (m *Manager) Wrap(obj managed.Ref, persistent, pinned bool) (*Handle, error) {
	if obj == managed.Null {
		return nil, errors.InvalidInput(errors.PhaseHandle, "cannot wrap a null reference")
	}
	if !m.rt.IsAlive(obj) {
		return nil, errors.InvalidHandle(errors.PhaseHandle, "object is not alive")
	}

	h := &Handle{mgr: m}
	switch {
	case pinned:
		h.kind = Pinned
	case persistent:
		h.kind = Persistent
	default:
		h.kind = Transient
	}

	if h.kind == Transient {
		h.ref = obj
		h.epoch = m.rt.Epoch()
	} else {
		gcKind := managed.Strong
		if h.kind == Pinned {
			gcKind = managed.Pinning
		}
		gc, err := m.rt.NewGCHandle(obj, gcKind)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseHandle, errors.KindInvalidHandle, err, "register "+h.kind.String()+" handle")
		}
		h.gc = gc
		m.live.Add(1)
	}
	h.state = Bound
	return h, nil
}

// Pin keeps obj at a fixed address while fn runs and releases the pin on
// every exit path.
func (m *Manager) Pin(obj managed.Ref, fn func(addr uintptr) error) error {
	h, err := m.Wrap(obj, true, true)
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	addr, err := h.Address()
	if err != nil {
		return err
	}
	return fn(addr)
}

// Handle is a native reference to a managed object. The kind tags which of
// ref or gc holds the object; it never changes after Wrap.
type Handle struct {
	mgr   *Manager
	mu    sync.Mutex
	kind  Kind
	state State
	ref   managed.Ref
	epoch uint64
	gc    managed.GCHandle
}

// Kind returns the lifetime class.
func (h *Handle) Kind() Kind {
	return h.kind
}

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Get returns the current reference. A Transient handle fails once the
// runtime has passed a safe point since Wrap; any managed call, including
// the ones made by Property and Call, is such a point.
func (h *Handle) Get() (managed.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target()
}

func (h *Handle) target() (managed.Ref, error) {
	switch h.state {
	case Released:
		return managed.Null, errors.InvalidHandle(errors.PhaseHandle, "handle released")
	case Unbound:
		return managed.Null, errors.InvalidHandle(errors.PhaseHandle, "handle not bound")
	}

	if h.kind == Transient {
		if h.mgr.rt.Epoch() != h.epoch {
			return managed.Null, errors.InvalidHandle(errors.PhaseHandle, "transient handle used after a safe point")
		}
		return h.ref, nil
	}
	obj, ok := h.mgr.rt.GCHandleTarget(h.gc)
	if !ok || obj == managed.Null {
		return managed.Null, errors.InvalidHandle(errors.PhaseHandle, "gc handle no longer valid")
	}
	return obj, nil
}

// Class returns the dynamic type of the object.
func (h *Handle) Class() (*metadata.ClassDescriptor, error) {
	obj, err := h.Get()
	if err != nil {
		return nil, err
	}
	return h.classOf(obj)
}

func (h *Handle) classOf(obj managed.Ref) (*metadata.ClassDescriptor, error) {
	c := h.mgr.cache.ClassOf(obj)
	if c == nil {
		return nil, errors.InvalidHandle(errors.PhaseHandle, "object is not alive")
	}
	return c, nil
}

func (h *Handle) resolve() (managed.Ref, *metadata.ClassDescriptor, error) {
	obj, err := h.Get()
	if err != nil {
		return managed.Null, nil, err
	}
	c, err := h.classOf(obj)
	if err != nil {
		return managed.Null, nil, err
	}
	return obj, c, nil
}

// Field reads an instance field by name.
func (h *Handle) Field(name string) (managed.Ref, error) {
	obj, c, err := h.resolve()
	if err != nil {
		return managed.Null, err
	}
	f := c.Field(name)
	if f == nil {
		return managed.Null, errors.UnresolvedMember(errors.PhaseHandle, c.FullName(), name)
	}
	if f.Static {
		obj = managed.Null
	}
	return f.Get(obj)
}

// SetField writes an instance field by name.
func (h *Handle) SetField(name string, value managed.Ref) error {
	obj, c, err := h.resolve()
	if err != nil {
		return err
	}
	f := c.Field(name)
	if f == nil {
		return errors.UnresolvedMember(errors.PhaseHandle, c.FullName(), name)
	}
	if f.Static {
		obj = managed.Null
	}
	return f.Set(obj, value)
}

// Property reads a property through its getter.
func (h *Handle) Property(name string) (managed.Ref, error) {
	obj, c, err := h.resolve()
	if err != nil {
		return managed.Null, err
	}
	p := c.Property(name)
	if p == nil || p.Getter == nil {
		return managed.Null, errors.UnresolvedMember(errors.PhaseHandle, c.FullName(), "get_"+name)
	}
	return invoke.InvokeVirtual(p.Getter, obj)
}

// SetProperty writes a property through its setter.
func (h *Handle) SetProperty(name string, value managed.Ref) error {
	obj, c, err := h.resolve()
	if err != nil {
		return err
	}
	p := c.Property(name)
	if p == nil || p.Setter == nil {
		return errors.UnresolvedMember(errors.PhaseHandle, c.FullName(), "set_"+name)
	}
	_, err = invoke.InvokeVirtual(p.Setter, obj, value)
	return err
}

// Call invokes the overload of name on the dynamic type that accepts args.
func (h *Handle) Call(name string, args ...managed.Ref) (managed.Ref, error) {
	obj, c, err := h.resolve()
	if err != nil {
		return managed.Null, err
	}
	return invoke.InvokeArray(c, name, obj, args, true)
}

// Unbox copies the payload of a boxed value type.
func (h *Handle) Unbox() ([]byte, error) {
	obj, c, err := h.resolve()
	if err != nil {
		return nil, err
	}
	if !c.IsValueType() {
		return nil, errors.TypeMismatch(errors.PhaseHandle, nil, "value type", c.FullName())
	}
	return c.Unbox(obj)
}

// Address returns the fixed address of a pinned object.
func (h *Handle) Address() (uintptr, error) {
	if h.kind != Pinned {
		return 0, errors.Unsupported(errors.PhaseHandle, "address of a "+h.kind.String()+" handle")
	}
	obj, err := h.Get()
	if err != nil {
		return 0, err
	}
	return uintptr(obj), nil
}

// Rewrap moves the object to a new handle of the requested kind and
// releases h.
func (h *Handle) Rewrap(persistent, pinned bool) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, err := h.target()
	if err != nil {
		return nil, err
	}
	next, err := h.mgr.Wrap(obj, persistent, pinned)
	if err != nil {
		return nil, err
	}
	h.releaseLocked()
	return next, nil
}

// Release ends the handle. Releasing twice reports invalid_handle.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Bound {
		return errors.InvalidHandle(errors.PhaseHandle, "handle already "+h.state.String())
	}
	h.releaseLocked()
	return nil
}

func (h *Handle) releaseLocked() {
	if h.kind != Transient {
		h.mgr.rt.FreeGCHandle(h.gc)
		h.gc = managed.InvalidGCHandle
		h.mgr.live.Add(-1)
	}
	h.ref = managed.Null
	h.state = Released
}
