package metadata

import (
	"slices"
	"strconv"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// ClassDescriptor is the cached metadata of one managed type. Member lookups
// that fail return nil; callers must check.
type ClassDescriptor struct {
	cache      *Cache
	info       *managed.ClassInfo
	methods    []*MethodDescriptor
	fields     []*Field
	properties []*Property
	events     []*Event
}

func newClassDescriptor(cache *Cache, info *managed.ClassInfo) *ClassDescriptor {
	d := &ClassDescriptor{cache: cache, info: info}

	byID := make(map[managed.MethodID]*MethodDescriptor, len(info.Methods))
	d.methods = make([]*MethodDescriptor, len(info.Methods))
	for i := range info.Methods {
		m := newMethodDescriptor(d, &info.Methods[i])
		d.methods[i] = m
		byID[m.ID] = m
	}

	d.fields = make([]*Field, len(info.Fields))
	for i, f := range info.Fields {
		d.fields[i] = &Field{Name: f.Name, ID: f.ID, Static: f.Static, Class: d, typ: f.Type}
	}
	d.properties = make([]*Property, len(info.Properties))
	for i, p := range info.Properties {
		d.properties[i] = &Property{Name: p.Name, Class: d, Getter: byID[p.Getter], Setter: byID[p.Setter], typ: p.Type}
	}
	d.events = make([]*Event, len(info.Events))
	for i, e := range info.Events {
		d.events[i] = &Event{Name: e.Name, Class: d, Add: byID[e.Add], Remove: byID[e.Remove], typ: e.Type}
	}
	return d
}

// Cache returns the cache that owns d.
func (d *ClassDescriptor) Cache() *Cache { return d.cache }

// ID returns the native class identity.
func (d *ClassDescriptor) ID() managed.ClassID { return d.info.ID }

// Name returns the simple type name.
func (d *ClassDescriptor) Name() string { return d.info.Name }

// Namespace returns the namespace; nested types report their own.
func (d *ClassDescriptor) Namespace() string { return d.info.Namespace }

// Image returns the defining image.
func (d *ClassDescriptor) Image() managed.ImageID { return d.info.Image }

// Size returns the payload size of a value type.
func (d *ClassDescriptor) Size() uint32 { return d.info.Size }

// FullName returns the qualified name. Nested types are written as
// Declaring+Name.
func (d *ClassDescriptor) FullName() string {
	if outer := d.DeclaringType(); outer != nil {
		return outer.FullName() + "+" + d.info.Name
	}
	return managed.QualifiedTypeName(d.info.Namespace, d.info.Name)
}

func (d *ClassDescriptor) String() string { return d.FullName() }

// IsValueType reports whether instances are boxed values.
func (d *ClassDescriptor) IsValueType() bool { return d.info.Flags&managed.ClassValueType != 0 }

// IsInterface reports whether the type is an interface.
func (d *ClassDescriptor) IsInterface() bool { return d.info.Flags&managed.ClassInterface != 0 }

// IsAbstract reports whether the type cannot be instantiated.
func (d *ClassDescriptor) IsAbstract() bool { return d.info.Flags&managed.ClassAbstract != 0 }

// Base returns the base class, or nil for roots and interfaces.
func (d *ClassDescriptor) Base() *ClassDescriptor {
	return d.cache.ClassFor(d.info.Base)
}

// DeclaringType returns the enclosing type of a nested type.
func (d *ClassDescriptor) DeclaringType() *ClassDescriptor {
	return d.cache.ClassFor(d.info.DeclaringType)
}

// Interfaces returns the interfaces declared directly on the type.
func (d *ClassDescriptor) Interfaces() []*ClassDescriptor {
	out := make([]*ClassDescriptor, 0, len(d.info.Interfaces))
	for _, id := range d.info.Interfaces {
		if c := d.cache.ClassFor(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Methods returns the declared methods in declaration order.
func (d *ClassDescriptor) Methods() []*MethodDescriptor { return d.methods }

// Fields returns the declared fields.
func (d *ClassDescriptor) Fields() []*Field { return d.fields }

// Properties returns the declared properties.
func (d *ClassDescriptor) Properties() []*Property { return d.properties }

// Events returns the declared events.
func (d *ClassDescriptor) Events() []*Event { return d.events }

// Method finds an overload by name and parameter count. The type itself is
// searched before its bases; within a type the first declaration wins.
func (d *ClassDescriptor) Method(name string, arity int) *MethodDescriptor {
	for c := d; c != nil; c = c.Base() {
		for _, m := range c.methods {
			if m.Name == name && m.Arity() == arity {
				return m
			}
		}
	}
	return nil
}

// MethodByTypes finds the overload whose parameter types are exactly the
// given qualified type names.
func (d *ClassDescriptor) MethodByTypes(name string, typeNames ...string) *MethodDescriptor {
	for c := d; c != nil; c = c.Base() {
		for _, m := range c.methods {
			if m.Name == name && m.matchesTypes(typeNames) {
				return m
			}
		}
	}
	return nil
}

// Overloads returns every method named name, own declarations first.
func (d *ClassDescriptor) Overloads(name string) []*MethodDescriptor {
	var out []*MethodDescriptor
	for c := d; c != nil; c = c.Base() {
		for _, m := range c.methods {
			if m.Name == name {
				out = append(out, m)
			}
		}
	}
	return out
}

// Field finds a field on the type or its bases.
func (d *ClassDescriptor) Field(name string) *Field {
	for c := d; c != nil; c = c.Base() {
		for _, f := range c.fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// Property finds a property on the type or its bases.
func (d *ClassDescriptor) Property(name string) *Property {
	for c := d; c != nil; c = c.Base() {
		for _, p := range c.properties {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// Event finds an event on the type or its bases.
func (d *ClassDescriptor) Event(name string) *Event {
	for c := d; c != nil; c = c.Base() {
		for _, e := range c.events {
			if e.Name == name {
				return e
			}
		}
	}
	return nil
}

// NestedType finds a type declared inside this one by simple name.
func (d *ClassDescriptor) NestedType(name string) *ClassDescriptor {
	for _, id := range d.info.Nested {
		if c := d.cache.ClassFor(id); c != nil && c.info.Name == name {
			return c
		}
	}
	return nil
}

func (d *ClassDescriptor) is(namespace, name string) bool {
	return d.info.Namespace == namespace && d.info.Name == name
}

// Inherits reports whether namespace.name is a base class of d. With
// direct set only the immediate base is considered.
func (d *ClassDescriptor) Inherits(namespace, name string, direct bool) bool {
	for b := d.Base(); b != nil; b = b.Base() {
		if b.is(namespace, name) {
			return true
		}
		if direct {
			return false
		}
	}
	return false
}

// Implements reports whether d declares the interface namespace.name. With
// searchBases set the interfaces of every base class count too.
func (d *ClassDescriptor) Implements(namespace, name string, searchBases bool) bool {
	for c := d; c != nil; c = c.Base() {
		for _, iface := range c.Interfaces() {
			if iface.is(namespace, name) {
				return true
			}
		}
		if !searchBases {
			return false
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of type other can be used where
// d is expected.
func (d *ClassDescriptor) IsAssignableFrom(other *ClassDescriptor) bool {
	if other == nil {
		return false
	}
	for c := other; c != nil; c = c.Base() {
		if c.ID() == d.ID() {
			return true
		}
		if d.IsInterface() && slices.Contains(c.info.Interfaces, d.ID()) {
			return true
		}
	}
	return false
}

// Box copies raw into a new boxed value. It returns Null for reference types
// and when the runtime rejects the payload; check IsValueType to tell the
// two apart.
func (d *ClassDescriptor) Box(raw []byte) managed.Ref {
	if !d.IsValueType() {
		return managed.Null
	}
	r, err := d.cache.rt.Box(d.info.ID, raw)
	if err != nil {
		return managed.Null
	}
	return r
}

// Unbox copies the payload of a boxed instance of d.
func (d *ClassDescriptor) Unbox(obj managed.Ref) ([]byte, error) {
	if !d.IsValueType() {
		return nil, errors.TypeMismatch(errors.PhaseMetadata, nil, "value type", d.FullName())
	}
	if got := d.cache.ClassOf(obj); got == nil || got.ID() != d.ID() {
		name := "<dead>"
		if got != nil {
			name = got.FullName()
		}
		return nil, errors.TypeMismatch(errors.PhaseMetadata, nil, d.FullName(), name)
	}
	return d.cache.rt.Unbox(obj)
}

// New allocates an instance and runs the constructor taking len(args)
// arguments. Without arguments a missing constructor is not an error. A
// managed exception thrown by the constructor is returned as a
// managed_exception error whose Value is the exception reference.
func (d *ClassDescriptor) New(args ...managed.Ref) (managed.Ref, error) {
	obj, err := d.cache.rt.New(d.info.ID)
	if err != nil {
		return managed.Null, err
	}
	ctor := d.constructor(len(args))
	if ctor == nil {
		if len(args) == 0 {
			return obj, nil
		}
		return managed.Null, errors.UnresolvedMember(errors.PhaseMetadata, d.FullName(), ".ctor/"+strconv.Itoa(len(args)))
	}
	thunk, err := ctor.Thunk()
	if err != nil {
		return managed.Null, err
	}

	call := make([]managed.Ref, 0, len(args)+1)
	call = append(call, obj)
	call = append(call, args...)
	var exc managed.Ref
	thunk(call, &exc)
	if exc != managed.Null {
		return managed.Null, errors.New(errors.PhaseInvoke, errors.KindManagedException).
			Path(d.FullName(), ".ctor").
			Value(exc).
			Detail("constructor threw").
			Build()
	}
	// The receiver slot follows the object if a collection moved it.
	return call[0], nil
}

// constructor finds a .ctor declared on d itself.
func (d *ClassDescriptor) constructor(arity int) *MethodDescriptor {
	for _, m := range d.methods {
		if m.IsConstructor() && m.Arity() == arity {
			return m
		}
	}
	return nil
}
