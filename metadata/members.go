package metadata

import (
	"github.com/wippyai/interop-bridge/managed"
)

// Field describes a field. Static fields are read with a Null receiver.
type Field struct {
	Class  *ClassDescriptor
	Name   string
	ID     managed.FieldID
	Static bool
	typ    managed.ClassID
}

// Type returns the declared field type.
func (f *Field) Type() *ClassDescriptor {
	return f.Class.cache.ClassFor(f.typ)
}

// Get reads the field of obj.
func (f *Field) Get(obj managed.Ref) (managed.Ref, error) {
	return f.Class.cache.rt.GetField(obj, f.ID)
}

// Set writes the field of obj.
func (f *Field) Set(obj, value managed.Ref) error {
	return f.Class.cache.rt.SetField(obj, f.ID, value)
}

// Property describes a property. Getter or Setter is nil when the accessor
// is not defined.
type Property struct {
	Class  *ClassDescriptor
	Getter *MethodDescriptor
	Setter *MethodDescriptor
	Name   string
	typ    managed.ClassID
}

// Type returns the declared property type.
func (p *Property) Type() *ClassDescriptor {
	return p.Class.cache.ClassFor(p.typ)
}

// Event describes an event and its accessors.
type Event struct {
	Class  *ClassDescriptor
	Add    *MethodDescriptor
	Remove *MethodDescriptor
	Name   string
	typ    managed.ClassID
}

// Type returns the declared handler type.
func (e *Event) Type() *ClassDescriptor {
	return e.Class.cache.ClassFor(e.typ)
}
