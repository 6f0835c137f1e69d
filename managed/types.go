package managed

import (
	"strings"

	"github.com/google/uuid"
)

// Ref is a raw reference to an object on the managed heap.
// The collector may move or free the object at any safe point, so a Ref
// held by native code is only meaningful until the next managed call.
type Ref uintptr

// Null is the null object reference.
const Null Ref = 0

// ClassID is the native identity of a managed type.
type ClassID uintptr

// MethodID is the native identity of a managed method.
type MethodID uintptr

// FieldID is the native identity of a managed field.
type FieldID uintptr

// ImageID is the native handle of a loaded assembly image.
type ImageID uintptr

// GCHandle identifies an entry of the runtime's handle table. Values are
// opaque: a freed value never resolves to a later entry.
// The zero value is the released sentinel.
type GCHandle uint32

// InvalidGCHandle is the sentinel value of a released handle.
const InvalidGCHandle GCHandle = 0

// GCKind selects the lifetime guarantee of a GC handle.
type GCKind uint8

const (
	// Weak does not keep the target alive; the slot is cleared when the
	// target is collected.
	Weak GCKind = iota
	// Strong keeps the target alive. The target may still move.
	Strong
	// Pinning keeps the target alive at a fixed address.
	Pinning
)

func (k GCKind) String() string {
	switch k {
	case Weak:
		return "weak"
	case Strong:
		return "strong"
	case Pinning:
		return "pinning"
	default:
		return "unknown"
	}
}

// Thunk is the fixed calling convention for invoking a managed method.
// Instance methods take the receiver as args[0]. Every argument and the
// result are boxed references. exc must point at a Null slot; the callee
// writes an exception reference to it only on failure, in which case the
// returned value is undefined and must not be read.
type Thunk func(args []Ref, exc *Ref) Ref

// NativeFunc is a native entry point callable from managed code. It uses the
// same convention as Thunk.
type NativeFunc func(args []Ref, exc *Ref) Ref

// ClassFlags describes a managed type.
type ClassFlags uint32

const (
	ClassValueType ClassFlags = 1 << iota
	ClassInterface
	ClassAbstract
	ClassSealed
)

// MethodFlags describes a managed method.
type MethodFlags uint32

const (
	MethodStatic MethodFlags = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodInternalCall
	MethodConstructor
)

// ClassInfo is the reflection record of one managed type.
type ClassInfo struct {
	Namespace     string
	Name          string
	Fields        []FieldInfo
	Properties    []PropertyInfo
	Events        []EventInfo
	Methods       []MethodInfo
	Interfaces    []ClassID
	Nested        []ClassID
	ID            ClassID
	Image         ImageID
	Base          ClassID
	DeclaringType ClassID
	Size          uint32
	Flags         ClassFlags
}

// FullName returns the namespace-qualified type name.
func (c *ClassInfo) FullName() string {
	return QualifiedTypeName(c.Namespace, c.Name)
}

// FieldInfo is the reflection record of a field.
type FieldInfo struct {
	Name   string
	ID     FieldID
	Type   ClassID
	Static bool
}

// PropertyInfo is the reflection record of a property. Getter and Setter
// are zero when the accessor does not exist.
type PropertyInfo struct {
	Name   string
	Type   ClassID
	Getter MethodID
	Setter MethodID
}

// EventInfo is the reflection record of an event.
type EventInfo struct {
	Name   string
	Type   ClassID
	Add    MethodID
	Remove MethodID
}

// MethodInfo is the reflection record of a method.
type MethodInfo struct {
	Name   string
	Params []ClassID
	ID     MethodID
	Class  ClassID
	Return ClassID
	Flags  MethodFlags
}

// ImageInfo describes a loaded assembly image.
type ImageInfo struct {
	Name       string
	FullName   string
	Version    string
	Path       string
	References []string
	MVID       uuid.UUID
	ID         ImageID
}

// QualifiedTypeName joins a namespace and a type name.
func QualifiedTypeName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// EntryPointName builds the key under which a native entry point is bound to
// an internal-call method. The module part is optional.
func EntryPointName(module, typeName, member string) string {
	var b strings.Builder
	if module != "" {
		b.WriteString(module)
		b.WriteByte(':')
	}
	b.WriteString(typeName)
	b.WriteString("::")
	b.WriteString(member)
	return b.String()
}
