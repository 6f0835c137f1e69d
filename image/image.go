package image

import (
	"github.com/google/uuid"
)

// TypeFlags describes a type definition.
type TypeFlags uint32

const (
	TypeValueType TypeFlags = 1 << iota
	TypeInterface
	TypeAbstract
	TypeSealed
)

// MethodFlags describes a method definition.
type MethodFlags uint32

const (
	MethodStatic MethodFlags = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodInternalCall
	MethodConstructor
)

// Image is the metadata of one assembly.
type Image struct {
	Name       string
	Version    string
	Culture    string
	References []string
	Types      []TypeDef
	MVID       uuid.UUID
}

// AssemblyName returns the identity of the image.
func (img *Image) AssemblyName() AssemblyName {
	return AssemblyName{Name: img.Name, Version: img.Version, Culture: img.Culture}
}

// FullName returns the display form of the identity.
func (img *Image) FullName() string {
	return img.AssemblyName().String()
}

// TypeDef defines one type. Type references elsewhere in the image use the
// qualified form returned by FullName.
type TypeDef struct {
	Namespace     string
	Name          string
	DeclaringType string
	Base          string
	Interfaces    []string
	Fields        []FieldDef
	Properties    []PropertyDef
	Events        []EventDef
	Methods       []MethodDef
	Flags         TypeFlags
	Size          uint32
}

// FullName returns the qualified name. Nested types are written as
// Declaring+Name.
func (t *TypeDef) FullName() string {
	if t.DeclaringType != "" {
		return t.DeclaringType + "+" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// FieldDef defines a field.
type FieldDef struct {
	Name   string
	Type   string
	Static bool
}

// PropertyDef defines a property. Getter and Setter name methods of the
// same type; either may be empty.
type PropertyDef struct {
	Name   string
	Type   string
	Getter string
	Setter string
}

// EventDef defines an event backed by add/remove methods of the same type.
type EventDef struct {
	Name   string
	Type   string
	Add    string
	Remove string
}

// MethodDef defines a method. Export names the WASM function implementing
// the body; internal-call methods are bound to native entry points instead.
type MethodDef struct {
	Name   string
	Return string
	Export string
	Params []string
	Flags  MethodFlags
}

// Has reports whether all bits of f are set.
func (f MethodFlags) Has(flag MethodFlags) bool {
	return f&flag == flag
}

// Has reports whether all bits of f are set.
func (f TypeFlags) Has(flag TypeFlags) bool {
	return f&flag == flag
}
