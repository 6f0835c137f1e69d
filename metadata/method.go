package metadata

import (
	"strings"
	"sync"

	"github.com/wippyai/interop-bridge/managed"
)

// MethodDescriptor is one resolved overload. Its call thunk is fetched from
// the runtime on first use and cached.
type MethodDescriptor struct {
	Class *ClassDescriptor
	Name  string
	ID    managed.MethodID

	info *managed.MethodInfo

	thunkOnce sync.Once
	thunk     managed.Thunk
	thunkErr  error
}

func newMethodDescriptor(class *ClassDescriptor, info *managed.MethodInfo) *MethodDescriptor {
	return &MethodDescriptor{Class: class, Name: info.Name, ID: info.ID, info: info}
}

// Arity returns the declared parameter count, not counting the receiver.
func (m *MethodDescriptor) Arity() int { return len(m.info.Params) }

// ThunkArity returns the argument count of the call thunk, which includes
// the receiver of instance methods.
func (m *MethodDescriptor) ThunkArity() int {
	if m.IsStatic() {
		return m.Arity()
	}
	return m.Arity() + 1
}

func (m *MethodDescriptor) IsStatic() bool      { return m.info.Flags&managed.MethodStatic != 0 }
func (m *MethodDescriptor) IsVirtual() bool     { return m.info.Flags&managed.MethodVirtual != 0 }
func (m *MethodDescriptor) IsAbstract() bool    { return m.info.Flags&managed.MethodAbstract != 0 }
func (m *MethodDescriptor) IsConstructor() bool { return m.info.Flags&managed.MethodConstructor != 0 }

// ParamTypes returns the declared parameter types.
func (m *MethodDescriptor) ParamTypes() []*ClassDescriptor {
	out := make([]*ClassDescriptor, len(m.info.Params))
	for i, id := range m.info.Params {
		out[i] = m.Class.cache.ClassFor(id)
	}
	return out
}

// ReturnType returns the declared result type, or nil for void.
func (m *MethodDescriptor) ReturnType() *ClassDescriptor {
	return m.Class.cache.ClassFor(m.info.Return)
}

// Thunk returns the call thunk, resolving it once.
func (m *MethodDescriptor) Thunk() (managed.Thunk, error) {
	m.thunkOnce.Do(func() {
		m.thunk, m.thunkErr = m.Class.cache.rt.Thunk(m.ID)
	})
	return m.thunk, m.thunkErr
}

// Signature renders the method as "Ret Namespace.Type::Name(P1,P2)".
func (m *MethodDescriptor) Signature() string {
	var b strings.Builder
	if ret := m.ReturnType(); ret != nil {
		b.WriteString(ret.FullName())
	} else {
		b.WriteString("void")
	}
	b.WriteByte(' ')
	b.WriteString(m.Class.FullName())
	b.WriteString("::")
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.ParamTypes() {
		if i > 0 {
			b.WriteByte(',')
		}
		if p != nil {
			b.WriteString(p.FullName())
		}
	}
	b.WriteByte(')')
	return b.String()
}

func (m *MethodDescriptor) String() string { return m.Signature() }

func (m *MethodDescriptor) matchesTypes(typeNames []string) bool {
	if len(typeNames) != len(m.info.Params) {
		return false
	}
	for i, p := range m.ParamTypes() {
		if p == nil || p.FullName() != typeNames[i] {
			return false
		}
	}
	return true
}

// Overrides reports whether m can stand in for base in virtual dispatch:
// same name and the same parameter types.
func (m *MethodDescriptor) Overrides(base *MethodDescriptor) bool {
	if m.Name != base.Name || len(m.info.Params) != len(base.info.Params) || m.IsStatic() != base.IsStatic() {
		return false
	}
	for i, p := range m.info.Params {
		if p != base.info.Params[i] {
			return false
		}
	}
	return true
}
