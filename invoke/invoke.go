package invoke

import (
	"strconv"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/metadata"
)

// Call runs thunk with a Null exception slot and returns both phases of the
// result. When exc is not Null, result is undefined and must not be used.
func Call(thunk managed.Thunk, args []managed.Ref) (result, exc managed.Ref) {
	result = thunk(args, &exc)
	return result, exc
}

// Invoke calls m on receiver, which is ignored for static methods. A
// managed exception is returned as an *Exception error; the result is only
// read when no exception was raised. The argument count and the receiver
// type are checked before any managed code runs.
func Invoke(m *metadata.MethodDescriptor, receiver managed.Ref, args ...managed.Ref) (managed.Ref, error) {
	if len(args) != m.Arity() {
		return managed.Null, errors.ArityMismatch(errors.PhaseInvoke, m.Signature(), m.Arity(), len(args))
	}

	call := make([]managed.Ref, 0, m.ThunkArity())
	if !m.IsStatic() {
		if receiver == managed.Null {
			return managed.Null, errors.InvalidInput(errors.PhaseInvoke, "null receiver for "+m.Signature())
		}
		cache := m.Class.Cache()
		if got := cache.ClassOf(receiver); !m.Class.IsAssignableFrom(got) {
			return managed.Null, errors.TypeMismatch(errors.PhaseInvoke, []string{m.Class.FullName(), m.Name}, m.Class.FullName(), className(got))
		}
		call = append(call, receiver)
	}
	call = append(call, args...)

	thunk, err := m.Thunk()
	if err != nil {
		return managed.Null, err
	}
	result, exc := Call(thunk, call)
	if exc != managed.Null {
		return managed.Null, NewException(m.Class.Cache(), exc)
	}
	return result, nil
}

// ResolveOverride returns the most derived implementation of m for the
// dynamic type of receiver. Non-virtual methods, static methods and
// receivers whose type does not derive from m's class resolve to m.
func ResolveOverride(cache *metadata.Cache, receiver managed.Ref, m *metadata.MethodDescriptor) *metadata.MethodDescriptor {
	if !m.IsVirtual() || m.IsStatic() || receiver == managed.Null {
		return m
	}
	dyn := cache.ClassOf(receiver)
	if dyn == nil || !m.Class.IsAssignableFrom(dyn) {
		return m
	}
	for c := dyn; c != nil; c = c.Base() {
		if c.ID() == m.Class.ID() {
			return m
		}
		for _, cand := range c.Methods() {
			if cand.IsVirtual() && !cand.IsAbstract() && cand.Overrides(m) {
				return cand
			}
		}
	}
	return m
}

// InvokeVirtual resolves the override of m for receiver and invokes it.
func InvokeVirtual(m *metadata.MethodDescriptor, receiver managed.Ref, args ...managed.Ref) (managed.Ref, error) {
	return Invoke(ResolveOverride(m.Class.Cache(), receiver, m), receiver, args...)
}

// InvokeArray calls the overload of name on class whose parameter count and
// types accept args. Overloads are tried in declaration order, own methods
// before inherited ones. A Null argument fits any reference-type parameter.
// With polymorph set the selected method is re-resolved against the dynamic
// type of receiver before the call.
func InvokeArray(class *metadata.ClassDescriptor, name string, receiver managed.Ref, args []managed.Ref, polymorph bool) (managed.Ref, error) {
	m, err := Select(class, name, args)
	if err != nil {
		return managed.Null, err
	}
	if polymorph {
		m = ResolveOverride(class.Cache(), receiver, m)
	}
	return Invoke(m, receiver, args...)
}

// Select picks the overload InvokeArray would call without calling it.
func Select(class *metadata.ClassDescriptor, name string, args []managed.Ref) (*metadata.MethodDescriptor, error) {
	overloads := class.Overloads(name)
	if len(overloads) == 0 {
		return nil, errors.UnresolvedMember(errors.PhaseInvoke, class.FullName(), name)
	}

	var sameArity []*metadata.MethodDescriptor
	for _, m := range overloads {
		if m.Arity() == len(args) {
			sameArity = append(sameArity, m)
		}
	}
	if len(sameArity) == 0 {
		return nil, errors.ArityMismatch(errors.PhaseInvoke, class.FullName()+"::"+name, overloads[0].Arity(), len(args))
	}

	cache := class.Cache()
	argTypes := make([]*metadata.ClassDescriptor, len(args))
	for i, a := range args {
		if a != managed.Null {
			if argTypes[i] = cache.ClassOf(a); argTypes[i] == nil {
				return nil, errors.InvalidHandle(errors.PhaseInvoke, "argument "+strconv.Itoa(i)+" is not a live object")
			}
		}
	}
	for _, m := range sameArity {
		if accepts(m, argTypes) {
			return m, nil
		}
	}
	return nil, errors.TypeMismatch(errors.PhaseInvoke, []string{class.FullName(), name}, sameArity[0].Signature(), argList(argTypes))
}

func accepts(m *metadata.MethodDescriptor, argTypes []*metadata.ClassDescriptor) bool {
	for i, p := range m.ParamTypes() {
		if p == nil {
			return false
		}
		if argTypes[i] == nil {
			if p.IsValueType() {
				return false
			}
			continue
		}
		if !p.IsAssignableFrom(argTypes[i]) {
			return false
		}
	}
	return true
}

func argList(types []*metadata.ClassDescriptor) string {
	s := "("
	for i, t := range types {
		if i > 0 {
			s += ","
		}
		s += className(t)
	}
	return s + ")"
}

func className(d *metadata.ClassDescriptor) string {
	if d == nil {
		return "null"
	}
	return d.FullName()
}
