package vm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// Thunk returns the call thunk of a method. The thunk is built once and
// shared by every caller.
func (v *VM) Thunk(id managed.MethodID) (managed.Thunk, error) {
	m, ok := v.method(id)
	if !ok {
		return nil, errors.NotFound(errors.PhaseInvoke, "method", fmt.Sprintf("#%d", id))
	}
	m.thunkOnce.Do(func() {
		m.thunk = v.buildThunk(m)
	})
	return m.thunk, nil
}

func (v *VM) buildThunk(m *method) managed.Thunk {
	frame := m.frame()
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		var local managed.Ref
		if exc == nil {
			exc = &local
		}
		*exc = managed.Null

		result := v.dispatch(m, args, exc)
		if *exc != managed.Null {
			v.appendTrace(*exc, frame)
			return managed.Null
		}
		return result
	}
}

func (v *VM) dispatch(m *method, args []managed.Ref, exc *managed.Ref) (result managed.Ref) {
	if n := m.arity(); len(args) != n {
		return v.raise(exc, v.wk.argument, fmt.Sprintf("%s expects %d arguments, got %d", m.frame(), n, len(args)))
	}
	if !m.is(managed.MethodStatic) && args[0] == managed.Null {
		return v.raise(exc, v.wk.nullRef, "instance method "+m.frame()+" called on null")
	}

	v.enter(args)
	defer v.leave()
	defer func() {
		if r := recover(); r != nil {
			Logger().Warn("managed method panicked", zap.String("method", m.frame()), zap.Any("panic", r))
			*exc = v.newException(v.wk.exception, fmt.Sprint(r), managed.Null)
			result = managed.Null
		}
	}()

	switch {
	case m.is(managed.MethodAbstract):
		return v.raise(exc, v.wk.missingMethod, "abstract method "+m.frame()+" has no implementation")
	case m.export != "":
		return v.callWasm(m, args, exc)
	case m.native != nil:
		return m.native(args, exc)
	}

	fn := v.bind(m)
	if fn == nil {
		return v.raise(exc, v.wk.missingMethod, "no entry point registered for "+m.frame())
	}
	return fn(args, exc)
}

// bind resolves the entry point of an internal call, preferring the
// module-qualified key. Successful lookups are cached on the method.
func (v *VM) bind(m *method) managed.NativeFunc {
	if fn := m.bound.Load(); fn != nil {
		return *fn
	}

	v.typesMu.RLock()
	fn, ok := v.entryPoints[managed.EntryPointName(m.owner.image.info.Name, m.owner.fullName(), m.info.Name)]
	if !ok {
		fn, ok = v.entryPoints[managed.EntryPointName("", m.owner.fullName(), m.info.Name)]
	}
	v.typesMu.RUnlock()

	if !ok {
		return nil
	}
	m.bound.Store(&fn)
	return fn
}
