package bridge

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/native"
)

// EntryPointRegistrar lets a host list its entry points by member name
// instead of having its exported methods registered.
type EntryPointRegistrar interface {
	EntryPoints() map[string]managed.NativeFunc
}

var nativeFuncType = reflect.TypeOf(managed.NativeFunc(nil))

// RegisterEntryPoint makes fn callable from managed code as the internal
// call typeName::member. module may be empty to match the member in any
// assembly. Registrations made before Initialize are applied when the
// runtime starts.
func (b *Bridge) RegisterEntryPoint(module, typeName, member string, fn managed.NativeFunc) error {
	key := managed.EntryPointName(module, typeName, member)
	if fn == nil {
		return errors.Registration(errors.PhaseHost, key, errors.InvalidInput(errors.PhaseHost, "nil entry point"))
	}

	b.mu.Lock()
	rt := b.rt
	if rt == nil {
		b.pending = append(b.pending, entryPoint{key: key, fn: fn})
		b.mu.Unlock()
		b.log.Debug("entry point queued", zap.String("key", key))
		return nil
	}
	b.mu.Unlock()
	return rt.RegisterEntryPoint(key, fn)
}

// RegisterNativeEntryPoint registers a raw C function pointer with the
// signature uintptr fn(uintptr *args, uintptr argc, uintptr *exc).
func (b *Bridge) RegisterNativeEntryPoint(module, typeName, member string, fnptr uintptr) error {
	fn, err := native.EntryPoint(fnptr)
	if err != nil {
		return errors.Registration(errors.PhaseHost, managed.EntryPointName(module, typeName, member), err)
	}
	return b.RegisterEntryPoint(module, typeName, member, fn)
}

// RegisterEntryPoints registers every exported method of host as an entry
// point of typeName, keyed by the method name. Each method must have the
// NativeFunc signature. A host implementing EntryPointRegistrar registers
// its listed functions instead.
func (b *Bridge) RegisterEntryPoints(module, typeName string, host any) error {
	if host == nil {
		return errors.InvalidInput(errors.PhaseHost, "host cannot be nil")
	}
	if r, ok := host.(EntryPointRegistrar); ok {
		for member, fn := range r.EntryPoints() {
			if err := b.RegisterEntryPoint(module, typeName, member, fn); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(host)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() {
			continue
		}
		bound := rv.Method(i)
		if !bound.Type().ConvertibleTo(nativeFuncType) {
			return errors.Registration(errors.PhaseHost,
				managed.EntryPointName(module, typeName, method.Name),
				errors.TypeMismatch(errors.PhaseHost, []string{method.Name}, nativeFuncType.String(), bound.Type().String()))
		}
		fn := bound.Convert(nativeFuncType).Interface().(managed.NativeFunc)
		if err := b.RegisterEntryPoint(module, typeName, method.Name, fn); err != nil {
			return err
		}
	}
	return nil
}
