package vm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/managed"
)

// intrinsicModule is the host module every assembly may import.
const intrinsicModule = "interop"

// maxIntrinsicArgs is the number of arguments interop.call forwards.
const maxIntrinsicArgs = 3

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

type callRecordKey struct{}

// callRecord is carried in the context of one WASM method call. Intrinsics
// that raise store the exception here before trapping.
type callRecord struct {
	image *loadedImage
	exc   managed.Ref
}

// managedThrow is the panic value intrinsics use to unwind a WASM body.
type managedThrow struct{}

func (v *VM) instantiateIntrinsics(ctx context.Context) error {
	b := v.engine.NewHostModuleBuilder(intrinsicModule)
	def := func(name string, fn api.GoModuleFunc, params, results []api.ValueType) {
		b.NewFunctionBuilder().WithGoModuleFunction(fn, params, results).Export(name)
	}

	def("box_i64", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = uint64(v.BoxInt64(int64(stack[0])))
	}, []api.ValueType{i64}, []api.ValueType{i64})

	def("unbox_i64", func(ctx context.Context, _ api.Module, stack []uint64) {
		n, ok := v.unboxInt64(managed.Ref(stack[0]))
		if !ok {
			v.throw(ctx, v.wk.invCast, "value is not a boxed integer")
		}
		stack[0] = uint64(n)
	}, []api.ValueType{i64}, []api.ValueType{i64})

	def("box_i32", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = uint64(v.BoxInt32(api.DecodeI32(stack[0])))
	}, []api.ValueType{i32}, []api.ValueType{i64})

	def("unbox_i32", func(ctx context.Context, _ api.Module, stack []uint64) {
		n, ok := v.unboxInt64(managed.Ref(stack[0]))
		if !ok {
			v.throw(ctx, v.wk.invCast, "value is not a boxed integer")
		}
		stack[0] = api.EncodeI32(int32(n))
	}, []api.ValueType{i64}, []api.ValueType{i32})

	def("box_f64", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = uint64(v.BoxDouble(api.DecodeF64(stack[0])))
	}, []api.ValueType{f64}, []api.ValueType{i64})

	def("unbox_f64", func(ctx context.Context, _ api.Module, stack []uint64) {
		f, ok := v.unboxDouble(managed.Ref(stack[0]))
		if !ok {
			v.throw(ctx, v.wk.invCast, "value is not a boxed double")
		}
		stack[0] = api.EncodeF64(f)
	}, []api.ValueType{i64}, []api.ValueType{f64})

	def("throw", func(ctx context.Context, _ api.Module, stack []uint64) {
		exc := managed.Ref(stack[0])
		if o, ok := v.lookup(exc); !ok || !o.class.derivesFrom(v.wk.exception) {
			v.throw(ctx, v.wk.nullRef, "thrown value is not an exception")
		}
		v.rethrow(ctx, exc)
	}, []api.ValueType{i64}, nil)

	def("call", func(ctx context.Context, _ api.Module, stack []uint64) {
		rec, _ := ctx.Value(callRecordKey{}).(*callRecord)
		idx, argc := int(api.DecodeI32(stack[0])), int(api.DecodeI32(stack[1]))
		if rec == nil || idx < 0 || idx >= len(rec.image.methods) {
			v.throw(ctx, v.wk.missingMethod, fmt.Sprintf("no method at index %d", idx))
		}
		if argc < 0 || argc > maxIntrinsicArgs {
			v.throw(ctx, v.wk.argument, fmt.Sprintf("interop.call supports up to %d arguments, got %d", maxIntrinsicArgs, argc))
		}
		args := make([]managed.Ref, argc)
		for i := range args {
			args[i] = managed.Ref(stack[2+i])
		}
		thunk, err := v.Thunk(rec.image.methods[idx].info.ID)
		if err != nil {
			v.throw(ctx, v.wk.missingMethod, err.Error())
		}
		var exc managed.Ref
		result := thunk(args, &exc)
		if exc != managed.Null {
			v.rethrow(ctx, exc)
		}
		stack[0] = uint64(result)
	}, []api.ValueType{i32, i32, i64, i64, i64}, []api.ValueType{i64})

	_, err := b.Instantiate(ctx)
	return err
}

// throw raises a new exception out of the running WASM body.
func (v *VM) throw(ctx context.Context, c *class, message string) {
	v.rethrow(ctx, v.newException(c, message, managed.Null))
}

func (v *VM) rethrow(ctx context.Context, exc managed.Ref) {
	if rec, ok := ctx.Value(callRecordKey{}).(*callRecord); ok {
		rec.exc = exc
	}
	panic(managedThrow{})
}

// callWasm runs the export implementing m. A trap that did not come from
// an intrinsic becomes a System.Exception carrying the trap message.
func (v *VM) callWasm(m *method, args []managed.Ref, exc *managed.Ref) managed.Ref {
	img := m.owner.image
	fn := img.module.ExportedFunction(m.export)
	if fn == nil {
		return v.raise(exc, v.wk.missingMethod, "export "+m.export+" not found in "+img.info.Name)
	}

	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = uint64(a)
	}

	rec := &callRecord{image: img}
	ctx := context.WithValue(v.ctx, callRecordKey{}, rec)
	results, err := fn.Call(ctx, params...)
	if err != nil {
		if rec.exc != managed.Null {
			*exc = rec.exc
			return managed.Null
		}
		Logger().Debug("wasm trap", zap.String("method", m.frame()), zap.Error(err))
		return v.raise(exc, v.wk.exception, err.Error())
	}
	if len(results) == 0 {
		return managed.Null
	}
	return managed.Ref(results[0])
}
