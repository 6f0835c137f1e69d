package vm

import (
	"context"
	"testing"

	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/internal/wasmtest"
	"github.com/wippyai/interop-bridge/managed"
)

func newVM(t *testing.T, opts ...Option) *VM {
	t.Helper()
	v, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = v.Close(context.Background()) })
	return v
}

func buildImage(t *testing.T, img *image.Image, m *wasmtest.Module) []byte {
	t.Helper()
	code := image.EmptyModule()
	if m != nil {
		code = m.Bytes()
	}
	data, err := image.Attach(code, img)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return data
}

func open(t *testing.T, v *VM, data []byte) managed.ImageID {
	t.Helper()
	id, err := v.OpenImage(context.Background(), "", data)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	return id
}

func findClass(t *testing.T, v *VM, img managed.ImageID, ns, name string) managed.ClassID {
	t.Helper()
	id, ok := v.FindClass(img, ns, name)
	if !ok {
		t.Fatalf("class %s.%s not found", ns, name)
	}
	return id
}

func findMethod(t *testing.T, v *VM, class managed.ClassID, name string, params int) managed.MethodID {
	t.Helper()
	info, ok := v.Class(class)
	if !ok {
		t.Fatalf("class %d not found", class)
	}
	for _, m := range info.Methods {
		if m.Name == name && len(m.Params) == params {
			return m.ID
		}
	}
	t.Fatalf("method %s/%d not found on %s", name, params, info.FullName())
	return 0
}

func findField(t *testing.T, v *VM, class managed.ClassID, name string) managed.FieldID {
	t.Helper()
	info, _ := v.Class(class)
	for _, f := range info.Fields {
		if f.Name == name {
			return f.ID
		}
	}
	t.Fatalf("field %s not found", name)
	return 0
}

func thunkOf(t *testing.T, v *VM, m managed.MethodID) managed.Thunk {
	t.Helper()
	th, err := v.Thunk(m)
	if err != nil {
		t.Fatalf("Thunk: %v", err)
	}
	return th
}

func exceptionMessage(t *testing.T, v *VM, exc managed.Ref) string {
	t.Helper()
	msg, err := v.GetField(exc, v.wk.excMessage.info.ID)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	s, _ := v.StringValue(msg)
	return s
}

func className(t *testing.T, v *VM, obj managed.Ref) string {
	t.Helper()
	id, ok := v.ClassOf(obj)
	if !ok {
		t.Fatalf("object %#x is not alive", obj)
	}
	c, _ := v.class(id)
	return c.fullName()
}

// nodeImage declares Demo.Node with an object graph worth collecting.
func nodeImage() *image.Image {
	return &image.Image{
		Name:    "Demo.Nodes",
		Version: "1.0.0",
		Types: []image.TypeDef{{
			Namespace: "Demo",
			Name:      "Node",
			Fields: []image.FieldDef{
				{Name: "next", Type: "Demo.Node"},
				{Name: "label", Type: "System.String"},
				{Name: "root", Type: "Demo.Node", Static: true},
			},
		}},
	}
}

// calcImage declares Demo.Calc with WASM bodies using the intrinsics.
func calcImage() (*image.Image, *wasmtest.Module) {
	m := wasmtest.New()
	i64 := []byte{wasmtest.I64}
	boxI64 := m.Import("interop", "box_i64", i64, i64)
	unboxI64 := m.Import("interop", "unbox_i64", i64, i64)
	throw := m.Import("interop", "throw", i64, nil)
	call := m.Import("interop", "call", []byte{wasmtest.I32, wasmtest.I32, wasmtest.I64, wasmtest.I64, wasmtest.I64}, i64)

	m.Func("add", []byte{wasmtest.I64, wasmtest.I64}, i64, wasmtest.Code(
		wasmtest.LocalGet(0), wasmtest.Call(unboxI64),
		wasmtest.LocalGet(1), wasmtest.Call(unboxI64),
		[]byte{wasmtest.OpI64Add},
		wasmtest.Call(boxI64),
	))
	m.Func("fail", i64, nil, wasmtest.Code(wasmtest.LocalGet(0), wasmtest.Call(throw)))
	m.Func("trap", nil, nil, []byte{wasmtest.OpUnreachable})
	// Twice(x) = Add(x, x) through interop.call; Add is method 0.
	m.Func("twice", i64, i64, wasmtest.Code(
		wasmtest.I32Const(0), wasmtest.I32Const(2),
		wasmtest.LocalGet(0), wasmtest.LocalGet(0), wasmtest.I64Const(0),
		wasmtest.Call(call),
	))

	img := &image.Image{
		Name:    "Demo",
		Version: "1.0.0",
		Types: []image.TypeDef{{
			Namespace: "Demo",
			Name:      "Calc",
			Methods: []image.MethodDef{
				{Name: "Add", Params: []string{"System.Int64", "System.Int64"}, Return: "System.Int64", Flags: image.MethodStatic, Export: "add"},
				{Name: "Fail", Params: []string{"System.Exception"}, Flags: image.MethodStatic, Export: "fail"},
				{Name: "Trap", Flags: image.MethodStatic, Export: "trap"},
				{Name: "Twice", Params: []string{"System.Int64"}, Return: "System.Int64", Flags: image.MethodStatic, Export: "twice"},
				{Name: "Native", Params: []string{"System.Int32"}, Return: "System.Int32", Flags: image.MethodStatic | image.MethodInternalCall},
				{Name: "Unbound", Flags: image.MethodStatic | image.MethodInternalCall},
			},
		}},
	}
	return img, m
}
