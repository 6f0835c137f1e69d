package vm

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/managed"
)

// CoreLibrary is the name of the built-in core library image.
const CoreLibrary = "System.Private.CoreLib"

const (
	objectType    = "System.Object"
	valueType     = "System.ValueType"
	stringType    = "System.String"
	bytesType     = "System.Byte[]"
	exceptionType = "System.Exception"
)

// exceptionTypes lists the built-in exception classes derived from
// System.Exception.
var exceptionTypes = []string{
	"ArgumentException",
	"NullReferenceException",
	"InvalidCastException",
	"MissingMethodException",
}

type wellKnown struct {
	object, str, bytes                    *class
	boolean, int32, int64, double         *class
	exception, argument, nullRef, invCast *class
	missingMethod                         *class
	excMessage, excTrace, excInner        *field
}

func coreImage() *image.Image {
	virtual := image.MethodVirtual
	str := func(name string, ret string, params ...string) image.MethodDef {
		return image.MethodDef{Name: name, Return: ret, Params: params, Flags: virtual}
	}
	primitive := func(name string, size uint32) image.TypeDef {
		return image.TypeDef{
			Namespace: "System",
			Name:      name,
			Base:      valueType,
			Flags:     image.TypeValueType | image.TypeSealed,
			Size:      size,
			Methods:   []image.MethodDef{str("ToString", stringType)},
		}
	}
	exceptionCtors := []image.MethodDef{
		{Name: ".ctor"},
		{Name: ".ctor", Params: []string{stringType}},
		{Name: ".ctor", Params: []string{stringType, exceptionType}},
	}

	img := &image.Image{
		Name:    CoreLibrary,
		Version: "1.0.0",
		MVID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte(CoreLibrary)),
		Types: []image.TypeDef{
			{
				Namespace: "System",
				Name:      "Object",
				Methods: []image.MethodDef{
					{Name: ".ctor"},
					str("ToString", stringType),
					str("Equals", "System.Boolean", objectType),
				},
			},
			{
				Namespace: "System",
				Name:      "ValueType",
				Base:      objectType,
				Flags:     image.TypeAbstract,
				Methods:   []image.MethodDef{str("Equals", "System.Boolean", objectType)},
			},
			primitive("Boolean", 1),
			primitive("Int32", 4),
			primitive("Int64", 8),
			primitive("Double", 8),
			{
				Namespace:  "System",
				Name:       "String",
				Base:       objectType,
				Flags:      image.TypeSealed,
				Properties: []image.PropertyDef{{Name: "Length", Type: "System.Int32", Getter: "get_Length"}},
				Methods: []image.MethodDef{
					{Name: "get_Length", Return: "System.Int32"},
					{Name: "Concat", Return: stringType, Params: []string{stringType, stringType}, Flags: image.MethodStatic},
					str("ToString", stringType),
					str("Equals", "System.Boolean", objectType),
				},
			},
			{
				Namespace:  "System",
				Name:       "Byte[]",
				Base:       objectType,
				Flags:      image.TypeSealed,
				Properties: []image.PropertyDef{{Name: "Length", Type: "System.Int32", Getter: "get_Length"}},
				Methods:    []image.MethodDef{{Name: "get_Length", Return: "System.Int32"}},
			},
			{
				Namespace: "System",
				Name:      "Exception",
				Base:      objectType,
				Fields: []image.FieldDef{
					{Name: "_message", Type: stringType},
					{Name: "_stackTrace", Type: stringType},
					{Name: "_innerException", Type: exceptionType},
				},
				Properties: []image.PropertyDef{
					{Name: "Message", Type: stringType, Getter: "get_Message"},
					{Name: "StackTrace", Type: stringType, Getter: "get_StackTrace"},
					{Name: "InnerException", Type: exceptionType, Getter: "get_InnerException"},
				},
				Methods: append(append([]image.MethodDef(nil), exceptionCtors...),
					image.MethodDef{Name: "get_Message", Return: stringType},
					image.MethodDef{Name: "get_StackTrace", Return: stringType},
					image.MethodDef{Name: "get_InnerException", Return: exceptionType},
					str("ToString", stringType),
				),
			},
			{
				Namespace: "System",
				Name:      "IDisposable",
				Flags:     image.TypeInterface,
				Methods:   []image.MethodDef{{Name: "Dispose", Flags: image.MethodAbstract}},
			},
			{
				Namespace: "System",
				Name:      "GC",
				Base:      objectType,
				Flags:     image.TypeAbstract | image.TypeSealed,
				Methods:   []image.MethodDef{{Name: "Collect", Flags: image.MethodStatic}},
			},
		},
	}
	for _, name := range exceptionTypes {
		img.Types = append(img.Types, image.TypeDef{
			Namespace: "System",
			Name:      name,
			Base:      exceptionType,
			Methods:   exceptionCtors[:2],
		})
	}
	return img
}

func (v *VM) loadCore() error {
	img := coreImage()
	li := &loadedImage{
		name: img.AssemblyName(),
		info: managed.ImageInfo{
			Name:     img.Name,
			FullName: img.FullName(),
			Version:  img.Version,
			MVID:     img.MVID,
		},
	}
	if err := v.link(li, img, v.coreBodies()); err != nil {
		return err
	}
	v.core = li

	t := li.types
	v.wk = wellKnown{
		object:        t[objectType],
		str:           t[stringType],
		bytes:         t[bytesType],
		boolean:       t["System.Boolean"],
		int32:         t["System.Int32"],
		int64:         t["System.Int64"],
		double:        t["System.Double"],
		exception:     t[exceptionType],
		argument:      t["System.ArgumentException"],
		nullRef:       t["System.NullReferenceException"],
		invCast:       t["System.InvalidCastException"],
		missingMethod: t["System.MissingMethodException"],
	}
	exc := v.wk.exception
	v.wk.excMessage, v.wk.excTrace, v.wk.excInner = exc.fields[0], exc.fields[1], exc.fields[2]
	return nil
}

// coreBodies returns the Go implementations of core library methods keyed
// by "Type::Member". Overloads share one body and switch on len(args).
func (v *VM) coreBodies() map[string]managed.NativeFunc {
	bodies := map[string]managed.NativeFunc{
		objectType + "::.ctor": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			return managed.Null
		},
		objectType + "::ToString": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			o, ok := v.lookup(args[0])
			if !ok {
				return v.raise(exc, v.wk.nullRef, "object is not alive")
			}
			return v.NewString(o.class.fullName())
		},
		objectType + "::Equals": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			return v.boxBool(args[0] == args[1])
		},
		valueType + "::Equals": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			a, aok := v.lookup(args[0])
			b, bok := v.lookup(args[1])
			return v.boxBool(aok && bok && a.class == b.class && bytes.Equal(a.raw, b.raw))
		},
		"System.Boolean::ToString": v.formatValue(func(raw []byte) string {
			if raw[0] != 0 {
				return "True"
			}
			return "False"
		}),
		"System.Int32::ToString": v.formatValue(func(raw []byte) string {
			return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10)
		}),
		"System.Int64::ToString": v.formatValue(func(raw []byte) string {
			return strconv.FormatInt(int64(binary.LittleEndian.Uint64(raw)), 10)
		}),
		"System.Double::ToString": v.formatValue(func(raw []byte) string {
			return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(raw)), 'g', -1, 64)
		}),
		stringType + "::get_Length": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			s, _ := v.StringValue(args[0])
			return v.BoxInt32(int32(len(s)))
		},
		stringType + "::Concat": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			a, _ := v.StringValue(args[0])
			b, _ := v.StringValue(args[1])
			return v.NewString(a + b)
		},
		stringType + "::ToString": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			return args[0]
		},
		stringType + "::Equals": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			a, aok := v.StringValue(args[0])
			b, bok := v.StringValue(args[1])
			return v.boxBool(aok && bok && a == b)
		},
		bytesType + "::get_Length": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			arr, ok := v.SharedBytes(args[0])
			if !ok {
				return v.BoxInt32(0)
			}
			defer arr.Release()
			return v.BoxInt32(int32(arr.Len()))
		},
		exceptionType + "::get_Message":        v.fieldGetter(func() *field { return v.wk.excMessage }),
		exceptionType + "::get_StackTrace":     v.fieldGetter(func() *field { return v.wk.excTrace }),
		exceptionType + "::get_InnerException": v.fieldGetter(func() *field { return v.wk.excInner }),
		exceptionType + "::ToString": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			o, ok := v.lookup(args[0])
			if !ok {
				return v.raise(exc, v.wk.nullRef, "exception is not alive")
			}
			ref, err := v.GetField(args[0], v.wk.excMessage.info.ID)
			if err != nil {
				return v.raise(exc, v.wk.invCast, err.Error())
			}
			msg, _ := v.StringValue(ref)
			return v.NewString(o.class.fullName() + ": " + msg)
		},
		"System.GC::Collect": func(args []managed.Ref, exc *managed.Ref) managed.Ref {
			v.Collect()
			return managed.Null
		},
	}

	ctor := v.exceptionCtor()
	bodies[exceptionType+"::.ctor"] = ctor
	for _, name := range exceptionTypes {
		bodies["System."+name+"::.ctor"] = ctor
	}
	return bodies
}

// exceptionCtor implements the (), (message) and (message, inner)
// exception constructors.
func (v *VM) exceptionCtor() managed.NativeFunc {
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		v.mu.Lock()
		defer v.mu.Unlock()

		o, ok := v.objects[args[0]]
		if !ok {
			return managed.Null
		}
		if len(args) > 1 {
			o.fields[v.wk.excMessage.slot] = args[1]
		}
		if len(args) > 2 {
			o.fields[v.wk.excInner.slot] = args[2]
		}
		return managed.Null
	}
}

func (v *VM) fieldGetter(f func() *field) managed.NativeFunc {
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		r, err := v.GetField(args[0], f().info.ID)
		if err != nil {
			return v.raise(exc, v.wk.invCast, err.Error())
		}
		return r
	}
}

func (v *VM) formatValue(format func(raw []byte) string) managed.NativeFunc {
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		raw, err := v.Unbox(args[0])
		if err != nil {
			return v.raise(exc, v.wk.invCast, err.Error())
		}
		return v.NewString(format(raw))
	}
}

func (v *VM) boxBool(b bool) managed.Ref {
	raw := []byte{0}
	if b {
		raw[0] = 1
	}
	return v.boxRaw(v.wk.boolean, raw)
}

// BoxInt32 allocates a boxed System.Int32.
func (v *VM) BoxInt32(n int32) managed.Ref {
	return v.boxRaw(v.wk.int32, binary.LittleEndian.AppendUint32(nil, uint32(n)))
}

// BoxInt64 allocates a boxed System.Int64.
func (v *VM) BoxInt64(n int64) managed.Ref {
	return v.boxRaw(v.wk.int64, binary.LittleEndian.AppendUint64(nil, uint64(n)))
}

// BoxDouble allocates a boxed System.Double.
func (v *VM) BoxDouble(f float64) managed.Ref {
	return v.boxRaw(v.wk.double, binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)))
}

// unboxInt64 reads a boxed Int32 or Int64 as an int64.
func (v *VM) unboxInt64(obj managed.Ref) (int64, bool) {
	o, ok := v.lookup(obj)
	if !ok {
		return 0, false
	}
	switch o.class {
	case v.wk.int64:
		return int64(binary.LittleEndian.Uint64(o.raw)), true
	case v.wk.int32:
		return int64(int32(binary.LittleEndian.Uint32(o.raw))), true
	}
	return 0, false
}

func (v *VM) unboxDouble(obj managed.Ref) (float64, bool) {
	o, ok := v.lookup(obj)
	if !ok || o.class != v.wk.double {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(o.raw)), true
}
