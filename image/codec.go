package image

import (
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/interop-bridge/errors"
)

// Field numbers of the metadata wire format. Unknown fields are skipped on
// decode so newer writers stay readable.
const (
	imgName       protowire.Number = 1
	imgVersion    protowire.Number = 2
	imgCulture    protowire.Number = 3
	imgMVID       protowire.Number = 4
	imgReferences protowire.Number = 5
	imgTypes      protowire.Number = 6

	typNamespace  protowire.Number = 1
	typName       protowire.Number = 2
	typDeclaring  protowire.Number = 3
	typBase       protowire.Number = 4
	typInterfaces protowire.Number = 5
	typFlags      protowire.Number = 6
	typSize       protowire.Number = 7
	typFields     protowire.Number = 8
	typProperties protowire.Number = 9
	typEvents     protowire.Number = 10
	typMethods    protowire.Number = 11

	fldName   protowire.Number = 1
	fldType   protowire.Number = 2
	fldStatic protowire.Number = 3

	prpName   protowire.Number = 1
	prpType   protowire.Number = 2
	prpGetter protowire.Number = 3
	prpSetter protowire.Number = 4

	evtName   protowire.Number = 1
	evtType   protowire.Number = 2
	evtAdd    protowire.Number = 3
	evtRemove protowire.Number = 4

	mthName   protowire.Number = 1
	mthParams protowire.Number = 2
	mthReturn protowire.Number = 3
	mthFlags  protowire.Number = 4
	mthExport protowire.Number = 5
)

// Marshal encodes image metadata.
func Marshal(img *Image) []byte {
	var b []byte
	b = appendString(b, imgName, img.Name)
	b = appendString(b, imgVersion, img.Version)
	b = appendString(b, imgCulture, img.Culture)
	if img.MVID != uuid.Nil {
		b = protowire.AppendTag(b, imgMVID, protowire.BytesType)
		b = protowire.AppendBytes(b, img.MVID[:])
	}
	for _, ref := range img.References {
		b = protowire.AppendTag(b, imgReferences, protowire.BytesType)
		b = protowire.AppendString(b, ref)
	}
	for i := range img.Types {
		b = protowire.AppendTag(b, imgTypes, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalType(&img.Types[i]))
	}
	return b
}

func marshalType(t *TypeDef) []byte {
	var b []byte
	b = appendString(b, typNamespace, t.Namespace)
	b = appendString(b, typName, t.Name)
	b = appendString(b, typDeclaring, t.DeclaringType)
	b = appendString(b, typBase, t.Base)
	for _, iface := range t.Interfaces {
		b = protowire.AppendTag(b, typInterfaces, protowire.BytesType)
		b = protowire.AppendString(b, iface)
	}
	b = appendVarint(b, typFlags, uint64(t.Flags))
	b = appendVarint(b, typSize, uint64(t.Size))
	for _, f := range t.Fields {
		var fb []byte
		fb = appendString(fb, fldName, f.Name)
		fb = appendString(fb, fldType, f.Type)
		if f.Static {
			fb = appendVarint(fb, fldStatic, 1)
		}
		b = protowire.AppendTag(b, typFields, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	for _, p := range t.Properties {
		var pb []byte
		pb = appendString(pb, prpName, p.Name)
		pb = appendString(pb, prpType, p.Type)
		pb = appendString(pb, prpGetter, p.Getter)
		pb = appendString(pb, prpSetter, p.Setter)
		b = protowire.AppendTag(b, typProperties, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	for _, e := range t.Events {
		var eb []byte
		eb = appendString(eb, evtName, e.Name)
		eb = appendString(eb, evtType, e.Type)
		eb = appendString(eb, evtAdd, e.Add)
		eb = appendString(eb, evtRemove, e.Remove)
		b = protowire.AppendTag(b, typEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, eb)
	}
	for _, m := range t.Methods {
		var mb []byte
		mb = appendString(mb, mthName, m.Name)
		for _, p := range m.Params {
			mb = protowire.AppendTag(mb, mthParams, protowire.BytesType)
			mb = protowire.AppendString(mb, p)
		}
		mb = appendString(mb, mthReturn, m.Return)
		mb = appendVarint(mb, mthFlags, uint64(m.Flags))
		mb = appendString(mb, mthExport, m.Export)
		b = protowire.AppendTag(b, typMethods, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal decodes image metadata.
func Unmarshal(data []byte) (*Image, error) {
	img := &Image{}
	err := walk(data, "image", func(num protowire.Number, r *fieldReader) error {
		switch num {
		case imgName:
			img.Name = r.string()
		case imgVersion:
			img.Version = r.string()
		case imgCulture:
			img.Culture = r.string()
		case imgMVID:
			raw := r.bytes()
			if r.err == nil {
				id, err := uuid.FromBytes(raw)
				if err != nil {
					return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "image mvid")
				}
				img.MVID = id
			}
		case imgReferences:
			img.References = append(img.References, r.string())
		case imgTypes:
			t, err := unmarshalType(r.bytes())
			if err != nil {
				return err
			}
			img.Types = append(img.Types, t)
		default:
			r.skip()
		}
		return r.err
	})
	if err != nil {
		return nil, err
	}
	if img.Name == "" {
		return nil, errors.InvalidData(errors.PhaseDecode, []string{"image"}, "missing assembly name")
	}
	return img, nil
}

func unmarshalType(data []byte) (TypeDef, error) {
	var t TypeDef
	err := walk(data, "type", func(num protowire.Number, r *fieldReader) error {
		switch num {
		case typNamespace:
			t.Namespace = r.string()
		case typName:
			t.Name = r.string()
		case typDeclaring:
			t.DeclaringType = r.string()
		case typBase:
			t.Base = r.string()
		case typInterfaces:
			t.Interfaces = append(t.Interfaces, r.string())
		case typFlags:
			t.Flags = TypeFlags(r.uint32())
		case typSize:
			t.Size = r.uint32()
		case typFields:
			var f FieldDef
			err := walk(r.bytes(), "field", func(num protowire.Number, r *fieldReader) error {
				switch num {
				case fldName:
					f.Name = r.string()
				case fldType:
					f.Type = r.string()
				case fldStatic:
					f.Static = r.uint32() != 0
				default:
					r.skip()
				}
				return r.err
			})
			if err != nil {
				return err
			}
			t.Fields = append(t.Fields, f)
		case typProperties:
			var p PropertyDef
			err := walk(r.bytes(), "property", func(num protowire.Number, r *fieldReader) error {
				switch num {
				case prpName:
					p.Name = r.string()
				case prpType:
					p.Type = r.string()
				case prpGetter:
					p.Getter = r.string()
				case prpSetter:
					p.Setter = r.string()
				default:
					r.skip()
				}
				return r.err
			})
			if err != nil {
				return err
			}
			t.Properties = append(t.Properties, p)
		case typEvents:
			var e EventDef
			err := walk(r.bytes(), "event", func(num protowire.Number, r *fieldReader) error {
				switch num {
				case evtName:
					e.Name = r.string()
				case evtType:
					e.Type = r.string()
				case evtAdd:
					e.Add = r.string()
				case evtRemove:
					e.Remove = r.string()
				default:
					r.skip()
				}
				return r.err
			})
			if err != nil {
				return err
			}
			t.Events = append(t.Events, e)
		case typMethods:
			var m MethodDef
			err := walk(r.bytes(), "method", func(num protowire.Number, r *fieldReader) error {
				switch num {
				case mthName:
					m.Name = r.string()
				case mthParams:
					m.Params = append(m.Params, r.string())
				case mthReturn:
					m.Return = r.string()
				case mthFlags:
					m.Flags = MethodFlags(r.uint32())
				case mthExport:
					m.Export = r.string()
				default:
					r.skip()
				}
				return r.err
			})
			if err != nil {
				return err
			}
			t.Methods = append(t.Methods, m)
		default:
			r.skip()
		}
		return r.err
	})
	return t, err
}

// fieldReader consumes the value of the current field. The first failure is
// kept in err and turns later reads into no-ops.
type fieldReader struct {
	err  error
	path string
	buf  []byte
	n    int
	typ  protowire.Type
	num  protowire.Number
}

func (r *fieldReader) fail(n int) {
	if r.err == nil {
		r.err = errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, protowire.ParseError(n), r.path)
	}
}

func (r *fieldReader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	if r.typ != protowire.BytesType {
		r.err = errors.InvalidData(errors.PhaseDecode, []string{r.path}, "expected length-delimited field")
		return nil
	}
	v, n := protowire.ConsumeBytes(r.buf)
	if n < 0 {
		r.fail(n)
		return nil
	}
	r.n = n
	return v
}

func (r *fieldReader) string() string {
	return string(r.bytes())
}

func (r *fieldReader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.typ != protowire.VarintType {
		r.err = errors.InvalidData(errors.PhaseDecode, []string{r.path}, "expected varint field")
		return 0
	}
	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		r.fail(n)
		return 0
	}
	if v > 1<<32-1 {
		r.err = errors.Overflow(errors.PhaseDecode, []string{r.path}, v, "uint32")
		return 0
	}
	r.n = n
	return uint32(v)
}

func (r *fieldReader) skip() {
	if r.err != nil {
		return
	}
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.buf)
	if n < 0 {
		r.fail(n)
		return
	}
	r.n = n
}

// walk iterates the fields of one message.
func walk(data []byte, path string, fn func(protowire.Number, *fieldReader) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, protowire.ParseError(n), path)
		}
		data = data[n:]

		r := &fieldReader{path: path, buf: data, typ: typ, num: num}
		if err := fn(num, r); err != nil {
			return err
		}
		data = data[r.n:]
	}
	return nil
}
