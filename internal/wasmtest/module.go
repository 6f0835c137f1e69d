// Package wasmtest builds small WebAssembly core modules for tests.
package wasmtest

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

// Opcodes used by the fixtures.
const (
	OpUnreachable byte = 0x00
	OpEnd         byte = 0x0b
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF64Const    byte = 0x44
	OpI64Add      byte = 0x7c
	OpI64Mul      byte = 0x7e
	OpF64Add      byte = 0xa0
)

type funcType struct {
	params  []byte
	results []byte
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	export string
	body   []byte
	typ    uint32
}

// Module accumulates imports and functions. Imported functions take the
// lowest indices, so declare every import before the first Func.
type Module struct {
	types   []funcType
	imports []importFunc
	funcs   []function
}

// New returns an empty module builder.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []byte) uint32 {
	for i, t := range m.types {
		if string(t.params) == string(params) && string(t.results) == string(results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import declares an imported function and returns its function index.
func (m *Module) Import(module, name string, params, results []byte) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function with the given body (without the trailing end
// opcode) and exports it when export is non-empty. It returns the function
// index.
func (m *Module) Func(export string, params, results []byte, body []byte) uint32 {
	code := append(append([]byte(nil), body...), OpEnd)
	m.funcs = append(m.funcs, function{export: export, body: code, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		var s []byte
		s = protowire.AppendVarint(s, uint64(len(m.types)))
		for _, t := range m.types {
			s = append(s, 0x60)
			s = appendVec(s, t.params)
			s = appendVec(s, t.results)
		}
		out = appendSection(out, 1, s)
	}

	if len(m.imports) > 0 {
		var s []byte
		s = protowire.AppendVarint(s, uint64(len(m.imports)))
		for _, imp := range m.imports {
			s = appendName(s, imp.module)
			s = appendName(s, imp.name)
			s = append(s, 0x00)
			s = protowire.AppendVarint(s, uint64(imp.typ))
		}
		out = appendSection(out, 2, s)
	}

	if len(m.funcs) > 0 {
		var s []byte
		s = protowire.AppendVarint(s, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			s = protowire.AppendVarint(s, uint64(f.typ))
		}
		out = appendSection(out, 3, s)
	}

	var exports []byte
	count := 0
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		count++
		exports = appendName(exports, f.export)
		exports = append(exports, 0x00)
		exports = protowire.AppendVarint(exports, uint64(len(m.imports)+i))
	}
	if count > 0 {
		s := protowire.AppendVarint(nil, uint64(count))
		out = appendSection(out, 7, append(s, exports...))
	}

	if len(m.funcs) > 0 {
		var s []byte
		s = protowire.AppendVarint(s, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			body := append([]byte{0x00}, f.body...) // no locals
			s = protowire.AppendVarint(s, uint64(len(body)))
			s = append(s, body...)
		}
		out = appendSection(out, 10, s)
	}

	return out
}

func appendSection(b []byte, id byte, payload []byte) []byte {
	b = append(b, id)
	b = protowire.AppendVarint(b, uint64(len(payload)))
	return append(b, payload...)
}

func appendVec(b []byte, v []byte) []byte {
	b = protowire.AppendVarint(b, uint64(len(v)))
	return append(b, v...)
}

func appendName(b []byte, s string) []byte {
	b = protowire.AppendVarint(b, uint64(len(s)))
	return append(b, s...)
}

// LocalGet encodes local.get idx.
func LocalGet(idx uint32) []byte {
	return protowire.AppendVarint([]byte{OpLocalGet}, uint64(idx))
}

// Call encodes call fn.
func Call(fn uint32) []byte {
	return protowire.AppendVarint([]byte{OpCall}, uint64(fn))
}

// I32Const encodes i32.const v.
func I32Const(v int32) []byte {
	return appendSLEB([]byte{OpI32Const}, int64(v))
}

// I64Const encodes i64.const v.
func I64Const(v int64) []byte {
	return appendSLEB([]byte{OpI64Const}, v)
}

// F64Const encodes f64.const v.
func F64Const(v float64) []byte {
	bits := math.Float64bits(v)
	out := []byte{OpF64Const}
	for i := 0; i < 8; i++ {
		out = append(out, byte(bits>>(8*i)))
	}
	return out
}

// Code concatenates instruction fragments.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func appendSLEB(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
