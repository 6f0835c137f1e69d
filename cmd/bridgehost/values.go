package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/wippyai/interop-bridge/assembly"
	"github.com/wippyai/interop-bridge/bridge"
	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/metadata"
)

// parseArg converts a command line value to a boxed argument of type param.
func parseArg(b *bridge.Bridge, param *metadata.ClassDescriptor, s string) (managed.Ref, error) {
	if param == nil {
		return managed.Null, fmt.Errorf("unknown parameter type")
	}
	var raw []byte
	switch param.FullName() {
	case "System.String", "System.Object":
		return b.Runtime().NewString(s), nil
	case "System.Boolean":
		v, err := strconv.ParseBool(s)
		if err != nil {
			return managed.Null, err
		}
		raw = []byte{0}
		if v {
			raw[0] = 1
		}
	case "System.Int32":
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return managed.Null, err
		}
		raw = binary.LittleEndian.AppendUint32(nil, uint32(int32(v)))
	case "System.Int64":
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return managed.Null, err
		}
		raw = binary.LittleEndian.AppendUint64(nil, uint64(v))
	case "System.Double":
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return managed.Null, err
		}
		raw = binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
	default:
		if s == "null" && !param.IsValueType() {
			return managed.Null, nil
		}
		return managed.Null, fmt.Errorf("cannot pass %q as %s", s, param.FullName())
	}
	return param.Box(raw), nil
}

// formatValue renders a call result for display.
func formatValue(b *bridge.Bridge, obj managed.Ref) string {
	if obj == managed.Null {
		return "null"
	}
	class := b.Classes().ClassOf(obj)
	if class == nil {
		return "<dead>"
	}
	if s, ok := b.Runtime().StringValue(obj); ok {
		return strconv.Quote(s)
	}
	if !class.IsValueType() {
		return fmt.Sprintf("%s@%#x", class.FullName(), uintptr(obj))
	}
	raw, err := class.Unbox(obj)
	if err != nil {
		return err.Error()
	}
	switch class.FullName() {
	case "System.Boolean":
		return strconv.FormatBool(raw[0] != 0)
	case "System.Int32":
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(raw))), 10)
	case "System.Int64":
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(raw)), 10)
	case "System.Double":
		return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(raw)), 'g', -1, 64)
	default:
		return fmt.Sprintf("%s %x", class.FullName(), raw)
	}
}

// imageOf reads the metadata of a loaded assembly from its source. The
// core library and in-memory loads have no source and return nil.
func imageOf(b *bridge.Bridge, d *assembly.Descriptor) *image.Image {
	var data []byte
	if d.Path != "" && !strings.Contains(d.Path, "!/") {
		data, _ = os.ReadFile(d.Path)
	}
	if data == nil {
		if s := b.Assemblies().Searcher(); s != nil {
			data, _, _ = s.Locate(d.FullName)
		}
	}
	if data == nil {
		return nil
	}
	img, err := image.Extract(data)
	if err != nil {
		return nil
	}
	return img
}

// typeNames lists the namespace qualified types of every loaded assembly
// whose metadata can be read.
func typeNames(b *bridge.Bridge) []string {
	var names []string
	for _, d := range b.Assemblies().All() {
		img := imageOf(b, d)
		if img == nil {
			continue
		}
		for i := range img.Types {
			names = append(names, img.Types[i].FullName())
		}
	}
	return names
}

// splitMember parses "Namespace.Type::Member".
func splitMember(s string) (typeName, member string, err error) {
	typeName, member, ok := strings.Cut(s, "::")
	if !ok || typeName == "" || member == "" {
		return "", "", fmt.Errorf("expected Type::Member, got %q", s)
	}
	return typeName, member, nil
}

// overload picks the static method of class named member taking n
// parameters.
func overload(class *metadata.ClassDescriptor, member string, n int) (*metadata.MethodDescriptor, error) {
	for _, m := range class.Overloads(member) {
		if m.IsStatic() && m.Arity() == n {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%s has no static %s taking %d arguments", class.FullName(), member, n)
}
