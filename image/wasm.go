package image

import (
	"bytes"
	stderrors "errors"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/interop-bridge/errors"
)

// SectionName is the custom section carrying image metadata.
const SectionName = "interop.metadata"

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// ErrNoMetadata is returned by Extract for a valid module without metadata.
var ErrNoMetadata = stderrors.New("image: module has no " + SectionName + " section")

// IsWASM reports whether data starts with the WebAssembly core module header.
func IsWASM(data []byte) bool {
	return len(data) >= len(wasmHeader) && bytes.Equal(data[:len(wasmHeader)], wasmHeader)
}

// EmptyModule returns a module with no sections, for metadata-only images.
func EmptyModule() []byte {
	return bytes.Clone(wasmHeader)
}

// Attach returns a copy of wasm with the metadata section of img appended.
// Any metadata section already present is dropped.
func Attach(wasm []byte, img *Image) ([]byte, error) {
	out := make([]byte, 0, len(wasm)+256)
	out = append(out, wasmHeader...)

	err := sections(wasm, func(id byte, name string, raw []byte) error {
		if id == 0 && name == SectionName {
			return nil
		}
		out = append(out, raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var payload []byte
	payload = protowire.AppendString(payload, SectionName)
	payload = append(payload, Marshal(img)...)

	out = append(out, 0)
	out = protowire.AppendVarint(out, uint64(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// Extract decodes the metadata section of a module.
func Extract(wasm []byte) (*Image, error) {
	var found []byte
	err := sections(wasm, func(id byte, name string, raw []byte) error {
		if id == 0 && name == SectionName && found == nil {
			found = customPayload(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoMetadata
	}
	return Unmarshal(found)
}

// sections walks the section list. raw is the whole encoded section
// including its id and size; name is set for custom sections only.
func sections(wasm []byte, fn func(id byte, name string, raw []byte) error) error {
	if !IsWASM(wasm) {
		return errors.InvalidData(errors.PhaseDecode, []string{"module"}, "bad magic or version")
	}
	b := wasm[len(wasmHeader):]
	for len(b) > 0 {
		start := b
		id := b[0]
		size, n := protowire.ConsumeVarint(b[1:])
		if n < 0 {
			return errors.InvalidData(errors.PhaseDecode, []string{"module"}, "bad section size")
		}
		body := b[1+n:]
		if size > uint64(len(body)) {
			return errors.InvalidData(errors.PhaseDecode, []string{"module"}, "section exceeds module")
		}
		total := 1 + n + int(size)

		var name string
		if id == 0 {
			s, m := protowire.ConsumeString(body[:size])
			if m < 0 {
				return errors.InvalidData(errors.PhaseDecode, []string{"module"}, "bad custom section name")
			}
			name = s
		}
		if err := fn(id, name, start[:total]); err != nil {
			return err
		}
		b = b[total:]
	}
	return nil
}

// customPayload strips id, size and name from an encoded custom section.
func customPayload(raw []byte) []byte {
	_, n := protowire.ConsumeVarint(raw[1:])
	body := raw[1+n:]
	_, m := protowire.ConsumeBytes(body)
	return body[m:]
}
