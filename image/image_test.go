package image

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	bridgeerrors "github.com/wippyai/interop-bridge/errors"
)

func sampleImage() *Image {
	return &Image{
		Name:       "Game.Logic",
		Version:    "1.2.0",
		Culture:    "neutral",
		MVID:       uuid.MustParse("6f1c1f4e-3a55-4d55-9a4e-0c3e6b9f0a11"),
		References: []string{"Game.Core, Version=1.0.0"},
		Types: []TypeDef{
			{
				Namespace:  "Game",
				Name:       "Player",
				Base:       "System.Object",
				Interfaces: []string{"System.IDisposable"},
				Fields: []FieldDef{
					{Name: "health", Type: "System.Int32"},
					{Name: "count", Type: "System.Int32", Static: true},
				},
				Properties: []PropertyDef{{Name: "Health", Type: "System.Int32", Getter: "get_Health", Setter: "set_Health"}},
				Events:     []EventDef{{Name: "Died", Type: "System.Object", Add: "add_Died", Remove: "remove_Died"}},
				Methods: []MethodDef{
					{Name: "get_Health", Return: "System.Int32", Flags: MethodInternalCall},
					{Name: "set_Health", Params: []string{"System.Int32"}, Flags: MethodInternalCall},
					{Name: "Score", Params: []string{"System.Int64", "System.Int64"}, Return: "System.Int64", Flags: MethodStatic, Export: "score"},
				},
			},
			{
				Name:          "State",
				DeclaringType: "Game.Player",
				Base:          "System.ValueType",
				Flags:         TypeValueType | TypeSealed,
				Size:          8,
			},
		},
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	img := sampleImage()
	got, err := Unmarshal(Marshal(img))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	if _, err := Unmarshal(nil); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := Unmarshal([]byte{0x0a, 0x10, 'x'}); !errors.Is(err, bridgeerrors.ErrInvalidData) {
		t.Fatalf("expected invalid data for truncated field, got %v", err)
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	data := Marshal(&Image{Name: "A"})
	// field 99, varint 7
	data = append(data, 0x98, 0x06, 0x07)
	img, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if img.Name != "A" {
		t.Fatalf("Name = %q", img.Name)
	}
}

func TestTypeDefFullName(t *testing.T) {
	img := sampleImage()
	if got := img.Types[0].FullName(); got != "Game.Player" {
		t.Fatalf("FullName = %q", got)
	}
	if got := img.Types[1].FullName(); got != "Game.Player+State" {
		t.Fatalf("nested FullName = %q", got)
	}
	if got := (&TypeDef{Name: "Global"}).FullName(); got != "Global" {
		t.Fatalf("global FullName = %q", got)
	}
}

func TestAttachExtract(t *testing.T) {
	img := sampleImage()
	wasm, err := Attach(EmptyModule(), img)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !IsWASM(wasm) {
		t.Fatal("result is not a wasm module")
	}

	got, err := Extract(wasm)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff(img, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	// Re-attaching replaces the section instead of duplicating it.
	img.Version = "1.3.0"
	again, err := Attach(wasm, img)
	if err != nil {
		t.Fatalf("Attach again: %v", err)
	}
	count := 0
	_ = sections(again, func(id byte, name string, _ []byte) error {
		if id == 0 && name == SectionName {
			count++
		}
		return nil
	})
	if count != 1 {
		t.Fatalf("found %d metadata sections, want 1", count)
	}
	got, _ = Extract(again)
	if got.Version != "1.3.0" {
		t.Fatalf("Version = %q", got.Version)
	}
}

func TestExtract_Errors(t *testing.T) {
	if _, err := Extract(EmptyModule()); !errors.Is(err, ErrNoMetadata) {
		t.Fatalf("expected ErrNoMetadata, got %v", err)
	}
	if _, err := Extract([]byte("not wasm")); err == nil {
		t.Fatal("expected error for bad magic")
	}
	bad := append(EmptyModule(), 0x01, 0x7f)
	if _, err := Extract(bad); err == nil {
		t.Fatal("expected error for oversized section")
	}
}

func TestParseAssemblyName(t *testing.T) {
	tests := []struct {
		in      string
		want    AssemblyName
		wantErr bool
	}{
		{in: "Game.Logic", want: AssemblyName{Name: "Game.Logic"}},
		{in: "Game.Logic, Version=1.2.0", want: AssemblyName{Name: "Game.Logic", Version: "1.2.0"}},
		{in: "Game.Logic, Version=1.2.0, Culture=neutral, PublicKeyToken=null", want: AssemblyName{Name: "Game.Logic", Version: "1.2.0", Culture: "neutral"}},
		{in: "", wantErr: true},
		{in: "Game, Version=banana", wantErr: true},
		{in: "Game, Version", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAssemblyName(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAssemblyName: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAssemblyNameMatches(t *testing.T) {
	n := AssemblyName{Name: "Game.Logic", Version: "1.2.0"}
	if !n.Matches(AssemblyName{Name: "game.logic"}) {
		t.Fatal("short-name reference should match")
	}
	if !n.Matches(AssemblyName{Name: "Game.Logic", Version: "v1.2"}) {
		t.Fatal("equivalent version should match")
	}
	if n.Matches(AssemblyName{Name: "Game.Logic", Version: "1.3.0"}) {
		t.Fatal("different version should not match")
	}
	if !n.Matches(AssemblyName{Name: "Game.Logic", Culture: "neutral"}) {
		t.Fatal("empty culture is neutral")
	}
	if n.String() != "Game.Logic, Version=1.2.0" {
		t.Fatalf("String() = %q", n.String())
	}
}

func TestAssemblyNameEqual(t *testing.T) {
	n, err := ParseAssemblyName("Game.Logic, Version=1.2.0")
	if err != nil {
		t.Fatalf("ParseAssemblyName: %v", err)
	}
	tests := []struct {
		display string
		want    bool
	}{
		{"Game.Logic,Version=1.2.0", true},
		{"game.logic, Culture=neutral, Version=v1.2", true},
		{"Game.Logic, Version=1.2.1", false},
		{"Game.Logic", false},
		{"Game.Logic, Version=1.2.0, Culture=fr", false},
	}
	for _, tt := range tests {
		other, err := ParseAssemblyName(tt.display)
		if err != nil {
			t.Fatalf("ParseAssemblyName(%q): %v", tt.display, err)
		}
		if got := n.Equal(other); got != tt.want {
			t.Errorf("Equal(%q) = %v, want %v", tt.display, got, tt.want)
		}
	}
}
