// Package fixture provides managed images and their native bodies for tests
// of the bridge packages.
package fixture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/vm"
)

// GameName is the assembly name of the Game image.
const GameName = "Demo.Game"

// Game returns the metadata of a small shape hierarchy. Every method body
// is an internal call implemented by Bind.
func Game() *image.Image {
	internal := image.MethodInternalCall
	virtual := image.MethodVirtual | image.MethodInternalCall
	return &image.Image{
		Name:    GameName,
		Version: "1.0.0",
		Types: []image.TypeDef{
			{
				Namespace: "Demo",
				Name:      "IShape",
				Flags:     image.TypeInterface,
				Methods:   []image.MethodDef{{Name: "Area", Return: "System.Int64"}},
			},
			{
				Namespace:  "Demo",
				Name:       "Shape",
				Flags:      image.TypeAbstract,
				Interfaces: []string{"Demo.IShape"},
				Fields:     []image.FieldDef{{Name: "name", Type: "System.String"}},
				Properties: []image.PropertyDef{{Name: "Name", Type: "System.String", Getter: "get_Name", Setter: "set_Name"}},
				Methods: []image.MethodDef{
					{Name: ".ctor", Flags: internal},
					{Name: "Area", Return: "System.Int64", Flags: image.MethodAbstract | image.MethodVirtual},
					{Name: "Describe", Return: "System.String", Flags: virtual},
					{Name: "get_Name", Return: "System.String", Flags: internal},
					{Name: "set_Name", Params: []string{"System.String"}, Flags: internal},
				},
			},
			{
				Namespace: "Demo",
				Name:      "Square",
				Base:      "Demo.Shape",
				Fields: []image.FieldDef{
					{Name: "side", Type: "System.Int64"},
					{Name: "Created", Type: "System.Int64", Static: true},
				},
				Methods: []image.MethodDef{
					{Name: ".ctor", Params: []string{"System.Int64"}, Flags: internal},
					{Name: "Area", Return: "System.Int64", Flags: virtual},
					{Name: "Describe", Return: "System.String", Flags: virtual},
					{Name: "Scale", Params: []string{"System.Int64"}, Return: "System.Int64", Flags: internal},
					{Name: "Scale", Params: []string{"System.Double"}, Return: "System.Double", Flags: internal},
					{Name: "Scale", Params: []string{"System.Int64", "System.Int64"}, Return: "System.Int64", Flags: internal},
					{Name: "Unit", Return: "Demo.Square", Flags: image.MethodStatic | internal},
				},
			},
			{
				Namespace: "Demo",
				Name:      "Circle",
				Base:      "Demo.Shape",
				Fields:    []image.FieldDef{{Name: "radius", Type: "System.Int64"}},
				Methods: []image.MethodDef{
					{Name: ".ctor", Params: []string{"System.Int64"}, Flags: internal},
					{Name: "Area", Return: "System.Int64", Flags: virtual},
				},
			},
			{
				Namespace: "Demo",
				Name:      "Point",
				Flags:     image.TypeValueType,
				Size:      8,
			},
			{
				Namespace: "Demo",
				Name:      "Outer",
			},
			{
				Namespace:     "Demo",
				Name:          "Inner",
				DeclaringType: "Demo.Outer",
			},
			{
				Namespace: "Demo",
				Name:      "Counter",
				Fields:    []image.FieldDef{{Name: "handlers", Type: "System.Int64"}},
				Events:    []image.EventDef{{Name: "Changed", Type: "System.Object", Add: "add_Changed", Remove: "remove_Changed"}},
				Methods: []image.MethodDef{
					{Name: "add_Changed", Params: []string{"System.Object"}, Flags: internal},
					{Name: "remove_Changed", Params: []string{"System.Object"}, Flags: internal},
					{Name: "Fail", Params: []string{"System.String"}, Flags: image.MethodStatic | internal},
				},
			},
		},
	}
}

// Bytes returns img attached to an empty WASM module.
func Bytes(img *image.Image) ([]byte, error) {
	return image.Attach(image.EmptyModule(), img)
}

// Runtime is the subset of the reference runtime the fixture bodies use.
type Runtime interface {
	managed.Runtime
	BoxInt64(n int64) managed.Ref
	BoxDouble(f float64) managed.Ref
}

var _ Runtime = (*vm.VM)(nil)

// LoadGame opens the Game image in rt and binds its internal calls.
func LoadGame(ctx context.Context, rt Runtime) (managed.ImageID, error) {
	data, err := Bytes(Game())
	if err != nil {
		return 0, err
	}
	id, err := rt.OpenImage(ctx, "", data)
	if err != nil {
		return 0, err
	}
	if err := Bind(rt, id); err != nil {
		return 0, err
	}
	return id, nil
}

// Bind registers the native bodies of the Game image.
func Bind(rt Runtime, img managed.ImageID) error {
	g := &game{rt: rt}
	var err error
	if g.name, err = fieldID(rt, img, "Shape", "name"); err != nil {
		return err
	}
	if g.side, err = fieldID(rt, img, "Square", "side"); err != nil {
		return err
	}
	if g.created, err = fieldID(rt, img, "Square", "Created"); err != nil {
		return err
	}
	if g.radius, err = fieldID(rt, img, "Circle", "radius"); err != nil {
		return err
	}
	if g.handlers, err = fieldID(rt, img, "Counter", "handlers"); err != nil {
		return err
	}
	g.square, _ = rt.FindClass(img, "Demo", "Square")
	g.argument, _ = rt.FindClass(rt.CoreImage(), "System", "ArgumentException")

	for key, fn := range map[string]managed.NativeFunc{
		"Demo.Shape::.ctor":            g.shapeCtor,
		"Demo.Shape::Describe":         g.describe("shape"),
		"Demo.Shape::get_Name":         g.getName,
		"Demo.Shape::set_Name":         g.setName,
		"Demo.Square::.ctor":           g.squareCtor,
		"Demo.Square::Area":            g.squareArea,
		"Demo.Square::Describe":        g.describe("square"),
		"Demo.Square::Scale":           g.scale,
		"Demo.Square::Unit":            g.unit,
		"Demo.Circle::.ctor":           g.circleCtor,
		"Demo.Circle::Area":            g.circleArea,
		"Demo.Counter::add_Changed":    g.adjustHandlers(1),
		"Demo.Counter::remove_Changed": g.adjustHandlers(-1),
		"Demo.Counter::Fail":           g.fail,
	} {
		if err := rt.RegisterEntryPoint(key, fn); err != nil {
			return err
		}
	}
	return nil
}

func fieldID(rt managed.Runtime, img managed.ImageID, typ, name string) (managed.FieldID, error) {
	id, ok := rt.FindClass(img, "Demo", typ)
	if !ok {
		return 0, fmt.Errorf("fixture: type Demo.%s not loaded", typ)
	}
	info, _ := rt.Class(id)
	for _, f := range info.Fields {
		if f.Name == name {
			return f.ID, nil
		}
	}
	return 0, fmt.Errorf("fixture: field %s.%s not found", typ, name)
}

type game struct {
	rt       Runtime
	square   managed.ClassID
	argument managed.ClassID
	name     managed.FieldID
	side     managed.FieldID
	created  managed.FieldID
	radius   managed.FieldID
	handlers managed.FieldID

	mu sync.Mutex
}

func (g *game) throw(exc *managed.Ref, msg string) managed.Ref {
	*exc, _ = g.rt.NewException(g.argument, msg, managed.Null)
	return managed.Null
}

func (g *game) shapeCtor(args []managed.Ref, exc *managed.Ref) managed.Ref {
	if err := g.rt.SetField(args[0], g.name, g.rt.NewString("shape")); err != nil {
		return g.throw(exc, err.Error())
	}
	return managed.Null
}

func (g *game) squareCtor(args []managed.Ref, exc *managed.Ref) managed.Ref {
	side := Int64(g.rt, args[1])
	if side < 0 {
		return g.throw(exc, "negative side")
	}
	_ = g.rt.SetField(args[0], g.name, g.rt.NewString("square"))
	_ = g.rt.SetField(args[0], g.side, args[1])

	g.mu.Lock()
	defer g.mu.Unlock()
	n, _ := g.rt.GetField(managed.Null, g.created)
	_ = g.rt.SetField(managed.Null, g.created, g.rt.BoxInt64(Int64(g.rt, n)+1))
	return managed.Null
}

func (g *game) circleCtor(args []managed.Ref, exc *managed.Ref) managed.Ref {
	_ = g.rt.SetField(args[0], g.name, g.rt.NewString("circle"))
	_ = g.rt.SetField(args[0], g.radius, args[1])
	return managed.Null
}

func (g *game) squareArea(args []managed.Ref, exc *managed.Ref) managed.Ref {
	side, _ := g.rt.GetField(args[0], g.side)
	n := Int64(g.rt, side)
	return g.rt.BoxInt64(n * n)
}

func (g *game) circleArea(args []managed.Ref, exc *managed.Ref) managed.Ref {
	radius, _ := g.rt.GetField(args[0], g.radius)
	r := Int64(g.rt, radius)
	return g.rt.BoxInt64(3 * r * r)
}

func (g *game) describe(kind string) managed.NativeFunc {
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		name, _ := g.rt.GetField(args[0], g.name)
		s, _ := g.rt.StringValue(name)
		return g.rt.NewString(kind + " " + s)
	}
}

func (g *game) getName(args []managed.Ref, exc *managed.Ref) managed.Ref {
	name, err := g.rt.GetField(args[0], g.name)
	if err != nil {
		return g.throw(exc, err.Error())
	}
	return name
}

func (g *game) setName(args []managed.Ref, exc *managed.Ref) managed.Ref {
	if err := g.rt.SetField(args[0], g.name, args[1]); err != nil {
		return g.throw(exc, err.Error())
	}
	return managed.Null
}

// scale implements all Scale overloads; they share one entry point.
func (g *game) scale(args []managed.Ref, exc *managed.Ref) managed.Ref {
	side, _ := g.rt.GetField(args[0], g.side)
	n := Int64(g.rt, side)
	if len(args) == 3 {
		return g.rt.BoxInt64(n * Int64(g.rt, args[1]) * Int64(g.rt, args[2]))
	}
	if f, ok := Double(g.rt, args[1]); ok {
		return g.rt.BoxDouble(float64(n) * f)
	}
	return g.rt.BoxInt64(n * Int64(g.rt, args[1]))
}

func (g *game) unit(args []managed.Ref, exc *managed.Ref) managed.Ref {
	obj, err := g.rt.New(g.square)
	if err != nil {
		return g.throw(exc, err.Error())
	}
	_ = g.rt.SetField(obj, g.name, g.rt.NewString("unit"))
	_ = g.rt.SetField(obj, g.side, g.rt.BoxInt64(1))
	return obj
}

func (g *game) adjustHandlers(delta int64) managed.NativeFunc {
	return func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		n, _ := g.rt.GetField(args[0], g.handlers)
		_ = g.rt.SetField(args[0], g.handlers, g.rt.BoxInt64(Int64(g.rt, n)+delta))
		return managed.Null
	}
}

// fail throws an ArgumentException wrapping a System.Exception.
func (g *game) fail(args []managed.Ref, exc *managed.Ref) managed.Ref {
	msg, _ := g.rt.StringValue(args[0])
	inner, _ := g.rt.NewException(0, "inner "+msg, managed.Null)
	*exc, _ = g.rt.NewException(g.argument, msg, inner)
	return managed.Null
}

// Int64 reads a boxed Int32 or Int64. Null and other types read as zero.
func Int64(rt managed.Runtime, obj managed.Ref) int64 {
	raw, err := rt.Unbox(obj)
	if err != nil {
		return 0
	}
	switch len(raw) {
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(raw)))
	case 8:
		if isDouble(rt, obj) {
			return 0
		}
		return int64(binary.LittleEndian.Uint64(raw))
	}
	return 0
}

// Double reads a boxed Double.
func Double(rt managed.Runtime, obj managed.Ref) (float64, bool) {
	if !isDouble(rt, obj) {
		return 0, false
	}
	raw, err := rt.Unbox(obj)
	if err != nil {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(raw)), true
}

func isDouble(rt managed.Runtime, obj managed.Ref) bool {
	id, ok := rt.ClassOf(obj)
	if !ok {
		return false
	}
	info, ok := rt.Class(id)
	return ok && info.Namespace == "System" && info.Name == "Double"
}

// App returns an image whose only type derives from Demo.Square, so
// loading it pulls in the Game image.
func App() *image.Image {
	return &image.Image{
		Name:       "Demo.App",
		Version:    "2.1.0",
		References: []string{GameName + ", Version=1.0.0"},
		Types: []image.TypeDef{{
			Namespace: "Demo.App",
			Name:      "BigSquare",
			Base:      "Demo.Square",
		}},
	}
}

// Named returns an empty image with the given identity.
func Named(name, version string) *image.Image {
	return &image.Image{Name: name, Version: version}
}
