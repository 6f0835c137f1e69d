package vm

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/managed"
)

type loadedImage struct {
	info    managed.ImageInfo
	name    image.AssemblyName
	types   map[string]*class
	classes []*class
	// methods in declaration order; interop.call indexes into it.
	methods []*method
	deps    []*loadedImage
	module  api.Module
}

func identityKey(n image.AssemblyName) string {
	return strings.ToLower(n.String())
}

// OpenImage loads an assembly image. data may be nil, in which case the
// image is read from path. Opening an image that is already loaded, by path
// or by identity, returns the existing ImageID. References are resolved
// against loaded images first and the search hook second; images loaded
// that way are reported to the load hook along with the requested one.
func (v *VM) OpenImage(ctx context.Context, path string, data []byte) (managed.ImageID, error) {
	if v.closed.Load() {
		return 0, errors.NotInitialized(errors.PhaseLoad, "runtime")
	}

	var loaded []*loadedImage
	v.loadMu.Lock()
	li, err := v.open(ctx, path, data, &loaded)
	v.loadMu.Unlock()

	v.fireLoadHook(loaded)
	if err != nil {
		return 0, err
	}
	return li.info.ID, nil
}

// open loads one image. Callers hold v.loadMu.
func (v *VM) open(ctx context.Context, path string, data []byte, loaded *[]*loadedImage) (*loadedImage, error) {
	if path != "" {
		v.typesMu.RLock()
		li := v.byPath[path]
		v.typesMu.RUnlock()
		if li != nil {
			return li, nil
		}
	}

	if data == nil {
		if path == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "image needs a path or contents")
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.AssemblyLoad(path, err)
		}
		data = raw
	}

	img, err := image.Extract(data)
	if err != nil {
		return nil, errors.AssemblyLoad(displayName(path), err)
	}
	name := img.AssemblyName()
	key := identityKey(name)

	v.typesMu.Lock()
	if li := v.byIdentity[key]; li != nil {
		if path != "" {
			if _, ok := v.byPath[path]; !ok {
				v.byPath[path] = li
			}
		}
		v.typesMu.Unlock()
		return li, nil
	}
	v.typesMu.Unlock()

	if v.loading[key] {
		return nil, errors.AssemblyLoad(name.String(), errors.InvalidData(errors.PhaseLoad, nil, "circular assembly reference"))
	}
	v.loading[key] = true
	defer delete(v.loading, key)

	deps := make([]*loadedImage, 0, len(img.References))
	for _, ref := range img.References {
		dep, err := v.resolveReference(ctx, ref, loaded)
		if err != nil {
			return nil, errors.AssemblyLoad(name.String(), err)
		}
		deps = append(deps, dep)
	}

	compiled, err := v.engine.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.AssemblyLoad(name.String(), errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compile"))
	}
	if err := checkImports(compiled); err != nil {
		return nil, errors.AssemblyLoad(name.String(), err)
	}
	if err := checkExports(img, compiled); err != nil {
		return nil, errors.AssemblyLoad(name.String(), err)
	}
	mod, err := v.engine.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.AssemblyLoad(name.String(), errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "instantiate"))
	}

	if img.MVID == uuid.Nil {
		img.MVID = uuid.NewSHA1(uuid.NameSpaceOID, data)
	}
	li := &loadedImage{
		name:   name,
		deps:   deps,
		module: mod,
		info: managed.ImageInfo{
			Name:       img.Name,
			FullName:   img.FullName(),
			Version:    img.Version,
			Path:       path,
			References: img.References,
			MVID:       img.MVID,
		},
	}
	if err := v.link(li, img, nil); err != nil {
		_ = mod.Close(ctx)
		return nil, errors.AssemblyLoad(name.String(), err)
	}
	*loaded = append(*loaded, li)

	Logger().Info("image loaded",
		zap.String("name", li.info.FullName),
		zap.String("path", path),
		zap.Int("types", len(li.classes)),
		zap.Int("references", len(deps)))
	return li, nil
}

func displayName(path string) string {
	if path == "" {
		return "<memory>"
	}
	return path
}

func (v *VM) resolveReference(ctx context.Context, ref string, loaded *[]*loadedImage) (*loadedImage, error) {
	want, err := image.ParseAssemblyName(ref)
	if err != nil {
		return nil, err
	}
	if li := v.findLoaded(want); li != nil {
		return li, nil
	}

	v.typesMu.RLock()
	hook := v.searchHook
	v.typesMu.RUnlock()

	if hook != nil {
		if data, path, ok := hook(ref); ok {
			li, err := v.open(ctx, path, data, loaded)
			if err != nil {
				return nil, err
			}
			if !li.name.Matches(want) {
				return nil, errors.InvalidData(errors.PhaseLoad, nil, "search for "+ref+" produced "+li.info.FullName)
			}
			return li, nil
		}
	}
	return nil, errors.NotFound(errors.PhaseLoad, "assembly", ref)
}

func (v *VM) findLoaded(want image.AssemblyName) *loadedImage {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	for _, li := range v.images {
		if li.name.Matches(want) {
			return li
		}
	}
	return nil
}

func checkImports(compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != intrinsicModule {
			return errors.Unsupported(errors.PhaseLoad, "import "+module+"."+name)
		}
	}
	return nil
}

// checkExports verifies that every method implemented in WASM names an
// export taking and returning object references.
func checkExports(img *image.Image, compiled wazero.CompiledModule) error {
	exports := compiled.ExportedFunctions()
	for i := range img.Types {
		td := &img.Types[i]
		for _, md := range td.Methods {
			if md.Export == "" {
				continue
			}
			path := []string{td.FullName(), md.Name}
			def, ok := exports[md.Export]
			if !ok {
				return errors.InvalidData(errors.PhaseLoad, path, "missing export "+md.Export)
			}
			want := len(md.Params)
			if !md.Flags.Has(image.MethodStatic) {
				want++
			}
			if !allRefs(def.ParamTypes(), want) {
				return errors.InvalidData(errors.PhaseLoad, path, "export "+md.Export+" must take "+strconv.Itoa(want)+" i64 parameters")
			}
			results := 0
			if md.Return != "" {
				results = 1
			}
			if !allRefs(def.ResultTypes(), results) {
				return errors.InvalidData(errors.PhaseLoad, path, "export "+md.Export+" must return "+strconv.Itoa(results)+" i64 results")
			}
		}
	}
	return nil
}

func allRefs(types []api.ValueType, n int) bool {
	if len(types) != n {
		return false
	}
	for _, t := range types {
		if t != api.ValueTypeI64 {
			return false
		}
	}
	return true
}

// link builds the classes of li and publishes the image. Nothing is
// published when an error is returned.
func (v *VM) link(li *loadedImage, img *image.Image, bodies map[string]managed.NativeFunc) (err error) {
	v.typesMu.Lock()
	defer v.typesMu.Unlock()

	nClasses, nMethods, nFields := len(v.classes), len(v.methods), len(v.fields)
	defer func() {
		if err != nil {
			clear(v.classes[nClasses:])
			clear(v.methods[nMethods:])
			clear(v.fields[nFields:])
			v.classes = v.classes[:nClasses]
			v.methods = v.methods[:nMethods]
			v.fields = v.fields[:nFields]
		}
	}()

	li.info.ID = managed.ImageID(len(v.images) + 1)
	li.types = make(map[string]*class, len(img.Types))
	li.classes = make([]*class, 0, len(img.Types))

	for i := range img.Types {
		td := &img.Types[i]
		key := td.FullName()
		if _, dup := li.types[key]; dup {
			return errors.InvalidData(errors.PhaseLoad, []string{key}, "duplicate type")
		}
		c := &class{
			image:     li,
			slots:     -1,
			qualified: key,
			info: managed.ClassInfo{
				Namespace: td.Namespace,
				Name:      td.Name,
				Image:     li.info.ID,
				Size:      td.Size,
				Flags:     classFlags(td.Flags),
			},
		}
		v.classes = append(v.classes, c)
		c.info.ID = managed.ClassID(len(v.classes))
		li.types[key] = c
		li.classes = append(li.classes, c)
	}

	resolve := func(name string) (*class, error) {
		if c, ok := li.types[name]; ok {
			return c, nil
		}
		for _, dep := range li.deps {
			if c, ok := dep.types[name]; ok {
				return c, nil
			}
		}
		if v.core != nil {
			if c, ok := v.core.types[name]; ok {
				return c, nil
			}
		}
		return nil, errors.NotFound(errors.PhaseLoad, "type", name)
	}

	for i := range img.Types {
		if err := v.linkType(li, li.classes[i], &img.Types[i], resolve, bodies); err != nil {
			return err
		}
	}
	for _, c := range li.classes {
		if err := layout(c, map[*class]bool{}); err != nil {
			return err
		}
	}

	v.images = append(v.images, li)
	v.byIdentity[identityKey(li.name)] = li
	if li.info.Path != "" {
		v.byPath[li.info.Path] = li
	}
	return nil
}

// linkType resolves the members of one type. Callers hold v.typesMu.
func (v *VM) linkType(li *loadedImage, c *class, td *image.TypeDef, resolve func(string) (*class, error), bodies map[string]managed.NativeFunc) error {
	if td.DeclaringType != "" {
		outer, ok := li.types[td.DeclaringType]
		if !ok {
			return errors.NotFound(errors.PhaseLoad, "declaring type", td.DeclaringType)
		}
		c.info.DeclaringType = outer.info.ID
		outer.info.Nested = append(outer.info.Nested, c.info.ID)
	}

	baseName := td.Base
	if baseName == "" && !c.is(managed.ClassInterface) && c.qualified != objectType {
		baseName = objectType
		if c.is(managed.ClassValueType) {
			baseName = valueType
		}
	}
	if baseName != "" {
		base, err := resolve(baseName)
		if err != nil {
			return err
		}
		if base.is(managed.ClassInterface) || base.is(managed.ClassSealed) {
			return errors.InvalidData(errors.PhaseLoad, []string{c.qualified}, "cannot derive from "+base.qualified)
		}
		c.base = base
		c.info.Base = base.info.ID
	}

	for _, name := range td.Interfaces {
		iface, err := resolve(name)
		if err != nil {
			return err
		}
		if !iface.is(managed.ClassInterface) {
			return errors.InvalidData(errors.PhaseLoad, []string{c.qualified}, name+" is not an interface")
		}
		c.info.Interfaces = append(c.info.Interfaces, iface.info.ID)
	}

	for _, fd := range td.Fields {
		typ, err := resolve(orObject(fd.Type))
		if err != nil {
			return err
		}
		f := &field{owner: c, slot: -1, info: managed.FieldInfo{Name: fd.Name, Type: typ.info.ID, Static: fd.Static}}
		v.fields = append(v.fields, f)
		f.info.ID = managed.FieldID(len(v.fields))
		c.fields = append(c.fields, f)
		c.info.Fields = append(c.info.Fields, f.info)
	}

	for _, md := range td.Methods {
		m := &method{
			owner:  c,
			export: md.Export,
			info:   managed.MethodInfo{Name: md.Name, Class: c.info.ID, Flags: methodFlags(md.Flags)},
		}
		if md.Name == ".ctor" {
			m.info.Flags |= managed.MethodConstructor
		}
		if c.is(managed.ClassInterface) {
			m.info.Flags |= managed.MethodAbstract | managed.MethodVirtual
		}
		if md.Return != "" {
			ret, err := resolve(md.Return)
			if err != nil {
				return err
			}
			m.info.Return = ret.info.ID
		}
		for _, p := range md.Params {
			pt, err := resolve(p)
			if err != nil {
				return err
			}
			m.info.Params = append(m.info.Params, pt.info.ID)
		}
		if bodies != nil {
			m.native = bodies[c.qualified+"::"+md.Name]
		}

		path := []string{c.qualified, md.Name}
		switch {
		case m.is(managed.MethodAbstract) && (m.export != "" || m.native != nil):
			return errors.InvalidData(errors.PhaseLoad, path, "abstract method has a body")
		case !m.is(managed.MethodAbstract) && m.export == "" && m.native == nil && !m.is(managed.MethodInternalCall):
			return errors.InvalidData(errors.PhaseLoad, path, "method has no body")
		}

		v.methods = append(v.methods, m)
		m.info.ID = managed.MethodID(len(v.methods))
		c.methods = append(c.methods, m)
		c.info.Methods = append(c.info.Methods, m.info)
		li.methods = append(li.methods, m)
	}

	for _, pd := range td.Properties {
		typ, err := resolve(orObject(pd.Type))
		if err != nil {
			return err
		}
		p := managed.PropertyInfo{Name: pd.Name, Type: typ.info.ID}
		if p.Getter, err = accessor(c, pd.Getter); err != nil {
			return err
		}
		if p.Setter, err = accessor(c, pd.Setter); err != nil {
			return err
		}
		c.info.Properties = append(c.info.Properties, p)
	}

	for _, ed := range td.Events {
		typ, err := resolve(orObject(ed.Type))
		if err != nil {
			return err
		}
		e := managed.EventInfo{Name: ed.Name, Type: typ.info.ID}
		if e.Add, err = accessor(c, ed.Add); err != nil {
			return err
		}
		if e.Remove, err = accessor(c, ed.Remove); err != nil {
			return err
		}
		c.info.Events = append(c.info.Events, e)
	}
	return nil
}

func accessor(c *class, name string) (managed.MethodID, error) {
	if name == "" {
		return 0, nil
	}
	for _, m := range c.methods {
		if m.info.Name == name {
			return m.info.ID, nil
		}
	}
	return 0, errors.NotFound(errors.PhaseLoad, "accessor", c.qualified+"::"+name)
}

func orObject(name string) string {
	if name == "" {
		return objectType
	}
	return name
}

// layout assigns instance field slots after the slots of the base class.
func layout(c *class, visiting map[*class]bool) error {
	if c.slots >= 0 {
		return nil
	}
	if visiting[c] {
		return errors.InvalidData(errors.PhaseLoad, []string{c.qualified}, "circular base type")
	}
	visiting[c] = true

	n := 0
	if c.base != nil {
		if err := layout(c.base, visiting); err != nil {
			return err
		}
		n = c.base.slots
	}
	for _, f := range c.fields {
		if !f.info.Static {
			f.slot = n
			n++
		}
	}
	c.slots = n
	return nil
}

func classFlags(f image.TypeFlags) managed.ClassFlags {
	var out managed.ClassFlags
	if f.Has(image.TypeValueType) {
		out |= managed.ClassValueType
	}
	if f.Has(image.TypeInterface) {
		out |= managed.ClassInterface | managed.ClassAbstract
	}
	if f.Has(image.TypeAbstract) {
		out |= managed.ClassAbstract
	}
	if f.Has(image.TypeSealed) {
		out |= managed.ClassSealed
	}
	return out
}

func methodFlags(f image.MethodFlags) managed.MethodFlags {
	var out managed.MethodFlags
	if f.Has(image.MethodStatic) {
		out |= managed.MethodStatic
	}
	if f.Has(image.MethodVirtual) {
		out |= managed.MethodVirtual
	}
	if f.Has(image.MethodAbstract) {
		out |= managed.MethodAbstract | managed.MethodVirtual
	}
	if f.Has(image.MethodInternalCall) {
		out |= managed.MethodInternalCall
	}
	if f.Has(image.MethodConstructor) {
		out |= managed.MethodConstructor
	}
	return out
}

func (v *VM) fireLoadHook(loaded []*loadedImage) {
	v.typesMu.RLock()
	hook := v.loadHook
	v.typesMu.RUnlock()
	if hook == nil {
		return
	}
	for _, li := range loaded {
		hook(li.info.ID)
	}
}

// SetLoadHook installs fn to run after every image load, outside of the
// loader lock.
func (v *VM) SetLoadHook(fn func(managed.ImageID)) {
	v.typesMu.Lock()
	defer v.typesMu.Unlock()
	v.loadHook = fn
}

// SetSearchHook installs fn to locate referenced images that are not
// loaded yet. fn runs while the loader lock is held and must not call
// OpenImage.
func (v *VM) SetSearchHook(fn func(name string) ([]byte, string, bool)) {
	v.typesMu.Lock()
	defer v.typesMu.Unlock()
	v.searchHook = fn
}
