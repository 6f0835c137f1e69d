package vm

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/interop-bridge/managed"
)

type class struct {
	info    managed.ClassInfo
	image   *loadedImage
	base    *class
	fields  []*field
	methods []*method
	// slots is the instance slot count including base classes, -1 until
	// the layout is computed.
	slots int
	// qualified is the lookup key: Namespace.Name, or Declaring+Name for
	// nested types.
	qualified string
}

func (c *class) is(flag managed.ClassFlags) bool {
	return c.info.Flags&flag != 0
}

func (c *class) fullName() string {
	return c.qualified
}

// derivesFrom reports whether c is other or a subclass of it.
func (c *class) derivesFrom(other *class) bool {
	for k := c; k != nil; k = k.base {
		if k == other {
			return true
		}
	}
	return false
}

type field struct {
	info  managed.FieldInfo
	owner *class
	slot  int
}

type method struct {
	info   managed.MethodInfo
	owner  *class
	export string

	// native is the Go body of core library methods.
	native managed.NativeFunc
	// bound caches the entry point resolved for an internal call.
	bound atomic.Pointer[managed.NativeFunc]

	thunkOnce sync.Once
	thunk     managed.Thunk
}

func (m *method) is(flag managed.MethodFlags) bool {
	return m.info.Flags&flag != 0
}

// arity counts the receiver of instance methods.
func (m *method) arity() int {
	if m.is(managed.MethodStatic) {
		return len(m.info.Params)
	}
	return len(m.info.Params) + 1
}

func (m *method) frame() string {
	return m.owner.fullName() + "." + m.info.Name
}

func (v *VM) class(id managed.ClassID) (*class, bool) {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	if id == 0 || int(id) > len(v.classes) {
		return nil, false
	}
	return v.classes[id-1], true
}

func (v *VM) field(id managed.FieldID) (*field, bool) {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	if id == 0 || int(id) > len(v.fields) {
		return nil, false
	}
	return v.fields[id-1], true
}

func (v *VM) method(id managed.MethodID) (*method, bool) {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	if id == 0 || int(id) > len(v.methods) {
		return nil, false
	}
	return v.methods[id-1], true
}

// Class returns the reflection record of id. The record is shared and must
// not be modified.
func (v *VM) Class(id managed.ClassID) (*managed.ClassInfo, bool) {
	c, ok := v.class(id)
	if !ok {
		return nil, false
	}
	return &c.info, true
}

// FindClass looks a type up inside one image. Nested types are addressed
// as "Outer+Inner".
func (v *VM) FindClass(img managed.ImageID, namespace, name string) (managed.ClassID, bool) {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()

	if img == 0 || int(img) > len(v.images) {
		return 0, false
	}
	key := managed.QualifiedTypeName(namespace, name)
	if strings.Contains(name, "+") && namespace == "" {
		key = name
	}
	c, ok := v.images[img-1].types[key]
	if !ok {
		return 0, false
	}
	return c.info.ID, true
}

// CoreImage returns the core library image.
func (v *VM) CoreImage() managed.ImageID {
	return v.core.info.ID
}

// Image returns the description of a loaded image.
func (v *VM) Image(id managed.ImageID) (*managed.ImageInfo, bool) {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	if id == 0 || int(id) > len(v.images) {
		return nil, false
	}
	info := v.images[id-1].info
	return &info, true
}

// Images lists loaded images in load order.
func (v *VM) Images() []managed.ImageID {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	ids := make([]managed.ImageID, len(v.images))
	for i, li := range v.images {
		ids[i] = li.info.ID
	}
	return ids
}

// FindImage returns the first loaded image whose short name matches name,
// ignoring case.
func (v *VM) FindImage(name string) (managed.ImageID, bool) {
	v.typesMu.RLock()
	defer v.typesMu.RUnlock()
	for _, li := range v.images {
		if strings.EqualFold(li.info.Name, name) {
			return li.info.ID, true
		}
	}
	return 0, false
}
