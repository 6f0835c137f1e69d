package managed

import (
	"context"

	"github.com/wippyai/interop-bridge/sharedarray"
)

// Reflector exposes raw type metadata. Every call may be expensive; the
// bridge caches the results in flyweight descriptors.
type Reflector interface {
	// Class returns the reflection record for id, or false if id is unknown.
	Class(id ClassID) (*ClassInfo, bool)

	// FindClass looks a type up by namespace and name inside one image.
	FindClass(image ImageID, namespace, name string) (ClassID, bool)

	// ClassOf returns the dynamic type of obj. It reports false for Null and
	// for references the collector has invalidated.
	ClassOf(obj Ref) (ClassID, bool)

	// CoreImage returns the image holding the base library types.
	CoreImage() ImageID
}

// Heap exposes object allocation and access.
type Heap interface {
	// New allocates an instance of class without running a constructor.
	New(class ClassID) (Ref, error)

	// Box copies raw into a new boxed instance of a value type.
	Box(class ClassID, raw []byte) (Ref, error)

	// Unbox returns a copy of the payload of a boxed value type.
	Unbox(obj Ref) ([]byte, error)

	// GetField reads a field. obj is Null for static fields.
	GetField(obj Ref, field FieldID) (Ref, error)

	// SetField writes a field. obj is Null for static fields.
	SetField(obj Ref, field FieldID, value Ref) error

	// NewString allocates a managed string.
	NewString(s string) Ref

	// StringValue copies the contents of a managed string.
	StringValue(obj Ref) (string, bool)

	// NewException allocates an exception of class (System.Exception when
	// zero) with the given message and inner exception.
	NewException(class ClassID, message string, inner Ref) (Ref, error)

	// ShareBytes exposes a native array as a managed byte array without
	// copying. The runtime retains arr until the managed object dies.
	ShareBytes(arr *sharedarray.Array[byte]) (Ref, error)

	// SharedBytes returns the array backing a managed byte array or string
	// with one reference retained for the caller.
	SharedBytes(obj Ref) (*sharedarray.Array[byte], bool)

	// IsAlive reports whether obj currently names a live object.
	IsAlive(obj Ref) bool

	// Collect runs a full collection. Unpinned objects may move.
	Collect()

	// Epoch advances at every safe point: each managed call and each
	// collection. Raw references from an older epoch must not be used.
	Epoch() uint64
}

// HandleTable manages GC handles.
type HandleTable interface {
	NewGCHandle(obj Ref, kind GCKind) (GCHandle, error)
	GCHandleTarget(h GCHandle) (Ref, bool)
	GCHandleKind(h GCHandle) (GCKind, bool)
	// FreeGCHandle releases h. Freeing an already released handle is a no-op.
	FreeGCHandle(h GCHandle)
}

// Invoker produces call thunks and binds native entry points.
type Invoker interface {
	// Thunk returns the call thunk of m.
	Thunk(m MethodID) (Thunk, error)

	// RegisterEntryPoint binds fn to the internal-call methods named by key
	// (see EntryPointName).
	RegisterEntryPoint(key string, fn NativeFunc) error
}

// Loader opens assembly images.
type Loader interface {
	// OpenImage loads an image. Loading an image whose identity is already
	// loaded returns the existing ImageID.
	OpenImage(ctx context.Context, path string, data []byte) (ImageID, error)

	// Image returns the description of a loaded image.
	Image(id ImageID) (*ImageInfo, bool)

	// Images lists loaded images in load order.
	Images() []ImageID

	// SetLoadHook installs fn to run after any image finishes loading,
	// including images loaded implicitly as dependencies.
	SetLoadHook(fn func(ImageID))

	// SetSearchHook installs fn to locate an image by assembly name before
	// the runtime gives up on a reference.
	SetSearchHook(fn func(name string) (data []byte, path string, ok bool))
}

// Runtime is the managed runtime contract consumed by the bridge.
type Runtime interface {
	Reflector
	Heap
	HandleTable
	Invoker
	Loader

	Close(ctx context.Context) error
}
