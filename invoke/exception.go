package invoke

import (
	stderrors "errors"
	"strings"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/metadata"
)

// maxInnerDepth bounds the inner exception chain read from the heap.
const maxInnerDepth = 16

// Exception is a managed exception copied out of the heap. Ref is only
// meaningful within the epoch in which the exception was caught.
type Exception struct {
	Class      *metadata.ClassDescriptor
	Inner      *Exception
	Message    string
	StackTrace string
	Ref        managed.Ref
}

// NewException reads the exception object exc. Message, stack trace and
// inner exception are taken from the backing fields when the type declares
// them and from the Message, StackTrace and InnerException properties
// otherwise.
func NewException(cache *metadata.Cache, exc managed.Ref) *Exception {
	return readException(cache, exc, 0)
}

func readException(cache *metadata.Cache, exc managed.Ref, depth int) *Exception {
	e := &Exception{Ref: exc, Class: cache.ClassOf(exc)}
	if e.Class == nil {
		e.Message = "exception object is no longer alive"
		return e
	}
	rt := cache.Runtime()
	e.Message, _ = rt.StringValue(member(e.Class, exc, "_message", "Message"))
	e.StackTrace, _ = rt.StringValue(member(e.Class, exc, "_stackTrace", "StackTrace"))
	if depth < maxInnerDepth {
		if inner := member(e.Class, exc, "_innerException", "InnerException"); inner != managed.Null {
			e.Inner = readException(cache, inner, depth+1)
		}
	}
	return e
}

func member(class *metadata.ClassDescriptor, obj managed.Ref, field, property string) managed.Ref {
	if f := class.Field(field); f != nil && !f.Static {
		if r, err := f.Get(obj); err == nil {
			return r
		}
	}
	if p := class.Property(property); p != nil && p.Getter != nil {
		if r, err := Invoke(p.Getter, obj); err == nil {
			return r
		}
	}
	return managed.Null
}

// AsException extracts a managed exception from err. It accepts an
// *Exception anywhere in the chain and a managed_exception error whose Value
// is the exception reference.
func AsException(cache *metadata.Cache, err error) (*Exception, bool) {
	var exc *Exception
	if stderrors.As(err, &exc) {
		return exc, true
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindManagedException {
		if ref, ok := e.Value.(managed.Ref); ok && ref != managed.Null {
			return NewException(cache, ref), true
		}
	}
	return nil, false
}

// TypeName returns the qualified name of the exception type.
func (e *Exception) TypeName() string {
	return className(e.Class)
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.TypeName()
	}
	return e.TypeName() + ": " + e.Message
}

// Unwrap returns the inner exception.
func (e *Exception) Unwrap() error {
	if e.Inner == nil {
		return nil
	}
	return e.Inner
}

// Is matches the managed_exception sentinel.
func (e *Exception) Is(target error) bool {
	t, ok := target.(*errors.Error)
	if !ok || t.Kind != errors.KindManagedException {
		return false
	}
	return t.Phase == "" || t.Phase == errors.PhaseInvoke
}

// Format renders the exception with its inner chain and stack trace in the
// conventional managed layout.
func (e *Exception) Format() string {
	var b strings.Builder
	e.format(&b)
	return b.String()
}

func (e *Exception) format(b *strings.Builder) {
	b.WriteString(e.Error())
	if e.Inner != nil {
		b.WriteString(" ---> ")
		e.Inner.format(b)
		b.WriteString("\n   --- End of inner exception stack trace ---")
	}
	if e.StackTrace != "" {
		b.WriteByte('\n')
		b.WriteString(e.StackTrace)
	}
}
