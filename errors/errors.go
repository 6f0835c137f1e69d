package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseHandle    Phase = "handle"    // handle wrap/release/dereference
	PhaseMetadata  Phase = "metadata"  // class and member resolution
	PhaseInvoke    Phase = "invoke"    // native to managed calls
	PhaseLoad      Phase = "load"      // assembly loading
	PhaseBootstrap Phase = "bootstrap" // runtime startup
	PhaseLifecycle Phase = "lifecycle" // staged event broadcast
	PhaseDecode    Phase = "decode"    // image metadata decoding
	PhaseHost      Phase = "host"      // entry point registration
	PhaseRuntime   Phase = "runtime"   // managed runtime operations
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle    Kind = "invalid_handle"
	KindUnresolvedMember Kind = "unresolved_member"
	KindManagedException Kind = "managed_exception"
	KindAssemblyLoad     Kind = "assembly_load"
	KindBootstrap        Kind = "bootstrap"
	KindTypeMismatch     Kind = "type_mismatch"
	KindArityMismatch    Kind = "arity_mismatch"
	KindInvalidData      Kind = "invalid_data"
	KindNotFound         Kind = "not_found"
	KindNotInitialized   Kind = "not_initialized"
	KindInvalidInput     Kind = "invalid_input"
	KindRegistration     Kind = "registration"
	KindUnsupported      Kind = "unsupported"
	KindOverflow         Kind = "overflow"
	KindListener         Kind = "listener"
)

// Sentinels for errors.Is. They carry no phase, so they match any error of
// the same kind regardless of where it was raised.
var (
	ErrInvalidHandle    = &Error{Kind: KindInvalidHandle}
	ErrUnresolvedMember = &Error{Kind: KindUnresolvedMember}
	ErrManagedException = &Error{Kind: KindManagedException}
	ErrAssemblyLoad     = &Error{Kind: KindAssemblyLoad}
	ErrBootstrap        = &Error{Kind: KindBootstrap}
	ErrArityMismatch    = &Error{Kind: KindArityMismatch}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch}
	ErrNotInitialized   = &Error{Kind: KindNotInitialized}
	ErrInvalidData      = &Error{Kind: KindInvalidData}
	ErrListener         = &Error{Kind: KindListener}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrRegistration     = &Error{Kind: KindRegistration}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// IsFatal reports whether err belongs to the unrecoverable bootstrap category.
func IsFatal(err error) bool {
	return stderrors.Is(err, ErrBootstrap)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the member path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the bridge taxonomy

// InvalidHandle reports an operation on a released or never-bound handle
func InvalidHandle(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Detail: detail,
	}
}

// UnresolvedMember reports a failed method/field/property lookup
func UnresolvedMember(phase Phase, className, member string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnresolvedMember,
		Path:   []string{className, member},
		Detail: fmt.Sprintf("member %q not found on %s", member, className),
	}
}

// ArityMismatch reports an argument count that matches no candidate
func ArityMismatch(phase Phase, method string, want, got int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArityMismatch,
		Path:   []string{method},
		Detail: fmt.Sprintf("expected %d arguments, got %d", want, got),
		Value:  got,
	}
}

// TypeMismatch reports a value whose runtime type does not fit its slot
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// AssemblyLoad reports an image that is missing or malformed
func AssemblyLoad(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindAssemblyLoad,
		Detail: fmt.Sprintf("load assembly %q", name),
		Cause:  cause,
	}
}

// Bootstrap reports an unrecoverable runtime startup failure
func Bootstrap(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseBootstrap,
		Kind:   KindBootstrap,
		Detail: detail,
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Listener reports a lifecycle listener that failed or panicked during a phase
func Listener(phase string, listener string, cause error) *Error {
	return &Error{
		Phase:  PhaseLifecycle,
		Kind:   KindListener,
		Path:   []string{phase},
		Detail: "listener " + listener,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates an entry point registration error
func Registration(phase Phase, qualified string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s", qualified),
		Cause:  cause,
	}
}
