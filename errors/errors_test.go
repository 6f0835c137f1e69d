package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseInvoke,
				Kind:   KindTypeMismatch,
				Path:   []string{"Game.Player", "Move"},
				Detail: "expected System.Int32",
			},
			contains: []string{"[invoke]", "type_mismatch", "Game.Player.Move", "expected System.Int32"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseHandle,
				Kind:  KindInvalidHandle,
			},
			contains: []string{"[handle]", "invalid_handle"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindAssemblyLoad,
				Detail: "load assembly",
				Cause:  errors.New("file missing"),
			},
			contains: []string{"[load]", "assembly_load", "caused by", "file missing"},
		},
		{
			name:     "sentinel without phase",
			err:      ErrInvalidHandle,
			contains: []string{"invalid_handle"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindAssemblyLoad,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not reach cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseInvoke,
		Kind:  KindTypeMismatch,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseInvoke, Kind: KindTypeMismatch}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindTypeMismatch}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseInvoke, Kind: KindArityMismatch}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Error("phase-less sentinel should match on kind")
	}
	if errors.Is(err, ErrInvalidHandle) {
		t.Error("sentinel of another kind should not match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMetadata, KindUnresolvedMember).
		Path("Game.Player", "Health").
		Value(42).
		Cause(cause).
		Detail("no %s named %q", "property", "Health").
		Build()

	if err.Phase != PhaseMetadata {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMetadata)
	}
	if err.Kind != KindUnresolvedMember {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnresolvedMember)
	}
	if len(err.Path) != 2 || err.Path[0] != "Game.Player" || err.Path[1] != "Health" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != `no property named "Health"` {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"InvalidHandle", InvalidHandle(PhaseHandle, "released"), KindInvalidHandle},
		{"UnresolvedMember", UnresolvedMember(PhaseMetadata, "Game.Player", "Jump"), KindUnresolvedMember},
		{"ArityMismatch", ArityMismatch(PhaseInvoke, "Move", 2, 3), KindArityMismatch},
		{"TypeMismatch", TypeMismatch(PhaseInvoke, []string{"arg0"}, "System.Int32", "System.String"), KindTypeMismatch},
		{"AssemblyLoad", AssemblyLoad("Game.Logic", errors.New("missing")), KindAssemblyLoad},
		{"Bootstrap", Bootstrap("create runtime", nil), KindBootstrap},
		{"Unsupported", Unsupported(PhaseHost, "native pointers"), KindUnsupported},
		{"Overflow", Overflow(PhaseDecode, []string{"len"}, 1<<40, "uint32"), KindOverflow},
		{"InvalidData", InvalidData(PhaseDecode, nil, "truncated"), KindInvalidData},
		{"NotInitialized", NotInitialized(PhaseRuntime, "bridge"), KindNotInitialized},
		{"NotFound", NotFound(PhaseLoad, "assembly", "Game"), KindNotFound},
		{"InvalidInput", InvalidInput(PhaseHost, "empty name"), KindInvalidInput},
		{"Registration", Registration(PhaseHost, "Game.Player::Jump", nil), KindRegistration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Errorf("Kind = %v, want %v", tc.err.Kind, tc.kind)
			}
		})
	}

	arity := ArityMismatch(PhaseInvoke, "Move", 2, 3)
	if arity.Value != 3 {
		t.Errorf("Value = %v, want 3", arity.Value)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(Bootstrap("runtime", nil)) {
		t.Error("bootstrap error should be fatal")
	}
	wrapped := fmt.Errorf("initialize: %w", Bootstrap("runtime", nil))
	if !IsFatal(wrapped) {
		t.Error("wrapped bootstrap error should be fatal")
	}
	if IsFatal(AssemblyLoad("Game", nil)) {
		t.Error("assembly load failure is recoverable")
	}
	if IsFatal(nil) {
		t.Error("nil is not fatal")
	}
}
