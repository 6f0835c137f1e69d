package bridge

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	bridgeerrors "github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/invoke"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/native"
)

type badHost struct{}

func (badHost) Announce(stage int) error { return nil }

type listed struct {
	calls int
}

func (l *listed) EntryPoints() map[string]managed.NativeFunc {
	return map[string]managed.NativeFunc{
		"Announce": func([]managed.Ref, *managed.Ref) managed.Ref {
			l.calls++
			return managed.Null
		},
	}
}

func newQuietBridge(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	b, err := New(cfg, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestRegisterEntryPoints_Rejects(t *testing.T) {
	b := newQuietBridge(t, Config{})
	err := b.RegisterEntryPoints("", "Interop.Stages", badHost{})
	if !errors.Is(err, bridgeerrors.ErrRegistration) || !errors.Is(err, bridgeerrors.ErrTypeMismatch) {
		t.Fatalf("RegisterEntryPoints(bad) = %v", err)
	}
	if err := b.RegisterEntryPoints("", "Interop.Stages", nil); !errors.Is(err, bridgeerrors.ErrInvalidInput) {
		t.Fatalf("RegisterEntryPoints(nil) = %v", err)
	}
	if err := b.RegisterEntryPoint("", "Interop.Stages", "Announce", nil); !errors.Is(err, bridgeerrors.ErrRegistration) {
		t.Fatalf("RegisterEntryPoint(nil) = %v", err)
	}
}

func TestRegisterEntryPoints_Registrar(t *testing.T) {
	e := newTestEnv(t)
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l := &listed{}
	if err := b.RegisterEntryPoints("Demo.Interop", "Interop.Stages", l); err != nil {
		t.Fatalf("RegisterEntryPoints: %v", err)
	}
	ctx := context.Background()
	if err := b.Initialize(ctx, NewVMHost(e.cfg), &phases{stages: []int{1, 3}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(ctx) })
	if l.calls != 2 {
		t.Fatalf("Announce called %d times, want 2", l.calls)
	}
}

func TestRegisterEntryPoint_AfterStart(t *testing.T) {
	e := newTestEnv(t)
	b, _ := e.start(t)
	if err := b.RegisterEntryPoint("", "Demo.Late", "Run", func([]managed.Ref, *managed.Ref) managed.Ref {
		return managed.Null
	}); err != nil {
		t.Fatalf("RegisterEntryPoint: %v", err)
	}
	// The runtime rejects a second binding of the same key.
	err := b.RegisterEntryPoint("", "Demo.Late", "Run", func([]managed.Ref, *managed.Ref) managed.Ref {
		return managed.Null
	})
	if !errors.Is(err, bridgeerrors.ErrRegistration) {
		t.Fatalf("duplicate RegisterEntryPoint = %v", err)
	}
}

func TestRegisterNativeEntryPoint(t *testing.T) {
	if !native.Supported() {
		t.Skip("native pointers are not supported on this platform")
	}
	e := newTestEnv(t)
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var announced []managed.Ref
	ptr, err := native.ThunkPointer(func(args []managed.Ref, exc *managed.Ref) managed.Ref {
		announced = append(announced, args...)
		return managed.Null
	})
	if err != nil {
		t.Fatalf("ThunkPointer: %v", err)
	}
	if err := b.RegisterNativeEntryPoint("", "Interop.Stages", "Announce", ptr); err != nil {
		t.Fatalf("RegisterNativeEntryPoint: %v", err)
	}
	if err := b.RegisterNativeEntryPoint("", "Interop.Stages", "Other", 0); !errors.Is(err, bridgeerrors.ErrRegistration) {
		t.Fatalf("RegisterNativeEntryPoint(0) = %v", err)
	}

	ctx := context.Background()
	if err := b.Initialize(ctx, NewVMHost(e.cfg), &phases{stages: []int{7}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(ctx) })
	if len(announced) != 1 {
		t.Fatalf("native entry point received %d arguments", len(announced))
	}

	stages := b.FindClass("Interop.Stages")
	int32Class := b.Classes().Core("System", "Int32")
	_, err = invoke.Invoke(stages.Method("Announce", 1), managed.Null, int32Class.Box([]byte{9, 0, 0, 0}))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(announced) != 2 {
		t.Fatalf("native entry point called %d times", len(announced))
	}
}
