package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	bridgeerrors "github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/image"
	"github.com/wippyai/interop-bridge/internal/fixture"
	"github.com/wippyai/interop-bridge/invoke"
	"github.com/wippyai/interop-bridge/lifecycle"
	"github.com/wippyai/interop-bridge/managed"
)

// phases records the lifecycle callbacks it receives.
type phases struct {
	lifecycle.NopListener
	mu     sync.Mutex
	stages []int
	seen   []string
}

func (p *phases) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, s)
}

func (p *phases) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func (p *phases) OnPreInit(context.Context) error {
	p.add("pre-init")
	return nil
}

func (p *phases) OnRuntimeInitializing(context.Context) error {
	p.add("runtime-initializing")
	return nil
}

func (p *phases) OnRuntimeInitialized(context.Context) error {
	p.add("runtime-initialized")
	return nil
}

func (p *phases) OnManagedInitializing(context.Context) error {
	p.add("managed-initializing")
	return nil
}

func (p *phases) OnCompilationStarting(context.Context) error {
	p.add("compilation-starting")
	return nil
}

func (p *phases) OnCompilationComplete(_ context.Context, success bool) error {
	if success {
		p.add("compiled")
	} else {
		p.add("compile-failed")
	}
	return nil
}

func (p *phases) OnManagedInitialized(context.Context) error {
	p.add("managed-initialized")
	return nil
}

func (p *phases) OnPostInit(context.Context) error {
	p.add("post-init")
	return nil
}

func (p *phases) OnUpdate(context.Context, uint64) error {
	p.add("update")
	return nil
}

func (p *phases) OnPostUpdate(context.Context, uint64) error {
	p.add("post-update")
	return nil
}

func (p *phases) OnShutdown(context.Context) error {
	p.add("shutdown")
	return nil
}

func (p *phases) Stages() []int { return p.stages }

func (p *phases) OnStage(_ context.Context, stage int) error {
	p.add("stage " + strconv.Itoa(stage))
	return nil
}

// stagesImage declares the managed receiver of stage announcements.
func stagesImage() *image.Image {
	return &image.Image{
		Name:    "Demo.Interop",
		Version: "1.0.0",
		Types: []image.TypeDef{{
			Namespace: "Interop",
			Name:      "Stages",
			Methods: []image.MethodDef{{
				Name:   "Announce",
				Params: []string{"System.Int32"},
				Flags:  image.MethodStatic | image.MethodInternalCall,
			}},
		}},
	}
}

// announcer is registered by reflection as the body of Interop.Stages.
type announcer struct {
	b       *Bridge
	mu      sync.Mutex
	stages  []int32
	throwAt int32
}

func (a *announcer) Announce(args []managed.Ref, exc *managed.Ref) managed.Ref {
	rt := a.b.Runtime()
	raw, err := rt.Unbox(args[0])
	if err != nil || len(raw) != 4 {
		*exc, _ = rt.NewException(0, "bad stage", managed.Null)
		return managed.Null
	}
	stage := int32(binary.LittleEndian.Uint32(raw))
	a.mu.Lock()
	a.stages = append(a.stages, stage)
	a.mu.Unlock()
	if stage == a.throwAt {
		*exc, _ = rt.NewException(0, "stage rejected", managed.Null)
	}
	return managed.Null
}

func writeImage(t *testing.T, dir, file string, img *image.Image) string {
	t.Helper()
	data, err := fixture.Bytes(img)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	p := filepath.Join(dir, file)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

type testEnv struct {
	cfg   Config
	logs  *observer.ObservedLogs
	fatal []string
	opts  []Option
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	writeImage(t, dir, "Demo.Game.wasm", fixture.Game())
	stages := writeImage(t, t.TempDir(), "Demo.Interop.wasm", stagesImage())

	core, logs := observer.New(zapcore.DebugLevel)
	e := &testEnv{
		cfg: Config{
			CoreAssembly: "System.Private.CoreLib",
			Assemblies:   []string{"Demo.Game", stages},
			SearchRoots:  []string{dir},
			PreloadTypes: []string{"Demo.Square"},
		},
		logs: logs,
	}
	e.opts = []Option{
		WithLogger(zap.New(core)),
		WithFatal(func(msg string, _ ...zap.Field) { e.fatal = append(e.fatal, msg) }),
	}
	return e
}

func (e *testEnv) start(t *testing.T, listeners ...lifecycle.Listener) (*Bridge, *announcer) {
	t.Helper()
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := &announcer{b: b, throwAt: -1}
	if err := b.RegisterEntryPoints("", "Interop.Stages", a); err != nil {
		t.Fatalf("RegisterEntryPoints: %v", err)
	}
	ctx := context.Background()
	if err := b.Initialize(ctx, NewVMHost(e.cfg), listeners...); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(ctx) })
	return b, a
}

func TestInitialize_Sequence(t *testing.T) {
	e := newTestEnv(t)
	both := &phases{stages: []int{5, 2}}
	five := &phases{stages: []int{5}}
	none := &phases{}
	b, a := e.start(t, both, five, none)

	want := []string{
		"pre-init",
		"runtime-initializing",
		"runtime-initialized",
		"managed-initializing",
		"compilation-starting",
		"compiled",
		"stage 2",
		"stage 5",
		"managed-initialized",
		"post-init",
	}
	if diff := cmp.Diff(want, both.log()); diff != "" {
		t.Fatalf("phase order mismatch (-want +got):\n%s", diff)
	}
	if got := five.log(); slices.Contains(got, "stage 2") || !slices.Contains(got, "stage 5") {
		t.Fatalf("five received %v", got)
	}
	if got := none.log(); slices.Contains(got, "stage 2") || slices.Contains(got, "stage 5") {
		t.Fatalf("none received %v", got)
	}

	if diff := cmp.Diff([]int{2, 5}, b.Events().Stages()); diff != "" {
		t.Fatalf("stage set mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int32{2, 5}, a.stages); diff != "" {
		t.Fatalf("managed announcements mismatch (-want +got):\n%s", diff)
	}

	if b.Assemblies().Find(fixture.GameName, true) == nil {
		t.Fatal("Demo.Game was not registered")
	}
	if b.Assemblies().Find("System.Private.CoreLib", true) == nil {
		t.Fatal("core library was not registered")
	}
	if b.FindClass("Demo.Square") == nil || b.FindClass("Demo.Nope") != nil {
		t.Fatal("FindClass resolved the wrong types")
	}
	if b.Classes() == nil || b.Handles() == nil || b.Runtime() == nil {
		t.Fatal("accessors returned nil after Initialize")
	}

	ctx := context.Background()
	if err := b.Update(ctx, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := b.PostUpdate(ctx, 1); err != nil {
		t.Fatalf("PostUpdate: %v", err)
	}
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	tail := both.log()[len(want):]
	if diff := cmp.Diff([]string{"update", "post-update", "shutdown"}, tail); diff != "" {
		t.Fatalf("frame phases mismatch (-want +got):\n%s", diff)
	}
	if err := b.Update(ctx, 2); !errors.Is(err, bridgeerrors.ErrNotInitialized) {
		t.Fatalf("Update after Shutdown = %v", err)
	}
}

func TestInitialize_CompilationFailure(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.PreloadTypes = []string{"Demo.Missing"}
	p := &phases{}
	e.start(t, p)
	if !slices.Contains(p.log(), "compile-failed") {
		t.Fatalf("compilation reported success: %v", p.log())
	}
}

func TestInitialize_RuntimeFailureIsFatal(t *testing.T) {
	e := newTestEnv(t)
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := &phases{}
	cause := errors.New("no memory")
	host := HostFunc(func(context.Context) (managed.Runtime, error) { return nil, cause })

	err = b.Initialize(context.Background(), host, p)
	if !bridgeerrors.IsFatal(err) || !errors.Is(err, cause) {
		t.Fatalf("Initialize = %v, want a fatal bootstrap error", err)
	}
	if diff := cmp.Diff([]string{"pre-init", "runtime-initializing"}, p.log()); diff != "" {
		t.Fatalf("phases mismatch (-want +got):\n%s", diff)
	}
	if err := b.Update(context.Background(), 1); !errors.Is(err, bridgeerrors.ErrNotInitialized) {
		t.Fatalf("Update after failed start = %v", err)
	}
	if err := b.Initialize(context.Background(), host); err == nil {
		t.Fatal("a bridge must not be initialized twice")
	}
}

func TestInitialize_CoreMismatch(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.CoreAssembly = "mscorlib"
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Initialize(context.Background(), NewVMHost(e.cfg)); !bridgeerrors.IsFatal(err) {
		t.Fatalf("Initialize = %v, want a fatal bootstrap error", err)
	}
}

func TestInitialize_MissingAssembly(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Assemblies = append(e.cfg.Assemblies, "Demo.Missing")
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = b.Initialize(context.Background(), NewVMHost(e.cfg))
	if !errors.Is(err, bridgeerrors.ErrAssemblyLoad) || bridgeerrors.IsFatal(err) {
		t.Fatalf("Initialize = %v, want an assembly load error", err)
	}
}

func TestHandleUnhandledException(t *testing.T) {
	e := newTestEnv(t)
	b, _ := e.start(t)
	game := b.Assemblies().Find(fixture.GameName, true)
	if err := fixture.Bind(b.Runtime().(fixture.Runtime), game.Image); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	counter := b.FindClass("Demo.Counter")
	ctx := context.Background()

	_, err := invoke.Invoke(counter.Method("Fail", 1), managed.Null, b.Runtime().NewString("broken"))
	if err := b.Forward(ctx, err); err != nil {
		t.Fatalf("Forward returned %v", err)
	}
	if diff := cmp.Diff([]string{"unhandled managed exception"}, e.fatal); diff != "" {
		t.Fatalf("fatal calls mismatch (-want +got):\n%s", diff)
	}

	other := errors.New("plain")
	if got := b.Forward(ctx, other); got != other {
		t.Fatalf("Forward(plain) = %v", got)
	}
}

func TestHandleUnhandledException_Production(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Production = true
	b, _ := e.start(t)

	rt := b.Runtime()
	exc, err := rt.NewException(0, "lost frame", managed.Null)
	if err != nil {
		t.Fatalf("NewException: %v", err)
	}
	b.HandleUnhandledException(context.Background(), invoke.NewException(b.Classes(), exc))

	if len(e.fatal) != 0 {
		t.Fatalf("production build called fatal: %v", e.fatal)
	}
	entries := e.logs.FilterMessage("unhandled managed exception").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["message"] != "lost frame" || fields["type"] != "System.Exception" {
		t.Fatalf("logged fields = %v", fields)
	}
}

func TestAnnounce_ManagedExceptionForwarded(t *testing.T) {
	e := newTestEnv(t)
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := &announcer{b: b, throwAt: 5}
	if err := b.RegisterEntryPoints("", "Interop.Stages", a); err != nil {
		t.Fatalf("RegisterEntryPoints: %v", err)
	}
	ctx := context.Background()
	if err := b.Initialize(ctx, NewVMHost(e.cfg), &phases{stages: []int{5}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(ctx) })

	if diff := cmp.Diff([]string{"unhandled managed exception"}, e.fatal); diff != "" {
		t.Fatalf("fatal calls mismatch (-want +got):\n%s", diff)
	}
}

// noBoxRuntime refuses to box values.
type noBoxRuntime struct {
	managed.Runtime
}

func (noBoxRuntime) Box(managed.ClassID, []byte) (managed.Ref, error) {
	return managed.Null, errors.New("boxing disabled")
}

func TestAnnounce_SkipsUnboxableStage(t *testing.T) {
	e := newTestEnv(t)
	b, err := New(e.cfg, e.opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a := &announcer{b: b, throwAt: -1}
	if err := b.RegisterEntryPoints("", "Interop.Stages", a); err != nil {
		t.Fatalf("RegisterEntryPoints: %v", err)
	}
	host := HostFunc(func(ctx context.Context) (managed.Runtime, error) {
		rt, err := NewVMHost(e.cfg).Runtime(ctx)
		if err != nil {
			return nil, err
		}
		return noBoxRuntime{rt}, nil
	})
	ctx := context.Background()
	if err := b.Initialize(ctx, host, &phases{stages: []int{3}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(ctx) })

	if len(a.stages) != 0 || len(e.fatal) != 0 {
		t.Fatalf("Announce ran with a null stage: stages=%v fatal=%v", a.stages, e.fatal)
	}
	if got := e.logs.FilterMessage("announce stage").Len(); got != 1 {
		t.Fatalf("got %d announce warnings, want 1", got)
	}
}

func TestListeners_AddRemove(t *testing.T) {
	e := newTestEnv(t)
	b, _ := e.start(t)
	late := &phases{}
	if err := b.AddListener(late); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	ctx := context.Background()
	if err := b.Update(ctx, 3); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !b.RemoveListener(late) {
		t.Fatal("RemoveListener did not find the listener")
	}
	if err := b.Update(ctx, 4); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if diff := cmp.Diff([]string{"update"}, late.log()); diff != "" {
		t.Fatalf("late listener mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_LeavesPackageLoggersAlone(t *testing.T) {
	before := lifecycle.Logger()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := New(Config{}, WithLogger(zap.NewNop())); err != nil {
				t.Errorf("New: %v", err)
			}
		}()
	}
	wg.Wait()
	if lifecycle.Logger() != before {
		t.Fatal("New replaced the lifecycle package logger")
	}

	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	lifecycle.NewBroadcaster().CollectStages()
	entries := logs.FilterMessage("stages collected").All()
	if len(entries) != 1 || entries[0].LoggerName != "lifecycle" {
		t.Fatalf("lifecycle log entries = %+v", entries)
	}
}
