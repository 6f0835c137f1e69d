package bridge

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ccoveille/go-safecast"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/assembly"
	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/handle"
	"github.com/wippyai/interop-bridge/invoke"
	"github.com/wippyai/interop-bridge/lifecycle"
	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/metadata"
	"github.com/wippyai/interop-bridge/vm"
)

// Managed type that receives stage announcements when an assembly defines it.
const (
	stagesNamespace = "Interop"
	stagesType      = "Stages"
	announceMethod  = "Announce"
)

type state int32

const (
	stateCreated state = iota
	stateInitializing
	stateRunning
	stateShutdown
)

// Bridge connects native code to one managed runtime. Build it with New,
// start it with Initialize and stop it with Shutdown.
type Bridge struct {
	cfg    Config
	log    *zap.Logger
	fatal  func(msg string, fields ...zap.Field)
	events *lifecycle.Broadcaster

	rt         managed.Runtime
	classes    *metadata.Cache
	handles    *handle.Manager
	assemblies *assembly.Registry
	searcher   *assembly.Searcher

	mu      sync.Mutex
	pending []entryPoint
	state   atomic.Int32
}

type entryPoint struct {
	key string
	fn  managed.NativeFunc
}

type options struct {
	logger *zap.Logger
	tracer trace.TracerProvider
	fatal  func(msg string, fields ...zap.Field)
}

// Option configures a Bridge.
type Option func(*options)

// WithLogger sets the logger of the bridge and of the packages it drives.
// Without it the logger is built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracerProvider traces lifecycle phases with tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithFatal replaces the function called for unhandled managed exceptions
// outside production. The default is the logger's Fatal.
func WithFatal(fn func(msg string, fields ...zap.Field)) Option {
	return func(o *options) {
		o.fatal = fn
	}
}

// SetLogger routes the package loggers of vm, assembly and lifecycle to l.
// Those loggers are process wide, so call it once during process setup;
// the logger of each Bridge stays its own.
func SetLogger(l *zap.Logger) {
	vm.SetLogger(l.Named("vm"))
	assembly.SetLogger(l.Named("assembly"))
	lifecycle.SetLogger(l.Named("lifecycle"))
}

// New creates a bridge that has not been started. It leaves the process
// wide package loggers untouched; see SetLogger.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		if log, err = cfg.BuildLogger(); err != nil {
			return nil, err
		}
	}

	var lopts []lifecycle.Option
	if o.tracer != nil {
		lopts = append(lopts, lifecycle.WithTracerProvider(o.tracer))
	}

	b := &Bridge{
		cfg:    cfg,
		log:    log,
		fatal:  o.fatal,
		events: lifecycle.NewBroadcaster(lopts...),
	}
	if b.fatal == nil {
		b.fatal = log.Fatal
	}
	return b, nil
}

// Initialize creates a bridge and runs the startup sequence.
func Initialize(ctx context.Context, host Host, cfg Config, listeners ...lifecycle.Listener) (*Bridge, error) {
	b, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := b.Initialize(ctx, host, listeners...); err != nil {
		return nil, err
	}
	return b, nil
}

// Initialize registers listeners and runs the startup sequence: pre-init,
// runtime creation, assembly loading, compilation, the collected stages,
// and post-init. Listener failures are logged and never stop startup. A
// runtime that cannot be created, or a core library that cannot be
// registered, is a fatal bootstrap error.
func (b *Bridge) Initialize(ctx context.Context, host Host, listeners ...lifecycle.Listener) error {
	if !b.state.CompareAndSwap(int32(stateCreated), int32(stateInitializing)) {
		return errors.InvalidInput(errors.PhaseBootstrap, "bridge already initialized")
	}
	for _, l := range listeners {
		if err := b.events.Add(l); err != nil {
			b.abort(ctx)
			return err
		}
	}

	_ = b.events.PreInit(ctx)
	_ = b.events.RuntimeInitializing(ctx)

	if err := b.startRuntime(ctx, host); err != nil {
		b.abort(ctx)
		return err
	}
	_ = b.events.RuntimeInitialized(ctx)

	if err := b.loadAssemblies(ctx); err != nil {
		b.abort(ctx)
		return err
	}

	_ = b.events.ManagedInitializing(ctx)
	_ = b.events.CompilationStarting(ctx)
	_ = b.events.CompilationComplete(ctx, b.compile())

	for _, stage := range b.events.CollectStages() {
		_ = b.events.Stage(ctx, stage)
		b.announce(ctx, stage)
	}

	_ = b.events.ManagedInitialized(ctx)
	b.state.Store(int32(stateRunning))
	_ = b.events.PostInit(ctx)

	b.log.Info("bridge initialized",
		zap.String("host", host.Name()),
		zap.Int("assemblies", b.assemblies.Len()),
		zap.Ints("stages", b.events.Stages()))
	return nil
}

func (b *Bridge) startRuntime(ctx context.Context, host Host) error {
	if host == nil {
		return errors.Bootstrap("no host", nil)
	}
	rt, err := host.Runtime(ctx)
	if err != nil {
		return errors.Bootstrap("create runtime on host "+host.Name(), err)
	}
	if rt == nil {
		return errors.Bootstrap("host "+host.Name()+" returned no runtime", nil)
	}

	var ropts []assembly.Option
	if len(b.cfg.SearchRoots) > 0 || len(b.cfg.Archives) > 0 {
		s, err := assembly.NewSearcher(b.cfg.SearchRoots, b.cfg.Archives...)
		if err != nil {
			_ = rt.Close(ctx)
			return errors.Bootstrap("open assembly search paths", err)
		}
		b.searcher = s
		ropts = append(ropts, assembly.WithSearcher(s))
	}

	b.mu.Lock()
	b.rt = rt
	b.classes = metadata.NewCache(rt)
	b.handles = handle.NewManager(b.classes)
	b.assemblies = assembly.NewRegistry(rt, ropts...)
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.assemblies.Install()
	core, err := b.assemblies.Wrap(rt.CoreImage())
	if err != nil {
		return errors.Bootstrap("register core library", err)
	}
	if b.cfg.CoreAssembly != "" && !strings.EqualFold(core.Name, b.cfg.CoreAssembly) {
		return errors.Bootstrap("core library is "+core.Name+", expected "+b.cfg.CoreAssembly, nil)
	}

	var errs error
	for _, ep := range pending {
		errs = multierr.Append(errs, rt.RegisterEntryPoint(ep.key, ep.fn))
	}
	return errs
}

func (b *Bridge) loadAssemblies(ctx context.Context) error {
	var errs error
	for _, name := range b.cfg.Assemblies {
		var (
			d   *assembly.Descriptor
			err error
		)
		if isPath(name) {
			d, err = b.assemblies.Load(ctx, name)
		} else {
			d, err = b.assemblies.LoadName(ctx, name)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		b.log.Debug("assembly loaded", zap.Stringer("assembly", d), zap.String("path", d.Path))
	}
	return errs
}

func isPath(name string) bool {
	if strings.ContainsAny(name, `/\`) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, known := range assembly.Extensions {
		if ext == known {
			return true
		}
	}
	return false
}

// compile resolves the preloaded types and builds their thunks. It reports
// whether every type and thunk was available.
func (b *Bridge) compile() bool {
	ok := true
	for _, name := range b.cfg.PreloadTypes {
		class := b.FindClass(name)
		if class == nil {
			b.log.Warn("preload type not found", zap.String("type", name))
			ok = false
			continue
		}
		for _, m := range class.Methods() {
			if m.IsAbstract() {
				continue
			}
			if _, err := m.Thunk(); err != nil {
				b.log.Warn("build thunk", zap.Stringer("method", m), zap.Error(err))
				ok = false
			}
		}
	}
	return ok
}

// announce tells every loaded Interop.Stages type about stage. The stage
// is boxed per call since a managed call may move the previous box.
func (b *Bridge) announce(ctx context.Context, stage int) {
	int32Class := b.classes.Core("System", "Int32")
	if int32Class == nil {
		return
	}
	n, err := safecast.ToInt32(stage)
	if err != nil {
		b.log.Warn("announce stage", zap.Int("stage", stage), zap.Error(err))
		return
	}
	raw := binary.LittleEndian.AppendUint32(nil, uint32(n))
	for _, d := range b.assemblies.All() {
		class := b.classes.Lookup(d.Image, stagesNamespace, stagesType)
		if class == nil {
			continue
		}
		m := class.Method(announceMethod, 1)
		if m == nil || !m.IsStatic() {
			continue
		}
		boxed := int32Class.Box(raw)
		if boxed == managed.Null {
			b.log.Warn("announce stage", zap.Int("stage", stage), zap.Stringer("assembly", d),
				zap.String("error", "cannot box "+int32Class.FullName()))
			continue
		}
		_, err := invoke.Invoke(m, managed.Null, boxed)
		if err := b.Forward(ctx, err); err != nil {
			b.log.Warn("announce stage", zap.Int("stage", stage), zap.Stringer("assembly", d), zap.Error(err))
		}
	}
}

func (b *Bridge) abort(ctx context.Context) {
	b.state.Store(int32(stateShutdown))
	if b.searcher != nil {
		_ = b.searcher.Close()
	}
	if b.rt != nil {
		_ = b.rt.Close(ctx)
	}
}

// Update broadcasts one frame.
func (b *Bridge) Update(ctx context.Context, frame uint64) error {
	if err := b.running(); err != nil {
		return err
	}
	return b.events.Update(ctx, frame)
}

// PostUpdate broadcasts the end of one frame.
func (b *Bridge) PostUpdate(ctx context.Context, frame uint64) error {
	if err := b.running(); err != nil {
		return err
	}
	return b.events.PostUpdate(ctx, frame)
}

func (b *Bridge) running() error {
	if state(b.state.Load()) != stateRunning {
		return errors.NotInitialized(errors.PhaseLifecycle, "bridge")
	}
	return nil
}

// Shutdown broadcasts shutdown and closes the runtime. Calls after the
// first do nothing.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(stateRunning), int32(stateShutdown)) {
		return nil
	}
	_ = b.events.Shutdown(ctx)

	var errs error
	if b.searcher != nil {
		errs = multierr.Append(errs, b.searcher.Close())
	}
	errs = multierr.Append(errs, b.rt.Close(ctx))
	b.log.Info("bridge shut down", zap.Int64("live_handles", b.handles.Live()))
	_ = b.log.Sync()
	return errs
}

// HandleUnhandledException logs exc with its inner exceptions and stack
// trace. Outside production it then calls the fatal function.
func (b *Bridge) HandleUnhandledException(ctx context.Context, exc *invoke.Exception) {
	if exc == nil {
		return
	}
	fields := []zap.Field{
		zap.String("type", exc.TypeName()),
		zap.String("message", exc.Message),
		zap.String("exception", exc.Format()),
	}
	if b.cfg.Production {
		b.log.Error("unhandled managed exception", fields...)
		return
	}
	b.fatal("unhandled managed exception", fields...)
}

// Forward hands a managed exception carried by err to the global handler
// and returns nil. Other errors are returned unchanged.
func (b *Bridge) Forward(ctx context.Context, err error) error {
	return invoke.Forward(ctx, b.classes, err, b)
}

var _ invoke.Handler = (*Bridge)(nil)

// AddListener registers l. A stage subscriber added after startup joins
// the stage buckets but receives no stage callbacks. l must be comparable;
// pointers always are.
func (b *Bridge) AddListener(l lifecycle.Listener) error {
	return b.events.Add(l)
}

// RemoveListener unregisters l from every phase and stage.
func (b *Bridge) RemoveListener(l lifecycle.Listener) bool {
	return b.events.Remove(l)
}

// FindClass resolves a namespace qualified type name across the loaded
// assemblies in registry order.
func (b *Bridge) FindClass(name string) *metadata.ClassDescriptor {
	if b.classes == nil {
		return nil
	}
	ns, typ := "", name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ns, typ = name[:i], name[i+1:]
	}
	for _, d := range b.assemblies.All() {
		if c := b.classes.Lookup(d.Image, ns, typ); c != nil {
			return c
		}
	}
	return nil
}

func (b *Bridge) Config() Config                 { return b.cfg }
func (b *Bridge) Logger() *zap.Logger            { return b.log }
func (b *Bridge) Runtime() managed.Runtime       { return b.rt }
func (b *Bridge) Classes() *metadata.Cache       { return b.classes }
func (b *Bridge) Handles() *handle.Manager       { return b.handles }
func (b *Bridge) Assemblies() *assembly.Registry { return b.assemblies }
func (b *Bridge) Events() *lifecycle.Broadcaster { return b.events }
