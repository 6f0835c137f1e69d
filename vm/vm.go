package vm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
	"github.com/wippyai/interop-bridge/managed"
)

// objectAlign is the distance between consecutive object addresses.
const objectAlign = 16

// firstAddress is the address of the first allocated object.
const firstAddress managed.Ref = 0x10000

// VM is a managed runtime with a compacting object heap. Assemblies are
// WebAssembly modules run by wazero.
//
// Lock order: loadMu, then typesMu, then mu. Managed code never runs while
// any of them is held.
type VM struct {
	ctx    context.Context
	engine wazero.Runtime
	cfg    config

	// heap state
	mu        sync.Mutex
	objects   map[managed.Ref]*object
	statics   map[managed.FieldID]managed.Ref
	handles   handleTable
	nextAddr  managed.Ref
	allocated int
	active    int
	pending   bool
	epoch     atomic.Uint64

	// type system
	typesMu     sync.RWMutex
	classes     []*class
	methods     []*method
	fields      []*field
	images      []*loadedImage
	byIdentity  map[string]*loadedImage
	byPath      map[string]*loadedImage
	entryPoints map[string]managed.NativeFunc
	loadHook    func(managed.ImageID)
	searchHook  func(name string) ([]byte, string, bool)

	loadMu  sync.Mutex
	loading map[string]bool

	core   *loadedImage
	wk     wellKnown
	closed atomic.Bool
}

var _ managed.Runtime = (*VM)(nil)

// New creates a runtime with the core library loaded.
func New(ctx context.Context, opts ...Option) (*VM, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.memoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	v := &VM{
		ctx:         ctx,
		engine:      wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:         cfg,
		objects:     make(map[managed.Ref]*object),
		statics:     make(map[managed.FieldID]managed.Ref),
		nextAddr:    firstAddress,
		byIdentity:  make(map[string]*loadedImage),
		byPath:      make(map[string]*loadedImage),
		entryPoints: make(map[string]managed.NativeFunc),
		loading:     make(map[string]bool),
	}

	if err := v.instantiateIntrinsics(ctx); err != nil {
		_ = v.engine.Close(ctx)
		return nil, errors.Bootstrap("instantiate interop intrinsics", err)
	}
	if err := v.loadCore(); err != nil {
		_ = v.engine.Close(ctx)
		return nil, errors.Bootstrap("load core library", err)
	}

	Logger().Debug("runtime created",
		zap.Int("core_types", len(v.core.classes)),
		zap.Int("collect_threshold", cfg.collectThreshold))
	return v, nil
}

// Close releases the wazero runtime and every shared array still referenced
// by the heap.
func (v *VM) Close(ctx context.Context) error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}

	v.mu.Lock()
	for r, o := range v.objects {
		o.release()
		delete(v.objects, r)
	}
	v.handles = handleTable{}
	v.mu.Unlock()

	return v.engine.Close(ctx)
}

// Epoch returns the current safe-point counter.
func (v *VM) Epoch() uint64 {
	return v.epoch.Load()
}

// enter marks the start of a managed call. A top-level call is a safe
// point: pending or threshold-triggered collections run here with args as
// extra roots, rewritten in place if their targets move.
func (v *VM) enter(args []managed.Ref) {
	v.mu.Lock()
	if v.active == 0 && (v.pending || (v.cfg.collectThreshold > 0 && v.allocated >= v.cfg.collectThreshold)) {
		v.collectLocked(args)
	}
	v.active++
	v.mu.Unlock()
	v.epoch.Add(1)
}

func (v *VM) leave() {
	v.mu.Lock()
	v.active--
	v.mu.Unlock()
}

// RegisterEntryPoint binds fn to internal-call methods. key is
// "Module:Namespace.Type::Member" or "Namespace.Type::Member"; the
// module-qualified form wins when both are registered.
func (v *VM) RegisterEntryPoint(key string, fn managed.NativeFunc) error {
	if fn == nil {
		return errors.Registration(errors.PhaseHost, key, errors.InvalidInput(errors.PhaseHost, "nil entry point"))
	}
	if !validEntryPointKey(key) {
		return errors.Registration(errors.PhaseHost, key, errors.InvalidInput(errors.PhaseHost, "entry point key must have the form [Module:]Type::Member"))
	}

	v.typesMu.Lock()
	defer v.typesMu.Unlock()

	if _, exists := v.entryPoints[key]; exists {
		return errors.Registration(errors.PhaseHost, key, errors.InvalidInput(errors.PhaseHost, "entry point already registered"))
	}
	v.entryPoints[key] = fn
	Logger().Debug("entry point registered", zap.String("key", key))
	return nil
}

func validEntryPointKey(key string) bool {
	typeName, member, ok := strings.Cut(key, "::")
	return ok && typeName != "" && member != ""
}
