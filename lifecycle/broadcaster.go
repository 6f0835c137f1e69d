package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/interop-bridge/errors"
)

// Phase names, used for spans, logs and errors.
const (
	PhasePreInit             = "pre-init"
	PhaseRuntimeInitializing = "runtime-initializing"
	PhaseRuntimeInitialized  = "runtime-initialized"
	PhaseManagedInitializing = "managed-layer-initializing"
	PhaseCompilationStarting = "compilation-starting"
	PhaseCompilationComplete = "compilation-complete"
	PhaseStage               = "stage"
	PhaseManagedInitialized  = "managed-layer-initialized"
	PhasePostInit            = "post-init"
	PhaseUpdate              = "update"
	PhasePostUpdate          = "post-update"
	PhaseShutdown            = "shutdown"

	tracerName = "github.com/wippyai/interop-bridge/lifecycle"
)

// Broadcaster fans lifecycle phases out to listeners. It keeps a flat list
// of every listener and, after CollectStages, one bucket per stage index
// holding the subscribers of that stage. A failing or panicking listener
// never stops the remaining listeners of the phase; the failures are logged
// and returned together.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
	buckets   map[int][]StageSubscriber
	stages    []int
	tracer    trace.Tracer
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithTracer sets the tracer used for phase spans. The default is a no-op
// tracer.
func WithTracer(t trace.Tracer) Option {
	return func(b *Broadcaster) {
		b.tracer = t
	}
}

// WithTracerProvider takes the tracer from tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Broadcaster) {
		b.tracer = tp.Tracer(tracerName)
	}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		buckets: make(map[int][]StageSubscriber),
		tracer:  noop.Tracer{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add registers l. Adding a registered listener again does nothing. A
// stage subscriber added after CollectStages joins the buckets of its
// stages immediately. Listeners are identified by equality, so l must be
// non-nil and of a comparable type; pointers always qualify.
func (b *Broadcaster) Add(l Listener) error {
	if err := checkListener(l); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.listeners, l) {
		return nil
	}
	b.listeners = append(b.listeners, l)
	if s, ok := l.(StageSubscriber); ok && b.stages != nil {
		for _, stage := range uniqueSorted(s.Stages()) {
			b.buckets[stage] = append(b.buckets[stage], s)
			if _, found := slices.BinarySearch(b.stages, stage); !found {
				b.stages = append(b.stages, stage)
				slices.Sort(b.stages)
			}
		}
	}
	return nil
}

func checkListener(l Listener) error {
	if l == nil {
		return errors.InvalidInput(errors.PhaseLifecycle, "nil listener")
	}
	if t := reflect.TypeOf(l); !t.Comparable() {
		return errors.InvalidInput(errors.PhaseLifecycle, fmt.Sprintf("listener type %s is not comparable; register a pointer", t))
	}
	return nil
}

// Remove unregisters l from the flat list and from every stage bucket. It
// reports whether l was registered.
func (b *Broadcaster) Remove(l Listener) bool {
	if checkListener(l) != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.listeners, l)
	if i < 0 {
		return false
	}
	b.listeners = slices.Delete(b.listeners, i, i+1)
	for stage, subs := range b.buckets {
		b.buckets[stage] = slices.DeleteFunc(subs, func(s StageSubscriber) bool {
			return Listener(s) == l
		})
	}
	return true
}

// Listeners returns the registered listeners in registration order.
func (b *Broadcaster) Listeners() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.listeners)
}

// CollectStages queries every stage subscriber, rebuilds the stage buckets
// and returns the sorted distinct stage indices. A stage stays in the set
// while its bucket is emptied by Remove, since the managed side may act on
// the announcement by itself.
func (b *Broadcaster) CollectStages() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.buckets)
	b.stages = []int{}
	for _, l := range b.listeners {
		s, ok := l.(StageSubscriber)
		if !ok {
			continue
		}
		for _, stage := range uniqueSorted(s.Stages()) {
			if _, exists := b.buckets[stage]; !exists {
				b.stages = append(b.stages, stage)
			}
			b.buckets[stage] = append(b.buckets[stage], s)
		}
	}
	slices.Sort(b.stages)
	Logger().Debug("stages collected", zap.Ints("stages", b.stages))
	return slices.Clone(b.stages)
}

// Stages returns the stage set of the last CollectStages.
func (b *Broadcaster) Stages() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.stages)
}

// Subscribers returns the bucket of stage.
func (b *Broadcaster) Subscribers(stage int) []StageSubscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.buckets[stage])
}

func uniqueSorted(stages []int) []int {
	out := slices.Clone(stages)
	slices.Sort(out)
	return slices.Compact(out)
}

func (b *Broadcaster) PreInit(ctx context.Context) error {
	return b.broadcast(ctx, PhasePreInit, Listener.OnPreInit)
}

func (b *Broadcaster) RuntimeInitializing(ctx context.Context) error {
	return b.broadcast(ctx, PhaseRuntimeInitializing, Listener.OnRuntimeInitializing)
}

func (b *Broadcaster) RuntimeInitialized(ctx context.Context) error {
	return b.broadcast(ctx, PhaseRuntimeInitialized, Listener.OnRuntimeInitialized)
}

func (b *Broadcaster) ManagedInitializing(ctx context.Context) error {
	return b.broadcast(ctx, PhaseManagedInitializing, Listener.OnManagedInitializing)
}

func (b *Broadcaster) CompilationStarting(ctx context.Context) error {
	return b.broadcast(ctx, PhaseCompilationStarting, Listener.OnCompilationStarting)
}

func (b *Broadcaster) CompilationComplete(ctx context.Context, success bool) error {
	return b.broadcast(ctx, PhaseCompilationComplete, func(l Listener, ctx context.Context) error {
		return l.OnCompilationComplete(ctx, success)
	}, attribute.Bool("success", success))
}

// Stage delivers the stage callback to the subscribers of stage only.
func (b *Broadcaster) Stage(ctx context.Context, stage int) error {
	b.mu.RLock()
	subs := slices.Clone(b.buckets[stage])
	b.mu.RUnlock()

	targets := make([]Listener, len(subs))
	for i, s := range subs {
		targets[i] = s
	}
	return b.dispatch(ctx, PhaseStage, targets, func(l Listener, ctx context.Context) error {
		return l.(StageSubscriber).OnStage(ctx, stage)
	}, attribute.Int("stage", stage))
}

func (b *Broadcaster) ManagedInitialized(ctx context.Context) error {
	return b.broadcast(ctx, PhaseManagedInitialized, Listener.OnManagedInitialized)
}

func (b *Broadcaster) PostInit(ctx context.Context) error {
	return b.broadcast(ctx, PhasePostInit, Listener.OnPostInit)
}

func (b *Broadcaster) Update(ctx context.Context, frame uint64) error {
	return b.broadcast(ctx, PhaseUpdate, func(l Listener, ctx context.Context) error {
		return l.OnUpdate(ctx, frame)
	})
}

func (b *Broadcaster) PostUpdate(ctx context.Context, frame uint64) error {
	return b.broadcast(ctx, PhasePostUpdate, func(l Listener, ctx context.Context) error {
		return l.OnPostUpdate(ctx, frame)
	})
}

func (b *Broadcaster) Shutdown(ctx context.Context) error {
	return b.broadcast(ctx, PhaseShutdown, Listener.OnShutdown)
}

func (b *Broadcaster) broadcast(ctx context.Context, phase string, fn func(Listener, context.Context) error, attrs ...attribute.KeyValue) error {
	return b.dispatch(ctx, phase, b.Listeners(), fn, attrs...)
}

// dispatch calls fn for every target on a snapshot taken before the phase
// started, so listeners may add or remove listeners from a callback.
func (b *Broadcaster) dispatch(ctx context.Context, phase string, targets []Listener, fn func(Listener, context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := b.tracer.Start(ctx, "lifecycle."+phase, trace.WithAttributes(
		append(attrs, attribute.Int("listeners", len(targets)))...,
	))
	defer span.End()

	var errs error
	for _, l := range targets {
		if err := call(ctx, l, fn); err != nil {
			name := fmt.Sprintf("%T", l)
			Logger().Warn("listener failed",
				zap.String("phase", phase),
				zap.String("listener", name),
				zap.Error(err))
			span.RecordError(err)
			errs = multierr.Append(errs, errors.Listener(phase, name, err))
		}
	}
	if errs != nil {
		span.SetStatus(codes.Error, errs.Error())
	}
	return errs
}

func call(ctx context.Context, l Listener, fn func(Listener, context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(l, ctx)
}
