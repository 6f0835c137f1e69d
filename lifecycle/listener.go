package lifecycle

import "context"

// Listener receives the bridge lifecycle phases. Implementations are
// compared by interface equality, so register pointers.
type Listener interface {
	OnPreInit(ctx context.Context) error
	OnRuntimeInitializing(ctx context.Context) error
	OnRuntimeInitialized(ctx context.Context) error
	OnManagedInitializing(ctx context.Context) error
	OnCompilationStarting(ctx context.Context) error
	OnCompilationComplete(ctx context.Context, success bool) error
	OnManagedInitialized(ctx context.Context) error
	OnPostInit(ctx context.Context) error
	OnUpdate(ctx context.Context, frame uint64) error
	OnPostUpdate(ctx context.Context, frame uint64) error
	OnShutdown(ctx context.Context) error
}

// StageSubscriber is a Listener that wants stage callbacks. Stages is
// queried each time the broadcaster collects stages; OnStage runs only for
// the returned indices.
type StageSubscriber interface {
	Listener
	Stages() []int
	OnStage(ctx context.Context, stage int) error
}

// NopListener implements every Listener callback as a no-op. Embed it to
// implement only the phases of interest.
type NopListener struct{}

func (NopListener) OnPreInit(context.Context) error                   { return nil }
func (NopListener) OnRuntimeInitializing(context.Context) error       { return nil }
func (NopListener) OnRuntimeInitialized(context.Context) error        { return nil }
func (NopListener) OnManagedInitializing(context.Context) error       { return nil }
func (NopListener) OnCompilationStarting(context.Context) error       { return nil }
func (NopListener) OnCompilationComplete(context.Context, bool) error { return nil }
func (NopListener) OnManagedInitialized(context.Context) error        { return nil }
func (NopListener) OnPostInit(context.Context) error                  { return nil }
func (NopListener) OnUpdate(context.Context, uint64) error            { return nil }
func (NopListener) OnPostUpdate(context.Context, uint64) error        { return nil }
func (NopListener) OnShutdown(context.Context) error                  { return nil }

var _ Listener = NopListener{}
