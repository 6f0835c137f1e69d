// Package lifecycle broadcasts the bridge lifecycle to registered listeners.
//
// Phases run in a fixed order during initialization:
//
//	PreInit
//	RuntimeInitializing, RuntimeInitialized
//	ManagedInitializing
//	CompilationStarting, CompilationComplete
//	Stage(i) for every collected stage index, ascending
//	ManagedInitialized
//	PostInit
//
// followed by Update and PostUpdate once per frame and a single Shutdown.
//
// Listeners that also implement StageSubscriber declare the stage indices
// they care about. CollectStages gathers the union of those indices and
// builds one bucket per index, so delivering a stage touches only its
// subscribers:
//
//	b := lifecycle.NewBroadcaster()
//	if err := b.Add(listener); err != nil {
//	    return err
//	}
//	for _, stage := range b.CollectStages() {
//	    _ = b.Stage(ctx, stage)
//	}
//
// A listener error or panic is logged and reported, and never prevents
// the other listeners of the phase from running.
package lifecycle
