// Package bridge drives a managed runtime through its lifecycle and ties
// the interop layers together.
//
// A Bridge owns one runtime together with its class cache, handle manager,
// assembly registry and lifecycle broadcaster:
//
//	cfg, err := bridge.LoadConfig("bridge.yaml")
//	b, err := bridge.New(cfg)
//	b.RegisterEntryPoint("", "Game.Native", "Tick", tick)
//	err = b.Initialize(ctx, bridge.NewVMHost(cfg), listeners...)
//	defer b.Shutdown(ctx)
//
//	for frame := uint64(0); running; frame++ {
//	    b.Update(ctx, frame)
//	    b.PostUpdate(ctx, frame)
//	}
//
// Initialize fails with a bootstrap error (errors.IsFatal) when the runtime
// cannot be created; callers must not continue. Managed exceptions that
// reach native code unhandled go to HandleUnhandledException, usually via
// Forward. Outside production the handler is fatal.
package bridge
