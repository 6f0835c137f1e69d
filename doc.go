// Package interopbridge connects Go host code to a garbage-collected managed
// runtime: it keeps managed objects reachable from Go, caches class metadata,
// calls managed methods through flat thunks, tracks loaded assemblies and
// drives the startup and frame lifecycle of the managed layer.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	interopbridge/       Root package (documentation only)
//	├── bridge/          Lifecycle driver, configuration and entry point registration
//	├── lifecycle/       Stage-ordered event broadcaster and listener contract
//	├── assembly/        Sorted assembly registry, load and search hooks, search roots
//	├── handle/          Transient, persistent and pinned object handles, GC handles
//	├── invoke/          Two-phase thunk calls, override resolution, exceptions
//	├── metadata/        Class and method descriptor cache
//	├── managed/         Contract every managed runtime implements
//	├── vm/              Reference runtime: moving heap with wazero-backed method bodies
//	├── image/           Assembly image metadata, codec and WebAssembly container
//	├── sharedarray/     Reference-counted arrays shared across the boundary
//	├── native/          C-callable thunk pointers and native entry points
//	├── errors/          Structured error types for debugging
//	└── cmd/bridgehost/  Command line host with an interactive browser
//
// # Quick Start
//
// Boot the bridge from a configuration file:
//
//	cfg, err := bridge.LoadConfig("bridge.yaml")
//	if err != nil {
//		return err
//	}
//	b, err := bridge.Initialize(ctx, bridge.NewVMHost(cfg), cfg, myListener)
//	if err != nil {
//		return err
//	}
//	defer b.Shutdown(ctx)
//
//	for frame := uint64(0); running; frame++ {
//		b.Update(ctx, frame)
//		b.PostUpdate(ctx, frame)
//	}
//
// Call a managed method and keep its result alive:
//
//	square := b.FindClass("Demo.Square")
//	obj, err := invoke.Invoke(square.Method("Unit", 0), managed.Null)
//	if err != nil {
//		return err
//	}
//	h, err := b.Handles().Wrap(obj, true, false)
//	if err != nil {
//		return err
//	}
//	defer h.Release()
//
// # Error Handling
//
// Errors carry a phase and a kind and match the sentinels in package errors:
//
//	if errors.Is(err, bridgeerrors.ErrInvalidHandle) {
//		// the handle was released or invalidated by a managed call
//	}
package interopbridge
