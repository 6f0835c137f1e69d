package bridge

import (
	"context"

	"github.com/wippyai/interop-bridge/managed"
	"github.com/wippyai/interop-bridge/vm"
)

// Host creates the managed runtime the bridge drives.
type Host interface {
	Name() string
	Runtime(ctx context.Context) (managed.Runtime, error)
}

// VMHost hosts the reference runtime.
type VMHost struct {
	Options []vm.Option
}

// NewVMHost returns a host configured from cfg.
func NewVMHost(cfg Config) *VMHost {
	return &VMHost{Options: cfg.VMOptions()}
}

func (h *VMHost) Name() string { return "vm" }

func (h *VMHost) Runtime(ctx context.Context) (managed.Runtime, error) {
	return vm.New(ctx, h.Options...)
}

// HostFunc adapts a constructor function to Host.
type HostFunc func(ctx context.Context) (managed.Runtime, error)

func (f HostFunc) Name() string { return "func" }

func (f HostFunc) Runtime(ctx context.Context) (managed.Runtime, error) {
	return f(ctx)
}
